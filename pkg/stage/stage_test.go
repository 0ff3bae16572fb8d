package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderIsTotal(t *testing.T) {
	require.Len(t, Order, 13)
	for i, s := range Order {
		assert.Equal(t, i, Index(s), "ordinal mismatch for %s", s)
		assert.True(t, Valid(s))
	}
	assert.Equal(t, -1, Index(Stage("bogus")))
	assert.False(t, Valid(Stage("bogus")))
}

func TestNext(t *testing.T) {
	assert.Equal(t, Event, Next(Topic))

	// Terminal stage stays put.
	assert.Equal(t, Commitment, Next(Commitment))

	assert.Equal(t, Stage("bogus"), Next(Stage("bogus")))
}

func TestBefore(t *testing.T) {
	assert.True(t, Before(Topic, Event))
	assert.True(t, Before(Emotion, Commitment))
	assert.False(t, Before(Event, Topic))
	assert.False(t, Before(Event, Event))
	assert.False(t, Before(Stage("bogus"), Event))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(Commitment))
	assert.False(t, IsTerminal(Renewal))
	assert.False(t, IsTerminal(Stage("bogus")))
}

func TestLoadTableCoversEveryStage(t *testing.T) {
	table, err := LoadTable()
	require.NoError(t, err)
	require.Len(t, table, len(Order))

	for _, s := range Order {
		d, ok := table[s]
		require.True(t, ok, "missing descriptor for %s", s)
		assert.NotEmpty(t, d.RequiredDetectors, "%s has no detectors", s)
		assert.NotEmpty(t, d.RequiredFields, "%s has no required fields", s)
		assert.NotEmpty(t, d.FollowupIntents, "%s has no followup intents", s)
	}
}

func TestEventStageDoesNotRequireEmotions(t *testing.T) {
	table := MustLoadTable()
	d := table[Event]

	assert.ElementsMatch(t,
		[]DetectorID{DetectActionSequence, DetectOtherPeople},
		d.RequiredDetectors)
	assert.NotContains(t, d.RequiredDetectors, DetectEmotionWords)
}

func TestEmotionStageThreshold(t *testing.T) {
	table := MustLoadTable()
	assert.Equal(t, 4, table[Emotion].MinEmotions)
}

func TestGapScoreIsOptional(t *testing.T) {
	table := MustLoadTable()
	d := table[Gap]
	assert.Equal(t, []Field{FieldGapName}, d.RequiredFields)
	assert.Contains(t, d.OptionalFields, FieldGapScore)
}
