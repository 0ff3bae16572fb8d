package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsdcoach/pkg/lexicon"
)

func enPack(t *testing.T) *lexicon.Pack {
	t.Helper()
	p, err := lexicon.Load("en")
	require.NoError(t, err)
	return p
}

func TestActionSequence(t *testing.T) {
	p := enPack(t)

	assert.True(t, ActionSequence(p, "she left late"))
	assert.True(t, ActionSequence(p, "he slammed the door and walked out"))

	// Bare emotion nouns and fragments are not event descriptions.
	assert.False(t, ActionSequence(p, "anger"))
	assert.False(t, ActionSequence(p, "she left"))
	assert.False(t, ActionSequence(p, "the red big door"))
	assert.False(t, ActionSequence(p, ""))
}

func TestActionSequenceAllowsCausalPhrasing(t *testing.T) {
	p := enPack(t)
	// Causal connectives must not suppress the detector.
	assert.True(t, ActionSequence(p, "because she ignored my report I left"))
	assert.True(t, ActionSequence(p, "I shouted so she walked away"))
}

func TestOtherPeople(t *testing.T) {
	p := enPack(t)
	assert.True(t, OtherPeople(p, "my boss ignored me"))
	assert.True(t, OtherPeople(p, "She was there"))
	assert.False(t, OtherPeople(p, "I was alone all day"))
}

func TestEmotionWordsDistinct(t *testing.T) {
	p := enPack(t)
	words := EmotionWords(p, "angry, sad, angry, and a bit anxious, also ashamed")
	assert.Equal(t, []string{"angry", "sad", "anxious", "ashamed"}, words)

	assert.Empty(t, EmotionWords(p, "the meeting ran long"))
}

func TestConceptWord(t *testing.T) {
	p := enPack(t)

	c, ok := ConceptWord(p, "fairness, I think")
	require.True(t, ok)
	assert.Equal(t, "fairness", c)

	_, ok = ConceptWord(p, "42")
	assert.False(t, ok)
	_, ok = ConceptWord(p, "a ok")
	assert.False(t, ok)
}

func TestIsQuestion(t *testing.T) {
	p := enPack(t)
	assert.True(t, IsQuestion(p, "why do you ask?"))
	assert.True(t, IsQuestion(p, "what should I say"))
	assert.False(t, IsQuestion(p, "she left late"))
	assert.False(t, IsQuestion(p, ""))
}

func TestLooksUnclear(t *testing.T) {
	unclear := []string{"", "   ", "7", "3.14", "???", "!!", "k", "aaaa"}
	for _, in := range unclear {
		assert.True(t, LooksUnclear(in), "input %q", in)
	}
	clear := []string{"ok", "she left late", "anger"}
	for _, in := range clear {
		assert.False(t, LooksUnclear(in), "input %q", in)
	}
}

func TestDetectorsSurviveMalformedInput(t *testing.T) {
	p := enPack(t)
	garbage := []string{
		strings.Repeat("\x00", 16),
		"\xff\xfe broken utf8",
		strings.Repeat("word ", 5000),
	}
	for _, in := range garbage {
		assert.NotPanics(t, func() {
			ActionSequence(p, in)
			OtherPeople(p, in)
			EmotionWords(p, in)
			ConceptWord(p, in)
			IsQuestion(p, in)
			LooksUnclear(in)
			LooksOfftrack(p, in)
			Frustration(p, in)
		})
	}
}
