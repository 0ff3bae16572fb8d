package proposer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsdcoach/pkg/llm"
	"bsdcoach/pkg/session"
	"bsdcoach/pkg/stage"
	"bsdcoach/pkg/tokens"
)

func newProposer(t *testing.T, mock *llm.MockClient) *Proposer {
	t.Helper()
	counter, err := tokens.NewCounter("gpt-4")
	require.NoError(t, err)
	return New(mock, stage.MustLoadTable(), counter)
}

func TestProposeParsesStageDirective(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{
		{Content: "Thank you. How did that make you feel?\nSTAGE: emotion"},
	}}
	p := newProposer(t, mock)

	s := session.New("c1", "en")
	require.True(t, s.AdvanceTo(stage.Event))
	s.AddUserTurn("my boss ignored my report and left early")

	prop, err := p.Propose(context.Background(), s, Hints{})
	require.NoError(t, err)
	assert.Equal(t, stage.Emotion, prop.Stage)
	assert.Equal(t, "Thank you. How did that make you feel?", prop.Message)
}

func TestProposeDefaultsToCurrentStageWithoutDirective(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{
		{Content: "Could you tell me a bit more about what happened?"},
	}}
	p := newProposer(t, mock)

	s := session.New("c1", "en")
	require.True(t, s.AdvanceTo(stage.Event))
	s.AddUserTurn("stuff happened")

	prop, err := p.Propose(context.Background(), s, Hints{})
	require.NoError(t, err)
	assert.Equal(t, stage.Event, prop.Stage)
}

func TestProposeIgnoresUnknownDirective(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{
		{Content: "What happened next?\nSTAGE: enlightenment"},
	}}
	p := newProposer(t, mock)

	s := session.New("c1", "en")
	require.True(t, s.AdvanceTo(stage.Event))
	s.AddUserTurn("we argued")

	prop, err := p.Propose(context.Background(), s, Hints{})
	require.NoError(t, err)
	assert.Equal(t, stage.Event, prop.Stage)
	assert.Equal(t, "What happened next?", prop.Message)
}

func TestSystemPromptCarriesHints(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{{Content: "ok\nSTAGE: event"}}}
	p := newProposer(t, mock)

	s := session.New("c1", "en")
	require.True(t, s.AdvanceTo(stage.Event))
	s.AddUserTurn("something")
	s.SetField(stage.FieldTopic, "recognition")

	_, err := p.Propose(context.Background(), s, Hints{MissingIntents: []string{"name_people"}, Explain: true})
	require.NoError(t, err)

	require.Len(t, mock.Requests, 1)
	sys := mock.Requests[0].Messages[0]
	assert.Equal(t, llm.RoleSystem, sys.Role)
	assert.Contains(t, sys.Content, "name_people")
	assert.Contains(t, sys.Content, "recognition")
	assert.Contains(t, sys.Content, "pushing to move on")
	assert.Contains(t, sys.Content, "STAGE:")
}

func TestHistoryTrimmedToBudget(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{{Content: "ok\nSTAGE: event"}}}
	p := newProposer(t, mock).WithHistoryBudget(50)

	s := session.New("c1", "en")
	require.True(t, s.AdvanceTo(stage.Event))
	for i := 0; i < 10; i++ {
		s.AddCoachTurn("what happened on that long and complicated day at the office?")
		s.AddUserTurn("a lot of different things happened with many people involved")
	}

	_, err := p.Propose(context.Background(), s, Hints{})
	require.NoError(t, err)

	req := mock.Requests[0]
	// System message plus a trimmed tail, not all 20 turns.
	assert.Less(t, len(req.Messages), 21)
	// The newest turn always survives.
	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.True(t, strings.Contains(last.Content, "many people involved"))
}

func TestDeterministicReplay(t *testing.T) {
	script := []llm.Response{{Content: "How did that make you feel?\nSTAGE: emotion"}}

	run := func() Proposal {
		mock := &llm.MockClient{Responses: script}
		p := newProposer(t, mock)
		s := session.New("c1", "en")
		require.True(t, s.AdvanceTo(stage.Event))
		s.AddUserTurn("my boss ignored my report and left early")
		prop, err := p.Propose(context.Background(), s, Hints{})
		require.NoError(t, err)
		return prop
	}

	assert.Equal(t, run(), run())
}
