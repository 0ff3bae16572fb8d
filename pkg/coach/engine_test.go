package coach

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsdcoach/pkg/gate"
	"bsdcoach/pkg/guard"
	"bsdcoach/pkg/lexicon"
	"bsdcoach/pkg/llm"
	"bsdcoach/pkg/proposer"
	"bsdcoach/pkg/session"
	"bsdcoach/pkg/stage"
	"bsdcoach/pkg/tokens"
)

func newEngine(t *testing.T, mock *llm.MockClient) *Engine {
	t.Helper()
	pack, err := lexicon.Load("en")
	require.NoError(t, err)
	table := stage.MustLoadTable()
	counter, err := tokens.NewCounter("mock")
	require.NoError(t, err)

	return NewEngine(Options{
		Language: "en",
		Pack:     pack,
		Table:    table,
		Gate:     gate.NewEvaluator(table, pack),
		Guard:    guard.New(table, pack, guard.Config{}),
		Proposer: proposer.New(mock, table, counter),
	})
}

func TestFirstMessageCreatesSessionAtTopicStage(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{
		{Content: "Thanks. What happened? Who was involved?\nSTAGE: event"},
	}}
	e := newEngine(t, mock)

	res, err := e.HandleTurn(context.Background(), "c1", "recognition at work")
	require.NoError(t, err)
	assert.Equal(t, stage.Event, res.Stage)
	assert.Equal(t, stage.TransitionAdvance, res.Decision.Kind)
	assert.Contains(t, res.Reply, "What happened")
}

func TestHoldKeepsStageAndExtractsPartialData(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{
		{Content: "Which other feelings were there?\nSTAGE: emotion"},
	}}
	e := newEngine(t, mock)

	// Put the session at the emotion stage first.
	s, err := e.loadOrCreate("c1")
	require.NoError(t, err)
	require.True(t, s.AdvanceTo(stage.Event))
	require.True(t, s.AdvanceTo(stage.Emotion))

	res, err := e.HandleTurn(context.Background(), "c1", "angry and sad mostly")
	require.NoError(t, err)
	assert.Equal(t, stage.Emotion, res.Stage)
	assert.Equal(t, stage.TransitionHold, res.Decision.Kind)
	// Partial emotions are stored even though the stage held.
	assert.Equal(t, "angry, sad", s.Collected[stage.FieldEmotions])
}

func TestBackwardProposalDoesNotMoveSession(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{
		{Content: "Let's go back. What happened?\nSTAGE: event"},
	}}
	e := newEngine(t, mock)

	s, err := e.loadOrCreate("c1")
	require.NoError(t, err)
	require.True(t, s.AdvanceTo(stage.Event))
	require.True(t, s.AdvanceTo(stage.Emotion))

	res, err := e.HandleTurn(context.Background(), "c1", "angry, sad, ashamed and anxious")
	require.NoError(t, err)
	assert.Equal(t, stage.Emotion, res.Stage)
	assert.Equal(t, guard.ReasonBackwardRejected, res.Decision.Reason)
}

func TestMismatchFallsBackToCannedQuestion(t *testing.T) {
	// The model advances correctly but asks a far-future question, twice.
	offstage := "Great. What do you commit to?\nSTAGE: emotion"
	mock := &llm.MockClient{Responses: []llm.Response{
		{Content: offstage},
		{Content: offstage},
	}}
	e := newEngine(t, mock)

	res, err := e.HandleTurn(context.Background(), "c1", "recognition at work")
	require.NoError(t, err)
	assert.Equal(t, stage.Event, res.Stage)
	assert.True(t, res.Decision.Mismatch)
	// Canned question for the event stage, from the language pack.
	assert.Equal(t, "What happened?", res.Reply)
}

func TestFrustrationWithoutDetailExplains(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{
		{Content: "Okay, moving on. How did you feel about it all?\nSTAGE: emotion"},
		{Content: "I hear you. To understand the situation I still need the basics of what happened. What took place, in a sentence or two?\nSTAGE: event"},
	}}
	e := newEngine(t, mock)

	s, err := e.loadOrCreate("c1")
	require.NoError(t, err)
	require.True(t, s.AdvanceTo(stage.Event))

	res, err := e.HandleTurn(context.Background(), "c1", "let's move on")
	require.NoError(t, err)
	assert.Equal(t, stage.Event, res.Stage)
	assert.Equal(t, guard.ReasonFrustrationHeld, res.Decision.Reason)
	assert.Contains(t, res.Reply, "still need")
}

func TestFullTrajectoryReachesCommitmentAndArchives(t *testing.T) {
	replies := []llm.Response{
		{Content: "What happened? Who was involved?\nSTAGE: event"},
		{Content: "How did that make you feel?\nSTAGE: emotion"},
		{Content: "What went through your mind?\nSTAGE: thought"},
		{Content: "What did you do?\nSTAGE: action"},
		{Content: "What would you have liked to do?\nSTAGE: desired_action"},
		{Content: "How would you like to feel?\nSTAGE: desired_emotion"},
		{Content: "What would you like to think?\nSTAGE: desired_thought"},
		{Content: "Name the gap.\nSTAGE: gap"},
		{Content: "Is this a pattern?\nSTAGE: pattern"},
		{Content: "What stance will you take?\nSTAGE: stance"},
		{Content: "What would renewal look like?\nSTAGE: renewal"},
		{Content: "What do you commit to?\nSTAGE: commitment"},
		{Content: "Thank you for the work you did today.\nSTAGE: commitment"},
	}
	userTurns := []string{
		"recognition at work",
		"yesterday my boss ignored my report and left the meeting early",
		"angry, sad, ashamed and anxious",
		"I thought she does not respect my work",
		"I said nothing and avoided her",
		"I wanted to ask her directly why she left",
		"calm and confident",
		"I want to think my work speaks for itself",
		"the gap is courage, about a 7",
		"yes, I avoid conflict everywhere",
		"I stand for speaking up. Fear of rejection pulls me back.",
		"I picture myself raising it calmly. My vision is honest meetings.",
		"I will ask her for a meeting tomorrow morning",
	}

	mock := &llm.MockClient{Responses: replies}
	e := newEngine(t, mock)

	var last TurnResult
	for _, text := range userTurns {
		var err error
		last, err = e.HandleTurn(context.Background(), "c1", text)
		require.NoError(t, err)
	}

	assert.Equal(t, stage.Commitment, last.Stage)
	assert.True(t, last.Archived)

	s, err := e.loadOrCreate("c1")
	require.NoError(t, err)
	assert.Equal(t, "recognition", s.Collected[stage.FieldTopic])
	assert.NotEmpty(t, s.Collected[stage.FieldEventDescription])
	assert.Equal(t, "angry, sad, ashamed, anxious", s.Collected[stage.FieldEmotions])
	assert.Equal(t, "courage", s.Collected[stage.FieldGapName])
	assert.Equal(t, "7", s.Collected[stage.FieldGapScore])
	assert.NotEmpty(t, s.Collected[stage.FieldCommitment])
}

func TestArchivedSessionIsNotMutated(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{{Content: "Done.\nSTAGE: commitment"}}}
	e := newEngine(t, mock)

	s, err := e.loadOrCreate("c1")
	require.NoError(t, err)
	for !stage.IsTerminal(s.CurrentStage) {
		require.True(t, s.AdvanceTo(stage.Next(s.CurrentStage)))
	}
	s.SetField(stage.FieldCommitment, "call her tomorrow")
	s.MaybeArchive()
	turnsBefore := len(s.Turns)

	res, err := e.HandleTurn(context.Background(), "c1", "anything else?")
	require.NoError(t, err)
	assert.True(t, res.Archived)
	assert.Len(t, s.Turns, turnsBefore)
	assert.Equal(t, 0, mock.Calls())
}

func TestDeterministicTrajectoryReplay(t *testing.T) {
	replies := []llm.Response{
		{Content: "What happened?\nSTAGE: event"},
		{Content: "How did that make you feel?\nSTAGE: emotion"},
	}
	userTurns := []string{"recognition at work", "my boss ignored my report yesterday"}

	run := func() []stage.Stage {
		mock := &llm.MockClient{Responses: replies}
		e := newEngine(t, mock)
		var trajectory []stage.Stage
		for _, text := range userTurns {
			res, err := e.HandleTurn(context.Background(), "d1", text)
			require.NoError(t, err)
			trajectory = append(trajectory, res.Stage)
		}
		return trajectory
	}

	assert.Equal(t, run(), run())
}

func TestPureHelpersDoNotTouchSession(t *testing.T) {
	mock := &llm.MockClient{}
	e := newEngine(t, mock)

	s := session.New("c9", "en")
	gr := e.EvaluateTurn(stage.Event, "my boss ignored my report and left")
	assert.True(t, gr.Advance)

	d := e.GuardTransition(s, gr, stage.Thought, "what happened?")
	assert.Equal(t, stage.Event, d.Approved)
	assert.Empty(t, s.Turns)
}

func TestFollowupsNameMissingIntents(t *testing.T) {
	mock := &llm.MockClient{}
	e := newEngine(t, mock)

	gr := e.EvaluateTurn(stage.Event, "it was bad")
	assert.False(t, gr.Advance)
	assert.Equal(t, []string{"name_people"}, e.Followups(stage.Event, gr))

	gr = e.EvaluateTurn(stage.Emotion, "I felt angry and sad")
	assert.False(t, gr.Advance)
	assert.Equal(t, []string{"more_emotions"}, e.Followups(stage.Emotion, gr))

	gr = e.EvaluateTurn(stage.Event, "my boss ignored my report and left")
	assert.True(t, gr.Advance)
	assert.Empty(t, e.Followups(stage.Event, gr))
}

func TestHeldCommitmentTurnDoesNotArchive(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{
		{Content: "Take your time. What do you commit to?\nSTAGE: commitment"},
	}}
	e := newEngine(t, mock)

	s, err := e.loadOrCreate("c1")
	require.NoError(t, err)
	for !stage.IsTerminal(s.CurrentStage) {
		require.True(t, s.AdvanceTo(stage.Next(s.CurrentStage)))
	}

	res, err := e.HandleTurn(context.Background(), "c1", "honestly no idea yet")
	require.NoError(t, err)
	assert.False(t, res.Archived)
	assert.Equal(t, stage.Commitment, res.Stage)
	assert.False(t, s.HasField(stage.FieldCommitment))
}

func TestQuestionTurnRedirectsWithoutModelCall(t *testing.T) {
	mock := &llm.MockClient{}
	e := newEngine(t, mock)

	s, err := e.loadOrCreate("c1")
	require.NoError(t, err)
	require.True(t, s.AdvanceTo(stage.Event))

	res, err := e.HandleTurn(context.Background(), "c1", "why are you asking me that?")
	require.NoError(t, err)
	assert.Equal(t, stage.Event, res.Stage)
	assert.Equal(t, guard.ReasonRedirected, res.Decision.Reason)
	assert.Equal(t, "What happened?", res.Reply)
	assert.Equal(t, 0, mock.Calls())
}

func TestOfftrackTurnRedirectsWithoutModelCall(t *testing.T) {
	mock := &llm.MockClient{}
	e := newEngine(t, mock)

	res, err := e.HandleTurn(context.Background(), "c1", "is this a bot or a real person")
	require.NoError(t, err)
	assert.Equal(t, stage.Topic, res.Stage)
	assert.Equal(t, guard.ReasonRedirected, res.Decision.Reason)
	assert.Equal(t, 0, mock.Calls())
}

func TestConcurrentConversationsAreIndependent(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.Response{
		{Content: "What happened? Who was involved?\nSTAGE: event"},
	}}
	e := newEngine(t, mock)

	const sessions = 8
	var wg sync.WaitGroup
	errs := make([]error, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			_, errs[i] = e.HandleTurn(context.Background(), id, "recognition at work")
		}(i)
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		require.NoError(t, errs[i])
		s, err := e.loadOrCreate(fmt.Sprintf("c%d", i))
		require.NoError(t, err)
		assert.Equal(t, stage.Event, s.CurrentStage)
	}
}
