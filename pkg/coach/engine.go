// Package coach wires the full turn pipeline: gate evaluation, model
// proposal, guard arbitration, state folding, and persistence. The engine
// is the only writer of session state; one call to HandleTurn mutates the
// session exactly once.
package coach

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"bsdcoach/pkg/detect"
	"bsdcoach/pkg/gate"
	"bsdcoach/pkg/guard"
	"bsdcoach/pkg/lexicon"
	"bsdcoach/pkg/logx"
	"bsdcoach/pkg/metrics"
	"bsdcoach/pkg/persistence"
	"bsdcoach/pkg/proposer"
	"bsdcoach/pkg/session"
	"bsdcoach/pkg/stage"
)

// Store is the persistence surface the engine needs. Satisfied by
// persistence.SessionStore.
type Store interface {
	Save(st *session.State) error
	Load(conversationID string) (*session.State, error)
}

// Options configure an Engine. Store and Recorder may be nil; sessions are
// then held in memory only and metrics are dropped.
type Options struct {
	Language string
	Pack     *lexicon.Pack
	Table    stage.Table
	Gate     *gate.Evaluator
	Guard    *guard.Guard
	Proposer *proposer.Proposer
	Store    Store
	Recorder *metrics.Recorder
}

// TurnResult is what a processed user turn produced.
type TurnResult struct {
	// Reply is the coach message to show the user.
	Reply string
	// Stage is the session's stage after the turn.
	Stage stage.Stage
	// Decision is the guard's verdict.
	Decision guard.Decision
	// Gate is the gate verdict the decision was based on.
	Gate gate.Result
	// Archived is set when this turn completed the conversation.
	Archived bool
}

// Engine runs the turn pipeline for one language.
type Engine struct {
	language string
	pack     *lexicon.Pack
	table    stage.Table
	gate     *gate.Evaluator
	guard    *guard.Guard
	proposer *proposer.Proposer
	store    Store
	recorder *metrics.Recorder

	// memoryMu guards the session cache. Turns within one conversation are
	// serialized by the caller; distinct conversations may run concurrently.
	memoryMu sync.Mutex
	memory   map[string]*session.State

	log *logx.Logger
}

func NewEngine(opts Options) *Engine {
	return &Engine{
		language: opts.Language,
		pack:     opts.Pack,
		table:    opts.Table,
		gate:     opts.Gate,
		guard:    opts.Guard,
		proposer: opts.Proposer,
		store:    opts.Store,
		recorder: opts.Recorder,
		memory:   make(map[string]*session.State),
		log:      logx.NewLogger("coach"),
	}
}

// EvaluateTurn runs the gate alone. Pure; no session mutation.
func (e *Engine) EvaluateTurn(st stage.Stage, userText string) gate.Result {
	return e.gate.Evaluate(st, userText)
}

// GuardTransition runs the guard alone. Pure; no session mutation.
func (e *Engine) GuardTransition(s *session.State, gr gate.Result, proposed stage.Stage, coachMessage string) guard.Decision {
	return e.guard.Arbitrate(s, gr, proposed, coachMessage)
}

// HandleTurn processes one user turn end to end and returns the coach's
// reply. The session is created on its first message.
func (e *Engine) HandleTurn(ctx context.Context, conversationID, userText string) (TurnResult, error) {
	s, err := e.loadOrCreate(conversationID)
	if err != nil {
		return TurnResult{}, err
	}
	if s.Archived {
		return TurnResult{
			Reply:    e.cannedQuestion(stage.Commitment),
			Stage:    s.CurrentStage,
			Archived: true,
		}, nil
	}

	s.AddUserTurn(userText)

	// Cheap rejection before any model call: a question back to the coach
	// or plainly offtrack input cannot answer the stage, so the stage
	// question is restated directly.
	if detect.IsQuestion(e.pack, userText) || detect.LooksOfftrack(e.pack, userText) {
		return e.redirect(s)
	}

	gr := e.gate.Evaluate(s.CurrentStage, userText)

	prop, err := e.proposer.Propose(ctx, s, proposer.Hints{
		MissingIntents: e.Followups(s.CurrentStage, gr),
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("proposal failed: %w", err)
	}

	decision := e.guard.Arbitrate(s, gr, prop.Stage, prop.Message)

	reply := prop.Message
	if decision.Mismatch || decision.Explain {
		// One corrective regeneration; fall back to a canned question for
		// the approved stage if the model misses again.
		reply = e.regenerate(ctx, s, gr, decision)
	}

	return e.finish(s, gr, decision, reply)
}

// redirect answers a question-form or offtrack user turn by restating the
// current stage's question. No model call is made and the evidence picture
// is left as it was.
func (e *Engine) redirect(s *session.State) (TurnResult, error) {
	gr := gate.Result{
		Stage:      s.CurrentStage,
		Extracted:  map[stage.Field]string{},
		Saturation: s.Saturation,
	}
	if desc, ok := e.table[s.CurrentStage]; ok {
		gr.Missing = append(gr.Missing, desc.RequiredDetectors...)
	}
	decision := guard.Decision{
		Approved: s.CurrentStage,
		Kind:     stage.TransitionHold,
		Reason:   guard.ReasonRedirected,
	}
	return e.finish(s, gr, decision, e.cannedQuestion(s.CurrentStage))
}

// finish folds the turn into the session, records metrics, and persists.
func (e *Engine) finish(s *session.State, gr gate.Result, decision guard.Decision, reply string) (TurnResult, error) {
	e.fold(s, gr, decision, reply)

	if e.recorder != nil {
		e.recorder.ObserveTurn(string(gr.Stage), s.Language)
		e.recorder.ObserveTransition(string(decision.Kind), string(decision.Reason), decision.Overrode, string(gr.Stage))
		e.recorder.SetSaturation(s.ConversationID, string(s.CurrentStage), s.Saturation)
		if s.Archived {
			e.recorder.ObserveArchive()
		}
	}

	if e.store != nil {
		if err := e.store.Save(s); err != nil {
			return TurnResult{}, fmt.Errorf("failed to persist session %s: %w", s.ConversationID, err)
		}
	}

	return TurnResult{
		Reply:    reply,
		Stage:    s.CurrentStage,
		Decision: decision,
		Gate:     gr,
		Archived: s.Archived,
	}, nil
}

// fold applies the turn's outcome to the session: extracted fields first,
// then the stage move, then the coach reply. Extraction can never undo the
// decision.
func (e *Engine) fold(s *session.State, gr gate.Result, decision guard.Decision, reply string) {
	for field, value := range gr.Extracted {
		s.SetField(field, value)
	}
	s.Saturation = gr.Saturation

	if decision.Kind != stage.TransitionHold && decision.Approved != s.CurrentStage {
		if !s.AdvanceTo(decision.Approved) {
			e.log.Error("session %s: guard approved unreachable stage %s from %s",
				s.ConversationID, decision.Approved, s.CurrentStage)
		}
	}

	s.AddCoachTurn(reply)
	s.MaybeArchive()
}

// Followups maps the gate's missing detectors onto the stage's follow-up
// intents, the targets a coach question should probe next. Detector and
// intent lists are positionally parallel in the stage table. Pure.
func (e *Engine) Followups(st stage.Stage, gr gate.Result) []string {
	desc, ok := e.table[st]
	if !ok || len(gr.Missing) == 0 {
		return nil
	}

	var intents []string
	for _, missing := range gr.Missing {
		for i, id := range desc.RequiredDetectors {
			if id != missing || i >= len(desc.FollowupIntents) {
				continue
			}
			intent := desc.FollowupIntents[i]
			// A partial emotion list gets the "more" phrasing when one exists.
			if id == stage.DetectEmotionWords && gr.EmotionCount > 0 && len(desc.FollowupIntents) > i+1 {
				intent = desc.FollowupIntents[i+1]
			}
			intents = append(intents, intent)
		}
	}
	return intents
}

// regenerate asks the model once more with the guard's correction applied,
// falling back to a canned question for the approved stage.
func (e *Engine) regenerate(ctx context.Context, s *session.State, gr gate.Result, decision guard.Decision) string {
	hints := proposer.Hints{
		MissingIntents: e.Followups(decision.Approved, gr),
		Explain:        decision.Explain,
	}

	start := time.Now()
	prop, err := e.proposer.Propose(ctx, s, hints)
	if e.recorder != nil {
		e.recorder.ObserveCompletion("regenerate", time.Since(start))
	}
	if err != nil {
		e.log.Warn("session %s: regeneration failed, using canned question: %v", s.ConversationID, err)
		return e.cannedQuestion(decision.Approved)
	}
	if ind, ok := e.pack.IndicatedStage(prop.Message); ok && ind != decision.Approved && ind != s.CurrentStage {
		e.log.Warn("session %s: regenerated message still off-stage, using canned question", s.ConversationID)
		return e.cannedQuestion(decision.Approved)
	}
	return prop.Message
}

// cannedQuestion renders a language-correct fallback question for a stage
// from its indicator phrases.
func (e *Engine) cannedQuestion(st stage.Stage) string {
	phrases := e.pack.StageIndicators[st]
	if len(phrases) == 0 {
		return "?"
	}
	phrase := phrases[0]
	return upperFirst(phrase) + "?"
}

func (e *Engine) loadOrCreate(conversationID string) (*session.State, error) {
	e.memoryMu.Lock()
	defer e.memoryMu.Unlock()

	if s, ok := e.memory[conversationID]; ok {
		return s, nil
	}
	if e.store != nil {
		s, err := e.store.Load(conversationID)
		if err == nil {
			e.memory[conversationID] = s
			return s, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	s := session.New(conversationID, e.language)
	e.memory[conversationID] = s
	e.log.Info("created session %s (language %s)", conversationID, e.language)
	return s, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, persistence.ErrSessionNotFound)
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
