// Package guard arbitrates stage transitions. The language model proposes a
// next stage alongside its coach message; the proposal is untrusted. The
// guard holds the authoritative decision: it can only uphold the gate,
// defer to evidence in the coach message itself, or force a single forward
// step when the conversation has visibly stalled. It never approves a
// backward move and never approves skipping a stage.
package guard

import (
	"strings"

	"bsdcoach/pkg/detect"
	"bsdcoach/pkg/gate"
	"bsdcoach/pkg/lexicon"
	"bsdcoach/pkg/logx"
	"bsdcoach/pkg/session"
	"bsdcoach/pkg/stage"
)

// Reason names why the guard decided what it decided.
type Reason string

const (
	ReasonGatePassed       Reason = "gate_passed"
	ReasonGateHeld         Reason = "gate_held"
	ReasonBackwardRejected Reason = "backward_rejected"
	ReasonSkipRejected     Reason = "skip_rejected"
	// ReasonIndicatorDeferred: the gate held but the coach message itself
	// asks the next stage's question, so the model has evidently moved on.
	ReasonIndicatorDeferred Reason = "indicator_deferred"
	ReasonStallForced       Reason = "stall_forced"
	ReasonFrustrationForced Reason = "frustration_forced"
	// ReasonFrustrationHeld: the user pushes to move on but has not given
	// enough material; the coach should explain instead of advancing.
	ReasonFrustrationHeld Reason = "frustration_held"
	ReasonTerminalHeld    Reason = "terminal_held"
	// ReasonRedirected: the user turn was a question back to the coach or
	// plainly offtrack; the stage question is restated without consulting
	// the model.
	ReasonRedirected Reason = "redirected"
)

// Config carries the guard thresholds. Zero values select the defaults.
type Config struct {
	// StallRepeats is how many identical consecutive coach turns in one
	// stage count as a stall.
	StallRepeats int
	// MinSufficientTurns and MinCombinedChars define, with one detail
	// marker, when the collected material is enough to force an advance.
	MinSufficientTurns int
	MinCombinedChars   int
}

func (c Config) withDefaults() Config {
	if c.StallRepeats <= 0 {
		c.StallRepeats = 2
	}
	if c.MinSufficientTurns <= 0 {
		c.MinSufficientTurns = 2
	}
	if c.MinCombinedChars <= 0 {
		c.MinCombinedChars = 40
	}
	return c
}

// Decision is the guard's final word on one turn.
type Decision struct {
	// Approved is the stage the session will be in after this turn.
	Approved stage.Stage
	Kind     stage.TransitionKind
	Reason   Reason
	// Overrode is set when the approved stage differs from the proposal.
	Overrode bool
	// Explain asks the coach to acknowledge the user's push-back and say
	// what is still needed, rather than repeat the question verbatim.
	Explain bool
	// Mismatch is set when the coach message's question belongs to a stage
	// that is neither the approved stage nor the one just completed. The
	// caller should regenerate or correct the message.
	Mismatch bool
}

// Guard arbitrates proposals for one language.
type Guard struct {
	table stage.Table
	pack  *lexicon.Pack
	cfg   Config
	log   *logx.Logger
}

func New(table stage.Table, pack *lexicon.Pack, cfg Config) *Guard {
	return &Guard{
		table: table,
		pack:  pack,
		cfg:   cfg.withDefaults(),
		log:   logx.NewLogger("guard"),
	}
}

// Arbitrate reconciles the model's proposed stage with the gate verdict and
// the session history. coachMessage is the candidate reply the proposal
// came with; userText is the turn being answered. The decision is a pure
// function of its inputs.
func (g *Guard) Arbitrate(s *session.State, gr gate.Result, proposed stage.Stage, coachMessage string) Decision {
	cur := s.CurrentStage
	curIdx := stage.Index(cur)
	next := stage.Next(cur)

	hold := Decision{Approved: cur, Kind: stage.TransitionHold, Reason: ReasonGateHeld}

	// Sanitize the proposal first. An invalid or backward proposal is
	// discarded outright, before any advance evidence is weighed.
	overrode := false
	propIdx := stage.Index(proposed)
	switch {
	case !stage.Valid(proposed):
		g.log.Warn("session %s: invalid proposed stage %q", s.ConversationID, proposed)
		proposed, propIdx = cur, curIdx
		overrode = true
	case propIdx < curIdx:
		g.log.Info("session %s: rejected backward move %s -> %s", s.ConversationID, cur, proposed)
		hold.Reason = ReasonBackwardRejected
		hold.Overrode = true
		hold.Mismatch = g.questionMismatch(coachMessage, cur, cur)
		return hold
	case propIdx > curIdx+1:
		g.log.Info("session %s: rejected skip %s -> %s", s.ConversationID, cur, proposed)
		proposed, propIdx = next, curIdx+1
		overrode = true
		hold.Reason = ReasonSkipRejected
	}

	if stage.IsTerminal(cur) {
		hold.Reason = ReasonTerminalHeld
		hold.Overrode = propIdx != curIdx
		return hold
	}

	// Gate verdict wins when it says advance.
	if gr.Advance {
		d := Decision{Approved: next, Kind: stage.TransitionAdvance, Reason: ReasonGatePassed}
		d.Overrode = overrode || proposed != next
		d.Mismatch = g.questionMismatch(coachMessage, next, cur)
		return d
	}

	// The gate held. If the model proposed the advance AND its own message
	// already asks the next stage's question, the model has judged the
	// answer complete; defer to that signal rather than fight it.
	if proposed == next {
		if ind, ok := g.pack.IndicatedStage(coachMessage); ok && ind == next {
			d := Decision{Approved: next, Kind: stage.TransitionAdvance, Reason: ReasonIndicatorDeferred}
			return d
		}
	}

	// A stall is the coach's own failure and forces the advance outright;
	// frustration is the user's push-back and forces it only when enough
	// material has been collected.
	if g.isStalled(s) {
		g.log.Info("session %s: forcing advance %s -> %s (%s)", s.ConversationID, cur, next, ReasonStallForced)
		return Decision{
			Approved: next,
			Kind:     stage.TransitionForceAdvance,
			Reason:   ReasonStallForced,
			Overrode: proposed != next,
		}
	}
	if detect.Frustration(g.pack, latestUserText(s)) {
		if g.sufficient(s, g.table[cur]) {
			g.log.Info("session %s: forcing advance %s -> %s (%s)", s.ConversationID, cur, next, ReasonFrustrationForced)
			return Decision{
				Approved: next,
				Kind:     stage.TransitionForceAdvance,
				Reason:   ReasonFrustrationForced,
				Overrode: proposed != next,
			}
		}
		// Not enough material to move on; don't repeat the question,
		// explain what is still missing.
		hold.Reason = ReasonFrustrationHeld
		hold.Explain = true
		hold.Overrode = overrode || proposed != cur
		hold.Mismatch = g.questionMismatch(coachMessage, cur, cur)
		return hold
	}

	hold.Overrode = overrode || proposed != cur
	hold.Mismatch = g.questionMismatch(coachMessage, cur, cur)
	return hold
}

// isStalled reports whether the trailing coach turns of the current stage
// are the same message repeated, or reworded turns that all lean on the
// same stage key phrase.
func (g *Guard) isStalled(s *session.State) bool {
	turns := s.CoachTurnsInCurrentStage(g.cfg.StallRepeats)
	if len(turns) < g.cfg.StallRepeats {
		return false
	}
	first := normalize(turns[0].Text)
	if first != "" && allNormalizedEqual(turns, first) {
		return true
	}
	return g.repeatsKeyPhrase(turns, s.CurrentStage)
}

func allNormalizedEqual(turns []session.Turn, first string) bool {
	for _, t := range turns[1:] {
		if normalize(t.Text) != first {
			return false
		}
	}
	return true
}

// repeatsKeyPhrase reports whether one of the stage's indicator phrases
// appears in every trailing coach turn. Rephrasing the question around the
// same key phrase is still a stall.
func (g *Guard) repeatsKeyPhrase(turns []session.Turn, cur stage.Stage) bool {
	for _, phrase := range g.pack.StageIndicators[cur] {
		count := 0
		for _, t := range turns {
			if strings.Contains(normalize(t.Text), phrase) {
				count++
			}
		}
		if count >= g.cfg.StallRepeats {
			return true
		}
	}
	return false
}

// sufficient reports whether the stage has enough material to justify a
// forced advance: the stage's minimum turn count, the configured combined
// length, and at least one concrete detail marker.
func (g *Guard) sufficient(s *session.State, desc stage.Descriptor) bool {
	minTurns := g.cfg.MinSufficientTurns
	if desc.MinTurns > minTurns {
		minTurns = desc.MinTurns
	}
	if s.StageUserTurns < minTurns {
		return false
	}
	if s.CombinedUserTextLen() < g.cfg.MinCombinedChars {
		return false
	}
	for _, t := range s.UserTurnsInCurrentStage() {
		for _, tok := range detect.Tokenize(t.Text) {
			if containsFold(g.pack.DetailMarkers, tok) {
				return true
			}
		}
	}
	return false
}

// questionMismatch reports whether the coach message clearly asks for a
// stage other than the approved one. The stage just left is tolerated so a
// closing acknowledgment does not trip the check.
func (g *Guard) questionMismatch(coachMessage string, approved, previous stage.Stage) bool {
	ind, ok := g.pack.IndicatedStage(coachMessage)
	if !ok {
		return false
	}
	return ind != approved && ind != previous
}

func latestUserText(s *session.State) string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Speaker == session.SpeakerUser {
			return s.Turns[i].Text
		}
	}
	return ""
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func containsFold(set []string, tok string) bool {
	for _, w := range set {
		if strings.EqualFold(w, tok) {
			return true
		}
	}
	return false
}
