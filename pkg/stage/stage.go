// Package stage defines the fixed BSD methodology stage sequence and the
// per-stage descriptor table driving the gate and guard.
package stage

import "errors"

// Stage identifies one step of the methodology. Stages form a strict total
// order; the only legal movements are hold (same stage) and advance (next
// stage). Backward movement is never sanctioned.
type Stage string

const (
	Topic          Stage = "topic"
	Event          Stage = "event"
	Emotion        Stage = "emotion"
	Thought        Stage = "thought"
	Action         Stage = "action"
	DesiredAction  Stage = "desired_action"
	DesiredEmotion Stage = "desired_emotion"
	DesiredThought Stage = "desired_thought"
	Gap            Stage = "gap"
	Pattern        Stage = "pattern"
	Stance         Stage = "stance"
	Renewal        Stage = "renewal"
	Commitment     Stage = "commitment"
)

// Order is the canonical stage sequence. Index in this slice defines the
// total order used by all comparisons.
//
//nolint:gochecknoglobals // static methodology definition
var Order = []Stage{
	Topic, Event, Emotion, Thought, Action,
	DesiredAction, DesiredEmotion, DesiredThought,
	Gap, Pattern, Stance, Renewal, Commitment,
}

// ErrUnknownStage is returned for a stage not in the canonical sequence.
var ErrUnknownStage = errors.New("unknown stage")

//nolint:gochecknoglobals // derived lookup, built once
var ordinal = func() map[Stage]int {
	m := make(map[Stage]int, len(Order))
	for i, s := range Order {
		m[s] = i
	}
	return m
}()

// Index returns the ordinal position of s, or -1 when unknown.
func Index(s Stage) int {
	if i, ok := ordinal[s]; ok {
		return i
	}
	return -1
}

// Valid reports whether s is part of the canonical sequence.
func Valid(s Stage) bool {
	return Index(s) >= 0
}

// Next returns the stage following s. At the terminal stage, or for a
// stage outside the canonical sequence, it returns s unchanged.
func Next(s Stage) Stage {
	i := Index(s)
	if i < 0 || i == len(Order)-1 {
		return s
	}
	return Order[i+1]
}

// Before reports whether a precedes b in the sequence. Unknown stages are
// never before anything.
func Before(a, b Stage) bool {
	ia, ib := Index(a), Index(b)
	return ia >= 0 && ib >= 0 && ia < ib
}

// IsTerminal reports whether s is the final stage.
func IsTerminal(s Stage) bool {
	return Index(s) == len(Order)-1
}

func (s Stage) String() string {
	return string(s)
}

// TransitionKind classifies how a turn moved the session.
type TransitionKind string

const (
	// TransitionHold loops in the current stage.
	TransitionHold TransitionKind = "hold"
	// TransitionAdvance moves to the immediate next stage on a passing gate.
	TransitionAdvance TransitionKind = "advance"
	// TransitionForceAdvance moves to the next stage on a stall override.
	TransitionForceAdvance TransitionKind = "force_advance"
)
