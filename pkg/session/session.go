// Package session holds the per-conversation mutable record the gate and
// guard pipeline operates on. A State is exclusively owned by its
// conversation; turns within one conversation are serialized by the caller.
package session

import (
	"time"

	"bsdcoach/pkg/stage"
)

// Speaker tags who produced a turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerCoach Speaker = "coach"
)

// Turn is one utterance in the conversation. Coach turns record the stage
// that was active when the message was produced.
type Turn struct {
	Speaker   Speaker     `json:"speaker"`
	Text      string      `json:"text"`
	Stage     stage.Stage `json:"stage,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// State is the full per-conversation record.
type State struct {
	ConversationID string                  `json:"conversation_id"`
	Language       string                  `json:"language"`
	CurrentStage   stage.Stage             `json:"current_stage"`
	Collected      map[stage.Field]string  `json:"collected_data"`
	Turns          []Turn                  `json:"turn_history"`
	// StageUserTurns counts user turns spent in the current stage; reset on
	// every advance.
	StageUserTurns int `json:"stage_user_turns"`
	// Saturation is the confidence in [0,1] that the current stage's
	// required content is present.
	Saturation float64   `json:"saturation"`
	Archived   bool      `json:"archived"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// New creates a fresh session at the first stage.
func New(conversationID, language string) *State {
	now := time.Now().UTC()
	return &State{
		ConversationID: conversationID,
		Language:       language,
		CurrentStage:   stage.Order[0],
		Collected:      make(map[stage.Field]string),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AddUserTurn appends a user turn and bumps the in-stage turn counter.
func (s *State) AddUserTurn(text string) {
	s.Turns = append(s.Turns, Turn{
		Speaker:   SpeakerUser,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	s.StageUserTurns++
	s.UpdatedAt = time.Now().UTC()
}

// AddCoachTurn appends a coach turn tagged with the currently active stage.
func (s *State) AddCoachTurn(text string) {
	s.Turns = append(s.Turns, Turn{
		Speaker:   SpeakerCoach,
		Text:      text,
		Stage:     s.CurrentStage,
		Timestamp: time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
}

// SetField records an extracted value. Accumulation is monotonic: empty
// values are ignored and existing values are never cleared.
func (s *State) SetField(f stage.Field, value string) {
	if value == "" {
		return
	}
	s.Collected[f] = value
	s.UpdatedAt = time.Now().UTC()
}

// HasField reports whether a field has been collected.
func (s *State) HasField(f stage.Field) bool {
	_, ok := s.Collected[f]
	return ok
}

// AdvanceTo moves the session to the next stage, resetting the in-stage turn
// counter and saturation. Only single forward steps are accepted; anything
// else is ignored and reported false.
func (s *State) AdvanceTo(next stage.Stage) bool {
	cur := stage.Index(s.CurrentStage)
	if stage.Index(next) != cur+1 {
		return false
	}
	s.CurrentStage = next
	s.StageUserTurns = 0
	s.Saturation = 0
	s.UpdatedAt = time.Now().UTC()
	return true
}

// MaybeArchive archives the session once the terminal stage's commitment
// field is populated. Archived sessions are no longer mutated.
func (s *State) MaybeArchive() {
	if stage.IsTerminal(s.CurrentStage) && s.HasField(stage.FieldCommitment) {
		s.Archived = true
		s.UpdatedAt = time.Now().UTC()
	}
}

// CoachTurnsInCurrentStage returns the trailing coach turns produced while
// the current stage was active, newest last, at most n.
func (s *State) CoachTurnsInCurrentStage(n int) []Turn {
	var out []Turn
	for i := len(s.Turns) - 1; i >= 0 && len(out) < n; i-- {
		t := s.Turns[i]
		if t.Speaker != SpeakerCoach {
			continue
		}
		if t.Stage != s.CurrentStage {
			break
		}
		out = append(out, t)
	}
	// Reverse to newest-last.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// UserTurnsInCurrentStage returns the trailing user turns since the current
// stage was entered, oldest first.
func (s *State) UserTurnsInCurrentStage() []Turn {
	if s.StageUserTurns == 0 {
		return nil
	}
	var out []Turn
	for i := len(s.Turns) - 1; i >= 0 && len(out) < s.StageUserTurns; i-- {
		if s.Turns[i].Speaker == SpeakerUser {
			out = append(out, s.Turns[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// CombinedUserTextLen returns the total character length of the user turns
// in the current stage.
func (s *State) CombinedUserTextLen() int {
	total := 0
	for _, t := range s.UserTurnsInCurrentStage() {
		total += len(t.Text)
	}
	return total
}
