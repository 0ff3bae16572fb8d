package stage

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Field names one slot of the session's collected data. Fields accumulate
// monotonically: once set they are never cleared by a later stage.
type Field string

const (
	FieldTopic            Field = "topic"
	FieldEventDescription Field = "event_description"
	FieldEmotions         Field = "emotions"
	FieldThought          Field = "thought"
	FieldActionActual     Field = "action_actual"
	FieldActionDesired    Field = "action_desired"
	FieldEmotionDesired   Field = "emotion_desired"
	FieldThoughtDesired   Field = "thought_desired"
	FieldGapName          Field = "gap_name"
	FieldGapScore         Field = "gap_score"
	FieldPattern          Field = "pattern"
	FieldStance           Field = "stance"
	FieldForces           Field = "forces"
	FieldRenewal          Field = "renewal"
	FieldVision           Field = "vision"
	FieldCommitment       Field = "commitment"
)

// DetectorID names one of the text detectors a stage may require.
type DetectorID string

const (
	DetectActionSequence DetectorID = "action_sequence"
	DetectOtherPeople    DetectorID = "other_people"
	DetectEmotionWords   DetectorID = "emotion_words"
	DetectConceptWord    DetectorID = "concept_word"
)

// Descriptor is the static definition of one stage: which detectors must
// fire for the gate to pass, which fields the stage owns, and how follow-up
// questions are phrased while looping.
type Descriptor struct {
	Stage             Stage        `yaml:"stage"`
	RequiredDetectors []DetectorID `yaml:"required_detectors"`
	RequiredFields    []Field      `yaml:"required_fields"`
	OptionalFields    []Field      `yaml:"optional_fields,omitempty"`
	// MinEmotions is the number of distinct matched emotion tokens needed
	// when emotion_words is a required detector. Zero means one is enough.
	MinEmotions int `yaml:"min_emotions,omitempty"`
	// MinTurns is the minimum number of user turns spent in the stage
	// before a forced advance is considered.
	MinTurns int `yaml:"min_turns"`
	// FollowupIntents is the ordered list of intents used to phrase a
	// targeted follow-up while the gate is looping.
	FollowupIntents []string `yaml:"followup_intents"`
}

//go:embed stages.yaml
var stagesYAML []byte

// Table maps every stage to its descriptor.
type Table map[Stage]Descriptor

// LoadTable parses the embedded stage descriptor table. A table that does
// not cover every stage in Order is a configuration defect.
func LoadTable() (Table, error) {
	var raw struct {
		Stages []Descriptor `yaml:"stages"`
	}
	if err := yaml.Unmarshal(stagesYAML, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse stage table: %w", err)
	}

	table := make(Table, len(raw.Stages))
	for _, d := range raw.Stages {
		if !Valid(d.Stage) {
			return nil, fmt.Errorf("%w in stage table: %q", ErrUnknownStage, d.Stage)
		}
		if len(d.RequiredDetectors) == 0 {
			return nil, fmt.Errorf("stage %q has no required detectors", d.Stage)
		}
		table[d.Stage] = d
	}
	for _, s := range Order {
		if _, ok := table[s]; !ok {
			return nil, fmt.Errorf("stage table missing descriptor for %q", s)
		}
	}
	return table, nil
}

// MustLoadTable is LoadTable for process start, panicking on a malformed
// embedded table.
func MustLoadTable() Table {
	t, err := LoadTable()
	if err != nil {
		panic(err)
	}
	return t
}
