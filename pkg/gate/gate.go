// Package gate decides, per user turn, whether the current stage's required
// content is present. The pipeline is strictly ordered: detection runs
// first, the advance decision is made from detector results alone, and
// field extraction runs last as best effort. A partial extraction never
// revokes an advance the detectors granted.
package gate

import (
	"regexp"
	"strings"

	"bsdcoach/pkg/detect"
	"bsdcoach/pkg/lexicon"
	"bsdcoach/pkg/logx"
	"bsdcoach/pkg/stage"
)

// Result is the gate's verdict for one user turn.
type Result struct {
	Stage   stage.Stage
	Advance bool
	// NextStage is set only when Advance is true and the stage is not
	// terminal.
	NextStage *stage.Stage
	// Extracted holds best-effort field values. May be empty even when
	// Advance is true.
	Extracted map[stage.Field]string
	// Missing lists the detectors that did not fire, for targeted
	// follow-up phrasing.
	Missing []stage.DetectorID
	// EmotionCount is the number of distinct emotion tokens matched, when
	// the stage requires the emotion detector.
	EmotionCount int
	// Saturation is the fraction of required evidence present, in [0,1].
	Saturation float64
}

// Evaluator runs the gate pipeline for one language.
type Evaluator struct {
	table stage.Table
	pack  *lexicon.Pack
	log   *logx.Logger
}

func NewEvaluator(table stage.Table, pack *lexicon.Pack) *Evaluator {
	return &Evaluator{
		table: table,
		pack:  pack,
		log:   logx.NewLogger("gate"),
	}
}

// Evaluate runs detection, validation, and extraction for one user turn in
// the given stage. It is pure with respect to session state.
func (e *Evaluator) Evaluate(st stage.Stage, userText string) Result {
	res := Result{Stage: st, Extracted: make(map[stage.Field]string)}
	desc, ok := e.table[st]
	if !ok {
		// Unknown stage means a corrupted caller; hold and report.
		e.log.Error("no descriptor for stage %s", st)
		return res
	}

	if detect.LooksUnclear(userText) {
		res.Missing = append(res.Missing, desc.RequiredDetectors...)
		return res
	}

	// Detection.
	satisfied := 0
	for _, id := range desc.RequiredDetectors {
		fired, weight := e.runDetector(id, desc, userText, &res)
		if fired {
			satisfied++
		}
		if !fired {
			res.Missing = append(res.Missing, id)
		}
		res.Saturation += weight
	}
	if len(desc.RequiredDetectors) > 0 {
		res.Saturation /= float64(len(desc.RequiredDetectors))
	}

	// Validation.
	res.Advance = satisfied == len(desc.RequiredDetectors)
	if res.Advance && !stage.IsTerminal(st) {
		next := stage.Next(st)
		res.NextStage = &next
	}

	// Extraction, best effort only. The advance decision above is final.
	e.extract(desc, userText, &res)
	return res
}

// runDetector returns whether the detector fired and its partial weight
// toward saturation.
func (e *Evaluator) runDetector(id stage.DetectorID, desc stage.Descriptor, text string, res *Result) (bool, float64) {
	switch id {
	case stage.DetectActionSequence:
		if detect.ActionSequence(e.pack, text) {
			return true, 1
		}
		return false, 0
	case stage.DetectOtherPeople:
		if detect.OtherPeople(e.pack, text) {
			return true, 1
		}
		return false, 0
	case stage.DetectEmotionWords:
		words := detect.EmotionWords(e.pack, text)
		res.EmotionCount = len(words)
		need := desc.MinEmotions
		if need == 0 {
			need = 1
		}
		if len(words) >= need {
			return true, 1
		}
		return false, float64(len(words)) / float64(need)
	case stage.DetectConceptWord:
		if _, ok := detect.ConceptWord(e.pack, text); ok {
			return true, 1
		}
		return false, 0
	default:
		e.log.Warn("unknown detector %q for stage %s", id, desc.Stage)
		return false, 0
	}
}

var gapScoreRe = regexp.MustCompile(`\b(10|[0-9])\b`)

func (e *Evaluator) extract(desc stage.Descriptor, text string, res *Result) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	switch desc.Stage {
	case stage.Topic, stage.Gap, stage.Pattern:
		if c, ok := detect.ConceptWord(e.pack, trimmed); ok {
			res.Extracted[desc.RequiredFields[0]] = c
		}
		if desc.Stage == stage.Gap {
			// Score is optional. Its absence never holds the stage.
			if m := gapScoreRe.FindString(trimmed); m != "" {
				res.Extracted[stage.FieldGapScore] = m
			}
		}
	case stage.Emotion, stage.DesiredEmotion:
		if words := detect.EmotionWords(e.pack, trimmed); len(words) > 0 {
			res.Extracted[desc.RequiredFields[0]] = strings.Join(words, ", ")
		}
	default:
		// Free-text stages keep the user's own phrasing. When a stage owns
		// two fields, a sentence break splits them; otherwise the second
		// field stays unfilled and a later turn may supply it.
		// The terminal stage's field ends the conversation once set, so a
		// held answer must not write it.
		if stage.IsTerminal(desc.Stage) && !res.Advance {
			return
		}
		res.Extracted[desc.RequiredFields[0]] = trimmed
		if len(desc.RequiredFields) > 1 {
			if i := strings.Index(trimmed, ". "); i > 0 && i+2 < len(trimmed) {
				res.Extracted[desc.RequiredFields[0]] = trimmed[:i+1]
				res.Extracted[desc.RequiredFields[1]] = trimmed[i+2:]
			}
		}
	}
}
