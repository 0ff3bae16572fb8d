// Package lexicon holds the per-language keyword and phrase sets used by the
// detectors and the transition guard. Packs are parallel and independent:
// a detector only ever consults the pack for its own language tag.
package lexicon

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"bsdcoach/pkg/stage"
)

// ErrUnknownLanguage is returned when no pack exists for a language tag.
// A missing lexicon is a deployment defect, not a runtime condition.
var ErrUnknownLanguage = errors.New("no lexicon for language")

// Pack is the full keyword/phrase set for one language.
type Pack struct {
	Language string `yaml:"language"`

	// EmotionWords includes canonical nouns and informal short adjectives.
	EmotionWords []string `yaml:"emotion_words"`
	// ActionVerbs are common verbs matched as whole tokens.
	ActionVerbs []string `yaml:"action_verbs"`
	// VerbSuffixes catch inflected verbs not in ActionVerbs.
	VerbSuffixes []string `yaml:"verb_suffixes"`
	// PersonMarkers are third-person pronouns and relation nouns.
	PersonMarkers []string `yaml:"person_markers"`
	// FrustrationPhrases signal the user wants to move on.
	FrustrationPhrases []string `yaml:"frustration_phrases"`
	// DetailMarkers are words indicating concrete event detail.
	DetailMarkers []string `yaml:"detail_markers"`
	// QuestionWords mark question-form input when no question mark is present.
	QuestionWords []string `yaml:"question_words"`
	// OfftrackMarkers flag input that steps outside the exercise.
	OfftrackMarkers []string `yaml:"offtrack_markers"`
	// StageIndicators map each stage to phrases a coach message uses when
	// eliciting that stage's content. The guard matches these against
	// candidate coach messages.
	StageIndicators map[stage.Stage][]string `yaml:"stage_indicators"`

	emotionSet  map[string]struct{}
	verbSet     map[string]struct{}
	personSet   map[string]struct{}
	questionSet map[string]struct{}
}

//go:embed packs/*.yaml
var packFS embed.FS

//nolint:gochecknoglobals // packs are static data parsed once
var (
	packsOnce sync.Once
	packs     map[string]*Pack
	packsErr  error
)

func loadPacks() {
	packs = make(map[string]*Pack)
	entries, err := packFS.ReadDir("packs")
	if err != nil {
		packsErr = fmt.Errorf("failed to read lexicon packs: %w", err)
		return
	}
	for _, entry := range entries {
		data, err := packFS.ReadFile("packs/" + entry.Name())
		if err != nil {
			packsErr = fmt.Errorf("failed to read pack %s: %w", entry.Name(), err)
			return
		}
		var p Pack
		if err := yaml.Unmarshal(data, &p); err != nil {
			packsErr = fmt.Errorf("failed to parse pack %s: %w", entry.Name(), err)
			return
		}
		if p.Language == "" {
			packsErr = fmt.Errorf("pack %s has no language tag", entry.Name())
			return
		}
		p.index()
		packs[p.Language] = &p
	}
}

func (p *Pack) index() {
	p.emotionSet = toSet(p.EmotionWords)
	p.verbSet = toSet(p.ActionVerbs)
	p.personSet = toSet(p.PersonMarkers)
	p.questionSet = toSet(p.QuestionWords)
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// Load returns the pack for a language tag, failing fast when the tag has no
// pack.
func Load(language string) (*Pack, error) {
	packsOnce.Do(loadPacks)
	if packsErr != nil {
		return nil, packsErr
	}
	p, ok := packs[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, language)
	}
	return p, nil
}

// Languages returns the tags of all embedded packs.
func Languages() []string {
	packsOnce.Do(loadPacks)
	out := make([]string, 0, len(packs))
	for lang := range packs {
		out = append(out, lang)
	}
	return out
}

// IsEmotionWord reports whether token matches the emotion set.
func (p *Pack) IsEmotionWord(token string) bool {
	_, ok := p.emotionSet[strings.ToLower(token)]
	return ok
}

// IsActionVerb reports whether token is a known verb or carries a verb suffix.
func (p *Pack) IsActionVerb(token string) bool {
	lower := strings.ToLower(token)
	if _, ok := p.verbSet[lower]; ok {
		return true
	}
	for _, suffix := range p.VerbSuffixes {
		// Suffix alone is not a verb; require a stem.
		if len(lower) > len(suffix)+1 && strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// IsPersonMarker reports whether token refers to another person.
func (p *Pack) IsPersonMarker(token string) bool {
	_, ok := p.personSet[strings.ToLower(token)]
	return ok
}

// IsQuestionWord reports whether token opens a question form.
func (p *Pack) IsQuestionWord(token string) bool {
	_, ok := p.questionSet[strings.ToLower(token)]
	return ok
}

// MatchesAnyPhrase reports whether text contains any of the given phrases,
// case-insensitively.
func MatchesAnyPhrase(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// IndicatedStage returns the stage whose indicator phrases match the coach
// message, preferring the longest matching phrase when several stages match.
func (p *Pack) IndicatedStage(coachMessage string) (stage.Stage, bool) {
	lower := strings.ToLower(coachMessage)
	best := stage.Stage("")
	bestLen := 0
	for _, s := range stage.Order {
		for _, phrase := range p.StageIndicators[s] {
			if strings.Contains(lower, strings.ToLower(phrase)) && len(phrase) > bestLen {
				best = s
				bestLen = len(phrase)
			}
		}
	}
	return best, bestLen > 0
}
