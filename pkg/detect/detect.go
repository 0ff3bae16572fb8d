// Package detect implements the pure text detectors the stage gates are
// built from. Every function is side-effect free and total: malformed or
// empty input yields a negative result, never a panic.
package detect

import (
	"strconv"
	"strings"
	"unicode"

	"bsdcoach/pkg/lexicon"
)

// MinActionTokens is the minimum token count for a plausible action
// sequence. Single nouns ("anger") never qualify.
const MinActionTokens = 3

// MinConceptLen is the minimum length of a token accepted as a concept
// word.
const MinConceptLen = 3

// Tokenize lowercases the text and splits it on anything that is not a
// letter or digit.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ActionSequence reports whether the text reads like a description of
// something that happened: at least MinActionTokens tokens, at least one of
// which is an action verb. Bare emotion nouns and fragments fail.
func ActionSequence(p *lexicon.Pack, text string) bool {
	tokens := Tokenize(text)
	if len(tokens) < MinActionTokens {
		return false
	}
	for _, tok := range tokens {
		if p.IsActionVerb(tok) {
			return true
		}
	}
	return false
}

// OtherPeople reports whether the text mentions another person.
func OtherPeople(p *lexicon.Pack, text string) bool {
	for _, tok := range Tokenize(text) {
		if p.IsPersonMarker(tok) {
			return true
		}
	}
	return false
}

// EmotionWords returns the distinct emotion tokens found in the text, in
// order of first appearance.
func EmotionWords(p *lexicon.Pack, text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range Tokenize(text) {
		if seen[tok] || !p.IsEmotionWord(tok) {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// ConceptWord extracts the most salient single token from the text: the
// longest token of at least MinConceptLen letters that is not a question
// word and not numeric. Returns false when nothing qualifies.
func ConceptWord(p *lexicon.Pack, text string) (string, bool) {
	best := ""
	for _, tok := range Tokenize(text) {
		if len(tok) < MinConceptLen || isNumeric(tok) || p.IsQuestionWord(tok) {
			continue
		}
		if len(tok) > len(best) {
			best = tok
		}
	}
	return best, best != ""
}

// IsQuestion reports whether the text is phrased as a question.
func IsQuestion(p *lexicon.Pack, text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	tokens := Tokenize(trimmed)
	return len(tokens) > 0 && p.IsQuestionWord(tokens[0])
}

// LooksOfftrack reports whether the text is about the coaching process
// itself rather than the user's situation.
func LooksOfftrack(p *lexicon.Pack, text string) bool {
	return lexicon.MatchesAnyPhrase(text, p.OfftrackMarkers)
}

// Frustration reports whether the text carries a frustration or
// move-on signal.
func Frustration(p *lexicon.Pack, text string) bool {
	return lexicon.MatchesAnyPhrase(text, p.FrustrationPhrases)
}

// LooksUnclear reports whether the text is too degenerate to analyze:
// empty, purely numeric, a single very short token, no letters at all, or
// one character repeated.
func LooksUnclear(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if isNumeric(trimmed) {
		return true
	}
	hasLetter := false
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return true
	}
	tokens := Tokenize(trimmed)
	if len(tokens) == 1 && len(tokens[0]) < 2 {
		return true
	}
	if len(tokens) == 1 && allSameRune(tokens[0]) {
		return true
	}
	return false
}

func isNumeric(s string) bool {
	if _, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
		return true
	}
	return false
}

func allSameRune(s string) bool {
	var first rune
	for i, r := range s {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			return false
		}
	}
	return len(s) > 1
}
