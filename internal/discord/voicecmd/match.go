package voicecmd

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// nameMatcher maps a spoken backend name onto a configured one. Transcribers
// spell names freely ("open ai", "claud"), so candidates sharing a Double
// Metaphone code with the input need a lower Jaro-Winkler score than
// candidates that only look alike.
type nameMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newNameMatcher() *nameMatcher {
	return &nameMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// Match returns the best candidate for spoken. Exact matches ignore case,
// spaces and hyphens.
func (m *nameMatcher) Match(spoken string, candidates []string) (string, bool) {
	spokenLower := strings.ToLower(strings.TrimSpace(spoken))
	if spokenLower == "" {
		return "", false
	}
	for _, c := range candidates {
		if squash(c) == squash(spokenLower) {
			return c, true
		}
	}

	spokenTokens := tokens(spokenLower)
	spokenCodes := metaphones(spokenTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, c := range candidates {
		cLower := strings.ToLower(c)
		cTokens := tokens(cLower)
		score := similarity(spokenTokens, cTokens)

		if overlaps(spokenCodes, metaphones(cTokens)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = c, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, best != ""
}

func squash(s string) string {
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.ToLower(s))
}

// tokens splits on whitespace, hyphens and underscores.
func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	})
}

func metaphones(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the joined strings, the
// space-stripped strings and every token pair.
func similarity(a, b []string) float64 {
	score := matchr.JaroWinkler(strings.Join(a, " "), strings.Join(b, " "), false)
	if s := matchr.JaroWinkler(strings.Join(a, ""), strings.Join(b, ""), false); s > score {
		score = s
	}
	for _, x := range a {
		for _, y := range b {
			if s := matchr.JaroWinkler(x, y, false); s > score {
				score = s
			}
		}
	}
	return score
}
