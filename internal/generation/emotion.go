package generation

import (
	"strings"
	"unicode"
)

// HeuristicConfidence is the confidence reported for keyword-based
// annotations.
const HeuristicConfidence = 0.6

// Neutral is the label used when no keyword matches.
const Neutral = "neutral"

// Emotion is a presentation hint derived from reply text. It is never
// persisted.
type Emotion struct {
	Label      string
	Intensity  float64
	Confidence float64
}

// emotionKeywords is in tie-break order.
var emotionKeywords = []struct {
	label string
	words map[string]struct{}
}{
	{"happy", wordSet("happy", "glad", "joy", "joyful", "delighted", "wonderful", "great", "excited", "cheerful", "pleased", "love", "fantastic")},
	{"sad", wordSet("sad", "sorry", "unhappy", "miserable", "grief", "cry", "crying", "unfortunately", "regret", "lonely", "heartbroken")},
	{"angry", wordSet("angry", "furious", "mad", "annoyed", "irritated", "outraged", "hate", "rage")},
	{"surprised", wordSet("surprised", "wow", "amazing", "unexpected", "astonished", "incredible", "whoa", "unbelievable")},
	{"afraid", wordSet("afraid", "scared", "fear", "frightened", "terrified", "worried", "nervous", "anxious")},
	{"curious", wordSet("curious", "wonder", "wondering", "interesting", "intrigued", "fascinating", "hmm")},
}

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Annotate counts keyword hits per emotion in text. The highest count wins,
// earlier emotions win ties, and no hits yields [Neutral]. Intensity is
// hits/5 capped at 1.
func Annotate(text string) Emotion {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	best, bestHits := Neutral, 0
	for _, e := range emotionKeywords {
		hits := 0
		for _, w := range words {
			if _, ok := e.words[strings.Trim(w, "'")]; ok {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = e.label, hits
		}
	}
	return Emotion{
		Label:      best,
		Intensity:  min(float64(bestHits)/5, 1),
		Confidence: HeuristicConfidence,
	}
}
