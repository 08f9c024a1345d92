package sentiment

import (
	"regexp"
	"strings"
)

// Pattern categories. Negative categories drive state selection priority
// (giving_up > self_doubt > fatigue > frustration); positive categories
// likewise (joy > growth > confidence).
const (
	categoryFrustration = "frustration"
	categoryGivingUp    = "giving_up"
	categorySelfDoubt   = "self_doubt"
	categoryFatigue     = "fatigue"
	categoryConfidence  = "confidence"
	categoryJoy         = "joy"
	categoryGrowth      = "growth"
)

var negativePatterns = map[string][]string{
	categoryFrustration: {
		"stuck", "wtf", "impossible", "hate", "stupid", "broken",
		"confusing", "why won't", "doesn't work", "what the",
		"so hard", "frustrat", "annoy", "idk", "ugh",
	},
	categoryGivingUp: {
		"quit", "done", "last try", "give up", "can't do this",
		"too hard", "forget it", "no point", "never gonna",
		"waste of time", "i'm out",
	},
	categorySelfDoubt: {
		"i suck", "not smart enough", "everyone else", "never learn",
		"dumb", "stupid me", "i'm bad", "can't understand",
		"too dumb", "not cut out", "what's wrong with me",
	},
	categoryFatigue: {
		"tired", "exhausted", "bored", "whatever", "don't care",
		"sleepy", "zoned out", "bleh", "meh", "over it", "enough",
	},
}

var positivePatterns = map[string][]string{
	categoryConfidence: {
		"got it", "figured it out", "figured out", "makes sense",
		"finally", "clicked", "see it now", "i understand",
		"easy", "simple",
	},
	categoryJoy: {
		"love this", "awesome", "cool", "amazing", "fun", "nice",
		"yay", "yes", "let's go", "woohoo", "hell yeah",
	},
	categoryGrowth: {
		"learned", "understand now", "see the pattern", "improved",
		"getting better", "progress", "level up", "new concept",
	},
}

// Masking phrases read as fine on their own. Only behavioral context
// turns them into a masking detection.
var maskingPhrases = []string{
	"i'm fine", "no problem", "it's ok", "it's okay", "all good",
	"yeah sure", "whatever works", "doesn't matter", "i guess",
}

type compiledPattern struct {
	category string
	phrase   string
	re       *regexp.Regexp
}

var (
	compiledNegative []compiledPattern
	compiledPositive []compiledPattern
	compiledMasking  []*regexp.Regexp
)

func init() {
	for cat, phrases := range negativePatterns {
		for _, p := range phrases {
			compiledNegative = append(compiledNegative, compiledPattern{cat, p, compilePhrase(p)})
		}
	}
	for cat, phrases := range positivePatterns {
		for _, p := range phrases {
			compiledPositive = append(compiledPositive, compiledPattern{cat, p, compilePhrase(p)})
		}
	}
	for _, p := range maskingPhrases {
		compiledMasking = append(compiledMasking, compilePhrase(p))
	}
}

// compilePhrase anchors the phrase at a word boundary. No trailing
// boundary so stems like "frustrat" match their inflections.
func compilePhrase(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.ToLower(phrase)))
}
