// Package classifier tags mentor responses with an emotion and detects when
// the mentor is closing the call.
//
// Both checks are keyword heuristics over normalized substrings, not NLP.
// Rule order is policy: when a response matches several rules the earliest
// rule wins, so reordering the table changes behavior.
package classifier

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"didi-mentor/internal/domain"
)

type rule struct {
	tag      domain.EmotionTag
	keywords []string
}

var emotionRules = compileRules([]rule{
	{tag: domain.EmotionProud, keywords: []string{
		"शाबाश", "बहुत बढ़िया", "गर्व", "shabash", "well done", "great job", "proud of you",
	}},
	{tag: domain.EmotionConcerned, keywords: []string{
		"चिंता", "सावधान", "ध्यान रखें", "धोखा", "ख़तरा", "खतरा",
		"careful", "worried", "danger", "fraud",
	}},
	{tag: domain.EmotionThinking, keywords: []string{
		"सोचिए", "सोचो", "सोचें", "क्या आप जानती", "हम्म", "think", "hmm",
	}},
	{tag: domain.EmotionHappy, keywords: []string{
		"खुशी", "ख़ुशी", "अच्छा लगा", "मज़ा", "happy", "glad", "wonderful",
	}},
	{tag: domain.EmotionEncouraging, keywords: []string{
		"कोशिश", "आप कर सकती", "हिम्मत", "चलिए", "try again", "keep trying", "you can do",
	}},
})

var valedictions = normalizeAll([]string{
	"अलविदा",
	"फिर मिलेंगे",
	"आज के लिए बस इतना",
	"आज के लिए इतना ही",
	"कल फिर बात करेंगे",
	"अपना ख्याल रखिए",
	"अपना ख़्याल रखिए",
	"बात करने के लिए धन्यवाद",
	"alvida",
	"phir milenge",
	"goodbye",
	"bye bye",
	"bye-bye",
	"that's all for today",
	"see you tomorrow",
	"thank you for talking",
})

// ClassifyEmotion returns the tag of the first matching rule, or neutral.
func ClassifyEmotion(text string) domain.EmotionTag {
	n := normalize(text)
	if n == "" {
		return domain.EmotionNeutral
	}
	for _, r := range emotionRules {
		if containsAny(n, r.keywords) {
			return r.tag
		}
	}
	return domain.EmotionNeutral
}

// ShouldEndCall reports whether text contains a known valediction.
func ShouldEndCall(text string) bool {
	n := normalize(text)
	if n == "" {
		return false
	}
	return containsAny(n, valedictions)
}

func containsAny(s string, needles []string) bool {
	for _, k := range needles {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// normalize maps text to NFC and folds case so Devanagari with and without
// precomposed nukta and mixed-case English compare equal. A fresh Caser is
// used per call because Casers are stateful.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "’", "'")
	return cases.Fold().String(norm.NFC.String(s))
}

func normalizeAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = normalize(s)
	}
	return out
}

func compileRules(rules []rule) []rule {
	for i := range rules {
		rules[i].keywords = normalizeAll(rules[i].keywords)
	}
	return rules
}
