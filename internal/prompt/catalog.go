// Package prompt holds the static topic catalog: the mentor's system
// instruction and opening line per curriculum pack.
package prompt

import (
	"strings"
	"time"

	"didi-mentor/internal/domain"
)

const (
	// GenericTopicID is the fallback topic used for unknown ids.
	GenericTopicID = "general"

	DefaultHonorific = "बहन जी"
	DefaultLanguage  = "hi-IN"

	namePlaceholder     = "{name}"
	greetingPlaceholder = "{greeting}"

	greetingMorning = "सुप्रभात"
	greetingMidday  = "नमस्ते"
	greetingEvening = "शुभ संध्या"
)

// Prompt is the resolved system instruction and opening utterance for a topic.
type Prompt struct {
	System  string
	Opening string
}

const personaRules = `
आप "दीदी" हैं, गाँव की एक अनुभवी और प्यारी बड़ी बहन, जो फ़ोन पर महिलाओं को छोटे-छोटे पाठ सिखाती हैं।
नियम:
1) सिर्फ़ सरल बोलचाल की हिंदी में बोलें, कठिन शब्दों से बचें।
2) हर जवाब दो-तीन छोटे वाक्यों का हो, ताकि फ़ोन पर सुनने में आसानी हो।
3) हर बार एक ही बात सिखाएँ और अंत में एक आसान सवाल पूछें।
4) अच्छे जवाब पर "शाबाश" कहकर हिम्मत बढ़ाएँ।
5) कोई लेबल, इमोजी या निर्देश न लिखें, सिर्फ़ वही लिखें जो बोला जाएगा।
6) जब पाठ पूरा हो जाए तो "आज के लिए बस इतना ही" कहकर प्यार से विदा लें।
`

var topics = []domain.Topic{
	{
		ID:      "savings",
		Title:   "बचत की आदत",
		System:  "विषय: रोज़ की छोटी बचत, गुल्लक से बैंक खाते तक।" + personaRules,
		Opening: "{greeting} {name}! मैं दीदी बोल रही हूँ। आज हम बात करेंगे कि रोज़ के खर्च में से थोड़ा-थोड़ा पैसा कैसे बचाएँ। क्या आप अभी कुछ बचत करती हैं?",
		Replies: []string{
			"बहुत अच्छा! रोज़ दस रुपये भी बचाएँ तो साल में साढ़े तीन हज़ार से ज़्यादा हो जाते हैं। आप किस चीज़ के लिए बचत करना चाहेंगी?",
			"सोचिए, अगर अचानक दवाई का खर्च आ जाए तो पैसा कहाँ से आएगा? इसीलिए थोड़ी बचत अलग रखनी ज़रूरी है।",
			"घर में रखा पैसा जल्दी खर्च हो जाता है। बैंक खाते में रखें तो सुरक्षित भी रहता है और ब्याज भी मिलता है।",
			"शाबाश! आप तो बहुत समझदारी से सोच रही हैं। अगला कदम है हर महीने एक तय रकम अलग रखना।",
		},
	},
	{
		ID:      "digital-payments",
		Title:   "फ़ोन से पैसे भेजना",
		System:  "विषय: UPI से सुरक्षित भुगतान, PIN की सुरक्षा, धोखाधड़ी से बचाव।" + personaRules,
		Opening: "{greeting} {name}! मैं दीदी। आज हम सीखेंगे कि फ़ोन से पैसे कैसे भेजते हैं और अपना PIN कैसे सुरक्षित रखते हैं। क्या आपने कभी फ़ोन से पैसे भेजे हैं?",
		Replies: []string{
			"ध्यान रखें, अपना UPI PIN कभी किसी को न बताएँ, चाहे वो बैंक वाला बनकर ही क्यों न फ़ोन करे।",
			"पैसे लेने के लिए PIN डालने की ज़रूरत नहीं होती। अगर कोई PIN माँगे तो समझिए धोखा है।",
			"बहुत बढ़िया! भेजने से पहले नाम ज़रूर जाँच लें, फिर ही भुगतान करें।",
			"चलिए एक बार और कोशिश करते हैं। बताइए, पैसे लेने के लिए PIN डालना पड़ता है या नहीं?",
		},
	},
	{
		ID:      "health-hygiene",
		Title:   "सेहत और साफ़-सफ़ाई",
		System:  "विषय: हाथ धोना, साफ़ पानी, माहवारी स्वच्छता, पोषण।" + personaRules,
		Opening: "{greeting} {name}! दीदी बोल रही हूँ। आज हम बात करेंगे सेहत और साफ़-सफ़ाई की छोटी-छोटी बातों की। आप खाना बनाने से पहले हाथ कैसे धोती हैं?",
		Replies: []string{
			"साबुन से बीस सेकंड तक हाथ धोने से बहुत सी बीमारियाँ दूर रहती हैं। यह बच्चों को भी सिखाइए।",
			"पीने का पानी उबालकर या छानकर ही पिएँ। इससे पेट की बीमारियों से बचाव होता है।",
			"आपको थकान रहती है तो चिंता की बात है, हरी सब्ज़ियाँ और गुड़-चना ज़रूर खाइए।",
			"बहुत अच्छा लगा सुनकर! आप अपने परिवार का बहुत अच्छे से ख्याल रख रही हैं।",
		},
	},
	{
		ID:      "govt-schemes",
		Title:   "सरकारी योजनाएँ",
		System:  "विषय: जन धन खाता, उज्ज्वला, मातृत्व लाभ, आवेदन कैसे करें।" + personaRules,
		Opening: "{greeting} {name}! मैं दीदी। आज हम जानेंगे कि महिलाओं के लिए कौन-कौन सी सरकारी योजनाएँ हैं और उनका फ़ायदा कैसे लें। क्या आपका जन धन खाता है?",
		Replies: []string{
			"जन धन खाता बिना किसी न्यूनतम रकम के खुल जाता है। बस आधार कार्ड लेकर पास के बैंक जाइए।",
			"सोचिए, गैस कनेक्शन के लिए उज्ज्वला योजना में आवेदन किया जा सकता है। पंचायत में पूछिए।",
			"किसी भी योजना के लिए कोई पैसे माँगे तो सावधान रहें, सरकारी योजनाएँ मुफ़्त में मिलती हैं।",
			"शाबाश! अब आप दूसरी बहनों को भी यह जानकारी दे सकती हैं।",
		},
	},
	{
		ID:      "small-business",
		Title:   "अपना छोटा काम",
		System:  "विषय: छोटा व्यवसाय शुरू करना, हिसाब रखना, मुनाफ़ा समझना।" + personaRules,
		Opening: "{greeting} {name}! दीदी बोल रही हूँ। आज हम बात करेंगे कि घर से कोई छोटा काम कैसे शुरू करें। आपको कौन सा काम सबसे अच्छा आता है?",
		Replies: []string{
			"हर दिन की कमाई और खर्च एक कॉपी में लिखिए। इससे पता चलेगा कि असली मुनाफ़ा कितना है।",
			"आप कर सकती हैं! शुरुआत छोटी रखें, पहले दस ग्राहकों से बात करें।",
			"सोचिए, अगर सामान दस रुपये में बनता है और बारह में बिकता है, तो मुनाफ़ा कितना हुआ?",
			"स्वयं सहायता समूह से कम ब्याज पर कर्ज़ मिल सकता है। अपने गाँव के समूह से जुड़िए।",
		},
	},
}

var genericTopic = domain.Topic{
	ID:      GenericTopicID,
	Title:   "दीदी से बातचीत",
	System:  "विषय: रोज़मर्रा की ज़िंदगी से जुड़ी उपयोगी बातें।" + personaRules,
	Opening: "{greeting} {name}! मैं दीदी बोल रही हूँ। आज आप क्या सीखना चाहेंगी?",
}

var byID = func() map[string]domain.Topic {
	m := make(map[string]domain.Topic, len(topics))
	for _, t := range topics {
		m[t.ID] = t
	}
	return m
}()

// Topic returns the static topic record for id, or the generic topic when id
// is unknown.
func Topic(id string) domain.Topic {
	if t, ok := byID[strings.TrimSpace(id)]; ok {
		return t
	}
	return genericTopic
}

// Known reports whether id is one of the curriculum packs.
func Known(id string) bool {
	_, ok := byID[strings.TrimSpace(id)]
	return ok
}

// IDs enumerates the curriculum pack ids in declaration order.
func IDs() []string {
	ids := make([]string, 0, len(topics))
	for _, t := range topics {
		ids = append(ids, t.ID)
	}
	return ids
}

// Lookup never fails: unknown ids fall back to the generic mentor prompt.
func Lookup(topicID string) Prompt {
	t := Topic(topicID)
	return Prompt{System: t.System, Opening: t.Opening}
}

// Personalize substitutes the name and greeting placeholders. The greeting is
// chosen from now's local hour.
func Personalize(template string, profile domain.Profile, now time.Time) string {
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name = DefaultHonorific
	}
	out := strings.ReplaceAll(template, namePlaceholder, name)
	return strings.ReplaceAll(out, greetingPlaceholder, Greeting(now))
}

// Greeting maps the hour of now to a time-of-day greeting.
func Greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return greetingMorning
	case h < 17:
		return greetingMidday
	default:
		return greetingEvening
	}
}

// SpeechOptions returns the voice settings for the speech-output sink. Didi
// speaks slightly slower and higher than the platform default.
func SpeechOptions(language string) domain.SpeechOptions {
	language = strings.TrimSpace(language)
	if language == "" {
		language = DefaultLanguage
	}
	return domain.SpeechOptions{Rate: 0.9, Pitch: 1.1, Language: language}
}
