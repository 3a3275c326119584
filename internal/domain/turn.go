package domain

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// EmotionTag is the discrete tone attached to an assistant turn. It drives the
// mentor's avatar expression in the UI shell.
type EmotionTag string

const (
	EmotionNeutral     EmotionTag = "neutral"
	EmotionProud       EmotionTag = "proud"
	EmotionThinking    EmotionTag = "thinking"
	EmotionConcerned   EmotionTag = "concerned"
	EmotionHappy       EmotionTag = "happy"
	EmotionEncouraging EmotionTag = "encouraging"
)

// Turn is a single utterance in a call. Emotion is empty when absent.
type Turn struct {
	ID      string     `json:"id"`
	Role    Role       `json:"role"`
	Text    string     `json:"text"`
	At      time.Time  `json:"at"`
	Emotion EmotionTag `json:"emotion,omitempty"`
	EndCall bool       `json:"endCall,omitempty"`
}

// SessionSummary is returned when a call ends.
type SessionSummary struct {
	SessionID    string        `json:"sessionId"`
	TopicID      string        `json:"topicId"`
	Duration     time.Duration `json:"duration"`
	TurnCount    int           `json:"turnCount"`
	LastEmotion  EmotionTag    `json:"lastEmotion"`
	EndRequested bool          `json:"endRequested"`
}
