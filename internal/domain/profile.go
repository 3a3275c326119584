package domain

// Profile carries the caller's personalization inputs. All fields are optional.
type Profile struct {
	Name            string `json:"name,omitempty"`
	Language        string `json:"language,omitempty"`
	ExperienceLevel string `json:"experienceLevel,omitempty"`
}

// SpeechOptions are handed to the speech-output sink with every utterance.
type SpeechOptions struct {
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
	Language string  `json:"language"`
}

// Topic is a static curriculum unit. Templates may contain the {name} and
// {greeting} placeholders.
type Topic struct {
	ID      string
	Title   string
	System  string
	Opening string
	Replies []string
}
