package llm

// Mode selects a sampling profile.
type Mode string

const (
	ModeInstant  Mode = "instant"
	ModeThinking Mode = "thinking"
	ModePrecise  Mode = "precise"
)

// Sampling holds provider sampling parameters.
type Sampling struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int64   `json:"max_tokens"`
}

// DefaultMode is used when a request carries no mode.
const DefaultMode = ModeInstant

var modeProfiles = map[Mode]Sampling{
	ModeInstant:  {Temperature: 0.6, TopP: 0.95, MaxTokens: 4096},
	ModeThinking: {Temperature: 1.0, TopP: 0.95, MaxTokens: 16384},
	ModePrecise:  {Temperature: 0.2, TopP: 0.8, MaxTokens: 4096},
}

// Profile returns the sampling profile for the mode. Unknown modes fall back
// to DefaultMode.
func Profile(m Mode) Sampling {
	if s, ok := modeProfiles[m]; ok {
		return s
	}
	return modeProfiles[DefaultMode]
}

// ParseMode returns the mode named by s and whether it is known.
func ParseMode(s string) (Mode, bool) {
	m := Mode(s)
	_, ok := modeProfiles[m]
	return m, ok
}

// Sampling resolves the request's effective sampling parameters.
func (r *Request) Sampling() Sampling {
	s := Profile(r.Mode)
	if r.Temperature != nil {
		s.Temperature = *r.Temperature
	}
	if r.TopP != nil {
		s.TopP = *r.TopP
	}
	if r.MaxTokens != nil && *r.MaxTokens > 0 {
		s.MaxTokens = *r.MaxTokens
	}
	return s
}
