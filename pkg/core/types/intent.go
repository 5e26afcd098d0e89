package types

// Intent is the classifier's reading of a user prompt.
type Intent string

const (
	IntentTextGeneration  Intent = "text_generation"
	IntentImageGeneration Intent = "image_generation"
	IntentDeviceControl   Intent = "device_control"
	IntentLocationQuery   Intent = "location_query"
	IntentLanguageChange  Intent = "language_change"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentTextGeneration, IntentImageGeneration, IntentDeviceControl,
		IntentLocationQuery, IntentLanguageChange:
		return true
	default:
		return false
	}
}

// DefaultLanguageCode is used when nothing better is known.
const DefaultLanguageCode = "en-US"

// LanguageChange carries the target language of a language_change intent.
type LanguageChange struct {
	Language     string `json:"language"`
	LanguageCode string `json:"languageCode"`
}

// Analysis is the structured classifier response.
type Analysis struct {
	Intent               Intent          `json:"intent"`
	DetectedLanguageCode string          `json:"detectedLanguageCode"`
	ImagePrompt          string          `json:"imagePrompt,omitempty"`
	IsSetLocationCommand bool            `json:"isSetLocationCommand,omitempty"`
	LanguageChange       *LanguageChange `json:"languageChangeDetails,omitempty"`
}

// DefaultAnalysis is the fallback used when classification fails.
func DefaultAnalysis() Analysis {
	return Analysis{Intent: IntentTextGeneration, DetectedLanguageCode: DefaultLanguageCode}
}
