package types

import "strconv"

// Preference keys as stored by a PreferenceStore.
const (
	PrefVoiceOutputEnabled = "voice_output_enabled"
	PrefTutorModeEnabled   = "tutor_mode_enabled"
	PrefSelectedVoiceURI   = "selected_voice_uri"
	PrefSelectedLanguage   = "selected_language"
	PrefLongTermMemory     = "long_term_memory"
)

// PreferenceKeys lists every known key.
var PreferenceKeys = []string{
	PrefVoiceOutputEnabled,
	PrefTutorModeEnabled,
	PrefSelectedVoiceURI,
	PrefSelectedLanguage,
	PrefLongTermMemory,
}

// Preferences are the user's scalar settings.
type Preferences struct {
	VoiceOutputEnabled bool   `json:"voice_output_enabled"`
	TutorModeEnabled   bool   `json:"tutor_mode_enabled"`
	SelectedVoiceURI   string `json:"selected_voice_uri,omitempty"`
	SelectedLanguage   string `json:"selected_language"`
	LongTermMemory     string `json:"long_term_memory,omitempty"`
}

// PreferencesFromMap decodes raw key/value pairs, applying defaults.
func PreferencesFromMap(kv map[string]string) Preferences {
	p := Preferences{SelectedLanguage: DefaultLanguageCode}
	if v, ok := kv[PrefVoiceOutputEnabled]; ok {
		p.VoiceOutputEnabled, _ = strconv.ParseBool(v)
	}
	if v, ok := kv[PrefTutorModeEnabled]; ok {
		p.TutorModeEnabled, _ = strconv.ParseBool(v)
	}
	p.SelectedVoiceURI = kv[PrefSelectedVoiceURI]
	if v := kv[PrefSelectedLanguage]; v != "" {
		p.SelectedLanguage = v
	}
	p.LongTermMemory = kv[PrefLongTermMemory]
	return p
}

// IsPreferenceKey reports whether key is known.
func IsPreferenceKey(key string) bool {
	for _, k := range PreferenceKeys {
		if k == key {
			return true
		}
	}
	return false
}
