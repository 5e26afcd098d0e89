package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/turn"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// PreferencesHandler serves GET /v1/preferences and PUT /v1/preferences/{key}.
// Reads return every setting with defaults applied.
type PreferencesHandler struct {
	Store        turn.PreferenceStore
	MaxBodyBytes int64
}

func (h PreferencesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		if err := h.put(w, r); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	prefs, err := h.Store.Load(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h PreferencesHandler) put(w http.ResponseWriter, r *http.Request) error {
	key := r.PathValue("key")
	if !types.IsPreferenceKey(key) {
		return core.NewNotFoundError("unknown preference " + strconv.Quote(key))
	}
	if h.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	}
	var body struct {
		Value *string `json:"value"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil || body.Value == nil {
		return core.NewInvalidRequestError(`body must be {"value": "<string>"}`)
	}
	switch key {
	case types.PrefVoiceOutputEnabled, types.PrefTutorModeEnabled:
		if _, err := strconv.ParseBool(*body.Value); err != nil {
			return core.NewInvalidRequestError(key + " must be true or false")
		}
	}
	return h.Store.Save(r.Context(), key, *body.Value)
}
