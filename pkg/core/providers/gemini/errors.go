package gemini

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-jarvis/pkg/core"
)

// mapError converts a genai failure into a *core.Error carrying the HTTP
// status. Rate limiting and overload map to transient errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fromAPIError(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return fromAPIError(*apiErrPtr, err)
	}
	return core.NewRemoteError(0, err.Error(), err)
}

func fromAPIError(apiErr genai.APIError, cause error) *core.Error {
	status := apiErr.Code
	switch strings.ToUpper(apiErr.Status) {
	case "RESOURCE_EXHAUSTED":
		if status == 0 {
			status = 429
		}
	case "UNAVAILABLE":
		if status == 0 {
			status = 503
		}
	}
	msg := apiErr.Message
	if apiErr.Status != "" {
		msg = fmt.Sprintf("%s (%d %s)", apiErr.Message, status, apiErr.Status)
	}
	e := core.NewRemoteError(status, msg, cause)
	e.Code = apiErr.Status
	return e
}
