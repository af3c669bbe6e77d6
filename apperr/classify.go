package apperr

import (
	"context"
	"errors"
	"net"
	"net/http"

	"google.golang.org/genai"
)

// ClassifyRemote maps an error returned by the generation API onto a
// transient or permanent remote kind. Errors that are already typed pass
// through unchanged.
func ClassifyRemote(err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return Internal("operation canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(CodeTimeout, err)
	}

	if code, ok := apiStatus(err); ok {
		switch {
		case code == http.StatusTooManyRequests:
			return Transient(CodeRateLimit, err)
		case code == http.StatusRequestTimeout:
			return Transient(CodeTimeout, err)
		case code >= 500:
			return Transient(CodeUnavailable, err)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return Permanent(CodeAuthFailed, err)
		default:
			return Permanent(CodeContentRejected, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Transient(CodeTimeout, err)
		}
		return Transient(CodeUnavailable, err)
	}

	// Unknown failures between us and the API are most often connection
	// resets, so they get another attempt.
	return Transient(CodeUnavailable, err)
}

func apiStatus(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}

// UserMessage turns err into text safe to persist on an entity and show to
// the owner. Raw remote errors are never exposed.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "An unexpected error occurred while processing. Please try again."
	}

	switch e.Kind {
	case KindTransientRemote:
		switch e.Code {
		case CodeRateLimit:
			return "The AI service is rate limited right now. Please retry in a few minutes."
		case CodeTimeout:
			return "The AI service took too long to respond. Please retry later."
		default:
			return "The AI service is temporarily unavailable. Please retry later."
		}
	case KindPermanentRemote:
		switch e.Code {
		case CodeAuthFailed:
			return "The AI service is not configured correctly. Please contact support."
		case CodeEmptyResponse, CodeMalformedResponse:
			return "The AI service returned an unusable response."
		default:
			return "The content could not be processed. Please check the file and try again."
		}
	case KindValidation, KindConflict, KindNotFound, KindForbidden:
		return e.Message
	default:
		return "An unexpected error occurred while processing. Please try again."
	}
}
