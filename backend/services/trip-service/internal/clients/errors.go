package clients

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrConfiguration means client id, redirect URI or another required setting is missing.
	ErrConfiguration = errors.New("clients: fleet client is not configured")
	// ErrOAuthExchangeFailed means the authorization code could not be traded for tokens.
	ErrOAuthExchangeFailed = errors.New("clients: oauth code exchange failed")
	// ErrRefreshFailed means the refresh grant was rejected; the token store has been cleared.
	ErrRefreshFailed = errors.New("clients: token refresh failed")
	// ErrNotAuthenticated means there is no session to authenticate with.
	ErrNotAuthenticated = errors.New("clients: not authenticated")
	// ErrAuthenticationFailed means the vendor rejected a freshly refreshed token.
	ErrAuthenticationFailed = errors.New("clients: authentication failed")
)

// APIError is a non-2xx answer to a well-formed authenticated request.
type APIError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fleet api: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

func newAPIError(status int, body []byte) *APIError {
	return &APIError{Status: status, Message: vendorMessage(status, body), Body: body}
}

// vendorMessage picks the most specific human readable message from an error body.
func vendorMessage(status int, body []byte) string {
	var payload struct {
		Error            any    `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.ErrorDescription != "" {
			return payload.ErrorDescription
		}
		if s, ok := payload.Error.(string); ok && s != "" {
			return s
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 256 {
		return text
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "request failed"
}
