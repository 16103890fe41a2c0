package xclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrRateLimited is a short-window call or message limit (HTTP 429, code 88).
	ErrRateLimited = errors.New("x api rate limited")
	// ErrReadOnly means the token lacks write or direct-message permission.
	ErrReadOnly = errors.New("x api read-only access")
	// ErrRejected means the recipient cannot be messaged (blocked, not following, suspended).
	ErrRejected = errors.New("x api recipient rejected")
	// ErrNoMatch means a lookup matched no user at all (code 17), e.g. every
	// id in the batch is suspended or deleted.
	ErrNoMatch = errors.New("x api no matching users")
)

// APIError is a non-2xx response from the X API.
type APIError struct {
	Endpoint string
	Status   int
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("x api %s status %d code %d: %s", e.Endpoint, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("x api %s status %d", e.Endpoint, e.Status)
}

// Is lets callers match sentinels with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests || e.Code == 88
	case ErrNoMatch:
		return e.Code == 17
	case ErrReadOnly:
		return e.Code == 93 || e.Code == 261 || e.Code == 220
	case ErrRejected:
		switch e.Code {
		case 50, 63, 108, 150, 151, 349:
			return true
		}
	}
	return false
}

// Reason is a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, ErrReadOnly):
		return "read_only"
	case errors.Is(err, ErrRejected):
		return "rejected"
	}
	return "error"
}

func decodeAPIError(endpoint string, resp *http.Response) error {
	e := &APIError{Endpoint: endpoint, Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var raw struct {
		Errors []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &raw) == nil && len(raw.Errors) > 0 {
		e.Code = raw.Errors[0].Code
		e.Message = raw.Errors[0].Message
	}
	return e
}
