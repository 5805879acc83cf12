package hub

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrAuthRequired = errors.New("authentication failed")
	ErrTimeout      = errors.New("request timed out")
	ErrNotFound     = errors.New("not found")
)

// AuthError is returned when the Hub answers 401. The message depends on
// whether a token was sent with the request.
type AuthError struct {
	URL           string
	TokenProvided bool
}

func (e *AuthError) Error() string {
	if e.TokenProvided {
		return "Authentication failed (401). The provided token may be invalid or expired. " +
			"Please check your token. Also verify the model ID is correct (case-sensitive)."
	}
	return "Authentication failed (401). This model may be private or require authentication. " +
		"Please provide a Hugging Face token. Also verify the model ID is correct (case-sensitive)."
}

// Is implements error matching for AuthError
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthRequired
}

// HTTPError represents any other non-success response.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error: status %d - %s (%s)", e.StatusCode, e.Status, e.URL)
}

// Is implements error matching for HTTPError
func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// TimeoutError is returned once a request has timed out twice.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s (retried once)", e.URL, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is implements error matching for TimeoutError
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func newStatusError(url string, statusCode int, tokenProvided bool) error {
	if statusCode == http.StatusUnauthorized {
		return &AuthError{URL: url, TokenProvided: tokenProvided}
	}
	return &HTTPError{URL: url, StatusCode: statusCode, Status: http.StatusText(statusCode)}
}
