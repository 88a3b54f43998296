package store

import "fmt"

// InvalidContentError is returned when the store rejects the reference
// itself: a malformed magnet, a broken .torrent or an unknown hash.
type InvalidContentError struct {
	Reference string
	Reason    string
	Err       error
}

func (e *InvalidContentError) Error() string {
	return fmt.Sprintf("store rejected %s: %s", e.Reference, e.Reason)
}

func (e *InvalidContentError) Unwrap() error {
	return e.Err
}

// NetworkError represents transport failures and 5xx or 429 responses.
type NetworkError struct {
	Operation  string
	StatusCode int
	APIMessage string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents 401 and 403 responses.
type AuthenticationError struct {
	Operation string
	Err       error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// StatusError is an unexpected non-success response that is neither an
// auth failure nor retryable.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d during %s: %s", e.StatusCode, e.Operation, e.Body)
}
