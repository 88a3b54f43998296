package resolver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/italolelis/seedbox_resolver/internal/store"
)

// Kind classifies a resolution failure.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidFingerprint
	// KindTransient means the store could not be reached; the caller should
	// retry later.
	KindTransient
	KindStorageExhausted
	// KindNotFound means the store rejected the reference.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidFingerprint:
		return "invalid_fingerprint"
	case KindTransient:
		return "transient"
	case KindStorageExhausted:
		return "storage_exhausted"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code a failure of this kind is served with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidFingerprint:
		return http.StatusBadRequest
	case KindTransient:
		return http.StatusOK
	case KindStorageExhausted:
		return http.StatusInsufficientStorage
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is the only error type Resolve returns.
type Error struct {
	Kind        Kind
	Fingerprint string
	Message     string
	Err         error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}

	return KindInternal
}

// classify maps store failures onto the resolver taxonomy.
func classify(fp, op string, err error) *Error {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}

	var (
		invalid *store.InvalidContentError
		network *store.NetworkError
		auth    *store.AuthenticationError
	)

	switch {
	case errors.As(err, &invalid):
		return &Error{Kind: KindNotFound, Fingerprint: fp, Message: invalid.Reason, Err: err}
	case errors.As(err, &network):
		return &Error{Kind: KindTransient, Fingerprint: fp, Message: op + " failed, retry later", Err: err}
	case errors.As(err, &auth):
		return &Error{Kind: KindInternal, Fingerprint: fp, Message: "store credentials rejected", Err: err}
	default:
		return &Error{Kind: KindInternal, Fingerprint: fp, Message: op + " failed", Err: err}
	}
}
