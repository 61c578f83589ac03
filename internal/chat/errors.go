package chat

import (
	"errors"
	"fmt"

	"github.com/trpg-tools/lorekeeper/internal/gemini"
)

// Kind classifies a chat operation failure.
type Kind string

const (
	// KindConfiguration covers an unconfigured adapter or a model handle
	// that could not be built.
	KindConfiguration Kind = "configuration"
	// KindValidation covers empty or unusable caller input.
	KindValidation Kind = "validation"
	// KindTransport covers adapter call failures, including blocked
	// content surfaced by the provider.
	KindTransport Kind = "transport"
)

// Error is the failure type returned by Manager operations. History is
// guaranteed unmodified whenever one of these is returned.
type Error struct {
	Kind    Kind
	Blocked bool
	Err     error
}

func (e *Error) Error() string {
	if e.Blocked {
		return fmt.Sprintf("%s error (blocked): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func configErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Err: fmt.Errorf(format, args...)}
}

func validationErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

func transportError(err error) *Error {
	var blocked *gemini.BlockedError
	return &Error{Kind: KindTransport, Blocked: errors.As(err, &blocked), Err: err}
}

// ErrorKind extracts the Kind from err, or "" when err is not a chat Error.
func ErrorKind(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return ""
}

// IsBlocked reports whether err carries a blocked-content transport failure.
func IsBlocked(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Blocked
}
