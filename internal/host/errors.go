package host

import (
	"errors"
	"fmt"
)

// Kind classifies a runner failure. Every error crossing the task boundary
// is one of these; anything else is converted to KindInternal so students
// never see raw internals.
type Kind int

const (
	KindInternal Kind = iota
	KindLanguageNotSupported
	KindBadArchive
	KindExtractFailure
	KindFileDenied
	KindTooManyFiles
	KindTimeout
	KindSpawnFailure
	KindNonUTF8Output
	KindPermission
	KindAccountExhausted
	KindAddressRejected
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindLanguageNotSupported:
		return "language_not_supported"
	case KindBadArchive:
		return "bad_archive"
	case KindExtractFailure:
		return "extract_failure"
	case KindFileDenied:
		return "file_denied"
	case KindTooManyFiles:
		return "too_many_files"
	case KindTimeout:
		return "timeout"
	case KindSpawnFailure:
		return "spawn_failure"
	case KindNonUTF8Output:
		return "non_utf8_output"
	case KindPermission:
		return "permission"
	case KindAccountExhausted:
		return "account_exhausted"
	case KindAddressRejected:
		return "address_rejected"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a runner failure with a student-safe message and an optional
// wrapped cause carrying operator detail. The cause never reaches the
// student-visible report.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Message is the rejection reason shown to the student.
func (e *Error) Message() string {
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

// ErrInternal wraps an unexpected fault behind a generic message.
func ErrInternal(err error) *Error {
	return newError(KindInternal, "Internal server error.", err)
}

func ErrLanguageNotSupported(lang string) *Error {
	return newError(KindLanguageNotSupported,
		fmt.Sprintf("Language %q is not supported by this homework.", lang), nil)
}

func ErrBadArchive(err error) *Error {
	return newError(KindBadArchive, "Your handin is not a valid archive file.", err)
}

func ErrExtractFailure(err error) *Error {
	return newError(KindExtractFailure, "Could not extract your handin archive.", err)
}

func ErrFileDenied(path string) *Error {
	return newError(KindFileDenied,
		fmt.Sprintf("Archive contains denied file %q.", path), nil)
}

func ErrTooManyFiles(count int) *Error {
	return newError(KindTooManyFiles,
		"Your handin archive contains too many files.",
		fmt.Errorf("%d entries", count))
}

func ErrTimeout() *Error {
	return newError(KindTimeout, "Your handin has run out of time.", nil)
}

func ErrSpawnFailure(err error) *Error {
	return newError(KindSpawnFailure, "Could not launch your handin.", err)
}

func ErrNonUTF8Output() *Error {
	return newError(KindNonUTF8Output,
		"Your handin produced non UTF-8 output.", nil)
}

func ErrPermission(err error) *Error {
	return newError(KindPermission,
		"The runner host is misconfigured; please contact the administrator.", err)
}

func ErrAccountExhausted() *Error {
	return newError(KindAccountExhausted,
		"No execution account is available right now, please try again later.", nil)
}

func ErrAddressRejected(addr string) *Error {
	return newError(KindAddressRejected,
		fmt.Sprintf("Address %q is not allowed for this homework.", addr), nil)
}

// AsError extracts a taxonomy error from err, if it is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Wrap classifies err: taxonomy errors pass through untouched, everything
// else becomes a generic internal error.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return ErrInternal(err)
}
