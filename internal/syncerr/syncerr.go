package syncerr

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by the core wraps exactly one of these.
var (
	ErrFilesystem    = errors.New("filesystem error")
	ErrArchive       = errors.New("archive error")
	ErrAuthorization = errors.New("authorization error")
	ErrTransfer      = errors.New("transfer error")
	ErrStateStore    = errors.New("state store error")
	ErrNotFound      = errors.New("not found")
)

var kinds = []error{
	ErrFilesystem,
	ErrArchive,
	ErrAuthorization,
	ErrTransfer,
	ErrStateStore,
	ErrNotFound,
}

// Error is a failure tagged with its kind.
type Error struct {
	Kind error  // one of the Err* kinds
	Op   string // operation that failed, e.g. "archive build"
	Path string // file path or object path, optional
	Err  error  // underlying cause, optional
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func Filesystem(op, path string, err error) error {
	return newError(ErrFilesystem, op, path, err)
}

func Archive(op, path string, err error) error {
	return newError(ErrArchive, op, path, err)
}

func Authorization(op, path string, err error) error {
	return newError(ErrAuthorization, op, path, err)
}

func Transfer(op, path string, err error) error {
	return newError(ErrTransfer, op, path, err)
}

func StateStore(op, path string, err error) error {
	return newError(ErrStateStore, op, path, err)
}

func NotFound(op, path string, err error) error {
	return newError(ErrNotFound, op, path, err)
}

// KindOf returns the kind of err, or nil if err carries none.
// When an error chain carries several kinds the outermost one wins.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Tagged reports whether err already carries a kind.
func Tagged(err error) bool {
	return KindOf(err) != nil
}
