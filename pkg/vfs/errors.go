package vfs

import (
	"errors"
	"fmt"

	"github.com/marmos91/siafuse/pkg/content"
)

// Error represents a failed filesystem operation.
//
// These are namespace errors (file not found, directory not empty, ...) as
// opposed to storage failures, which are reported with ErrIO and carry the
// backend error as their cause.
//
// Transports translate Code to their own error space (errno for FUSE).
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the name or path related to the error (if applicable)
	Path string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so callers can write
// errors.Is(err, &vfs.Error{Code: vfs.ErrNotFound}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ErrorCode represents the category of a filesystem error.
type ErrorCode int

const (
	// ErrNotFound indicates a path, name or inode does not resolve
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates a name collision on create, mkdir or link
	ErrAlreadyExists

	// ErrNotDirectory indicates the operation expected a directory
	ErrNotDirectory

	// ErrIsDirectory indicates the operation expected a regular file
	ErrIsDirectory

	// ErrNotEmpty indicates rmdir (or rename over) a non-empty directory
	ErrNotEmpty

	// ErrBadHandle indicates an unopened or closed handle, or a handle used
	// against its open mode
	ErrBadHandle

	// ErrParentNotFound indicates create or mkdir under a missing parent
	ErrParentNotFound

	// ErrInvalidArgument indicates malformed input: reserved or empty names,
	// relative paths, moving a directory into itself
	ErrInvalidArgument

	// ErrNameTooLong indicates an entry name above the configured limit
	ErrNameTooLong

	// ErrIO indicates the content store failed
	ErrIO

	// ErrFileTooLarge indicates a write or truncate past the file size limit
	ErrFileTooLarge
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrNotDirectory:
		return "NotADirectory"
	case ErrIsDirectory:
		return "IsADirectory"
	case ErrNotEmpty:
		return "NotEmpty"
	case ErrBadHandle:
		return "BadHandle"
	case ErrParentNotFound:
		return "ParentNotFound"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrNameTooLong:
		return "NameTooLong"
	case ErrIO:
		return "IO"
	case ErrFileTooLarge:
		return "FileTooLarge"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// newError builds an *Error for code.
func newError(code ErrorCode, message, path string) *Error {
	return &Error{Code: code, Message: message, Path: path}
}

// ioError wraps a content store failure. A store refusing the size is
// reported as ErrFileTooLarge rather than an I/O error.
func ioError(op string, err error) *Error {
	if errors.Is(err, content.ErrTooLarge) {
		return &Error{Code: ErrFileTooLarge, Message: op + " failed", Err: err}
	}
	return &Error{Code: ErrIO, Message: op + " failed", Err: err}
}

// CodeOf returns the code of err and true if err wraps an *Error.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// IsCode reports whether err wraps an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
