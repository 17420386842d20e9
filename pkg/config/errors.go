package config

import (
	"fmt"

	"github.com/pkg/errors"
)

// ExampleConfigName is the file users are pointed at when their
// config can't be read.
const ExampleConfigName = "example_config.ini"

var (
	// ErrNotFound is matched (via errors.Is) when the config file
	// could not be opened.
	ErrNotFound = errors.New("config file not found")

	// ErrMalformed is matched when the file was read, but the
	// contents are unusable. Missing sections, missing keys, and
	// invalid values all land here.
	ErrMalformed = errors.New("malformed config file")
)

// Error is returned from Load. Kind is one of ErrNotFound or
// ErrMalformed, Err is the underlying cause.
type Error struct {
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("unable to read ini file %s, please refer to %s format. Error message: %v", e.Path, ExampleConfigName, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause satisfies pkg/errors' causer.
func (e *Error) Cause() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func notFound(path string, err error) *Error {
	return &Error{Path: path, Kind: ErrNotFound, Err: err}
}

func malformed(path string, err error) *Error {
	return &Error{Path: path, Kind: ErrMalformed, Err: err}
}
