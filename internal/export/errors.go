package export

import (
	"errors"
	"fmt"
)

// Fatal error classes. No partial report is written when one of these
// surfaces; the process exits non-zero.
var (
	// ErrUnsupportedRoot is returned when the invoking container is
	// neither a project nor a session.
	ErrUnsupportedRoot = errors.New("root container must be a project or a session")

	// ErrRootResolution is returned when no project ancestor can be
	// resolved for the root container.
	ErrRootResolution = errors.New("cannot resolve a project for the root container")
)

// FetchError wraps a platform request failure during the walk. It is
// unrecoverable: the whole walk aborts.
type FetchError struct {
	Op  string
	ID  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DecodeError wraps a pixel decode failure for one file member. It is
// recoverable per ROI: the row is emitted with blank statistics.
type DecodeError struct {
	File   string
	Member string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("decode pixels for %s member %s: %v", e.File, e.Member, e.Err)
	}
	return fmt.Sprintf("decode pixels for %s: %v", e.File, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
