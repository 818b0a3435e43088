package fswatch

import "errors"

var (
	// ErrNoPaths is returned by Subscribe when the source has nothing to watch.
	ErrNoPaths = errors.New("fswatch: no paths to watch")
	// ErrNilCallback is returned by Subscribe when onEvent is nil.
	ErrNilCallback = errors.New("fswatch: nil event callback")
)
