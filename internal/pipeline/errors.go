package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrOutputExists is returned when the output root is already present at start.
	ErrOutputExists = errors.New("output directory already exists")

	// ErrUntracedImage is returned when a node attribute row does not derive
	// from any deconvolved metadata row.
	ErrUntracedImage = errors.New("projected image does not trace back to the image metadata")
)

// StageError wraps the failure of one stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
