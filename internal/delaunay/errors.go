package delaunay

import (
	"errors"
	"fmt"
)

// ErrDegenerateInput is the sentinel matched by every DegenerateInputError.
var ErrDegenerateInput = errors.New("degenerate input")

// DegenerateInputError reports a point set that has no triangulation:
// fewer than three distinct points, or all points on one line.
type DegenerateInputError struct {
	Points   int
	Distinct int
	Reason   string
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("delaunay: %s (%d points, %d distinct)", e.Reason, e.Points, e.Distinct)
}

func (e *DegenerateInputError) Is(target error) bool {
	return target == ErrDegenerateInput
}
