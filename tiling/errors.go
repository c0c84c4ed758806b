package tiling

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch matches any *DimensionMismatchError via errors.Is.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// DimensionMismatchError reports a refined tile whose shape differs from
// the crop it was made from. It is fatal: the tile is never resampled or
// cropped to fit.
type DimensionMismatchError struct {
	Index int

	WantHeight, WantWidth, WantChannels int
	GotHeight, GotWidth, GotChannels    int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: tile %d expected %dx%dx%d, refiner returned %dx%dx%d",
		ErrDimensionMismatch, e.Index,
		e.WantHeight, e.WantWidth, e.WantChannels,
		e.GotHeight, e.GotWidth, e.GotChannels)
}

// Is lets errors.Is(err, ErrDimensionMismatch) match.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// IsDimensionMismatch reports whether err is or wraps a DimensionMismatchError.
func IsDimensionMismatch(err error) bool {
	var de *DimensionMismatchError
	return errors.As(err, &de)
}
