package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors, matched with errors.Is against the typed errors below.
var (
	ErrInvalidBox       = errors.New("invalid bounding box")
	ErrInvalidThreshold = errors.New("invalid IoU threshold")
	ErrGenerator        = errors.New("proposal generator failed")
	ErrSerialization    = errors.New("serialization failed")
)

// InvalidBoxError is returned for a box with xmin >= xmax, ymin >= ymax or a
// non-finite coordinate.
type InvalidBoxError struct {
	Box    BoundingBox
	Reason string
	// Source optionally says where the box came from, e.g. "proposal 3".
	Source string
}

func (e *InvalidBoxError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s %v: %s", ErrInvalidBox, e.Source, e.Box, e.Reason)
	}
	return fmt.Sprintf("%s %v: %s", ErrInvalidBox, e.Box, e.Reason)
}

// Is reports whether target is ErrInvalidBox.
func (e *InvalidBoxError) Is(target error) bool { return target == ErrInvalidBox }

// InvalidThresholdError is returned for an IoU threshold outside [0, 1].
type InvalidThresholdError struct {
	Threshold float64
}

func (e *InvalidThresholdError) Error() string {
	return fmt.Sprintf("%s %v: must be within [0, 1]", ErrInvalidThreshold, e.Threshold)
}

// Is reports whether target is ErrInvalidThreshold.
func (e *InvalidThresholdError) Is(target error) bool { return target == ErrInvalidThreshold }

// GeneratorError records that the proposal generator failed for one image.
type GeneratorError struct {
	// Index is the dataset index of the image.
	Index int
	Err   error
}

func (e *GeneratorError) Error() string {
	return fmt.Sprintf("%s for image %d: %v", ErrGenerator, e.Index, e.Err)
}

// Is reports whether target is ErrGenerator.
func (e *GeneratorError) Is(target error) bool { return target == ErrGenerator }

// Unwrap returns the generator's own error.
func (e *GeneratorError) Unwrap() error { return e.Err }

// SerializationError is returned by the result store for any save or load failure.
type SerializationError struct {
	Op   string
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s %s: %v", ErrSerialization, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrSerialization, e.Op, e.Err)
}

// Is reports whether target is ErrSerialization.
func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// Unwrap returns the underlying cause.
func (e *SerializationError) Unwrap() error { return e.Err }
