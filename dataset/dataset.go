// Package dataset - Annotated image sources and the policies that pick images from them.
package dataset

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
)

// ErrIndexOutOfRange is returned by Get for an index outside [0, Len()).
var ErrIndexOutOfRange = errors.New("dataset index out of range")

// Record is one annotated image.
type Record struct {
	// Index is the position of the record in its dataset.
	Index int
	// Image is the encoded image.
	Image images.Image
	// GroundTruth lists the annotated boxes in dataset order.
	GroundTruth []common.GroundTruthBox
}

// Dataset provides indexed access to annotated images.
type Dataset interface {
	// Len returns the number of records.
	Len() int
	// Get returns the record at index i.
	Get(i int) (Record, error)
}

// Memory is a Dataset backed by a slice.
type Memory struct {
	Records []Record
}

// NewMemory creates an in-memory dataset. Record indices are rewritten to
// their positions.
func NewMemory(records ...Record) *Memory {
	m := &Memory{Records: make([]Record, len(records))}
	for i, r := range records {
		r.Index = i
		m.Records[i] = r
	}
	return m
}

// Len returns the number of records.
func (m *Memory) Len() int {
	return len(m.Records)
}

// Get returns the record at index i.
func (m *Memory) Get(i int) (Record, error) {
	if i < 0 || i >= len(m.Records) {
		return Record{}, errors.Wrapf(ErrIndexOutOfRange, "index %d of %d", i, len(m.Records))
	}
	return m.Records[i], nil
}

func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d of %d", i, n)
	}
	return nil
}
