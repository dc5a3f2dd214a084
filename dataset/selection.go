package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Selector decides which dataset indices an evaluation visits, and in which order.
type Selector interface {
	// Indices returns count indices into a dataset of the given size.
	Indices(count, size int) ([]int, error)
}

// Sequential visits Offset, Offset+1, ... A count of zero or less selects
// every image from Offset to the end.
type Sequential struct {
	Offset int
}

// Indices implements Selector.
func (s Sequential) Indices(count, size int) ([]int, error) {
	if s.Offset < 0 || (size > 0 && s.Offset >= size) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "offset %d of %d", s.Offset, size)
	}
	if count <= 0 {
		count = size - s.Offset
	}
	if s.Offset+count > size {
		return nil, errors.Wrapf(ErrIndexOutOfRange,
			"%d images from offset %d exceed dataset of %d", count, s.Offset, size)
	}
	out := make([]int, count)
	for i := range out {
		out[i] = s.Offset + i
	}
	return out, nil
}

// Fixed visits the same image count times. It is useful for checking that a
// generator is deterministic.
type Fixed struct {
	Index int
}

// Indices implements Selector.
func (f Fixed) Indices(count, size int) ([]int, error) {
	if err := checkIndex(f.Index, size); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 1
	}
	out := make([]int, count)
	for i := range out {
		out[i] = f.Index
	}
	return out, nil
}

// Random visits Offset+i+r for the i-th image, where r is drawn uniformly
// from [0, Span) by a source seeded with Seed. Indices wrap around the end of
// the dataset. A Span of zero or less draws from the whole dataset instead.
// A count of zero or less selects as many images as the dataset holds.
type Random struct {
	Seed   int64
	Offset int
	Span   int
}

// Indices implements Selector.
func (r Random) Indices(count, size int) ([]int, error) {
	if size <= 0 {
		return nil, errors.Wrap(ErrIndexOutOfRange, "cannot sample from an empty dataset")
	}
	if r.Offset < 0 {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "negative offset %d", r.Offset)
	}
	if count <= 0 {
		count = size
	}

	rng := rand.New(rand.NewSource(r.Seed))
	out := make([]int, count)
	for i := range out {
		if r.Span <= 0 {
			out[i] = rng.Intn(size)
			continue
		}
		out[i] = (r.Offset + i + rng.Intn(r.Span)) % size
	}
	return out, nil
}
