package dataset

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
)

// Resized wraps a dataset and resizes every image to Width x Height, scaling
// the ground-truth boxes by the same factors.
type Resized struct {
	Dataset Dataset
	Width   int
	Height  int
}

// Len returns the length of the wrapped dataset.
func (r Resized) Len() int {
	return r.Dataset.Len()
}

// Get returns the resized record at index i.
func (r Resized) Get(i int) (Record, error) {
	rec, err := r.Dataset.Get(i)
	if err != nil {
		return Record{}, err
	}

	img, sx, sy, err := images.Resize(rec.Image, r.Width, r.Height)
	if err != nil {
		return Record{}, errors.Wrapf(err, "resizing record %d", i)
	}

	gts := make([]common.GroundTruthBox, len(rec.GroundTruth))
	for j, gt := range rec.GroundTruth {
		gts[j] = common.GroundTruthBox{Box: gt.Box.Scale(sx, sy), Label: gt.Label}
	}

	rec.Image = img
	rec.GroundTruth = gts
	return rec, nil
}
