package proposals

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
)

// SlidingWindow proposes every window of the configured sizes and aspect
// ratios on a regular grid. It only needs the image size, so it works on
// images without pixel data.
type SlidingWindow struct {
	// Sizes are window side lengths for aspect ratio 1, in pixels.
	Sizes []int `json:"sizes" yaml:"sizes"`
	// AspectRatios are width/height ratios; each keeps the window area.
	AspectRatios []float64 `json:"aspectRatios" yaml:"aspectRatios"`
	// StrideFraction is the step between windows as a fraction of the
	// window's shorter side.
	StrideFraction float64 `json:"strideFraction" yaml:"strideFraction"`
}

// DefaultSlidingWindow returns four scales, three aspect ratios and half-window strides.
func DefaultSlidingWindow() SlidingWindow {
	return SlidingWindow{
		Sizes:          []int{32, 64, 128, 256},
		AspectRatios:   []float64{0.5, 1, 2},
		StrideFraction: 0.5,
	}
}

// Validate checks the window parameters.
func (w SlidingWindow) Validate() error {
	if len(w.Sizes) == 0 || len(w.AspectRatios) == 0 {
		return errors.New("sliding window needs at least one size and one aspect ratio")
	}
	for _, s := range w.Sizes {
		if s <= 0 {
			return errors.Errorf("sliding window size must be positive, got %d", s)
		}
	}
	for _, r := range w.AspectRatios {
		if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			return errors.Errorf("aspect ratio must be positive, got %v", r)
		}
	}
	if w.StrideFraction <= 0 || w.StrideFraction > 1 || math.IsNaN(w.StrideFraction) {
		return errors.Errorf("stride fraction must be in (0, 1], got %v", w.StrideFraction)
	}
	return nil
}

// Generate implements Generator. Windows are emitted largest size first,
// then by aspect ratio, then row by row. Windows that do not fit are skipped.
func (w SlidingWindow) Generate(ctx context.Context, img images.Image, maxProposals int) ([]common.Proposal, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if img.Width <= 0 || img.Height <= 0 {
		return nil, errors.Errorf("image %q has no size", img.Path)
	}

	sizes := append([]int(nil), w.Sizes...)
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))

	var out []common.Proposal
	for _, size := range sizes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, ratio := range w.AspectRatios {
			ww := int(math.Round(float64(size) * math.Sqrt(ratio)))
			wh := int(math.Round(float64(size) / math.Sqrt(ratio)))
			if ww < 1 || wh < 1 || ww > img.Width || wh > img.Height {
				continue
			}
			stride := int(math.Max(1, math.Round(w.StrideFraction*float64(min(ww, wh)))))
			for y := 0; y+wh <= img.Height; y += stride {
				for x := 0; x+ww <= img.Width; x += stride {
					out = append(out, common.Proposal{
						Box: common.BoundingBox{
							XMin: float64(x),
							YMin: float64(y),
							XMax: float64(x + ww),
							YMax: float64(y + wh),
						},
						Label: common.Unlabeled,
					})
					if maxProposals > 0 && len(out) >= maxProposals {
						return out, nil
					}
				}
			}
		}
	}
	return out, nil
}
