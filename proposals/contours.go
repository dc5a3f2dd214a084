package proposals

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
)

// Contours proposes the bounding rectangles of edge contours found at one or
// more blur scales:
//
//	decode -> grayscale -> blur(sigma) -> Canny -> [dilate] -> contours -> rects
//
// ModeQuality also adds the union of each pair of consecutive rectangles,
// a cheap form of hierarchical grouping that recovers objects split into
// several contours.
type Contours struct {
	Mode Mode
}

type edgeScale struct {
	sigma     float64
	low, high float32
}

type contourParams struct {
	scales  []edgeScale
	dilate  bool
	group   bool
	minSide int
}

func paramsFor(mode Mode) contourParams {
	if mode == ModeQuality {
		return contourParams{
			scales: []edgeScale{
				{sigma: 0.8, low: 30, high: 90},
				{sigma: 1.5, low: 50, high: 150},
				{sigma: 3.0, low: 100, high: 200},
			},
			dilate:  true,
			group:   true,
			minSide: 4,
		}
	}
	return contourParams{
		scales:  []edgeScale{{sigma: 1.0, low: 50, high: 150}},
		minSide: 8,
	}
}

// Generate implements Generator. Duplicate rectangles are emitted once, at
// their first occurrence.
func (c Contours) Generate(ctx context.Context, img images.Image, maxProposals int) ([]common.Proposal, error) {
	if !img.HasPixels() {
		return nil, errors.Errorf("image %q has no pixel data", img.Path)
	}
	src, err := gocv.IMDecode(img.Data, gocv.IMReadColor)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding image %q", img.Path)
	}
	defer src.Close()
	if src.Empty() {
		return nil, errors.Errorf("image %q decoded to an empty matrix", img.Path)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	blurred := gocv.NewMat()
	defer blurred.Close()
	edges := gocv.NewMat()
	defer edges.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()

	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	params := paramsFor(c.Mode)
	seen := make(map[[4]float64]struct{})
	var out []common.Proposal

	// add reports whether the cap has been reached.
	add := func(r image.Rectangle) bool {
		if r.Dx() < params.minSide || r.Dy() < params.minSide {
			return false
		}
		box := common.FromRect(r)
		key := dedupeKey(box)
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
		out = append(out, common.Proposal{Box: box, Label: common.Unlabeled})
		return maxProposals > 0 && len(out) >= maxProposals
	}

	for _, scale := range params.scales {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		gocv.GaussianBlur(gray, &blurred, image.Pt(0, 0), scale.sigma, scale.sigma, gocv.BorderDefault)
		gocv.Canny(blurred, &edges, scale.low, scale.high)
		if params.dilate {
			if err := gocv.Dilate(edges, &edges, kernel); err != nil {
				return nil, errors.Wrap(err, "dilating edges")
			}
		}

		rects := boundingRects(edges)
		for _, r := range rects {
			if add(r) {
				return out, nil
			}
		}
		if params.group {
			for i := 0; i+1 < len(rects); i++ {
				if add(rects[i].Union(rects[i+1])) {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func boundingRects(edges gocv.Mat) []image.Rectangle {
	contours := gocv.FindContours(edges, gocv.RetrievalList, gocv.ChainApproxSimple)
	defer contours.Close()

	rects := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		rects = append(rects, gocv.BoundingRect(contours.At(i)))
	}
	return rects
}
