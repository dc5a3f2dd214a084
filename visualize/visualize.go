// Package visualize - Renders ground truth and proposals for inspection and
// exports proposal crops.
package visualize

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
)

var (
	groundTruthColor = color.RGBA{0, 255, 0, 0}
	proposalColor    = color.RGBA{255, 0, 0, 0}
)

// Draw renders img with ground truth in green (thickness 2) and proposals in
// red (thickness 1), each captioned with its label. Images without pixel data
// are drawn on black. The caller must Close the returned matrix.
//
// Arguments:
//   - img: The image.
//   - groundTruth: The annotated boxes.
//   - proposals: The proposals to overlay, typically the matched ones.
//
// Returns:
//   - gocv.Mat: The BGR rendering.
//   - error: An error if the image cannot be decoded.
func Draw(img images.Image, groundTruth []common.GroundTruthBox, proposals []common.Proposal) (gocv.Mat, error) {
	var mat gocv.Mat
	if img.HasPixels() {
		var err error
		mat, err = gocv.IMDecode(img.Data, gocv.IMReadColor)
		if err != nil {
			return gocv.NewMat(), errors.Wrapf(err, "decoding image %q", img.Path)
		}
		if mat.Empty() {
			mat.Close()
			return gocv.NewMat(), errors.Errorf("image %q decoded to an empty matrix", img.Path)
		}
	} else {
		if img.Width <= 0 || img.Height <= 0 {
			return gocv.NewMat(), errors.Errorf("image %q has no size", img.Path)
		}
		mat = gocv.NewMatWithSize(img.Height, img.Width, gocv.MatTypeCV8UC3)
	}

	for _, p := range proposals {
		r := p.Box.ToRect()
		gocv.Rectangle(&mat, r, proposalColor, 1)
		if p.Label != common.Unlabeled {
			gocv.PutText(&mat, p.Label.String(), r.Min.Add(image.Pt(2, 12)), gocv.FontHersheyPlain, 0.8, proposalColor, 1)
		}
	}
	for _, gt := range groundTruth {
		r := gt.Box.ToRect()
		gocv.Rectangle(&mat, r, groundTruthColor, 2)
		gocv.PutText(&mat, gt.Label.String(), r.Min.Sub(image.Pt(0, 4)), gocv.FontHersheyPlain, 0.8, groundTruthColor, 1)
	}
	return mat, nil
}

// Save draws the overlay and writes it to path. The format follows the
// file extension.
func Save(path string, img images.Image, groundTruth []common.GroundTruthBox, proposals []common.Proposal) error {
	mat, err := Draw(img, groundTruth, proposals)
	if err != nil {
		return err
	}
	defer mat.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}
	if !gocv.IMWrite(path, mat) {
		return errors.Errorf("failed to write %s", path)
	}
	return nil
}

// SaveCrops writes the region of every proposal to dir as PNG, clipped to
// the image. Crops are resized to size x size when size > 0. Proposals that
// fall outside the image are skipped.
//
// Arguments:
//   - img: The image.
//   - proposals: The proposals to crop.
//   - dir: The output directory; created when missing.
//   - size: The side length of the saved crops, or 0 to keep their size.
//
// Returns:
//   - []string: The written paths, in proposal order.
//   - error: An error if the image cannot be decoded or a file cannot be written.
//
// @example
// paths, err := visualize.SaveCrops(res.Image, res.MatchedProposals, "crops", 224)
func SaveCrops(img images.Image, proposals []common.Proposal, dir string, size int) ([]string, error) {
	decoded, err := img.Decode()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dir)
	}

	stem := strings.TrimSuffix(filepath.Base(img.Path), filepath.Ext(img.Path))
	if stem == "" || stem == "." {
		stem = "image"
	}

	bounds := decoded.Bounds()
	var paths []string
	for i, p := range proposals {
		r := p.Box.ToRect().Intersect(bounds)
		if r.Empty() {
			continue
		}
		crop := imaging.Crop(decoded, r)
		if size > 0 {
			crop = imaging.Resize(crop, size, size, imaging.Lanczos)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%05d_%s.png", stem, i, p.Label))
		if err := imaging.Save(crop, path); err != nil {
			return paths, errors.Wrapf(err, "writing crop %s", path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
