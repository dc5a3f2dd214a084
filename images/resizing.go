package images

import (
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Resize decodes img, resizes it to width x height and re-encodes it in the
// same format (PNG when the source format is unknown).
//
// Arguments:
//   - img: The source image.
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - Image: The resized image. Path is preserved.
//   - float64, float64: The horizontal and vertical scale factors applied.
//   - error: An error if the image fails to resize.
//
// @example
// small, sx, sy, err := Resize(img, 512, 512)
// box = box.Scale(sx, sy)
func Resize(img Image, width, height int) (Image, float64, float64, error) {
	if width <= 0 || height <= 0 {
		return Image{}, 0, 0, errors.Errorf("invalid target size %dx%d", width, height)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return Image{}, 0, 0, errors.Errorf("image %q has no size", img.Path)
	}
	sx := float64(width) / float64(img.Width)
	sy := float64(height) / float64(img.Height)

	if !img.HasPixels() {
		out := Blank(width, height)
		out.Path = img.Path
		return out, sx, sy, nil
	}

	decoded, err := img.Decode()
	if err != nil {
		return Image{}, 0, 0, err
	}
	resized := resize.Resize(uint(width), uint(height), decoded, resize.Bilinear)

	format := img.Format
	if format == FormatUnknown {
		format = FormatPNG
	}
	out, err := FromImage(resized, format)
	if err != nil {
		return Image{}, 0, 0, errors.Wrapf(err, "re-encoding resized image %q", img.Path)
	}
	out.Path = img.Path
	return out, sx, sy, nil
}
