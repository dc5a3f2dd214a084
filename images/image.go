// Package images - Encoded image buffers handed between datasets, generators and the store.
package images

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
)

// Image represents an image with a format, data, width, and height.
//
// The pixels stay encoded. Consumers that only need the geometry read Width
// and Height; consumers that need pixels call Decode.
type Image struct {
	// The file the image was read from, if any.
	Path string `json:"path" yaml:"path"`
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// Blank returns an image with a size but no pixel data.
func Blank(width, height int) Image {
	return Image{Width: width, Height: height}
}

// Bounds returns the image rectangle.
func (i Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.Width, i.Height)
}

// HasPixels reports whether the image carries encoded pixel data.
func (i Image) HasPixels() bool {
	return len(i.Data) > 0
}

// Decode decodes the pixel data.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if there is no data or it cannot be decoded.
func (i Image) Decode() (image.Image, error) {
	if !i.HasPixels() {
		return nil, errors.Errorf("image %q has no pixel data", i.Path)
	}
	format := i.Format
	if format == FormatUnknown {
		format = DetectFormat(i.Data)
	}

	r := bytes.NewReader(i.Data)
	var (
		img image.Image
		err error
	)
	switch format {
	case FormatJPEG:
		img, err = jpeg.Decode(r)
	case FormatPNG:
		img, err = png.Decode(r)
	case FormatWebP:
		img, err = webp.Decode(r)
	default:
		return nil, errors.Errorf("image %q: unsupported format %q", i.Path, format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s image %q", format, i.Path)
	}
	return img, nil
}

// FromImage encodes img in the given format.
//
// Arguments:
//   - img: The decoded image.
//   - format: The target encoding. WebP is written lossless.
//
// Returns:
//   - Image: The encoded image with its size.
//   - error: An error if encoding fails.
func FromImage(img image.Image, format ImageFormat) (Image, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, format); err != nil {
		return Image{}, err
	}
	b := img.Bounds()
	return Image{
		Format: format,
		Data:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, format ImageFormat) error {
	var err error
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case FormatPNG:
		err = png.Encode(w, img)
	case FormatWebP:
		err = webp.Encode(w, img, &webp.Options{Lossless: true})
	default:
		return errors.Errorf("unsupported format %q", format)
	}
	return errors.Wrapf(err, "encoding %s image", format)
}

// Load reads an encoded image file and records its format and size without
// decoding the pixels.
func Load(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, errors.Wrapf(err, "reading image %q", path)
	}

	format := DetectFormat(data)
	if format == FormatUnknown {
		format = FormatFromPath(path)
	}

	var cfg image.Config
	r := bytes.NewReader(data)
	switch format {
	case FormatJPEG:
		cfg, err = jpeg.DecodeConfig(r)
	case FormatPNG:
		cfg, err = png.DecodeConfig(r)
	case FormatWebP:
		cfg, err = webp.DecodeConfig(r)
	default:
		return Image{}, errors.Errorf("image %q: unsupported format", path)
	}
	if err != nil {
		return Image{}, errors.Wrapf(err, "reading %s header of %q", format, path)
	}

	return Image{
		Path:   path,
		Format: format,
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}
