package proposals

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
)

// squareImage is a black 120x120 PNG with a filled white square at (30,30)-(70,70).
func squareImage(t *testing.T) images.Image {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, 120, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 120; x++ {
			c := color.RGBA{A: 255}
			if x >= 30 && x < 70 && y >= 30 && y < 70 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			src.Set(x, y, c)
		}
	}
	img, err := images.FromImage(src, images.FormatPNG)
	require.NoError(t, err)
	return img
}

func TestContours_FindsSquare(t *testing.T) {
	target := box(30, 30, 70, 70)
	for _, mode := range []Mode{ModeFast, ModeQuality} {
		t.Run(string(mode), func(t *testing.T) {
			out, err := Contours{Mode: mode}.Generate(context.Background(), squareImage(t), 0)
			require.NoError(t, err)
			require.NotEmpty(t, out)

			best := 0.0
			seen := make(map[common.BoundingBox]bool)
			for _, p := range out {
				assert.Equal(t, common.Unlabeled, p.Label)
				assert.NoError(t, p.Box.Validate())
				assert.False(t, seen[p.Box], "duplicate proposal %s", p.Box)
				seen[p.Box] = true
				best = max(best, common.Overlap(p.Box, target))
			}
			assert.GreaterOrEqual(t, best, 0.8)
		})
	}
}

func TestContours_Cap(t *testing.T) {
	out, err := Contours{Mode: ModeQuality}.Generate(context.Background(), squareImage(t), 1)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestContours_Errors(t *testing.T) {
	_, err := Contours{}.Generate(context.Background(), images.Blank(10, 10), 0)
	assert.Error(t, err)

	_, err = Contours{}.Generate(context.Background(), images.Image{Data: []byte("garbage"), Width: 1, Height: 1}, 0)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Contours{}.Generate(ctx, squareImage(t), 0)
	assert.ErrorIs(t, err, context.Canceled)
}
