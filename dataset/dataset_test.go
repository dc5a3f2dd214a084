package dataset

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
)

func gt(xmin, ymin, xmax, ymax float64) common.GroundTruthBox {
	return common.GroundTruthBox{
		Box:   common.BoundingBox{XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax},
		Label: common.Positive,
	}
}

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			src.Set(x, y, color.RGBA{G: 200, A: 255})
		}
	}
	img, err := images.FromImage(src, images.FormatPNG)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, img.Data, 0o644))
}

const annotationTemplate = `<annotation>
	<folder>images</folder>
	<filename>%s</filename>
	<size><width>40</width><height>20</height><depth>3</depth></size>
	%s
</annotation>`

const objectTemplate = `<object>
		<name>%s</name>
		<difficult>%d</difficult>
		<bndbox><xmin>%v</xmin><ymin>%v</ymin><xmax>%v</xmax><ymax>%v</ymax></bndbox>
	</object>`

func writeVOC(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Annotations"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "JPEGImages"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ImageSets", "Main"), 0o755))

	write := func(id string, objects ...string) {
		writePNG(t, filepath.Join(root, "JPEGImages", id+".png"), 40, 20)
		body := ""
		for _, o := range objects {
			body += o
		}
		xml := fmt.Sprintf(annotationTemplate, id+".png", body)
		require.NoError(t, os.WriteFile(filepath.Join(root, "Annotations", id+".xml"), []byte(xml), 0o644))
	}

	write("potholes10", fmt.Sprintf(objectTemplate, "pothole", 0, 1, 2, 11, 12))
	write("potholes2",
		fmt.Sprintf(objectTemplate, "pothole", 0, 0, 0, 10, 10),
		fmt.Sprintf(objectTemplate, "crack", 0, 5, 5, 15, 15),
		fmt.Sprintf(objectTemplate, "pothole", 1, 20, 0, 30, 10),
	)
	write("potholes1")

	split := "potholes10\n\npotholes1 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "ImageSets", "Main", "val.txt"), []byte(split), 0o644))
	return root
}

func TestMemory(t *testing.T) {
	ds := NewMemory(
		Record{Index: 7, Image: images.Blank(10, 10), GroundTruth: []common.GroundTruthBox{gt(0, 0, 1, 1)}},
		Record{Image: images.Blank(20, 20)},
	)
	assert.Equal(t, 2, ds.Len())

	rec, err := ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Index)
	assert.Len(t, rec.GroundTruth, 1)

	rec, err = ds.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Index)
	assert.Equal(t, 20, rec.Image.Width)

	_, err = ds.Get(2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = ds.Get(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"img-10.jpg", "img-2.JPG", "img-1.png", "notes.txt", "b.webp", "a.jpeg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755))

	paths, err := ListImageFiles(dir)
	require.NoError(t, err)

	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{"a.jpeg", "b.webp", "img-1.png", "img-2.JPG", "img-10.jpg"}, names)

	_, err = ListImageFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestOpenVOC_AllAnnotations(t *testing.T) {
	root := writeVOC(t)

	ds, err := OpenVOC(VOCOptions{Root: root, Classes: []string{"pothole"}})
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, "potholes1", ds.ID(0))
	assert.Equal(t, "potholes2", ds.ID(1))
	assert.Equal(t, "potholes10", ds.ID(2))

	rec, err := ds.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Index)
	assert.Equal(t, 40, rec.Image.Width)
	assert.Equal(t, 20, rec.Image.Height)
	assert.Equal(t, images.FormatPNG, rec.Image.Format)
	// The crack is not a known class and the second pothole is difficult.
	assert.Equal(t, []common.GroundTruthBox{gt(0, 0, 10, 10)}, rec.GroundTruth)

	rec, err = ds.Get(0)
	require.NoError(t, err)
	assert.Empty(t, rec.GroundTruth)

	_, err = ds.Get(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestOpenVOC_ClassesAndDifficult(t *testing.T) {
	root := writeVOC(t)

	ds, err := OpenVOC(VOCOptions{Root: root, IncludeDifficult: true})
	require.NoError(t, err)
	rec, err := ds.Get(1)
	require.NoError(t, err)
	require.Len(t, rec.GroundTruth, 3)
	for _, g := range rec.GroundTruth {
		assert.Equal(t, common.Positive, g.Label)
	}

	ds, err = OpenVOC(VOCOptions{Root: root, Classes: []string{"crack", "pothole"}})
	require.NoError(t, err)
	rec, err = ds.Get(1)
	require.NoError(t, err)
	require.Len(t, rec.GroundTruth, 2)
	assert.Equal(t, common.Label(2), rec.GroundTruth[0].Label)
	assert.Equal(t, common.Label(1), rec.GroundTruth[1].Label)
}

func TestOpenVOC_Split(t *testing.T) {
	root := writeVOC(t)

	ds, err := OpenVOC(VOCOptions{Root: root, Split: "val"})
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, "potholes10", ds.ID(0))
	assert.Equal(t, "potholes1", ds.ID(1))

	rec, err := ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []common.GroundTruthBox{gt(1, 2, 11, 12)}, rec.GroundTruth)

	_, err = OpenVOC(VOCOptions{Root: root, Split: "missing"})
	assert.Error(t, err)
}

func TestOpenVOC_InvalidBox(t *testing.T) {
	root := writeVOC(t)
	bad := fmt.Sprintf(annotationTemplate, "potholes1.png", fmt.Sprintf(objectTemplate, "pothole", 0, 10, 0, 5, 10))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Annotations", "potholes1.xml"), []byte(bad), 0o644))

	ds, err := OpenVOC(VOCOptions{Root: root})
	require.NoError(t, err)
	_, err = ds.Get(0)
	assert.ErrorIs(t, err, common.ErrInvalidBox)
}

func TestOpenVOC_Malformed(t *testing.T) {
	root := writeVOC(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "Annotations", "broken.xml"), []byte("<annotation>"), 0o644))
	_, err := OpenVOC(VOCOptions{Root: root})
	assert.Error(t, err)
}

func TestDirectory(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame-2.png"), 8, 4)
	writePNG(t, filepath.Join(dir, "frame-1.png"), 6, 3)

	ds, err := OpenDirectory(dir)
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())

	rec, err := ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Image.Width)
	assert.Empty(t, rec.GroundTruth)

	_, err = ds.Get(2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestResized(t *testing.T) {
	src := NewMemory(Record{
		Image:       images.Blank(100, 50),
		GroundTruth: []common.GroundTruthBox{gt(10, 10, 50, 40)},
	})
	ds := Resized{Dataset: src, Width: 200, Height: 25}
	assert.Equal(t, 1, ds.Len())

	rec, err := ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Image.Width)
	assert.Equal(t, 25, rec.Image.Height)
	assert.Equal(t, []common.GroundTruthBox{gt(20, 5, 100, 20)}, rec.GroundTruth)

	// The wrapped record is left untouched.
	orig, err := src.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 10.0, orig.GroundTruth[0].Box.XMin)

	_, err = ds.Get(1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestSequential(t *testing.T) {
	idx, err := Sequential{}.Indices(3, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, idx)

	idx, err = Sequential{Offset: 7}.Indices(0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8, 9}, idx)

	_, err = Sequential{Offset: 8}.Indices(3, 10)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = Sequential{Offset: -1}.Indices(1, 10)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestFixed(t *testing.T) {
	idx, err := Fixed{Index: 75}.Indices(3, 100)
	require.NoError(t, err)
	assert.Equal(t, []int{75, 75, 75}, idx)

	idx, err = Fixed{Index: 0}.Indices(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, idx)

	_, err = Fixed{Index: 75}.Indices(1, 50)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestRandom(t *testing.T) {
	sel := Random{Seed: 42, Span: 500}
	a, err := sel.Indices(20, 665)
	require.NoError(t, err)
	b, err := sel.Indices(20, 665)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same seed must give the same indices")

	for i, idx := range a {
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 665)
		// Without wrap-around the index lies in [i, i+Span).
		if i+500 <= 665 {
			assert.GreaterOrEqual(t, idx, i)
			assert.Less(t, idx, i+500)
		}
	}

	all, err := Random{Seed: 1}.Indices(0, 5)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	for _, idx := range all {
		assert.Less(t, idx, 5)
	}

	wrapped, err := Random{Seed: 3, Offset: 9, Span: 1}.Indices(2, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{9, 0}, wrapped)

	_, err = Random{}.Indices(1, 0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}
