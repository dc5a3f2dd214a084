package dataset

import (
	"bufio"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
)

// VOCOptions describes where a Pascal VOC style dataset keeps its files.
type VOCOptions struct {
	// Root is the dataset directory.
	Root string
	// AnnotationDir is relative to Root. Defaults to "Annotations".
	AnnotationDir string
	// ImageDir is relative to Root. Defaults to "JPEGImages".
	ImageDir string
	// Split names a file ImageSets/Main/<Split>.txt listing image ids. When
	// empty every annotation file is used.
	Split string
	// Classes maps object names to labels: Classes[i] gets label i+1. When
	// empty every object is Positive.
	Classes []string
	// IncludeDifficult keeps objects flagged as difficult.
	IncludeDifficult bool
}

// VOC is a Dataset read from a Pascal VOC directory layout. Annotations are
// parsed on open; images are read lazily by Get.
type VOC struct {
	opts    VOCOptions
	ids     []string
	entries []vocAnnotation
	labels  map[string]common.Label
}

type vocAnnotation struct {
	Filename string      `xml:"filename"`
	Size     vocSize     `xml:"size"`
	Objects  []vocObject `xml:"object"`
}

type vocSize struct {
	Width  int `xml:"width"`
	Height int `xml:"height"`
}

type vocObject struct {
	Name      string `xml:"name"`
	Difficult int    `xml:"difficult"`
	Box       vocBox `xml:"bndbox"`
}

type vocBox struct {
	XMin float64 `xml:"xmin"`
	YMin float64 `xml:"ymin"`
	XMax float64 `xml:"xmax"`
	YMax float64 `xml:"ymax"`
}

// OpenVOC parses every annotation of the selected split.
//
// Arguments:
//   - opts: The dataset layout.
//
// Returns:
//   - *VOC: The dataset, ordered as the split file or by natural file order.
//   - error: Error if the split or any annotation cannot be read.
//
// @example
// ds, err := dataset.OpenVOC(dataset.VOCOptions{Root: "data/potholes", Classes: []string{"pothole"}})
func OpenVOC(opts VOCOptions) (*VOC, error) {
	if opts.AnnotationDir == "" {
		opts.AnnotationDir = "Annotations"
	}
	if opts.ImageDir == "" {
		opts.ImageDir = "JPEGImages"
	}

	ids, err := vocIDs(opts)
	if err != nil {
		return nil, err
	}

	v := &VOC{
		opts:   opts,
		ids:    ids,
		labels: make(map[string]common.Label, len(opts.Classes)),
	}
	for i, name := range opts.Classes {
		v.labels[name] = common.Label(i + 1)
	}

	v.entries = make([]vocAnnotation, len(ids))
	for i, id := range ids {
		path := filepath.Join(opts.Root, opts.AnnotationDir, id+".xml")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading annotation %s", path)
		}
		if err := xml.Unmarshal(data, &v.entries[i]); err != nil {
			return nil, errors.Wrapf(err, "parsing annotation %s", path)
		}
	}
	return v, nil
}

func vocIDs(opts VOCOptions) ([]string, error) {
	if opts.Split == "" {
		paths, err := ListFiles(filepath.Join(opts.Root, opts.AnnotationDir), ".xml")
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(paths))
		for i, p := range paths {
			ids[i] = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		}
		return ids, nil
	}

	path := filepath.Join(opts.Root, "ImageSets", "Main", opts.Split+".txt")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening split %s", path)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		ids = append(ids, fields[0])
	}
	return ids, errors.Wrapf(scanner.Err(), "reading split %s", path)
}

// Len returns the number of annotated images.
func (v *VOC) Len() int {
	return len(v.ids)
}

// ID returns the image id at index i.
func (v *VOC) ID(i int) string {
	return v.ids[i]
}

// Get reads the image at index i and converts its objects to ground truth.
// Objects whose class is not in Classes are skipped.
func (v *VOC) Get(i int) (Record, error) {
	if err := checkIndex(i, len(v.ids)); err != nil {
		return Record{}, err
	}
	ann := v.entries[i]

	name := ann.Filename
	if name == "" {
		name = v.ids[i] + ".jpg"
	}
	img, err := images.Load(filepath.Join(v.opts.Root, v.opts.ImageDir, name))
	if err != nil {
		return Record{}, errors.Wrapf(err, "loading image for %s", v.ids[i])
	}

	gts := make([]common.GroundTruthBox, 0, len(ann.Objects))
	for j, obj := range ann.Objects {
		if obj.Difficult != 0 && !v.opts.IncludeDifficult {
			continue
		}
		label, ok := v.label(obj.Name)
		if !ok {
			continue
		}
		gt, err := common.NewGroundTruthBox(obj.Box.XMin, obj.Box.YMin, obj.Box.XMax, obj.Box.YMax, label)
		if err != nil {
			return Record{}, errors.Wrapf(err, "object %d of %s", j, v.ids[i])
		}
		gts = append(gts, gt)
	}

	return Record{Index: i, Image: img, GroundTruth: gts}, nil
}

func (v *VOC) label(name string) (common.Label, bool) {
	if len(v.opts.Classes) == 0 {
		return common.Positive, true
	}
	l, ok := v.labels[strings.TrimSpace(name)]
	return l, ok
}
