package dataset

import (
	"github.com/nvr-ai/go-recall/images"
)

// Directory is a Dataset of unannotated images. Every record has empty ground
// truth, so recall is always 0; it is used to time generators on raw footage.
type Directory struct {
	paths []string
}

// OpenDirectory lists the image files in dir.
func OpenDirectory(dir string) (*Directory, error) {
	paths, err := ListImageFiles(dir)
	if err != nil {
		return nil, err
	}
	return &Directory{paths: paths}, nil
}

// Len returns the number of image files.
func (d *Directory) Len() int {
	return len(d.paths)
}

// Get loads the image at index i.
func (d *Directory) Get(i int) (Record, error) {
	if err := checkIndex(i, len(d.paths)); err != nil {
		return Record{}, err
	}
	img, err := images.Load(d.paths[i])
	if err != nil {
		return Record{}, err
	}
	return Record{Index: i, Image: img}, nil
}
