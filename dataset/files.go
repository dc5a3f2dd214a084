package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// ImageExtensions lists the file extensions ListImageFiles accepts.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// ListImageFiles returns the image files in dir sorted by name, with trailing
// numbers compared numerically so that "img-2.jpg" comes before "img-10.jpg".
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []string: Paths of the image files.
//   - error: Error if the directory cannot be read.
func ListImageFiles(dir string) ([]string, error) {
	return ListFiles(dir, ImageExtensions...)
}

// ListFiles returns the regular files in dir whose extension is one of exts
// (case-insensitive), in the same order as ListImageFiles.
func ListFiles(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading directory %s", dir)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range exts {
			if ext == want {
				paths = append(paths, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}

	sort.SliceStable(paths, func(i, j int) bool {
		return naturalLess(filepath.Base(paths[i]), filepath.Base(paths[j]))
	})
	return paths, nil
}

// naturalLess orders names by their non-numeric stem, then by the number that
// ends the stem, then lexically.
func naturalLess(a, b string) bool {
	sa, na, oka := splitTrailingNumber(a)
	sb, nb, okb := splitTrailingNumber(b)
	if sa != sb || !oka || !okb {
		if sa == sb {
			return a < b
		}
		return sa < sb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

func splitTrailingNumber(name string) (string, int, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	end := len(stem)
	start := end
	for start > 0 && unicode.IsDigit(rune(stem[start-1])) {
		start--
	}
	if start == end {
		return stem, 0, false
	}
	n, err := strconv.Atoi(stem[start:end])
	if err != nil {
		return stem, 0, false
	}
	return stem[:start], n, true
}
