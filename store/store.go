// Package store - Persists evaluation results to disk.
//
// A file holds the 4-byte magic "PRCL", a one-byte format version and one
// protobuf wire-format message describing a results.DatasetResult. Floats are
// stored as IEEE-754 bits, so a round trip is exact.
package store

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/results"
)

// Magic opens every result file.
const Magic = "PRCL"

// Version is the format version written by Save.
const Version byte = 1

// FileName returns the conventional file name for a run at threshold.
//
// @example
// FileName(0.5) // "proposals_iou_0.5.prc"
func FileName(threshold float64) string {
	return "proposals_iou_" + strconv.FormatFloat(threshold, 'f', -1, 64) + ".prc"
}

func serializationError(op, path string, err error) error {
	return &common.SerializationError{Op: op, Path: path, Err: err}
}

// Encode writes result to w.
func Encode(w io.Writer, result *results.DatasetResult) error {
	if result == nil {
		return serializationError("encode", "", errors.New("nil result"))
	}
	header := append([]byte(Magic), Version)
	if _, err := w.Write(header); err != nil {
		return serializationError("encode", "", errors.Wrap(err, "writing header"))
	}
	if _, err := w.Write(marshalDataset(result)); err != nil {
		return serializationError("encode", "", errors.Wrap(err, "writing body"))
	}
	return nil
}

// Decode reads a result written by Encode.
func Decode(r io.Reader) (*results.DatasetResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, serializationError("decode", "", errors.Wrap(err, "reading input"))
	}
	return decode(data, "")
}

func decode(data []byte, path string) (*results.DatasetResult, error) {
	if len(data) < len(Magic)+1 || !bytes.Equal(data[:len(Magic)], []byte(Magic)) {
		return nil, serializationError("decode", path, errors.New("not a proposal result file"))
	}
	if v := data[len(Magic)]; v != Version {
		return nil, serializationError("decode", path, errors.Errorf("unsupported format version %d (want %d)", v, Version))
	}
	result, err := unmarshalDataset(data[len(Magic)+1:])
	if err != nil {
		return nil, serializationError("decode", path, errors.Wrap(err, "corrupt result body"))
	}
	return result, nil
}

// Save writes result to path atomically: the data goes to a temporary file
// in the same directory which is then renamed over path. Missing parent
// directories are created.
//
// Arguments:
//   - result: The result to store.
//   - path: The destination file.
//
// Returns:
//   - error: A *common.SerializationError on failure.
func Save(result *results.DatasetResult, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return serializationError("save", path, errors.Wrap(err, "creating directory"))
	}

	tmp, err := os.CreateTemp(dir, ".proposals-*.tmp")
	if err != nil {
		return serializationError("save", path, errors.Wrap(err, "creating temporary file"))
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, result); err != nil {
		tmp.Close()
		return serializationError("save", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return serializationError("save", path, errors.Wrap(err, "syncing"))
	}
	if err := tmp.Close(); err != nil {
		return serializationError("save", path, errors.Wrap(err, "closing"))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return serializationError("save", path, errors.Wrap(err, "renaming into place"))
	}
	return nil
}

// Load reads a result file.
func Load(path string) (*results.DatasetResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, serializationError("load", path, err)
	}
	return decode(data, path)
}

// LoadForThreshold reads a result file and checks that it was produced at
// threshold.
func LoadForThreshold(path string, threshold float64) (*results.DatasetResult, error) {
	result, err := Load(path)
	if err != nil {
		return nil, err
	}
	if math.Abs(result.Threshold-threshold) > 1e-9 {
		return nil, serializationError("load", path,
			errors.Errorf("file was produced at threshold %v, not %v", result.Threshold, threshold))
	}
	return result, nil
}
