package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/dataset"
	"github.com/nvr-ai/go-recall/evaluator"
	"github.com/nvr-ai/go-recall/images"
	"github.com/nvr-ai/go-recall/matching"
	"github.com/nvr-ai/go-recall/proposals"
	"github.com/nvr-ai/go-recall/recall"
	"github.com/nvr-ai/go-recall/results"
)

func box(xmin, ymin, xmax, ymax float64) common.BoundingBox {
	return common.BoundingBox{XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax}
}

func sample() *results.DatasetResult {
	d := results.NewDatasetResult(0.7, 9000)
	d.Append(results.ImageResult{
		Index: 75,
		Image: images.Image{
			Path:   "data/potholes/JPEGImages/potholes75.png",
			Format: images.FormatPNG,
			Data:   []byte{0x89, 'P', 'N', 'G', 1, 2, 3},
			Width:  720,
			Height: 400,
		},
		GroundTruth: []common.GroundTruthBox{
			{Box: box(10.5, 20.25, 110, 220), Label: common.Positive},
			{Box: box(300, 30, 350, 90), Label: common.Label(2)},
		},
		MatchedProposals: []common.Proposal{
			{Box: box(12, 22, 108, 219), Label: common.Positive},
			{Box: box(0.1, 0.2, 0.30000000000000004, 1.0/3), Label: common.Positive},
		},
		Matches: map[int][]matching.MatchRecord{
			0: {
				{GroundTruthIndex: 0, ProposalIndex: 4, IoU: 0.9123456789012345, ProposalBox: box(12, 22, 108, 219)},
				{GroundTruthIndex: 0, ProposalIndex: 17, IoU: 0.7, ProposalBox: box(0.1, 0.2, 0.30000000000000004, 1.0/3)},
			},
		},
		Recall: 0.5,
		Stats: recall.Stats{
			Proposals:          9000,
			MatchingProposals:  2,
			GroundTruth:        2,
			CoveredGroundTruth: 1,
			AverageBestOverlap: 0.61728,
			AssignedRecall:     0.5,
		},
	})
	d.Append(results.ImageResult{
		Index:   76,
		Image:   images.Image{Path: "potholes76.png", Width: 10, Height: 10},
		Matches: map[int][]matching.MatchRecord{},
		Err:     &common.GeneratorError{Index: 76, Err: errors.New("model crashed")},
	})
	d.Append(results.ImageResult{
		Index:   77,
		Matches: map[int][]matching.MatchRecord{},
	})
	return d
}

func assertSameResult(t *testing.T, want, got *results.DatasetResult) {
	t.Helper()
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Threshold, got.Threshold)
	assert.Equal(t, want.MaxProposals, got.MaxProposals)
	require.Equal(t, want.Len(), got.Len())
	for i := range want.Images {
		w, g := want.Images[i], got.Images[i]
		if w.Err != nil {
			require.Error(t, g.Err)
			assert.Equal(t, w.Err.Error(), g.Err.Error())
		} else {
			assert.NoError(t, g.Err)
		}
		w.Err, g.Err = nil, nil
		assert.Equal(t, w, g)
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "proposals_iou_0.5.prc", FileName(0.5))
	assert.Equal(t, "proposals_iou_0.7.prc", FileName(0.7))
	assert.Equal(t, "proposals_iou_0.prc", FileName(0))
	assert.Equal(t, "proposals_iou_1.prc", FileName(1))
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	want := sample()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, want))
	assert.Equal(t, []byte("PRCL\x01"), buf.Bytes()[:5])

	got, err := Decode(&buf)
	require.NoError(t, err)
	assertSameResult(t, want, got)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	want := sample()
	path := filepath.Join(t.TempDir(), "runs", FileName(want.Threshold))

	require.NoError(t, Save(want, path))
	got, err := Load(path)
	require.NoError(t, err)
	assertSameResult(t, want, got)

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Saving again replaces the file.
	want.Images = want.Images[:1]
	require.NoError(t, Save(want, path))
	got, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestRoundTrip_Empty(t *testing.T) {
	want := &results.DatasetResult{RunID: uuid.New()}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, want))
	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadForThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(0.7))
	require.NoError(t, Save(sample(), path))

	_, err := LoadForThreshold(path, 0.7)
	require.NoError(t, err)

	_, err = LoadForThreshold(path, 0.5)
	assert.ErrorIs(t, err, common.ErrSerialization)
	assert.ErrorContains(t, err, "threshold")
}

func TestDecode_Errors(t *testing.T) {
	var valid bytes.Buffer
	require.NoError(t, Encode(&valid, sample()))
	body := valid.Bytes()

	badVersion := append([]byte(nil), body...)
	badVersion[4] = 2

	badType := []byte(Magic + "\x01")
	badType = protowire.AppendTag(badType, fieldThreshold, protowire.VarintType)
	badType = protowire.AppendVarint(badType, 1)

	badRunID := []byte(Magic + "\x01")
	badRunID = protowire.AppendTag(badRunID, fieldRunID, protowire.BytesType)
	badRunID = protowire.AppendBytes(badRunID, []byte{1, 2, 3})

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "wrong magic", data: []byte("PKL\x01\x02")},
		{name: "header only magic", data: []byte(Magic)},
		{name: "unsupported version", data: badVersion},
		{name: "truncated body", data: body[:len(body)-3]},
		{name: "wrong wire type", data: badType},
		{name: "short run id", data: badRunID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrSerialization)
			var serr *common.SerializationError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, "decode", serr.Op)
		})
	}
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	want := &results.DatasetResult{RunID: uuid.New(), Threshold: 0.25}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, want))

	data := protowire.AppendTag(buf.Bytes(), 99, protowire.BytesType)
	data = protowire.AppendString(data, "from a newer writer")
	data = protowire.AppendTag(data, 100, protowire.Fixed32Type)
	data = protowire.AppendFixed32(data, 7)

	got, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.prc"))
	assert.ErrorIs(t, err, common.ErrSerialization)
	assert.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(dir, "garbage.prc")
	require.NoError(t, os.WriteFile(garbage, []byte("not a result"), 0o644))
	_, err = Load(garbage)
	var serr *common.SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, garbage, serr.Path)

	assert.ErrorIs(t, Encode(&bytes.Buffer{}, nil), common.ErrSerialization)

	// The parent path is a file, so the directory cannot be created.
	assert.ErrorIs(t, Save(sample(), filepath.Join(garbage, "out.prc")), common.ErrSerialization)
}

func TestRoundTrip_EmptySlices(t *testing.T) {
	want := &results.DatasetResult{RunID: uuid.New(), Images: []results.ImageResult{}}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, want))
	got, err := Decode(&buf)
	require.NoError(t, err)
	require.True(t, reflect.DeepEqual(want, got), "want %#v, got %#v", want, got)

	want.Append(results.ImageResult{
		Index:            3,
		Image:            images.Image{Path: "empty.png", Data: []byte{}, Width: 4, Height: 4},
		GroundTruth:      []common.GroundTruthBox{},
		MatchedProposals: []common.Proposal{},
		Matches:          map[int][]matching.MatchRecord{0: {}, 2: nil},
	})
	want.Append(results.ImageResult{
		Index:   4,
		Matches: map[int][]matching.MatchRecord{},
	})
	buf.Reset()
	require.NoError(t, Encode(&buf, want))
	got, err = Decode(&buf)
	require.NoError(t, err)
	require.True(t, reflect.DeepEqual(want, got), "want %#v, got %#v", want, got)
}

func TestSaveLoad_EvaluatedDataset(t *testing.T) {
	ds := dataset.NewMemory(
		dataset.Record{Image: images.Blank(40, 40), GroundTruth: []common.GroundTruthBox{}},
		dataset.Record{
			Image:       images.Blank(40, 40),
			GroundTruth: []common.GroundTruthBox{{Box: box(0, 0, 10, 10), Label: common.Positive}},
		},
		dataset.Record{Image: images.Blank(40, 40)},
	)
	gen := proposals.GeneratorFunc(func(_ context.Context, _ images.Image, _ int) ([]common.Proposal, error) {
		return []common.Proposal{{Box: box(0, 0, 10, 10)}, {Box: box(20, 20, 30, 30)}}, nil
	})
	ev, err := evaluator.New(evaluator.DefaultConfig(), nil)
	require.NoError(t, err)
	want, err := ev.Evaluate(context.Background(), ds, gen)
	require.NoError(t, err)
	require.Equal(t, 3, want.Len())
	require.NotNil(t, want.Images[0].GroundTruth)
	require.Empty(t, want.Images[0].GroundTruth)

	path := filepath.Join(t.TempDir(), FileName(want.Threshold))
	require.NoError(t, Save(want, path))
	got, err := Load(path)
	require.NoError(t, err)
	require.True(t, reflect.DeepEqual(want, got), "want %#v, got %#v", want, got)
}

func TestRoundTrip_ErrorKinds(t *testing.T) {
	want := results.NewDatasetResult(0.5, 0)
	errs := []error{
		&common.GeneratorError{Index: 0, Err: errors.New("model crashed")},
		&common.InvalidBoxError{Box: box(5, 0, 1, 1), Reason: "xmin >= xmax", Source: "proposal 0"},
		&common.SerializationError{Op: "read", Err: errors.New("short")},
		errors.New("corrupt annotation"),
	}
	for i, e := range errs {
		want.Append(results.ImageResult{Index: i, Matches: map[int][]matching.MatchRecord{}, Err: e})
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, want))
	got, err := Decode(&buf)
	require.NoError(t, err)
	assertSameResult(t, want, got)

	assert.ErrorIs(t, got.Images[0].Err, common.ErrGenerator)
	assert.ErrorIs(t, got.Images[1].Err, common.ErrInvalidBox)
	assert.ErrorIs(t, got.Images[2].Err, common.ErrSerialization)
	for _, sentinel := range []error{common.ErrGenerator, common.ErrInvalidBox, common.ErrSerialization} {
		assert.NotErrorIs(t, got.Images[3].Err, sentinel)
	}
	assert.NotErrorIs(t, got.Images[0].Err, common.ErrInvalidBox)
}
