package store

import (
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
	"github.com/nvr-ai/go-recall/matching"
	"github.com/nvr-ai/go-recall/recall"
	"github.com/nvr-ai/go-recall/results"
)

// Field numbers of the stored messages. Numbers are never reused.
//
//	DatasetResult { 1 run_id bytes, 2 threshold double, 3 max_proposals sint64, 4 images ImageResult*,
//	                5 images_empty bool }
//	ImageResult   { 1 index sint64, 2 image Image, 3 ground_truth GroundTruth*, 4 matched Proposal*,
//	                5 matches MatchRecord*, 6 recall double, 7 stats Stats, 8 error string,
//	                9 empty_fields sint64*, 10 empty_match_keys sint64*, 11 nil_match_keys sint64*,
//	                12 error_kind sint64 }
//	Image         { 1 path, 2 format, 3 data bytes, 4 width sint64, 5 height sint64, 6 data_empty bool }
//	Box           { 1 xmin, 2 ymin, 3 xmax, 4 ymax double }
//	GroundTruth / Proposal { 1 box Box, 2 label sint64 }
//	MatchRecord   { 1 ground_truth_index, 2 proposal_index sint64, 3 iou double, 4 proposal_box Box }
//	Stats         { 1 proposals, 2 matching_proposals, 3 ground_truth, 4 covered_ground_truth sint64,
//	                5 average_best_overlap, 6 assigned_recall double }
const (
	fieldRunID        protowire.Number = 1
	fieldThreshold    protowire.Number = 2
	fieldMaxProposals protowire.Number = 3
	fieldImages       protowire.Number = 4
	fieldImagesEmpty  protowire.Number = 5

	fieldIndex       protowire.Number = 1
	fieldImage       protowire.Number = 2
	fieldGroundTruth protowire.Number = 3
	fieldMatched     protowire.Number = 4
	fieldMatches     protowire.Number = 5
	fieldRecall      protowire.Number = 6
	fieldStats       protowire.Number = 7
	fieldError       protowire.Number = 8
	fieldEmpty       protowire.Number = 9
	fieldEmptyKeys   protowire.Number = 10
	fieldNilKeys     protowire.Number = 11
	fieldErrorKind   protowire.Number = 12

	fieldImageDataEmpty protowire.Number = 6
)

// Error kinds stored next to an error message so that errors.Is against the
// common sentinels still holds after a load.
const (
	errorKindOther = iota
	errorKindGenerator
	errorKindInvalidBox
	errorKindInvalidThreshold
	errorKindSerialization
)

var errorKinds = map[int]error{
	errorKindGenerator:        common.ErrGenerator,
	errorKindInvalidBox:       common.ErrInvalidBox,
	errorKindInvalidThreshold: common.ErrInvalidThreshold,
	errorKindSerialization:    common.ErrSerialization,
}

func errorKind(err error) int {
	for kind := errorKindGenerator; kind <= errorKindSerialization; kind++ {
		if errors.Is(err, errorKinds[kind]) {
			return kind
		}
	}
	return errorKindOther
}

// loadedError is a stored error message that still matches its sentinel.
type loadedError struct {
	msg  string
	kind error
}

func (e *loadedError) Error() string { return e.msg }

func (e *loadedError) Unwrap() error { return e.kind }

func restoreError(msg string, kind int) error {
	if sentinel, ok := errorKinds[kind]; ok {
		return &loadedError{msg: msg, kind: sentinel}
	}
	return errors.New(msg)
}

func appendInt(b []byte, num protowire.Number, v int) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func marshalDataset(d *results.DatasetResult) []byte {
	var b []byte
	b = appendBytes(b, fieldRunID, d.RunID[:])
	b = appendDouble(b, fieldThreshold, d.Threshold)
	b = appendInt(b, fieldMaxProposals, d.MaxProposals)
	for _, img := range d.Images {
		b = appendBytes(b, fieldImages, marshalImageResult(img))
	}
	if d.Images != nil && len(d.Images) == 0 {
		b = appendBool(b, fieldImagesEmpty, true)
	}
	return b
}

func marshalImageResult(r results.ImageResult) []byte {
	var b []byte
	b = appendInt(b, fieldIndex, r.Index)
	b = appendBytes(b, fieldImage, marshalImage(r.Image))
	for _, gt := range r.GroundTruth {
		b = appendBytes(b, fieldGroundTruth, marshalLabeled(gt.Box, gt.Label))
	}
	for _, p := range r.MatchedProposals {
		b = appendBytes(b, fieldMatched, marshalLabeled(p.Box, p.Label))
	}
	for _, g := range sortedKeys(r.Matches) {
		for _, rec := range r.Matches[g] {
			b = appendBytes(b, fieldMatches, marshalRecord(rec))
		}
	}
	b = appendDouble(b, fieldRecall, r.Recall)
	b = appendBytes(b, fieldStats, marshalStats(r.Stats))
	if r.Err != nil {
		b = appendString(b, fieldError, r.Err.Error())
		b = appendInt(b, fieldErrorKind, errorKind(r.Err))
	}
	// Empty but non-nil slices leave no records behind, so they are marked.
	if r.GroundTruth != nil && len(r.GroundTruth) == 0 {
		b = appendInt(b, fieldEmpty, int(fieldGroundTruth))
	}
	if r.MatchedProposals != nil && len(r.MatchedProposals) == 0 {
		b = appendInt(b, fieldEmpty, int(fieldMatched))
	}
	for _, g := range sortedKeys(r.Matches) {
		switch recs := r.Matches[g]; {
		case recs == nil:
			b = appendInt(b, fieldNilKeys, g)
		case len(recs) == 0:
			b = appendInt(b, fieldEmptyKeys, g)
		}
	}
	return b
}

func marshalImage(img images.Image) []byte {
	var b []byte
	b = appendString(b, 1, img.Path)
	b = appendString(b, 2, string(img.Format))
	b = appendBytes(b, 3, img.Data)
	b = appendInt(b, 4, img.Width)
	b = appendInt(b, 5, img.Height)
	if img.Data != nil && len(img.Data) == 0 {
		b = appendBool(b, fieldImageDataEmpty, true)
	}
	return b
}

func marshalBox(box common.BoundingBox) []byte {
	var b []byte
	b = appendDouble(b, 1, box.XMin)
	b = appendDouble(b, 2, box.YMin)
	b = appendDouble(b, 3, box.XMax)
	return appendDouble(b, 4, box.YMax)
}

func marshalLabeled(box common.BoundingBox, label common.Label) []byte {
	b := appendBytes(nil, 1, marshalBox(box))
	return appendInt(b, 2, int(label))
}

func marshalRecord(r matching.MatchRecord) []byte {
	var b []byte
	b = appendInt(b, 1, r.GroundTruthIndex)
	b = appendInt(b, 2, r.ProposalIndex)
	b = appendDouble(b, 3, r.IoU)
	return appendBytes(b, 4, marshalBox(r.ProposalBox))
}

func marshalStats(s recall.Stats) []byte {
	var b []byte
	b = appendInt(b, 1, s.Proposals)
	b = appendInt(b, 2, s.MatchingProposals)
	b = appendInt(b, 3, s.GroundTruth)
	b = appendInt(b, 4, s.CoveredGroundTruth)
	b = appendDouble(b, 5, s.AverageBestOverlap)
	return appendDouble(b, 6, s.AssignedRecall)
}

func sortedKeys(m map[int][]matching.MatchRecord) []int {
	set := make(matching.IndexSet, len(m))
	for k := range m {
		set.Add(k)
	}
	return set.Sorted()
}

// field is one decoded key/value pair. Exactly one of v and b is meaningful,
// depending on typ.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

func (f field) int() (int, error) {
	if f.typ != protowire.VarintType {
		return 0, f.wrongType()
	}
	return int(protowire.DecodeZigZag(f.v)), nil
}

func (f field) bool() (bool, error) {
	if f.typ != protowire.VarintType {
		return false, f.wrongType()
	}
	return protowire.DecodeBool(f.v), nil
}

func (f field) double() (float64, error) {
	if f.typ != protowire.Fixed64Type {
		return 0, f.wrongType()
	}
	return math.Float64frombits(f.v), nil
}

func (f field) bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, f.wrongType()
	}
	return f.b, nil
}

func (f field) wrongType() error {
	return errors.Errorf("field %d has unexpected wire type %d", f.num, f.typ)
}

// walk calls fn for every field of a message, in order.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "reading tag")
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "reading field %d", num)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalDataset(b []byte) (*results.DatasetResult, error) {
	d := &results.DatasetResult{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case fieldRunID:
			var raw []byte
			if raw, err = f.bytes(); err == nil {
				d.RunID, err = uuid.FromBytes(raw)
			}
		case fieldThreshold:
			d.Threshold, err = f.double()
		case fieldMaxProposals:
			d.MaxProposals, err = f.int()
		case fieldImages:
			var raw []byte
			if raw, err = f.bytes(); err == nil {
				var img results.ImageResult
				if img, err = unmarshalImageResult(raw); err == nil {
					d.Images = append(d.Images, img)
				}
			}
		case fieldImagesEmpty:
			var empty bool
			if empty, err = f.bool(); err == nil && empty && d.Images == nil {
				d.Images = []results.ImageResult{}
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func unmarshalImageResult(b []byte) (results.ImageResult, error) {
	r := results.ImageResult{Matches: map[int][]matching.MatchRecord{}}
	var errMsg string
	var errKind int
	hasErr := false
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case fieldIndex:
			r.Index, err = f.int()
		case fieldImage:
			err = nested(f, func(raw []byte) (err error) {
				r.Image, err = unmarshalImage(raw)
				return err
			})
		case fieldGroundTruth:
			err = nested(f, func(raw []byte) error {
				box, label, err := unmarshalLabeled(raw)
				r.GroundTruth = append(r.GroundTruth, common.GroundTruthBox{Box: box, Label: label})
				return err
			})
		case fieldMatched:
			err = nested(f, func(raw []byte) error {
				box, label, err := unmarshalLabeled(raw)
				r.MatchedProposals = append(r.MatchedProposals, common.Proposal{Box: box, Label: label})
				return err
			})
		case fieldMatches:
			err = nested(f, func(raw []byte) error {
				rec, err := unmarshalRecord(raw)
				r.Matches[rec.GroundTruthIndex] = append(r.Matches[rec.GroundTruthIndex], rec)
				return err
			})
		case fieldRecall:
			r.Recall, err = f.double()
		case fieldStats:
			err = nested(f, func(raw []byte) (err error) {
				r.Stats, err = unmarshalStats(raw)
				return err
			})
		case fieldError:
			var raw []byte
			if raw, err = f.bytes(); err == nil {
				errMsg, hasErr = string(raw), true
			}
		case fieldErrorKind:
			errKind, err = f.int()
		case fieldEmpty:
			var num int
			if num, err = f.int(); err != nil {
				break
			}
			switch protowire.Number(num) {
			case fieldGroundTruth:
				if r.GroundTruth == nil {
					r.GroundTruth = []common.GroundTruthBox{}
				}
			case fieldMatched:
				if r.MatchedProposals == nil {
					r.MatchedProposals = []common.Proposal{}
				}
			}
		case fieldEmptyKeys:
			var g int
			if g, err = f.int(); err == nil && r.Matches[g] == nil {
				r.Matches[g] = []matching.MatchRecord{}
			}
		case fieldNilKeys:
			var g int
			if g, err = f.int(); err == nil {
				if _, ok := r.Matches[g]; !ok {
					r.Matches[g] = nil
				}
			}
		}
		return err
	})
	if hasErr {
		r.Err = restoreError(errMsg, errKind)
	}
	return r, err
}

func nested(f field, fn func(raw []byte) error) error {
	raw, err := f.bytes()
	if err != nil {
		return err
	}
	return fn(raw)
}

func unmarshalImage(b []byte) (images.Image, error) {
	var img images.Image
	err := walk(b, func(f field) error {
		var err error
		var raw []byte
		switch f.num {
		case 1:
			raw, err = f.bytes()
			img.Path = string(raw)
		case 2:
			raw, err = f.bytes()
			img.Format = images.ImageFormat(raw)
		case 3:
			raw, err = f.bytes()
			if len(raw) > 0 {
				img.Data = append([]byte(nil), raw...)
			}
		case 4:
			img.Width, err = f.int()
		case 5:
			img.Height, err = f.int()
		case fieldImageDataEmpty:
			var empty bool
			if empty, err = f.bool(); err == nil && empty && img.Data == nil {
				img.Data = []byte{}
			}
		}
		return err
	})
	return img, err
}

func unmarshalBox(b []byte) (common.BoundingBox, error) {
	var box common.BoundingBox
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			box.XMin, err = f.double()
		case 2:
			box.YMin, err = f.double()
		case 3:
			box.XMax, err = f.double()
		case 4:
			box.YMax, err = f.double()
		}
		return err
	})
	return box, err
}

func unmarshalLabeled(b []byte) (common.BoundingBox, common.Label, error) {
	var box common.BoundingBox
	var label int
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			return nested(f, func(raw []byte) (err error) {
				box, err = unmarshalBox(raw)
				return err
			})
		case 2:
			var err error
			label, err = f.int()
			return err
		}
		return nil
	})
	return box, common.Label(label), err
}

func unmarshalRecord(b []byte) (matching.MatchRecord, error) {
	var rec matching.MatchRecord
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			rec.GroundTruthIndex, err = f.int()
		case 2:
			rec.ProposalIndex, err = f.int()
		case 3:
			rec.IoU, err = f.double()
		case 4:
			err = nested(f, func(raw []byte) (err error) {
				rec.ProposalBox, err = unmarshalBox(raw)
				return err
			})
		}
		return err
	})
	return rec, err
}

func unmarshalStats(b []byte) (recall.Stats, error) {
	var s recall.Stats
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.Proposals, err = f.int()
		case 2:
			s.MatchingProposals, err = f.int()
		case 3:
			s.GroundTruth, err = f.int()
		case 4:
			s.CoveredGroundTruth, err = f.int()
		case 5:
			s.AverageBestOverlap, err = f.double()
		case 6:
			s.AssignedRecall, err = f.double()
		}
		return err
	})
	return s, err
}
