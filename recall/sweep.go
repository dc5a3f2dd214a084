package recall

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/matching"
)

// SweepPoint is the recall of one image at one IoU threshold.
type SweepPoint struct {
	Threshold         float64 `json:"threshold"`
	Recall            float64 `json:"recall"`
	MatchingProposals int     `json:"matchingProposals"`
}

// Thresholds returns start, start+step, ... up to and including stop, computed
// by index so that rounding never drops the last value.
//
// @example
// Thresholds(0, 1, 0.01) // 0.00, 0.01, ..., 1.00 (101 values)
func Thresholds(start, stop, step float64) ([]float64, error) {
	if step <= 0 || math.IsNaN(step) {
		return nil, errors.Errorf("threshold step must be positive, got %v", step)
	}
	if err := matching.ValidateThreshold(start); err != nil {
		return nil, err
	}
	if err := matching.ValidateThreshold(stop); err != nil {
		return nil, err
	}
	if stop < start {
		return nil, errors.Errorf("threshold range is empty: %v > %v", start, stop)
	}

	n := int(math.Floor((stop-start)/step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		// Round to 1e-9 so 0.1*3 prints as 0.3.
		out[i] = math.Round((start+float64(i)*step)*1e9) / 1e9
	}
	return out, nil
}

// Sweep evaluates recall and the number of matching proposals for each
// threshold, in the order given.
func Sweep(
	proposals []common.Proposal,
	groundTruth []common.GroundTruthBox,
	thresholds []float64,
) ([]SweepPoint, error) {
	points := make([]SweepPoint, 0, len(thresholds))
	for _, t := range thresholds {
		res, err := matching.Match(proposals, groundTruth, t)
		if err != nil {
			return nil, err
		}
		points = append(points, SweepPoint{
			Threshold:         t,
			Recall:            Recall(len(groundTruth), res.MatchedGroundTruth),
			MatchingProposals: res.MatchedProposals.Len(),
		})
	}
	return points, nil
}

// WriteSweepCSV writes one row per (image, threshold) pair with a header.
//
// Arguments:
//   - w: The destination.
//   - order: The image indices to write, in output order.
//   - sweeps: Sweep points keyed by image index.
func WriteSweepCSV(w io.Writer, order []int, sweeps map[int][]SweepPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"image", "threshold", "recall", "matching_proposals"}); err != nil {
		return errors.Wrap(err, "writing sweep header")
	}
	for _, idx := range order {
		for _, p := range sweeps[idx] {
			row := []string{
				strconv.Itoa(idx),
				strconv.FormatFloat(p.Threshold, 'f', -1, 64),
				strconv.FormatFloat(p.Recall, 'f', -1, 64),
				strconv.Itoa(p.MatchingProposals),
			}
			if err := cw.Write(row); err != nil {
				return errors.Wrapf(err, "writing sweep row for image %d", idx)
			}
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing sweep csv")
}
