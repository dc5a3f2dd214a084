package evaluator

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-recall/dataset"
	"github.com/nvr-ai/go-recall/matching"
	"github.com/nvr-ai/go-recall/proposals"
	"github.com/nvr-ai/go-recall/recall"
)

// SweepResult holds the recall of each selected image at each threshold.
type SweepResult struct {
	// Order lists the successfully swept image indices in selection order.
	Order []int
	// Points maps an image index to one point per threshold.
	Points map[int][]recall.SweepPoint
	// Failed maps an image index to the error that prevented its sweep.
	Failed map[int]error
}

// Mean returns, per threshold, the recall averaged over swept images.
func (s *SweepResult) Mean() []recall.SweepPoint {
	if len(s.Order) == 0 {
		return nil
	}
	first := s.Points[s.Order[0]]
	out := make([]recall.SweepPoint, len(first))
	for i := range out {
		out[i].Threshold = first[i].Threshold
	}
	for _, idx := range s.Order {
		for i, p := range s.Points[idx] {
			out[i].Recall += p.Recall
			out[i].MatchingProposals += p.MatchingProposals
		}
	}
	n := float64(len(s.Order))
	for i := range out {
		out[i].Recall /= n
		out[i].MatchingProposals = int(float64(out[i].MatchingProposals)/n + 0.5)
	}
	return out
}

// WriteCSV writes the sweep with recall.WriteSweepCSV.
func (s *SweepResult) WriteCSV(w io.Writer) error {
	return recall.WriteSweepCSV(w, s.Order, s.Points)
}

// Sweep generates proposals once per selected image and evaluates them at
// every threshold. Config.Threshold is ignored; Count, MaxProposals, Selector
// and Workers apply.
//
// Arguments:
//   - ctx: Cancels the run.
//   - ds: The dataset.
//   - gen: The proposal generator.
//   - thresholds: The thresholds, e.g. from recall.Thresholds(0, 1, 0.01).
//
// Returns:
//   - *SweepResult: Points per image.
//   - error: An error if a threshold is invalid or the run was cancelled.
func (e *Evaluator) Sweep(
	ctx context.Context,
	ds dataset.Dataset,
	gen proposals.Generator,
	thresholds []float64,
) (*SweepResult, error) {
	if ds == nil || gen == nil {
		return nil, errors.New("sweep requires a dataset and a generator")
	}
	if len(thresholds) == 0 {
		return nil, errors.New("sweep requires at least one threshold")
	}
	for _, t := range thresholds {
		if err := matching.ValidateThreshold(t); err != nil {
			return nil, err
		}
	}
	indices, err := e.cfg.Selector.Indices(e.cfg.Count, ds.Len())
	if err != nil {
		return nil, errors.Wrap(err, "selecting images")
	}

	log := e.log.With("run", uuid.NewString())
	log.Infow("sweep started", "images", len(indices), "thresholds", len(thresholds))

	points := make([][]recall.SweepPoint, len(indices))
	errs := make([]error, len(indices))
	err = e.forEach(ctx, indices, func(ctx context.Context, pos, idx int) {
		defer func() {
			if r := recover(); r != nil {
				points[pos] = nil
				errs[pos] = errors.Errorf("panic sweeping image %d: %v", idx, r)
			}
		}()
		rec, err := ds.Get(idx)
		if err != nil {
			errs[pos] = errors.Wrapf(err, "fetching image %d", idx)
			return
		}
		props, err := e.generate(ctx, gen, rec.Image, idx)
		if err != nil {
			errs[pos] = err
			return
		}
		props = proposals.Truncate(props, e.cfg.MaxProposals)
		points[pos], errs[pos] = recall.Sweep(props, rec.GroundTruth, thresholds)
	})
	if err != nil {
		return nil, err
	}

	out := &SweepResult{
		Points: make(map[int][]recall.SweepPoint),
		Failed: make(map[int]error),
	}
	for pos, idx := range indices {
		if errs[pos] != nil {
			out.Failed[idx] = errs[pos]
			log.Warnw("image sweep failed", "index", idx, "error", errs[pos])
			continue
		}
		// A fixed selector visits the same index repeatedly; keep the first.
		if _, seen := out.Points[idx]; seen {
			log.Debugw("duplicate index in sweep selection skipped", "index", idx)
			continue
		}
		out.Order = append(out.Order, idx)
		out.Points[idx] = points[pos]
	}

	log.Infow("sweep finished", "images", len(out.Order), "failed", len(out.Failed))
	return out, nil
}
