// Package results - Evaluation results for single images and whole datasets.
package results

import (
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
	"github.com/nvr-ai/go-recall/matching"
	"github.com/nvr-ai/go-recall/recall"
)

// ImageResult is the outcome of evaluating one image.
type ImageResult struct {
	// Index is the dataset index of the image.
	Index int
	// Image is the evaluated image.
	Image images.Image
	// GroundTruth is the image's annotation.
	GroundTruth []common.GroundTruthBox
	// MatchedProposals holds each matching proposal once, in ascending
	// proposal order, labeled with the evaluator's label.
	MatchedProposals []common.Proposal
	// Matches maps a ground-truth index to the proposals that reached the
	// threshold against it. Never nil.
	Matches map[int][]matching.MatchRecord
	// Recall is covered ground truth / ground truth, 0 without ground truth.
	Recall float64
	// Stats holds proposal counts and diagnostics.
	Stats recall.Stats
	// Err is set when the image could not be evaluated. The other fields
	// are then zero apart from Index and whatever was loaded.
	Err error
}

// Failed reports whether the image could not be evaluated.
func (r ImageResult) Failed() bool {
	return r.Err != nil
}

// DatasetResult is the ordered outcome of one evaluation run.
type DatasetResult struct {
	// RunID identifies the run across logs and stored files.
	RunID uuid.UUID
	// Threshold is the IoU threshold used for matching.
	Threshold float64
	// MaxProposals is the proposal cap; 0 or less means none.
	MaxProposals int
	// Images are in processing order.
	Images []ImageResult
}

// NewDatasetResult creates an empty result with a fresh RunID.
func NewDatasetResult(threshold float64, maxProposals int) *DatasetResult {
	return &DatasetResult{
		RunID:        uuid.New(),
		Threshold:    threshold,
		MaxProposals: maxProposals,
	}
}

// Append adds an image result at the end.
func (d *DatasetResult) Append(r ImageResult) {
	d.Images = append(d.Images, r)
}

// Len returns the number of image results.
func (d *DatasetResult) Len() int {
	return len(d.Images)
}

// MeanRecall averages Recall over the images that did not fail. Images
// without ground truth count with recall 0. Returns 0 when no image succeeded.
func (d *DatasetResult) MeanRecall() float64 {
	sum, n := 0.0, 0
	for _, r := range d.Images {
		if r.Failed() {
			continue
		}
		sum += r.Recall
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// OverallRecall pools every successful image: covered ground truth over all
// ground truth. Returns 0 when there is no ground truth.
func (d *DatasetResult) OverallRecall() float64 {
	covered, total := 0, 0
	for _, r := range d.Images {
		if r.Failed() {
			continue
		}
		covered += r.Stats.CoveredGroundTruth
		total += r.Stats.GroundTruth
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}

// MeanProposals averages the evaluated proposal count over successful images.
func (d *DatasetResult) MeanProposals() float64 {
	sum, n := 0, 0
	for _, r := range d.Images {
		if r.Failed() {
			continue
		}
		sum += r.Stats.Proposals
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// Failed returns the images that could not be evaluated, in order.
func (d *DatasetResult) Failed() []ImageResult {
	var out []ImageResult
	for _, r := range d.Images {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// Err combines every per-image error, or returns nil when all succeeded.
func (d *DatasetResult) Err() error {
	var err error
	for _, r := range d.Images {
		err = multierr.Append(err, r.Err)
	}
	return err
}
