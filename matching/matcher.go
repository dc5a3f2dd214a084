// Package matching - Pairs region proposals with ground-truth boxes by IoU.
//
// Matching is recall oriented: every (proposal, ground truth) pair whose IoU
// reaches the threshold is recorded. A proposal may cover several ground-truth
// boxes and a ground-truth box may be covered by many proposals; there is no
// one-to-one assignment.
package matching

import (
	"fmt"
	"math"

	"github.com/nvr-ai/go-recall/common"
)

// MatchRecord is the evidence that one proposal overlaps one ground-truth box
// at or above the active threshold.
type MatchRecord struct {
	GroundTruthIndex int                `json:"groundTruthIndex"`
	ProposalIndex    int                `json:"proposalIndex"`
	IoU              float64            `json:"iou"`
	ProposalBox      common.BoundingBox `json:"proposalBox"`
}

// Result holds the matches found for one image.
type Result struct {
	// Matches maps a ground-truth index to its records, in proposal order.
	// Ground-truth boxes without a match have no entry.
	Matches map[int][]MatchRecord
	// MatchedProposals holds every proposal index with at least one match.
	MatchedProposals IndexSet
	// MatchedGroundTruth holds every ground-truth index with at least one match.
	MatchedGroundTruth IndexSet
	// BestIoU[g] is the highest IoU any proposal reached against ground truth g,
	// whether or not it met the threshold.
	BestIoU []float64
}

// ValidateThreshold checks that t lies within [0, 1].
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return &common.InvalidThresholdError{Threshold: t}
	}
	return nil
}

// Match compares every proposal against every ground-truth box.
//
// Arguments:
//   - proposals: Proposals in generation order; their positions are their indices.
//   - groundTruth: Ground-truth boxes in dataset order.
//   - threshold: Inclusive IoU threshold in [0, 1].
//
// Returns:
//   - *Result: The matches. Matches is never nil.
//   - error: An *common.InvalidThresholdError or *common.InvalidBoxError.
//
// @example
// res, err := Match(proposals, groundTruth, 0.5)
// covered := res.MatchedGroundTruth.Len()
func Match(
	proposals []common.Proposal,
	groundTruth []common.GroundTruthBox,
	threshold float64,
) (*Result, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	if err := validateBoxes(proposals, groundTruth); err != nil {
		return nil, err
	}

	res := &Result{
		Matches:            make(map[int][]MatchRecord),
		MatchedProposals:   NewIndexSet(),
		MatchedGroundTruth: NewIndexSet(),
		BestIoU:            make([]float64, len(groundTruth)),
	}

	for p, proposal := range proposals {
		for g, gt := range groundTruth {
			iou := common.Overlap(proposal.Box, gt.Box)
			if iou > res.BestIoU[g] {
				res.BestIoU[g] = iou
			}
			if iou < threshold {
				continue
			}
			res.Matches[g] = append(res.Matches[g], MatchRecord{
				GroundTruthIndex: g,
				ProposalIndex:    p,
				IoU:              iou,
				ProposalBox:      proposal.Box,
			})
			res.MatchedGroundTruth.Add(g)
			res.MatchedProposals.Add(p)
		}
	}

	return res, nil
}

func validateBoxes(proposals []common.Proposal, groundTruth []common.GroundTruthBox) error {
	for i, p := range proposals {
		if err := p.Box.Validate(); err != nil {
			return withSource(err, fmt.Sprintf("proposal %d", i))
		}
	}
	for i, gt := range groundTruth {
		if err := gt.Box.Validate(); err != nil {
			return withSource(err, fmt.Sprintf("ground truth %d", i))
		}
	}
	return nil
}

func withSource(err error, source string) error {
	if boxErr, ok := err.(*common.InvalidBoxError); ok {
		boxErr.Source = source
		return boxErr
	}
	return err
}
