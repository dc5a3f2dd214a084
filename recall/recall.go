// Package recall - Reduces proposal matches to per-image recall and proposal statistics.
package recall

import (
	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/matching"
)

// Recall returns the fraction of ground-truth boxes with at least one match.
//
// Arguments:
//   - groundTruthCount: Number of ground-truth boxes in the image.
//   - matched: Indices of the ground-truth boxes that were matched.
//
// Returns:
//   - float64: matched / groundTruthCount, or 0 when there is no ground truth.
func Recall(groundTruthCount int, matched matching.IndexSet) float64 {
	if groundTruthCount <= 0 {
		return 0
	}
	covered := 0
	for g := range matched {
		if g >= 0 && g < groundTruthCount {
			covered++
		}
	}
	return float64(covered) / float64(groundTruthCount)
}

// UniqueMatchingProposals returns the proposals at the matched indices in
// ascending index order, each exactly once. Out-of-range indices are ignored.
func UniqueMatchingProposals(proposals []common.Proposal, matched matching.IndexSet) []common.Proposal {
	var out []common.Proposal
	for _, i := range matched.Sorted() {
		if i < 0 || i >= len(proposals) {
			continue
		}
		out = append(out, proposals[i])
	}
	return out
}

// LabelProposals returns a copy of proposals where every matched proposal
// carries label and every other proposal is Unlabeled.
func LabelProposals(proposals []common.Proposal, matched matching.IndexSet, label common.Label) []common.Proposal {
	out := make([]common.Proposal, len(proposals))
	for i, p := range proposals {
		if matched.Has(i) {
			out[i] = p.WithLabel(label)
		} else {
			out[i] = p.WithLabel(common.Unlabeled)
		}
	}
	return out
}
