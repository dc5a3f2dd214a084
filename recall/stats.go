package recall

import (
	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/matching"
)

// Stats summarises how one image's proposals relate to its ground truth.
type Stats struct {
	// Proposals is the number of proposals evaluated, after any cap.
	Proposals int `json:"proposals"`
	// MatchingProposals is the number of distinct proposals with a match.
	MatchingProposals int `json:"matchingProposals"`
	// GroundTruth is the number of ground-truth boxes.
	GroundTruth int `json:"groundTruth"`
	// CoveredGroundTruth is the number of ground-truth boxes with a match.
	CoveredGroundTruth int `json:"coveredGroundTruth"`
	// AverageBestOverlap is the mean over ground-truth boxes of the best IoU
	// any proposal reached, regardless of the threshold.
	AverageBestOverlap float64 `json:"averageBestOverlap"`
	// AssignedRecall is the recall obtained when each proposal may cover at
	// most one ground-truth box. It is a diagnostic only.
	AssignedRecall float64 `json:"assignedRecall"`
}

// NewStats builds the statistics for one matched image.
//
// Arguments:
//   - proposals: The proposals that were matched.
//   - groundTruth: The image's ground truth.
//   - res: The matcher output for the pair above.
//
// Returns:
//   - Stats: The statistics.
//   - error: An error if the one-to-one assignment fails.
func NewStats(
	proposals []common.Proposal,
	groundTruth []common.GroundTruthBox,
	res *matching.Result,
) (Stats, error) {
	s := Stats{
		Proposals:          len(proposals),
		MatchingProposals:  res.MatchedProposals.Len(),
		GroundTruth:        len(groundTruth),
		CoveredGroundTruth: res.MatchedGroundTruth.Len(),
	}
	if len(res.BestIoU) > 0 {
		sum := 0.0
		for _, iou := range res.BestIoU {
			sum += iou
		}
		s.AverageBestOverlap = sum / float64(len(res.BestIoU))
	}

	assigned, err := AssignedRecall(len(groundTruth), res)
	if err != nil {
		return s, err
	}
	s.AssignedRecall = assigned
	return s, nil
}
