package recall

import (
	"sort"

	hg "github.com/charles-haynes/munkres"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-recall/matching"
)

// AssignedRecall computes the recall obtained when every proposal may cover
// at most one ground-truth box, using the Hungarian algorithm over the match
// records. It never replaces Recall; it shows how much of the many-to-many
// recall comes from proposals shared between neighbouring boxes.
//
// Only the best groundTruthCount candidates of each ground-truth box are kept,
// which is enough to find a maximum assignment and keeps the cost matrix small
// when thousands of proposals match.
//
// Arguments:
//   - groundTruthCount: Number of ground-truth boxes in the image.
//   - res: The matcher output; only its records are considered.
//
// Returns:
//   - float64: assigned / groundTruthCount, or 0 when there is no ground truth.
//   - error: An error if the assignment cannot be solved.
func AssignedRecall(groundTruthCount int, res *matching.Result) (float64, error) {
	if groundTruthCount <= 0 || res == nil || len(res.Matches) == 0 {
		return 0, nil
	}

	columns := make(map[int]int)
	var order []int
	candidates := make([][]matching.MatchRecord, groundTruthCount)
	for g := 0; g < groundTruthCount; g++ {
		records := append([]matching.MatchRecord(nil), res.Matches[g]...)
		sort.SliceStable(records, func(i, j int) bool { return records[i].IoU > records[j].IoU })
		if len(records) > groundTruthCount {
			records = records[:groundTruthCount]
		}
		candidates[g] = records
		for _, r := range records {
			if _, ok := columns[r.ProposalIndex]; !ok {
				columns[r.ProposalIndex] = len(order)
				order = append(order, r.ProposalIndex)
			}
		}
	}
	if len(order) == 0 {
		return 0, nil
	}

	// Every admissible pair costs less than -groundTruthCount so that the
	// minimum-cost solution is also a maximum-cardinality one; IoU breaks ties.
	bonus := float64(groundTruthCount) + 1
	matrix := make([][]float64, groundTruthCount)
	for g := range matrix {
		row := make([]float64, len(order))
		for _, r := range candidates[g] {
			row[columns[r.ProposalIndex]] = -(bonus + r.IoU)
		}
		matrix[g] = row
	}

	ha, err := hg.NewHungarianAlgorithm(matrix)
	if err != nil {
		return 0, errors.Wrap(err, "solving one-to-one assignment")
	}
	assignment := ha.Execute()

	assigned := 0
	for g, col := range assignment {
		if g >= groundTruthCount || col < 0 || col >= len(order) {
			continue
		}
		if matrix[g][col] < 0 {
			assigned++
		}
	}
	return float64(assigned) / float64(groundTruthCount), nil
}
