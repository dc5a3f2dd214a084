package recall

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/matching"
)

func box(xmin, ymin, xmax, ymax float64) common.BoundingBox {
	return common.BoundingBox{XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax}
}

func proposals(boxes ...common.BoundingBox) []common.Proposal {
	out := make([]common.Proposal, len(boxes))
	for i, b := range boxes {
		out[i] = common.Proposal{Box: b, Label: common.Unlabeled}
	}
	return out
}

func groundTruth(boxes ...common.BoundingBox) []common.GroundTruthBox {
	out := make([]common.GroundTruthBox, len(boxes))
	for i, b := range boxes {
		out[i] = common.GroundTruthBox{Box: b, Label: common.Positive}
	}
	return out
}

func TestRecall(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		matched  matching.IndexSet
		expected float64
	}{
		{name: "no ground truth", count: 0, matched: matching.NewIndexSet(), expected: 0},
		{name: "no ground truth ignores stray matches", count: 0, matched: matching.NewIndexSet(0, 1), expected: 0},
		{name: "nothing matched", count: 4, matched: matching.NewIndexSet(), expected: 0},
		{name: "half matched", count: 2, matched: matching.NewIndexSet(0), expected: 0.5},
		{name: "all matched", count: 3, matched: matching.NewIndexSet(0, 1, 2), expected: 1},
		{name: "out of range indices ignored", count: 2, matched: matching.NewIndexSet(1, 7), expected: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Recall(tt.count, tt.matched)
			assert.Equal(t, tt.expected, r)
			assert.GreaterOrEqual(t, r, 0.0)
			assert.LessOrEqual(t, r, 1.0)
		})
	}
}

func TestRecall_Scenarios(t *testing.T) {
	t.Run("single ground truth fully recalled", func(t *testing.T) {
		gts := groundTruth(box(0, 0, 10, 10))
		res, err := matching.Match(proposals(box(0, 0, 10, 10), box(100, 100, 110, 110)), gts, 0.5)
		require.NoError(t, err)
		assert.Equal(t, []int{0}, res.MatchedProposals.Sorted())
		assert.Equal(t, 1.0, Recall(len(gts), res.MatchedGroundTruth))
	})

	t.Run("two ground truths half recalled", func(t *testing.T) {
		gts := groundTruth(box(0, 0, 10, 10), box(20, 20, 30, 30))
		res, err := matching.Match(proposals(box(0, 0, 10, 10)), gts, 0.5)
		require.NoError(t, err)
		assert.Equal(t, []int{0}, res.MatchedProposals.Sorted())
		assert.Equal(t, 0.5, Recall(len(gts), res.MatchedGroundTruth))
	})

	t.Run("empty ground truth", func(t *testing.T) {
		res, err := matching.Match(proposals(box(0, 0, 10, 10), box(1, 1, 2, 2)), nil, 0.5)
		require.NoError(t, err)
		assert.Empty(t, res.Matches)
		assert.Equal(t, 0.0, Recall(0, res.MatchedGroundTruth))
	})

	t.Run("zero overlap at threshold zero is a match", func(t *testing.T) {
		gts := groundTruth(box(0, 0, 10, 10))
		res, err := matching.Match(proposals(box(50, 50, 60, 60)), gts, 0.0)
		require.NoError(t, err)
		require.Len(t, res.Matches[0], 1)
		assert.Equal(t, 0.0, res.Matches[0][0].IoU)
		assert.Equal(t, 1.0, Recall(len(gts), res.MatchedGroundTruth))
	})
}

func TestUniqueMatchingProposals_Deduplicates(t *testing.T) {
	// Proposal 1 spans all three boxes and matches each of them.
	props := proposals(
		box(100, 100, 110, 110),
		box(0, 0, 30, 10),
		box(200, 200, 210, 210),
	)
	gts := groundTruth(box(0, 0, 10, 10), box(10, 0, 20, 10), box(20, 0, 30, 10))

	res, err := matching.Match(props, gts, 0.3)
	require.NoError(t, err)
	require.Len(t, res.Matches, 3)

	unique := UniqueMatchingProposals(props, res.MatchedProposals)
	require.Len(t, unique, 1)
	assert.Equal(t, props[1], unique[0])
}

func TestUniqueMatchingProposals_Ordering(t *testing.T) {
	props := proposals(box(0, 0, 1, 1), box(1, 1, 2, 2), box(2, 2, 3, 3), box(3, 3, 4, 4))
	unique := UniqueMatchingProposals(props, matching.NewIndexSet(3, 0, 2, 9))
	assert.Equal(t, []common.Proposal{props[0], props[2], props[3]}, unique)
	assert.Nil(t, UniqueMatchingProposals(props, matching.NewIndexSet()))
}

func TestLabelProposals(t *testing.T) {
	props := proposals(box(0, 0, 1, 1), box(1, 1, 2, 2), box(2, 2, 3, 3))
	props[2].Label = common.Positive

	labeled := LabelProposals(props, matching.NewIndexSet(1), common.Positive)
	assert.Equal(t, common.Unlabeled, labeled[0].Label)
	assert.Equal(t, common.Positive, labeled[1].Label)
	assert.Equal(t, common.Unlabeled, labeled[2].Label)
	assert.Equal(t, common.Unlabeled, props[1].Label, "input must not be modified")
}

func TestNewStats(t *testing.T) {
	props := proposals(box(0, 0, 10, 10), box(0, 0, 10, 20), box(100, 100, 110, 110))
	gts := groundTruth(box(0, 0, 10, 10), box(50, 50, 60, 60))

	res, err := matching.Match(props, gts, 0.5)
	require.NoError(t, err)

	stats, err := NewStats(props, gts, res)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Proposals)
	assert.Equal(t, 2, stats.MatchingProposals)
	assert.Equal(t, 2, stats.GroundTruth)
	assert.Equal(t, 1, stats.CoveredGroundTruth)
	assert.InDelta(t, 0.5, stats.AverageBestOverlap, 1e-12)
	assert.Equal(t, 0.5, stats.AssignedRecall)
}

func TestAssignedRecall(t *testing.T) {
	t.Run("shared proposal covers only one box", func(t *testing.T) {
		props := proposals(box(0, 0, 20, 10))
		gts := groundTruth(box(0, 0, 10, 10), box(10, 0, 20, 10))
		res, err := matching.Match(props, gts, 0.5)
		require.NoError(t, err)
		assert.Equal(t, 1.0, Recall(len(gts), res.MatchedGroundTruth))

		assigned, err := AssignedRecall(len(gts), res)
		require.NoError(t, err)
		assert.Equal(t, 0.5, assigned)
	})

	t.Run("distinct proposals cover every box", func(t *testing.T) {
		props := proposals(box(0, 0, 20, 10), box(0, 0, 10, 10), box(10, 0, 20, 10))
		gts := groundTruth(box(0, 0, 10, 10), box(10, 0, 20, 10))
		res, err := matching.Match(props, gts, 0.5)
		require.NoError(t, err)

		assigned, err := AssignedRecall(len(gts), res)
		require.NoError(t, err)
		assert.Equal(t, 1.0, assigned)
	})

	t.Run("no matches", func(t *testing.T) {
		res, err := matching.Match(proposals(box(0, 0, 1, 1)), groundTruth(box(5, 5, 6, 6)), 0.5)
		require.NoError(t, err)
		assigned, err := AssignedRecall(1, res)
		require.NoError(t, err)
		assert.Equal(t, 0.0, assigned)
	})
}

func TestThresholds(t *testing.T) {
	ts, err := Thresholds(0, 1, 0.01)
	require.NoError(t, err)
	require.Len(t, ts, 101)
	assert.Equal(t, 0.0, ts[0])
	assert.Equal(t, 0.3, ts[30])
	assert.Equal(t, 1.0, ts[100])

	ts, err = Thresholds(0.5, 0.5, 0.1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, ts)

	_, err = Thresholds(0, 1, 0)
	assert.Error(t, err)
	_, err = Thresholds(0, 1.5, 0.1)
	assert.ErrorIs(t, err, common.ErrInvalidThreshold)
	_, err = Thresholds(0.8, 0.2, 0.1)
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	props := proposals(box(0, 0, 10, 10), box(0, 0, 10, 20), box(0, 0, 10, 40))
	gts := groundTruth(box(0, 0, 10, 10))

	points, err := Sweep(props, gts, []float64{0, 0.25, 0.5, 1})
	require.NoError(t, err)
	require.Len(t, points, 4)
	assert.Equal(t, SweepPoint{Threshold: 0, Recall: 1, MatchingProposals: 3}, points[0])
	assert.Equal(t, SweepPoint{Threshold: 0.25, Recall: 1, MatchingProposals: 3}, points[1])
	assert.Equal(t, SweepPoint{Threshold: 0.5, Recall: 1, MatchingProposals: 2}, points[2])
	assert.Equal(t, SweepPoint{Threshold: 1, Recall: 1, MatchingProposals: 1}, points[3])

	for i := 1; i < len(points); i++ {
		assert.LessOrEqual(t, points[i].MatchingProposals, points[i-1].MatchingProposals)
	}

	_, err = Sweep(props, gts, []float64{2})
	assert.ErrorIs(t, err, common.ErrInvalidThreshold)
}

func TestWriteSweepCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSweepCSV(&buf, []int{4, 2}, map[int][]SweepPoint{
		2: {{Threshold: 0.5, Recall: 1, MatchingProposals: 3}},
		4: {{Threshold: 0.5, Recall: 0.25, MatchingProposals: 1}, {Threshold: 0.75, Recall: 0, MatchingProposals: 0}},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"image,threshold,recall,matching_proposals",
		"4,0.5,0.25,1",
		"4,0.75,0,0",
		"2,0.5,1,3",
	}, lines)
}
