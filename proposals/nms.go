package proposals

import (
	"sort"
	"sync"

	"github.com/nvr-ai/go-recall/common"
)

// Scored is a proposal with the confidence a generator assigned to it.
type Scored struct {
	Box   common.BoundingBox
	Score float32
}

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float64 // Overlap above which the lower-scored box is dropped.
	NumWorkers   int     // Goroutines used to compare one kept box against the rest.
}

// ApplyNMS sorts candidates by descending score and greedily drops every box
// that overlaps an already kept box by more than IoUThreshold. An
// IoUThreshold of 1 or more keeps everything.
//
// Arguments:
//   - candidates: The scored boxes. The slice is reordered in place.
//   - config: NMS configuration.
//
// Returns:
//   - []Scored: The kept boxes, highest score first. nil when candidates is empty.
func ApplyNMS(candidates []Scored, config NMSConfig) []Scored {
	n := len(candidates)
	if n == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if config.IoUThreshold >= 1 {
		return candidates
	}

	workers := config.NumWorkers
	if workers < 1 {
		workers = 1
	}

	suppressed := make([]bool, n)
	kept := make([]Scored, 0, n)
	for i := 0; i < n; i++ {
		if suppressed[i] {
			continue
		}
		kept = append(kept, candidates[i])

		rest := n - i - 1
		if rest == 0 {
			break
		}
		chunk := (rest + workers - 1) / workers

		var wg sync.WaitGroup
		for start := i + 1; start < n; start += chunk {
			end := min(start+chunk, n)
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				for j := start; j < end; j++ {
					if suppressed[j] {
						continue
					}
					if common.Overlap(candidates[i].Box, candidates[j].Box) > config.IoUThreshold {
						suppressed[j] = true
					}
				}
			}(start, end)
		}
		wg.Wait()
	}
	return kept
}

// toProposals drops the scores, keeping order.
func toProposals(scored []Scored) []common.Proposal {
	out := make([]common.Proposal, len(scored))
	for i, s := range scored {
		out[i] = common.Proposal{Box: s.Box, Label: common.Unlabeled}
	}
	return out
}
