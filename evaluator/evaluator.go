// Package evaluator - Runs a proposal generator over a dataset and measures
// how well its proposals cover the ground truth.
package evaluator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/dataset"
	"github.com/nvr-ai/go-recall/images"
	"github.com/nvr-ai/go-recall/matching"
	"github.com/nvr-ai/go-recall/proposals"
	"github.com/nvr-ai/go-recall/recall"
	"github.com/nvr-ai/go-recall/results"
)

// Config controls an evaluation run.
type Config struct {
	// Count is the number of images to evaluate. Zero or less lets the
	// selector decide, which for Sequential means the whole dataset.
	Count int
	// Threshold is the inclusive IoU threshold in [0, 1].
	Threshold float64
	// MaxProposals caps the proposals kept per image, in generator order.
	// Zero or less means no cap.
	MaxProposals int
	// Selector picks the image indices. Defaults to Sequential{}.
	Selector dataset.Selector
	// Label is assigned to matched proposals. Unlabeled and Background are
	// replaced by common.Positive.
	Label common.Label
	// Workers is the number of images evaluated concurrently.
	Workers int
	// Observer, when set, receives the duration of every stage of every
	// image: StageLoad, StageGenerate and StageMatch.
	Observer Observer
}

// Stage names passed to an Observer.
const (
	StageLoad     = "load"
	StageGenerate = "generate"
	StageMatch    = "match"
)

// Observer receives stage timings. It must be safe for concurrent use.
type Observer interface {
	Observe(stage string, d time.Duration)
}

// DefaultConfig returns a sequential run over the whole dataset at IoU 0.5
// with at most 9000 proposals per image.
func DefaultConfig() Config {
	return Config{
		Threshold:    0.5,
		MaxProposals: 9000,
		Selector:     dataset.Sequential{},
		Label:        common.Positive,
		Workers:      1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := matching.ValidateThreshold(c.Threshold); err != nil {
		return err
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// Evaluator runs evaluations with a fixed configuration. It is safe for
// concurrent use when the generator and dataset are.
type Evaluator struct {
	cfg Config
	log *zap.SugaredLogger
}

// New creates an evaluator. A nil logger discards output.
//
// Arguments:
//   - cfg: The run configuration.
//   - logger: The logger. Per-image progress goes to debug, failures to warn.
//
// Returns:
//   - *Evaluator: The evaluator.
//   - error: An error if the configuration is invalid.
func New(cfg Config, logger *zap.SugaredLogger) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid evaluator config")
	}
	if cfg.Selector == nil {
		cfg.Selector = dataset.Sequential{}
	}
	if cfg.Label == common.Unlabeled || cfg.Label == common.Background {
		cfg.Label = common.Positive
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Evaluator{cfg: cfg, log: logger}, nil
}

// Config returns the effective configuration.
func (e *Evaluator) Config() Config {
	return e.cfg
}

// Evaluate generates proposals for every selected image, matches them
// against the ground truth and collects one ImageResult per image in
// selection order.
//
// A failure confined to one image (unreadable record, generator error,
// invalid box) is stored in that image's Err and the run continues. Only an
// invalid selection or a cancelled context fails the call.
//
// Arguments:
//   - ctx: Cancels the run.
//   - ds: The dataset.
//   - gen: The proposal generator.
//
// Returns:
//   - *results.DatasetResult: The ordered results.
//   - error: An error if the run could not complete.
//
// @example
// ev, _ := evaluator.New(evaluator.DefaultConfig(), logger)
// res, err := ev.Evaluate(ctx, ds, proposals.DefaultSlidingWindow())
func (e *Evaluator) Evaluate(
	ctx context.Context,
	ds dataset.Dataset,
	gen proposals.Generator,
) (*results.DatasetResult, error) {
	if ds == nil || gen == nil {
		return nil, errors.New("evaluate requires a dataset and a generator")
	}
	indices, err := e.cfg.Selector.Indices(e.cfg.Count, ds.Len())
	if err != nil {
		return nil, errors.Wrap(err, "selecting images")
	}

	out := results.NewDatasetResult(e.cfg.Threshold, e.cfg.MaxProposals)
	log := e.log.With("run", out.RunID.String())
	log.Infow("evaluation started",
		"images", len(indices),
		"threshold", e.cfg.Threshold,
		"max_proposals", e.cfg.MaxProposals,
		"workers", e.cfg.Workers,
	)
	start := time.Now()

	slots := make([]results.ImageResult, len(indices))
	err = e.forEach(ctx, indices, func(ctx context.Context, pos, idx int) {
		slots[pos] = e.evaluateImage(ctx, log, ds, gen, idx)
	})
	if err != nil {
		return nil, err
	}
	out.Images = slots

	log.Infow("evaluation finished",
		"images", out.Len(),
		"failed", len(out.Failed()),
		"mean_recall", out.MeanRecall(),
		"overall_recall", out.OverallRecall(),
		"mean_proposals", out.MeanProposals(),
		"elapsed", time.Since(start),
	)
	return out, nil
}

// forEach calls fn for every index with at most Workers calls in flight. It
// returns the context error if the run was cancelled.
func (e *Evaluator) forEach(ctx context.Context, indices []int, fn func(ctx context.Context, pos, idx int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for pos, idx := range indices {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(gctx, pos, idx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (e *Evaluator) evaluateImage(
	ctx context.Context,
	log *zap.SugaredLogger,
	ds dataset.Dataset,
	gen proposals.Generator,
	idx int,
) (res results.ImageResult) {
	res = results.ImageResult{Index: idx, Matches: map[int][]matching.MatchRecord{}}
	fail := func(err error) results.ImageResult {
		res.Err = err
		log.Warnw("image evaluation failed", "index", idx, "error", err)
		return res
	}
	defer func() {
		if r := recover(); r != nil {
			res = results.ImageResult{Index: idx, Image: res.Image, GroundTruth: res.GroundTruth, Matches: map[int][]matching.MatchRecord{}}
			fail(errors.Errorf("panic evaluating image %d: %v", idx, r))
		}
	}()

	start := time.Now()
	rec, err := ds.Get(idx)
	e.observe(StageLoad, start)
	if err != nil {
		return fail(errors.Wrapf(err, "fetching image %d", idx))
	}
	res.Image = rec.Image
	res.GroundTruth = rec.GroundTruth

	start = time.Now()
	props, err := e.generate(ctx, gen, rec.Image, idx)
	e.observe(StageGenerate, start)
	if err != nil {
		return fail(err)
	}
	props = proposals.Truncate(props, e.cfg.MaxProposals)

	start = time.Now()
	m, err := matching.Match(props, rec.GroundTruth, e.cfg.Threshold)
	if err != nil {
		return fail(errors.Wrapf(err, "matching image %d", idx))
	}
	stats, err := recall.NewStats(props, rec.GroundTruth, m)
	e.observe(StageMatch, start)
	if err != nil {
		return fail(errors.Wrapf(err, "summarising image %d", idx))
	}

	labeled := recall.LabelProposals(props, m.MatchedProposals, e.cfg.Label)
	res.MatchedProposals = recall.UniqueMatchingProposals(labeled, m.MatchedProposals)
	res.Matches = m.Matches
	res.Recall = recall.Recall(len(rec.GroundTruth), m.MatchedGroundTruth)
	res.Stats = stats

	log.Debugw("image evaluated",
		"index", idx,
		"recall", res.Recall,
		"proposals", stats.Proposals,
		"matching_proposals", stats.MatchingProposals,
		"ground_truth", stats.GroundTruth,
	)
	return res
}

// generate runs the generator for one image. Errors and panics both come
// back as a *common.GeneratorError.
func (e *Evaluator) generate(
	ctx context.Context,
	gen proposals.Generator,
	img images.Image,
	idx int,
) (props []common.Proposal, err error) {
	defer func() {
		if r := recover(); r != nil {
			props, err = nil, &common.GeneratorError{Index: idx, Err: errors.Errorf("panic: %v", r)}
		}
	}()
	props, err = gen.Generate(ctx, img, e.cfg.MaxProposals)
	if err != nil {
		return nil, &common.GeneratorError{Index: idx, Err: err}
	}
	return props, nil
}

func (e *Evaluator) observe(stage string, start time.Time) {
	if e.cfg.Observer != nil {
		e.cfg.Observer.Observe(stage, time.Since(start))
	}
}
