// Package proposals - Region proposal generators.
//
// A generator turns an image into an ordered list of candidate boxes. The
// order matters: callers cap the list with maxProposals and keep the first
// entries, so generators emit their most promising boxes first.
package proposals

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
)

// Generator produces region proposals for an image.
type Generator interface {
	// Generate returns at most maxProposals proposals (no cap when
	// maxProposals <= 0), every one Unlabeled.
	Generate(ctx context.Context, img images.Image, maxProposals int) ([]common.Proposal, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, img images.Image, maxProposals int) ([]common.Proposal, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, img images.Image, maxProposals int) ([]common.Proposal, error) {
	return f(ctx, img, maxProposals)
}

// Truncate returns the first max proposals. A max of zero or less keeps all.
func Truncate(p []common.Proposal, max int) []common.Proposal {
	if max <= 0 || len(p) <= max {
		return p
	}
	return p[:max]
}

// Close releases g when it holds native resources.
func Close(g Generator) error {
	if c, ok := g.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Mode selects the speed/recall trade-off of the contour generator.
type Mode string

const (
	// ModeFast runs a single edge scale.
	ModeFast Mode = "fast"
	// ModeQuality runs several edge scales with dilation and grouping.
	ModeQuality Mode = "quality"
)

// ParseMode validates a mode name. The empty string maps to ModeFast.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFast:
		return ModeFast, nil
	case ModeQuality:
		return ModeQuality, nil
	}
	return "", errors.Errorf("unknown proposal mode %q (want fast or quality)", s)
}

// Kind names a generator implementation.
type Kind string

const (
	// KindWindow is the sliding-window generator.
	KindWindow Kind = "window"
	// KindContours is the edge/contour generator.
	KindContours Kind = "contours"
	// KindONNX is the ONNX detector generator.
	KindONNX Kind = "onnx"
)

// Spec describes a generator in configuration files and benchmark scenarios.
type Spec struct {
	Kind   Kind           `json:"kind"             yaml:"kind"`
	Mode   Mode           `json:"mode,omitempty"   yaml:"mode,omitempty"`
	Window *SlidingWindow `json:"window,omitempty" yaml:"window,omitempty"`
	ONNX   *ONNXConfig    `json:"onnx,omitempty"   yaml:"onnx,omitempty"`
}

// String returns a short name such as "contours/quality".
func (s Spec) String() string {
	if s.Kind == KindContours && s.Mode != "" {
		return string(s.Kind) + "/" + string(s.Mode)
	}
	return string(s.Kind)
}

// New builds the generator a spec describes. Generators holding native
// resources must be released with Close.
//
// Arguments:
//   - spec: The generator description.
//
// Returns:
//   - Generator: The generator.
//   - error: An error if the spec is invalid or the model cannot be loaded.
//
// @example
// gen, err := proposals.New(proposals.Spec{Kind: proposals.KindContours, Mode: proposals.ModeQuality})
func New(spec Spec) (Generator, error) {
	switch spec.Kind {
	case KindWindow, "":
		w := DefaultSlidingWindow()
		if spec.Window != nil {
			w = *spec.Window
		}
		if err := w.Validate(); err != nil {
			return nil, err
		}
		return w, nil
	case KindContours:
		mode, err := ParseMode(string(spec.Mode))
		if err != nil {
			return nil, err
		}
		return Contours{Mode: mode}, nil
	case KindONNX:
		if spec.ONNX == nil {
			return nil, errors.New("onnx generator requires an onnx section")
		}
		return NewONNX(*spec.ONNX)
	}
	return nil, errors.Errorf("unknown generator kind %q (want window, contours or onnx)", spec.Kind)
}

func dedupeKey(b common.BoundingBox) [4]float64 {
	return [4]float64{b.XMin, b.YMin, b.XMax, b.YMax}
}
