package common

import "fmt"

// Label identifies the class assigned to a box.
type Label int

const (
	// Unlabeled marks a proposal that has not been assigned to any ground truth.
	Unlabeled Label = -1
	// Background is the class of proposals explicitly rejected as negatives.
	Background Label = 0
	// Positive is the class given to proposals that matched a ground-truth box.
	Positive Label = 1
)

func (l Label) String() string {
	switch l {
	case Unlabeled:
		return "unlabeled"
	case Background:
		return "background"
	case Positive:
		return "positive"
	default:
		return fmt.Sprintf("class-%d", int(l))
	}
}

// Proposal is a candidate region produced by a region-proposal generator.
//
// Generators emit proposals with Label == Unlabeled. The evaluator assigns a
// concrete label to the proposals that matched ground truth; nothing else
// about a proposal changes after it is created.
type Proposal struct {
	Box   BoundingBox `json:"box"   yaml:"box"`
	Label Label       `json:"label" yaml:"label"`
}

// NewProposal creates an unlabeled proposal from a validated box.
func NewProposal(xmin, ymin, xmax, ymax float64) (Proposal, error) {
	box, err := NewBoundingBox(xmin, ymin, xmax, ymax)
	if err != nil {
		return Proposal{}, err
	}
	return Proposal{Box: box, Label: Unlabeled}, nil
}

// WithLabel returns a copy of p carrying label.
func (p Proposal) WithLabel(label Label) Proposal {
	p.Label = label
	return p
}

// GroundTruthBox is an authoritative, dataset-provided box and its class.
type GroundTruthBox struct {
	Box   BoundingBox `json:"box"   yaml:"box"`
	Label Label       `json:"label" yaml:"label"`
}

// NewGroundTruthBox creates a ground-truth box from a validated box.
func NewGroundTruthBox(xmin, ymin, xmax, ymax float64, label Label) (GroundTruthBox, error) {
	box, err := NewBoundingBox(xmin, ymin, xmax, ymax)
	if err != nil {
		return GroundTruthBox{}, err
	}
	return GroundTruthBox{Box: box, Label: label}, nil
}
