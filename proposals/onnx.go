package proposals

import (
	"context"
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-recall/common"
	"github.com/nvr-ai/go-recall/images"
)

// ONNXConfig describes a YOLO-layout detector used as a class-agnostic
// proposal source. The model takes a [1, 3, InputSize, InputSize] RGB tensor
// and returns [1, 4+Classes, Candidates] rows of cx, cy, w, h and class scores.
type ONNXConfig struct {
	// ModelPath is the .onnx file.
	ModelPath string `json:"modelPath" yaml:"modelPath"`
	// LibraryPath is the onnxruntime shared library. Defaults to
	// DefaultLibraryPath().
	LibraryPath string `json:"libraryPath,omitempty" yaml:"libraryPath,omitempty"`
	InputName   string `json:"inputName,omitempty" yaml:"inputName,omitempty"`
	OutputName  string `json:"outputName,omitempty" yaml:"outputName,omitempty"`
	InputSize   int    `json:"inputSize,omitempty" yaml:"inputSize,omitempty"`
	Classes     int    `json:"classes,omitempty" yaml:"classes,omitempty"`
	Candidates  int    `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	// ScoreThreshold drops candidates whose best class score is lower.
	// Proposals want recall, so it is much lower than a detector's.
	ScoreThreshold float32 `json:"scoreThreshold,omitempty" yaml:"scoreThreshold,omitempty"`
	// NMSThreshold is the IoU above which overlapping candidates are merged.
	NMSThreshold float64 `json:"nmsThreshold,omitempty" yaml:"nmsThreshold,omitempty"`
	// Sigmoid applies a logistic function to raw class logits.
	Sigmoid bool `json:"sigmoid,omitempty" yaml:"sigmoid,omitempty"`
	// Threads is the intra-op thread count; 0 lets onnxruntime decide.
	Threads int `json:"threads,omitempty" yaml:"threads,omitempty"`
}

// WithDefaults fills unset fields with the values of a YOLOv8 COCO export.
func (c ONNXConfig) WithDefaults() ONNXConfig {
	if c.LibraryPath == "" {
		c.LibraryPath = DefaultLibraryPath()
	}
	if c.InputName == "" {
		c.InputName = "images"
	}
	if c.OutputName == "" {
		c.OutputName = "output0"
	}
	if c.InputSize == 0 {
		c.InputSize = 640
	}
	if c.Classes == 0 {
		c.Classes = 80
	}
	if c.Candidates == 0 {
		c.Candidates = 8400
	}
	if c.ScoreThreshold == 0 {
		c.ScoreThreshold = 0.01
	}
	if c.NMSThreshold == 0 {
		c.NMSThreshold = 0.7
	}
	return c
}

// DefaultLibraryPath returns the onnxruntime library path for this platform,
// honouring ONNXRUNTIME_SHARED_LIBRARY_PATH.
func DefaultLibraryPath() string {
	if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "third_party/onnxruntime.dll"
	case "darwin":
		return "third_party/libonnxruntime.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "third_party/onnxruntime_arm64.so"
	}
	return "third_party/onnxruntime.so"
}

var ortInitMu sync.Mutex

func initializeRuntime(libPath string) error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	return errors.Wrap(ort.InitializeEnvironment(), "initializing onnxruntime environment")
}

// ONNX generates proposals with a detector model. A single session is shared
// by every caller; Generate serialises on it. Call Close when done.
type ONNX struct {
	cfg     ONNXConfig
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	mu      sync.Mutex
}

// NewONNX loads the model and preallocates its tensors.
//
// Arguments:
//   - cfg: The model description. Unset fields take WithDefaults values.
//
// Returns:
//   - *ONNX: The generator.
//   - error: An error if the model or the runtime cannot be loaded.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	cfg = cfg.WithDefaults()
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "onnx model not found at %s", cfg.ModelPath)
	}
	if err := initializeRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.InputSize), int64(cfg.InputSize)))
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+cfg.Classes), int64(cfg.Candidates)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "creating session options")
	}
	defer options.Destroy()
	if cfg.Threads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.Threads); err != nil {
			input.Destroy()
			output.Destroy()
			return nil, errors.Wrap(err, "setting intra-op threads")
		}
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "creating onnx session")
	}

	return &ONNX{cfg: cfg, session: session, input: input, output: output}, nil
}

// Generate implements Generator.
func (o *ONNX) Generate(ctx context.Context, img images.Image, maxProposals int) ([]common.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decoded, err := img.Decode()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return nil, errors.New("onnx generator is closed")
	}
	if err := prepareInput(decoded, o.input.GetData(), o.cfg.InputSize); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if err := o.session.Run(); err != nil {
		o.mu.Unlock()
		return nil, errors.Wrap(err, "running onnx session")
	}
	b := decoded.Bounds()
	scored := decodeOutput(o.output.GetData(), o.cfg, b.Dx(), b.Dy())
	o.mu.Unlock()

	kept := ApplyNMS(scored, NMSConfig{IoUThreshold: o.cfg.NMSThreshold, NumWorkers: runtime.NumCPU()})
	return Truncate(toProposals(kept), maxProposals), nil
}

// Close releases the session and its tensors.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var err error
	if o.input != nil {
		err = o.input.Destroy()
		o.input = nil
	}
	if o.output != nil {
		if e := o.output.Destroy(); e != nil && err == nil {
			err = e
		}
		o.output = nil
	}
	if o.session != nil {
		if e := o.session.Destroy(); e != nil && err == nil {
			err = e
		}
		o.session = nil
	}
	return errors.Wrap(err, "closing onnx generator")
}

// prepareInput resizes img to size x size and writes it to dst as planar
// RGB in [0, 1].
func prepareInput(img image.Image, dst []float32, size int) error {
	channel := size * size
	if len(dst) < channel*3 {
		return errors.Errorf("input tensor holds %d floats, needs %d", len(dst), channel*3)
	}
	red := dst[0:channel]
	green := dst[channel : channel*2]
	blue := dst[channel*2 : channel*3]

	img = resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	b := img.Bounds()

	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(bl>>8) / 255.0
			i++
		}
	}
	return nil
}

// decodeOutput converts a [4+Classes, Candidates] output to boxes in source
// image coordinates, clipped to the image. The class is ignored; the best
// class score is the objectness.
func decodeOutput(out []float32, cfg ONNXConfig, width, height int) []Scored {
	n := cfg.Candidates
	if len(out) < (4+cfg.Classes)*n {
		return nil
	}
	sx := float32(width) / float32(cfg.InputSize)
	sy := float32(height) / float32(cfg.InputSize)
	w32, h32 := float32(width), float32(height)

	scored := make([]Scored, 0, 256)
	for idx := 0; idx < n; idx++ {
		best := math32.Inf(-1)
		for c := 0; c < cfg.Classes; c++ {
			best = math32.Max(best, out[n*(c+4)+idx])
		}
		if cfg.Sigmoid {
			best = 1 / (1 + math32.Exp(-best))
		}
		if best < cfg.ScoreThreshold {
			continue
		}

		xc, yc := out[idx], out[n+idx]
		bw, bh := out[2*n+idx], out[3*n+idx]
		x1 := math32.Max(0, (xc-bw/2)*sx)
		y1 := math32.Max(0, (yc-bh/2)*sy)
		x2 := math32.Min(w32, (xc+bw/2)*sx)
		y2 := math32.Min(h32, (yc+bh/2)*sy)
		if !(x2 > x1) || !(y2 > y1) {
			continue
		}
		scored = append(scored, Scored{
			Box: common.BoundingBox{
				XMin: float64(x1),
				YMin: float64(y1),
				XMax: float64(x2),
				YMax: float64(y2),
			},
			Score: best,
		})
	}
	return scored
}
