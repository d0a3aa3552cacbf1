package embedder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // decoders for camera snapshots
	_ "image/png"
	"math"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
)

// ortEnv guards process-wide ONNX Runtime initialisation.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXExtractor runs an ArcFace-style model locally. Frames are expected
// to be aligned face crops; the model input is NCHW float32 scaled to
// [-1, 1] and the output is L2-normalised.
type ONNXExtractor struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	width      int
	height     int
	dim        int
	log        logger.Logger

	mu sync.Mutex
}

// NewONNXExtractor loads modelPath and prepares an inference session.
func NewONNXExtractor(modelPath string, opts ...Option) (*ONNXExtractor, error) {
	o := defaultOptions()
	o.dim = 0
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("embedder")
	}
	libPath := o.libPath
	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model info: %w", err)
	}
	shape, err := inspectModel(inputs, outputs)
	if err != nil {
		return nil, err
	}
	if o.dim > 0 && o.dim != shape.dim {
		return nil, fmt.Errorf("%w: model produces %d dims, configured %d", ErrModelShape, shape.dim, o.dim)
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer sessOpts.Destroy()
	if err := sessOpts.SetIntraOpNumThreads(o.threads); err != nil {
		return nil, fmt.Errorf("onnx: intra-op threads: %w", err)
	}
	if err := sessOpts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("onnx: inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{shape.input}, []string{shape.output}, sessOpts)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}
	o.log.Info(context.Background(), "onnx face model loaded",
		logger.String("model", modelPath),
		logger.Int("input_width", shape.width),
		logger.Int("input_height", shape.height),
		logger.Int("dim", shape.dim))

	return &ONNXExtractor{
		session:    session,
		inputName:  shape.input,
		outputName: shape.output,
		width:      shape.width,
		height:     shape.height,
		dim:        shape.dim,
		log:        o.log,
	}, nil
}

type modelShape struct {
	input, output string
	width, height int
	dim           int
}

// inspectModel expects one [N,3,H,W] input and a [N,D] output.
func inspectModel(inputs, outputs []ort.InputOutputInfo) (modelShape, error) {
	if len(inputs) != 1 {
		return modelShape{}, fmt.Errorf("%w: want 1 input, got %d", ErrModelShape, len(inputs))
	}
	if len(outputs) == 0 {
		return modelShape{}, fmt.Errorf("%w: model has no outputs", ErrModelShape)
	}
	in := inputs[0].Dimensions
	if len(in) != 4 || in[1] != 3 || in[2] <= 0 || in[3] <= 0 {
		return modelShape{}, fmt.Errorf("%w: input %v is not NCHW RGB", ErrModelShape, in)
	}
	out := outputs[0].Dimensions
	if len(out) != 2 || out[1] <= 0 {
		return modelShape{}, fmt.Errorf("%w: output %v is not [N,D]", ErrModelShape, out)
	}
	return modelShape{
		input:  inputs[0].Name,
		output: outputs[0].Name,
		height: int(in[2]),
		width:  int(in[3]),
		dim:    int(out[1]),
	}, nil
}

// Dim implements model.Extractor.
func (e *ONNXExtractor) Dim() int { return e.dim }

// Extract implements model.Extractor.
func (e *ONNXExtractor) Extract(ctx context.Context, frame model.Frame) (model.Embedding, error) {
	if frame.Empty() {
		return nil, model.ErrNoFaceDetected
	}
	pixels, err := Preprocess(frame.Data, e.width, e.height)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(e.height), int64(e.width)), pixels)
	if err != nil {
		return nil, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer input.Destroy()
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.dim)))
	if err != nil {
		return nil, fmt.Errorf("onnx: output tensor: %w", err)
	}
	defer output.Destroy()

	e.mu.Lock()
	err = e.session.Run([]ort.Value{input}, []ort.Value{output})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}

	emb := make(model.Embedding, e.dim)
	copy(emb, output.GetData())
	if !Normalize(emb) {
		return nil, model.ErrNoFaceDetected
	}
	return emb, nil
}

// Close releases the inference session.
func (e *ONNXExtractor) Close() error {
	return e.session.Destroy()
}

// Preprocess decodes data, scales it to width x height and returns planar
// RGB values mapped to [-1, 1].
func Preprocess(data []byte, width, height int) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := width * height
	out := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := dst.PixOffset(x, y)
			p := y*width + x
			out[p] = (float32(dst.Pix[i]) - 127.5) / 127.5
			out[plane+p] = (float32(dst.Pix[i+1]) - 127.5) / 127.5
			out[2*plane+p] = (float32(dst.Pix[i+2]) - 127.5) / 127.5
		}
	}
	return out, nil
}

// Normalize scales v to unit length in place. It reports false for a zero
// or non-finite vector.
func Normalize(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return false
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return true
}
