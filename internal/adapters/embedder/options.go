package embedder

import (
	"net/http"
	"time"

	"github.com/okian/rollcall/pkg/logger"
)

const (
	defaultBaseURL    = "http://localhost:8000"
	defaultTimeout    = 10 * time.Second
	defaultDim        = 512
	defaultMinLatency = 20 * time.Millisecond
	defaultMaxLatency = 60 * time.Millisecond
	defaultSeed       = 42
	defaultThreads    = 4
)

type options struct {
	dim        int
	client     *http.Client
	log        logger.Logger
	minLatency time.Duration
	maxLatency time.Duration
	seed       int64
	libPath    string
	threads    int
}

// Option configures an extractor.
type Option func(*options)

func defaultOptions() options {
	return options{
		dim:        defaultDim,
		client:     &http.Client{Timeout: defaultTimeout},
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		seed:       defaultSeed,
		threads:    defaultThreads,
	}
}

// WithDim sets the expected embedding dimensionality. Zero disables the check
// for extractors that can discover it themselves.
func WithDim(dim int) Option {
	return func(o *options) {
		if dim >= 0 {
			o.dim = dim
		}
	}
}

// WithHTTPClient replaces the client used to reach the face server.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithLatencyRange sets the simulated extraction latency.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(o *options) {
		if minLatency >= 0 && maxLatency >= minLatency {
			o.minLatency = minLatency
			o.maxLatency = maxLatency
		}
	}
}

// WithSeed sets the seed used for simulated latency jitter.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithSharedLibrary sets the onnxruntime shared library path. By default the
// library is looked up next to the model file.
func WithSharedLibrary(path string) Option {
	return func(o *options) { o.libPath = path }
}

// WithThreads sets the intra-op thread count of the ONNX session.
func WithThreads(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.threads = n
		}
	}
}
