package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
)

// SimulatedExtractor derives a stable unit embedding from the frame bytes
// and sleeps a random latency to model a remote model server. Identical
// frames always map to identical embeddings.
type SimulatedExtractor struct {
	dim        int
	minLatency time.Duration
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedExtractor creates a simulator.
func NewSimulatedExtractor(opts ...Option) *SimulatedExtractor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.dim <= 0 {
		o.dim = defaultDim
	}
	return &SimulatedExtractor{
		dim:        o.dim,
		minLatency: o.minLatency,
		maxLatency: o.maxLatency,
		rng:        rand.New(rand.NewSource(o.seed)), //nolint:gosec // deterministic jitter
	}
}

// Dim implements model.Extractor.
func (s *SimulatedExtractor) Dim() int { return s.dim }

// Extract implements model.Extractor.
func (s *SimulatedExtractor) Extract(ctx context.Context, frame model.Frame) (model.Embedding, error) {
	if frame.Empty() {
		return nil, model.ErrNoFaceDetected
	}
	if d := s.latency(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}
	return SimulatedEmbedding(frame.Data, s.dim), nil
}

func (s *SimulatedExtractor) latency() time.Duration {
	span := s.maxLatency - s.minLatency
	if span <= 0 {
		return s.minLatency
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minLatency + time.Duration(s.rng.Int63n(int64(span)))
}

// SimulatedEmbedding returns the unit vector the simulator assigns to data.
func SimulatedEmbedding(data []byte, dim int) model.Embedding {
	h := fnv.New64a()
	_, _ = h.Write(data)
	r := rand.New(rand.NewSource(int64(h.Sum64()))) //nolint:gosec // content-derived seed
	emb := make(model.Embedding, dim)
	for i := range emb {
		emb[i] = float32(r.NormFloat64())
	}
	Normalize(emb)
	return emb
}
