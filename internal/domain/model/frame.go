package model

import (
	"context"
	"time"
)

// Facing selects which camera a video source opens.
type Facing string

// Supported camera facings.
const (
	FacingFront Facing = "front"
	FacingBack  Facing = "back"
)

// Valid reports whether f is a known facing.
func (f Facing) Valid() bool {
	return f == FacingFront || f == FacingBack
}

// Frame is a single encoded still image taken from a video source.
type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// Empty reports whether the frame carries no image data.
func (f Frame) Empty() bool { return len(f.Data) == 0 }

// Extractor turns a frame into a face embedding. It returns
// ErrNoFaceDetected when the frame holds no usable face.
type Extractor interface {
	Extract(ctx context.Context, frame Frame) (Embedding, error)
	// Dim is the dimensionality of produced embeddings.
	Dim() int
}

// VideoHandle is an open camera owned by exactly one consumer.
type VideoHandle interface {
	CurrentFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Source opens video handles for a facing.
type Source interface {
	Open(ctx context.Context, facing Facing) (VideoHandle, error)
}
