package embedder

import "errors"

var (
	// ErrUnexpectedStatus is returned when the face server answers with a non-2xx code.
	ErrUnexpectedStatus = errors.New("embedder: unexpected status")
	// ErrBadResponse is returned when the face server body cannot be used.
	ErrBadResponse = errors.New("embedder: bad response")
	// ErrModelShape is returned when an ONNX model does not look like a face embedder.
	ErrModelShape = errors.New("embedder: unsupported model shape")
	// ErrDecode is returned when frame bytes are not a supported image.
	ErrDecode = errors.New("embedder: cannot decode frame")
)
