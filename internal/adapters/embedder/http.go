// Package embedder provides face embedding extractors: a client for an
// InsightFace-style HTTP server, a local ONNX model, and a deterministic
// simulator for development.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/okian/rollcall/internal/domain/matcher"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
)

const (
	faceEndpoint = "/embed/face"
	maxErrorBody = 512
)

// FaceDetection is a single face reported by the face server.
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// Area returns the bounding box area, or 0 for a malformed box.
func (d FaceDetection) Area() float64 {
	if len(d.BBox) != 4 {
		return 0
	}
	w, h := d.BBox[2]-d.BBox[0], d.BBox[3]-d.BBox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// FaceResponse is the body returned by the face endpoint.
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// HTTPExtractor calls a face embedding server and returns the embedding of
// the dominant face in the frame.
type HTTPExtractor struct {
	baseURL string
	client  *http.Client
	dim     int
	log     logger.Logger
}

// NewHTTPExtractor creates an extractor for the server at baseURL.
func NewHTTPExtractor(baseURL string, opts ...Option) *HTTPExtractor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("embedder")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &HTTPExtractor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  o.client,
		dim:     o.dim,
		log:     o.log,
	}
}

// Dim implements model.Extractor.
func (e *HTTPExtractor) Dim() int { return e.dim }

// Extract implements model.Extractor.
func (e *HTTPExtractor) Extract(ctx context.Context, frame model.Frame) (model.Embedding, error) {
	if frame.Empty() {
		return nil, model.ErrNoFaceDetected
	}
	body, err := e.post(ctx, frame)
	if err != nil {
		return nil, err
	}

	var resp FaceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	face, ok := Dominant(resp.Faces)
	if !ok {
		return nil, model.ErrNoFaceDetected
	}
	if len(face.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrBadResponse)
	}
	if e.dim > 0 && len(face.Embedding) != e.dim {
		return nil, &matcher.DimensionMismatchError{Expected: e.dim, Actual: len(face.Embedding)}
	}
	if len(resp.Faces) > 1 {
		e.log.Debug(ctx, "several faces in frame, using the largest",
			logger.Int("faces", len(resp.Faces)),
			logger.Int("face_index", face.FaceIndex))
	}
	return model.Embedding(face.Embedding), nil
}

// Dominant picks the face with the largest bounding box; ties go to the
// higher detection score. It reports false when faces is empty.
func Dominant(faces []FaceDetection) (FaceDetection, bool) {
	if len(faces) == 0 {
		return FaceDetection{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		a, b := f.Area(), best.Area()
		if a > b || (a == b && f.DetScore > best.DetScore) {
			best = f
		}
	}
	return best, true
}

func (e *HTTPExtractor) post(ctx context.Context, frame model.Frame) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	contentType := frame.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(frame.Data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame"`)
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(frame.Data); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+faceEndpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
