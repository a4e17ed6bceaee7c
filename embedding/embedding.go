package embedding

import (
	"context"
	"errors"
	"sort"
)

var (
	ErrDetectionFailed = errors.New("no usable face detected")
	ErrEmbeddingFailed = errors.New("embedding extraction failed")
	ErrUnavailable     = errors.New("embedding source unavailable")
)

type Driver string

const (
	DriverHTTP Driver = "http"
	DriverNATS Driver = "nats"
)

type Config struct {
	Driver  Driver  `yaml:"driver"`
	URL     string  `yaml:"url"`
	Subject string  `yaml:"subject"`
	Rate    float64 `yaml:"rate"`  // requests per second, 0 disables limiting
	Burst   int     `yaml:"burst"`
}

// Source turns one face crop into a fixed-dimension embedding.
type Source interface {
	Embed(ctx context.Context, crop []byte) ([]float32, error)
}

type SourceFunc func(ctx context.Context, crop []byte) ([]float32, error)

func (f SourceFunc) Embed(ctx context.Context, crop []byte) ([]float32, error) {
	return f(ctx, crop)
}

type Middleware func(Source) Source

// FaceDetection is a single face found by the encoder.
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse is what the encoder returns for one image.
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Best picks the most confident detection. Submitted images are expected to be
// single-face crops, so extra detections are ignored.
func (resp FaceResponse) Best() ([]float32, error) {
	if len(resp.Faces) == 0 {
		return nil, ErrDetectionFailed
	}

	faces := make([]FaceDetection, len(resp.Faces))
	copy(faces, resp.Faces)

	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].DetScore > faces[j].DetScore
	})

	if len(faces[0].Embedding) == 0 {
		return nil, ErrEmbeddingFailed
	}

	return faces[0].Embedding, nil
}
