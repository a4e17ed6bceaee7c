package embedding

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func newEncoderServer(t *testing.T, handler func(w http.ResponseWriter, crop []byte)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()

		crop, _ := io.ReadAll(file)
		handler(w, crop)
	}))
}

func TestHTTPSourceEmbed(t *testing.T) {
	assert := assert.New(t)

	srv := newEncoderServer(t, func(w http.ResponseWriter, crop []byte) {
		resp := FaceResponse{
			FacesCount: 2,
			Faces: []FaceDetection{
				{FaceIndex: 0, Dim: 2, Embedding: []float32{0, 1}, DetScore: 0.5},
				{FaceIndex: 1, Dim: 2, Embedding: []float32{1, 0}, DetScore: 0.9},
			},
			Model: "ghostfacenet",
		}

		json.NewEncoder(w).Encode(&resp)
	})
	defer srv.Close()

	source := NewHTTPSource(srv.URL+"/", nil)

	embedding, err := source.Embed(context.Background(), []byte("crop"))
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal([]float32{1, 0}, embedding)
}

func TestHTTPSourceErrors(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusOK, `{"faces_count":0,"faces":[]}`, ErrDetectionFailed},
		{http.StatusOK, `not json`, ErrEmbeddingFailed},
		{http.StatusUnprocessableEntity, `no face`, ErrDetectionFailed},
		{http.StatusBadRequest, `bad image`, ErrEmbeddingFailed},
		{http.StatusServiceUnavailable, `loading model`, ErrUnavailable},
	}

	for _, tt := range tests {
		srv := newEncoderServer(t, func(w http.ResponseWriter, crop []byte) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		})

		_, err := NewHTTPSource(srv.URL, nil).Embed(context.Background(), []byte("crop"))
		assert.ErrorIs(err, tt.want, tt.body)

		srv.Close()
	}
}

func TestHTTPSourceUnreachable(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPSource(url, nil).Embed(context.Background(), []byte("crop"))
	assert.ErrorIs(err, ErrUnavailable)
}

func TestRateLimitMiddleware(t *testing.T) {
	assert := assert.New(t)

	calls := 0
	var source Source = SourceFunc(func(ctx context.Context, crop []byte) ([]float32, error) {
		calls++
		return []float32{1}, nil
	})

	source = RateLimitMiddleware(rate.Every(time.Hour), 1)(source)

	_, err := source.Embed(context.Background(), []byte("a"))
	assert.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = source.Embed(ctx, []byte("b"))
	assert.ErrorIs(err, ErrUnavailable)
	assert.Equal(1, calls)
}
