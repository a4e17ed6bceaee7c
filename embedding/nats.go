package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
)

// NewNATSSource requests embeddings from an encoder service listening on a
// NATS subject. The reply carries a FaceResponse, or micro error headers.
func NewNATSSource(nc *nats.Conn, subject string) Source {
	return &natsSource{nc, subject}
}

type natsSource struct {
	nc      *nats.Conn
	subject string
}

func (s *natsSource) Embed(ctx context.Context, crop []byte) ([]float32, error) {
	msg, err := s.nc.RequestWithContext(ctx, s.subject, crop)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) ||
			errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrConnectionClosed) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		return nil, err
	}

	if code := msg.Header.Get(micro.ErrorCodeHeader); code != "" {
		description := msg.Header.Get(micro.ErrorHeader)

		switch code {
		case "422":
			return nil, fmt.Errorf("%w: %s", ErrDetectionFailed, description)
		case "503":
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, description)
		default:
			return nil, fmt.Errorf("%w: %s:%s", ErrEmbeddingFailed, code, description)
		}
	}

	var resp FaceResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %w", ErrEmbeddingFailed, err)
	}

	return resp.Best()
}
