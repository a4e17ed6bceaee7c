package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware bounds the request rate toward the encoder. Waiting
// honours the caller's deadline.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	if burst <= 0 {
		burst = 1
	}

	limiter := rate.NewLimiter(limit, burst)

	return func(next Source) Source {
		return SourceFunc(func(ctx context.Context, crop []byte) ([]float32, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
			}

			return next.Embed(ctx, crop)
		})
	}
}
