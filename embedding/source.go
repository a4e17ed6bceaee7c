package embedding

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"
)

// NewSource builds the Source named by cfg. nc is only needed by the NATS driver.
func NewSource(cfg Config, nc *nats.Conn) (Source, error) {
	var source Source
	switch cfg.Driver {
	case "", DriverHTTP:
		source = NewHTTPSource(cfg.URL, &http.Client{})

	case DriverNATS:
		if nc == nil {
			return nil, errors.New("nats driver requires a connection")
		}

		if cfg.Subject == "" {
			return nil, errors.New("nats driver requires a subject")
		}

		source = NewNATSSource(nc, cfg.Subject)

	default:
		return nil, fmt.Errorf("unknown embedding driver %q", cfg.Driver)
	}

	if cfg.Rate > 0 {
		source = RateLimitMiddleware(rate.Limit(cfg.Rate), cfg.Burst)(source)
	}

	return source, nil
}
