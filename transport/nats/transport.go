package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/faceblade"
)

// ErrorKindHeader carries faceblade.ErrorKind next to the micro error code.
const ErrorKindHeader = "Faceblade-Error-Kind"

func respondError(r micro.Request, err error) {
	code := strconv.Itoa(faceblade.StatusCode(err))

	var opts []micro.RespondOpt
	if kind := faceblade.ErrorKind(err); kind != "" {
		opts = append(opts, micro.WithHeaders(micro.Headers{
			ErrorKindHeader: []string{kind},
		}))
	}

	r.Error(code, err.Error(), nil, opts...)
}

// handle decodes the request with decode, runs the endpoint and responds
// with its JSON encoded result.
func handle(endpoint endpoint.Endpoint, decode func(data []byte) (any, error)) micro.HandlerFunc {
	return func(r micro.Request) {
		req, err := decode(r.Data())
		if err != nil {
			respondError(r, fmt.Errorf("%w: %w", faceblade.ErrInvalidRequest, err))
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			respondError(r, err)
			return
		}

		r.RespondJSON(&resp)
	}
}

func decodeJSON[T any](data []byte) (any, error) {
	var req T
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	return req, nil
}

func RegisterHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return handle(endpoint, decodeJSON[faceblade.RegisterRequest])
}

func CheckSingleHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return handle(endpoint, decodeJSON[faceblade.CheckSingleRequest])
}

func CheckMultiHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return handle(endpoint, decodeJSON[faceblade.CheckMultiRequest])
}

func ListFacesHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return handle(endpoint, decodeJSON[faceblade.Scope])
}

func DeleteFacesHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return handle(endpoint, decodeJSON[faceblade.DeleteFacesRequest])
}

func ListAllFacesHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return handle(endpoint, func(data []byte) (any, error) {
		return nil, nil
	})
}

func PurgeFaceHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		faceID := string(r.Data())
		if faceID == "" {
			respondError(r, fmt.Errorf("%w: face id is required", faceblade.ErrInvalidRequest))
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, faceID)
		if err != nil {
			respondError(r, err)
			return
		}

		r.RespondJSON(&resp)
	}
}
