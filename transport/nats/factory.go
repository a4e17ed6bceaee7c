package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/faceblade"
)

func MakeEndpoints(nc *nats.Conn, prefix string) *faceblade.EndpointSet {
	return &faceblade.EndpointSet{
		Register:     RegisterEndpoint(nc, prefix+"."+TopicRegister),
		CheckSingle:  CheckSingleEndpoint(nc, prefix+"."+TopicCheckSingle),
		CheckMulti:   CheckMultiEndpoint(nc, prefix+"."+TopicCheckMulti),
		ListFaces:    ListFacesEndpoint(nc, prefix+"."+TopicListFaces),
		DeleteFaces:  DeleteFacesEndpoint(nc, prefix+"."+TopicDeleteFaces),
		ListAllFaces: ListAllFacesEndpoint(nc, prefix+"."+TopicListAllFaces),
		PurgeFace:    PurgeFaceEndpoint(nc, prefix+"."+TopicPurgeFace),
	}
}

// send delivers data to topic, falling back to the default timeout when ctx
// carries no deadline.
func send(ctx context.Context, nc *nats.Conn, topic string, data []byte) (*nats.Msg, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}

	msg, err := nc.RequestWithContext(ctx, topic, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) ||
			errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrConnectionClosed) {
			return nil, fmt.Errorf("%w: %w", faceblade.ErrCollaboratorUnavailable, err)
		}

		return nil, err
	}

	if err := Error(msg); err != nil {
		return nil, err
	}

	return msg, nil
}

// call JSON encodes req, sends it and decodes the reply into T.
func call[T any](ctx context.Context, nc *nats.Conn, topic string, req any) (T, error) {
	var resp T

	var data []byte
	if req != nil {
		bs, err := json.Marshal(req)
		if err != nil {
			return resp, err
		}

		data = bs
	}

	msg, err := send(ctx, nc, topic, data)
	if err != nil {
		return resp, err
	}

	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return resp, err
	}

	return resp, nil
}

func RegisterEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(faceblade.RegisterRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		return call[[]faceblade.FaceStatus](ctx, nc, topic, req)
	}
}

func CheckSingleEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(faceblade.CheckSingleRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		return call[*faceblade.CheckResult](ctx, nc, topic, req)
	}
}

func CheckMultiEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(faceblade.CheckMultiRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		return call[*faceblade.CheckResult](ctx, nc, topic, req)
	}
}

func ListFacesEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		scope, ok := request.(faceblade.Scope)
		if !ok {
			return nil, errors.New("invalid request")
		}

		return call[[]faceblade.Face](ctx, nc, topic, scope)
	}
}

func DeleteFacesEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(faceblade.DeleteFacesRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		return call[faceblade.DeleteFacesResponse](ctx, nc, topic, req)
	}
}

func ListAllFacesEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		return call[[]faceblade.Face](ctx, nc, topic, nil)
	}
}

func PurgeFaceEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		faceID, ok := request.(string)
		if !ok {
			return nil, errors.New("invalid request")
		}

		msg, err := send(ctx, nc, topic, []byte(faceID))
		if err != nil {
			return nil, err
		}

		var resp faceblade.PurgeFaceResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			return nil, err
		}

		return resp, nil
	}
}

// Error converts a micro error reply back into a service error.
func Error(msg *nats.Msg) error {
	if msg == nil {
		return errors.New("nil message")
	}

	code := msg.Header.Get(micro.ErrorCodeHeader)
	if code == "" {
		return nil
	}

	description := msg.Header.Get(micro.ErrorHeader)
	if description == "" {
		description = "unknown error"
	}

	status, err := strconv.Atoi(code)
	if err != nil {
		return errors.New(code + ":" + description)
	}

	if kind := msg.Header.Get(ErrorKindHeader); kind != "" {
		return faceblade.FromErrorKind(kind, status, description)
	}

	return faceblade.FromStatusCode(status, description)
}
