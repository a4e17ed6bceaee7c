package faceblade

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"
)

type EndpointSet struct {
	Register     endpoint.Endpoint
	CheckSingle  endpoint.Endpoint
	CheckMulti   endpoint.Endpoint
	ListFaces    endpoint.Endpoint
	DeleteFaces  endpoint.Endpoint
	ListAllFaces endpoint.Endpoint
	PurgeFace    endpoint.Endpoint
}

func MakeEndpoints(svc Service) EndpointSet {
	return EndpointSet{
		Register:     RegisterEndpoint(svc),
		CheckSingle:  CheckSingleEndpoint(svc),
		CheckMulti:   CheckMultiEndpoint(svc),
		ListFaces:    ListFacesEndpoint(svc),
		DeleteFaces:  DeleteFacesEndpoint(svc),
		ListAllFaces: ListAllFacesEndpoint(svc),
		PurgeFace:    PurgeFaceEndpoint(svc),
	}
}

// Images travel as base64 strings in JSON.
type RegisterRequest struct {
	Images   [][]byte `json:"images" form:"-"`
	GroupID  string   `json:"group_id" form:"group_id"`
	PersonID string   `json:"person_id" form:"person_id"`
}

func RegisterEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(RegisterRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		scope := Scope{
			GroupID:  req.GroupID,
			PersonID: req.PersonID,
		}

		return svc.Register(ctx, req.Images, scope)
	}
}

// RequestThreshold resolves an optional request threshold. An absent value
// selects the configured one, a present value must be in (0,1).
func RequestThreshold(thresh *float32) (float32, error) {
	if thresh == nil {
		return 0, nil
	}

	if err := Threshold(*thresh).Validate(); err != nil {
		return 0, err
	}

	return *thresh, nil
}

// ThresholdOf is the request form of a service threshold, where zero
// means unset.
func ThresholdOf(thresh float32) *float32 {
	if thresh == 0 {
		return nil
	}

	return &thresh
}

type CheckSingleRequest struct {
	Images    [][]byte `json:"images" form:"-"`
	GroupID   string   `json:"group_id" form:"group_id"`
	PersonID  string   `json:"person_id" form:"person_id"`
	Threshold *float32 `json:"threshold,omitempty" form:"threshold"`
	Policy    Policy   `json:"policy,omitempty" form:"policy"`
}

func CheckSingleEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(CheckSingleRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		thresh, err := RequestThreshold(req.Threshold)
		if err != nil {
			return nil, err
		}

		scope := Scope{
			GroupID:  req.GroupID,
			PersonID: req.PersonID,
		}

		if req.Policy == "" {
			return svc.CheckSingle(ctx, req.Images, scope, thresh)
		}

		return svc.CheckSingle(ctx, req.Images, scope, thresh, req.Policy)
	}
}

type CheckMultiRequest struct {
	Images    [][]byte `json:"images" form:"-"`
	GroupID   string   `json:"group_id" form:"group_id"`
	Threshold *float32 `json:"threshold,omitempty" form:"threshold"`
}

func CheckMultiEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(CheckMultiRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		thresh, err := RequestThreshold(req.Threshold)
		if err != nil {
			return nil, err
		}

		return svc.CheckMulti(ctx, req.Images, req.GroupID, thresh)
	}
}

func ListFacesEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		scope, ok := request.(Scope)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.ListFaces(ctx, scope)
	}
}

type DeleteFacesRequest struct {
	FaceID   string `json:"face_id,omitempty" form:"face_id"`
	GroupID  string `json:"group_id" form:"group_id"`
	PersonID string `json:"person_id,omitempty" form:"person_id"`
}

type DeleteFacesResponse struct {
	Deleted int `json:"deleted"`
}

func DeleteFacesEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(DeleteFacesRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		scope := Scope{
			GroupID:  req.GroupID,
			PersonID: req.PersonID,
		}

		count, err := svc.DeleteFaces(ctx, req.FaceID, scope)
		if err != nil {
			return nil, err
		}

		return DeleteFacesResponse{count}, nil
	}
}

func ListAllFacesEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		return svc.ListAllFaces(ctx)
	}
}

type PurgeFaceResponse struct {
	Existed bool `json:"existed"`
}

func PurgeFaceEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		faceID, ok := request.(string)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		existed, err := svc.PurgeFace(ctx, faceID)
		if err != nil {
			return nil, err
		}

		return PurgeFaceResponse{existed}, nil
	}
}
