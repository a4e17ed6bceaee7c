package faceblade

import (
	"context"
	"errors"
)

// ProxyMiddleware turns an EndpointSet of remote endpoints back into a Service.
func ProxyMiddleware(endpoints *EndpointSet) ServiceMiddleware {
	return func(next Service) Service {
		return &proxyMiddleware{
			endpoints: endpoints,
		}
	}
}

type proxyMiddleware struct {
	endpoints *EndpointSet
}

func (mw *proxyMiddleware) Close() error {
	return errors.New("method not implemented")
}

func (mw *proxyMiddleware) Register(ctx context.Context, images [][]byte, scope Scope) ([]FaceStatus, error) {
	req := RegisterRequest{
		Images:   images,
		GroupID:  scope.GroupID,
		PersonID: scope.PersonID,
	}

	resp, err := mw.endpoints.Register(ctx, req)
	if err != nil {
		return nil, err
	}

	statuses, ok := resp.([]FaceStatus)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return statuses, nil
}

func (mw *proxyMiddleware) CheckSingle(ctx context.Context, images [][]byte, scope Scope, thresh float32, policy ...Policy) (*CheckResult, error) {
	req := CheckSingleRequest{
		Images:    images,
		GroupID:   scope.GroupID,
		PersonID:  scope.PersonID,
		Threshold: ThresholdOf(thresh),
	}

	if len(policy) > 0 {
		req.Policy = policy[0]
	}

	resp, err := mw.endpoints.CheckSingle(ctx, req)
	if err != nil {
		return nil, err
	}

	result, ok := resp.(*CheckResult)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return result, nil
}

func (mw *proxyMiddleware) CheckMulti(ctx context.Context, images [][]byte, groupID string, thresh float32) (*CheckResult, error) {
	req := CheckMultiRequest{
		Images:    images,
		GroupID:   groupID,
		Threshold: ThresholdOf(thresh),
	}

	resp, err := mw.endpoints.CheckMulti(ctx, req)
	if err != nil {
		return nil, err
	}

	result, ok := resp.(*CheckResult)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return result, nil
}

func (mw *proxyMiddleware) ListFaces(ctx context.Context, scope Scope) ([]Face, error) {
	resp, err := mw.endpoints.ListFaces(ctx, scope)
	if err != nil {
		return nil, err
	}

	faces, ok := resp.([]Face)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return faces, nil
}

func (mw *proxyMiddleware) DeleteFaces(ctx context.Context, faceID string, scope Scope) (int, error) {
	req := DeleteFacesRequest{
		FaceID:   faceID,
		GroupID:  scope.GroupID,
		PersonID: scope.PersonID,
	}

	resp, err := mw.endpoints.DeleteFaces(ctx, req)
	if err != nil {
		return 0, err
	}

	result, ok := resp.(DeleteFacesResponse)
	if !ok {
		return 0, errors.New("invalid response type")
	}

	return result.Deleted, nil
}

func (mw *proxyMiddleware) ListAllFaces(ctx context.Context) ([]Face, error) {
	resp, err := mw.endpoints.ListAllFaces(ctx, nil)
	if err != nil {
		return nil, err
	}

	faces, ok := resp.([]Face)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return faces, nil
}

func (mw *proxyMiddleware) PurgeFace(ctx context.Context, faceID string) (bool, error) {
	resp, err := mw.endpoints.PurgeFace(ctx, faceID)
	if err != nil {
		return false, err
	}

	result, ok := resp.(PurgeFaceResponse)
	if !ok {
		return false, errors.New("invalid response type")
	}

	return result.Existed, nil
}
