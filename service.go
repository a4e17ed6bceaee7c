package faceblade

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flarexio/faceblade/embedding"
	"github.com/flarexio/faceblade/vector"
)

// Service defines the identity matching logic of FaceBlade.
type Service interface {

	// Close releases the vector store handle.
	Close() error

	// Register stores every usable image as a face of the scoped person.
	// Re-registering an identical crop is a no-op that reports the same id.
	Register(ctx context.Context, images [][]byte, scope Scope) ([]FaceStatus, error)

	// CheckSingle verifies each image against one person's faces. A zero
	// threshold selects the configured one.
	CheckSingle(ctx context.Context, images [][]byte, scope Scope, thresh float32, policy ...Policy) (*CheckResult, error)

	// CheckMulti identifies each image among all persons of a group.
	CheckMulti(ctx context.Context, images [][]byte, groupID string, thresh float32) (*CheckResult, error)

	// ListFaces returns the faces registered in scope; empty is not an error.
	ListFaces(ctx context.Context, scope Scope) ([]Face, error)

	// DeleteFaces removes one face when faceID is set, else every face in
	// scope, and returns how many were removed.
	DeleteFaces(ctx context.Context, faceID string, scope Scope) (int, error)

	// ListAllFaces returns every face of the collection, across groups.
	ListAllFaces(ctx context.Context) ([]Face, error)

	// PurgeFace removes a face by id regardless of scope.
	PurgeFace(ctx context.Context, faceID string) (bool, error)
}

type ServiceMiddleware func(Service) Service

// NewService wires the matcher to its collaborators and makes sure the
// configured collection exists. The service takes ownership of store.
func NewService(ctx context.Context, cfg Config, store vector.Store, source embedding.Source) (Service, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("service", "faceblade"),
	)

	svc := &service{
		store:  store,
		source: source,
		cfg:    cfg,
		log:    log,
	}

	ctx, cancel := svc.withTimeout(ctx)
	defer cancel()

	if err := EnsureCollection(ctx, store, cfg.Collection); err != nil {
		return nil, collaborator(err)
	}

	return svc, nil
}

// EnsureCollection creates the collection if it is missing, and otherwise
// checks that it was created with the same dimension and distance.
func EnsureCollection(ctx context.Context, store vector.Store, want vector.CollectionInfo) error {
	info, err := store.Collection(ctx, want.Name)
	if errors.Is(err, vector.ErrCollectionNotFound) {
		err := store.CreateCollection(ctx, want)
		if err == nil {
			return nil
		}

		if !errors.Is(err, vector.ErrCollectionExists) {
			return err
		}

		info, err = store.Collection(ctx, want.Name)
	}

	if err != nil {
		return err
	}

	if info.Dimension != want.Dimension || info.Distance != want.Distance {
		return fmt.Errorf("%w: collection %s has dimension %d and distance %s, configured %d and %s",
			vector.ErrInvalidConfig, info.Name, info.Dimension, info.Distance, want.Dimension, want.Distance)
	}

	return nil
}

type service struct {
	// Vector store (thread-safe by itself)
	store  vector.Store
	source embedding.Source

	cfg Config
	log *zap.Logger
}

func (svc *service) Close() error {
	return svc.store.Close()
}

func (svc *service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, svc.cfg.Timeout.Duration())
}

// collaborator marks timeouts and transport failures as unavailability.
func collaborator(err error) error {
	if err == nil || errors.Is(err, ErrCollaboratorUnavailable) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, vector.ErrUnavailable) ||
		errors.Is(err, embedding.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrCollaboratorUnavailable, err)
	}

	return err
}

// perImage reports whether err concerns only the image that caused it.
func perImage(err error) bool {
	return errors.Is(err, embedding.ErrDetectionFailed) ||
		errors.Is(err, embedding.ErrEmbeddingFailed) ||
		errors.Is(err, ErrEmptyImage)
}

func (svc *service) embed(ctx context.Context, crop []byte) ([]float32, error) {
	if len(crop) == 0 {
		return nil, ErrEmptyImage
	}

	ctx, cancel := svc.withTimeout(ctx)
	defer cancel()

	return svc.source.Embed(ctx, crop)
}

func (svc *service) threshold(thresh float32) (Threshold, error) {
	if thresh == 0 {
		return svc.cfg.Recognition.Threshold, nil
	}

	t := Threshold(thresh)
	if err := t.Validate(); err != nil {
		return 0, err
	}

	return t, nil
}

func (svc *service) Register(ctx context.Context, images [][]byte, scope Scope) ([]FaceStatus, error) {
	if err := scope.ValidatePerson(); err != nil {
		return nil, err
	}

	if len(images) == 0 {
		return nil, ErrNoImages
	}

	var (
		statuses   = make([]FaceStatus, len(images))
		embeddings = make([][]float32, len(images))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(svc.cfg.Concurrency)

	for i, img := range images {
		statuses[i].Index = i

		g.Go(func() error {
			id, err := HashFace(img)
			if err != nil {
				statuses[i].Error = err.Error()
				return nil
			}

			vec, err := svc.embed(gctx, img)
			if err != nil {
				if perImage(err) {
					statuses[i].Error = err.Error()
					return nil
				}

				return err
			}

			statuses[i].FaceID = id
			embeddings[i] = vec
			return nil
		})
	}

	// nothing is stored when the encoder is unreachable
	if err := g.Wait(); err != nil {
		return nil, collaborator(err)
	}

	var (
		points = make([]vector.Point, 0, len(images))
		seen   = make(map[string]struct{})
	)

	for i, status := range statuses {
		if !status.OK() {
			svc.log.Warn("image rejected",
				zap.String("action", "register"),
				zap.Int("index", i),
				zap.String("error", status.Error),
			)
			continue
		}

		if _, ok := seen[status.FaceID]; ok {
			continue
		}
		seen[status.FaceID] = struct{}{}

		points = append(points, vector.Point{
			ID:        status.FaceID,
			Embedding: embeddings[i],
			Payload: vector.Payload{
				GroupID:  scope.GroupID,
				PersonID: scope.PersonID,
			},
		})
	}

	if len(points) == 0 {
		return statuses, nil
	}

	uctx, cancel := svc.withTimeout(ctx)
	defer cancel()

	if err := svc.store.Upsert(uctx, svc.cfg.Collection.Name, points...); err != nil {
		return nil, collaborator(err)
	}

	return statuses, nil
}

// check runs the top-1 query for every image under filter and applies the
// strict threshold to the best candidate.
func (svc *service) check(ctx context.Context, images [][]byte, filter vector.Filter, thresh Threshold) (*CheckResult, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	verdicts := make([]Verdict, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(svc.cfg.Concurrency)

	for i, img := range images {
		verdicts[i].Index = i

		g.Go(func() error {
			vec, err := svc.embed(gctx, img)
			if err != nil {
				if perImage(err) {
					verdicts[i].Error = err.Error()
					return nil
				}

				return err
			}

			qctx, cancel := svc.withTimeout(gctx)
			defer cancel()

			candidates, err := svc.store.Query(qctx, svc.cfg.Collection.Name, vec, filter, 1)
			if err != nil {
				return err
			}

			if len(candidates) == 0 {
				return nil
			}

			top := candidates[0]
			verdicts[i].Score = top.Score

			if thresh.Accepts(top.Score) {
				verdicts[i].Match = true
				verdicts[i].FaceID = top.ID
				verdicts[i].PersonID = top.Payload.PersonID
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, collaborator(err)
	}

	return &CheckResult{
		Verdicts: verdicts,
	}, nil
}

func (svc *service) CheckSingle(ctx context.Context, images [][]byte, scope Scope, thresh float32, policy ...Policy) (*CheckResult, error) {
	if err := scope.ValidatePerson(); err != nil {
		return nil, err
	}

	p := svc.cfg.Recognition.Policy
	if len(policy) > 0 && policy[0] != "" {
		parsed, err := ParsePolicy(string(policy[0]))
		if err != nil {
			return nil, err
		}

		p = parsed
	}

	t, err := svc.threshold(thresh)
	if err != nil {
		return nil, err
	}

	result, err := svc.check(ctx, images, scope.Filter(), t)
	if err != nil {
		return nil, err
	}

	result.aggregate(p)
	return result, nil
}

func (svc *service) CheckMulti(ctx context.Context, images [][]byte, groupID string, thresh float32) (*CheckResult, error) {
	scope := Scope{GroupID: groupID}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	t, err := svc.threshold(thresh)
	if err != nil {
		return nil, err
	}

	return svc.check(ctx, images, scope.Filter(), t)
}

func (svc *service) list(ctx context.Context, filter vector.Filter) ([]Face, error) {
	ctx, cancel := svc.withTimeout(ctx)
	defer cancel()

	points, err := svc.store.List(ctx, svc.cfg.Collection.Name, filter)
	if err != nil {
		return nil, collaborator(err)
	}

	faces := make([]Face, len(points))
	for i, p := range points {
		faces[i] = PointToFace(p)
	}

	return faces, nil
}

func (svc *service) ListFaces(ctx context.Context, scope Scope) ([]Face, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	return svc.list(ctx, scope.Filter())
}

func (svc *service) ListAllFaces(ctx context.Context) ([]Face, error) {
	return svc.list(ctx, vector.Filter{})
}

func (svc *service) DeleteFaces(ctx context.Context, faceID string, scope Scope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	filter := scope.Filter()
	if faceID != "" {
		filter.FaceIDs = []string{faceID}
	}

	ctx, cancel := svc.withTimeout(ctx)
	defer cancel()

	count, err := svc.store.Delete(ctx, svc.cfg.Collection.Name, filter)
	if err != nil {
		return 0, collaborator(err)
	}

	return count, nil
}

func (svc *service) PurgeFace(ctx context.Context, faceID string) (bool, error) {
	if faceID == "" {
		return false, fmt.Errorf("%w: face id is required", ErrFaceNotFound)
	}

	ctx, cancel := svc.withTimeout(ctx)
	defer cancel()

	ok, err := svc.store.DeleteByID(ctx, svc.cfg.Collection.Name, faceID)
	if err != nil {
		return false, collaborator(err)
	}

	return ok, nil
}

