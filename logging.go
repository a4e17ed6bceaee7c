package faceblade

import (
	"context"

	"go.uber.org/zap"
)

func LoggingMiddleware(log *zap.Logger) ServiceMiddleware {
	log = log.With(
		zap.String("service", "faceblade"),
	)

	return func(next Service) Service {
		log.Info("service initialized")

		return &loggingMiddleware{
			log:  log,
			next: next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Service
}

func scopeFields(scope Scope) []zap.Field {
	fields := []zap.Field{
		zap.String("group_id", scope.GroupID),
	}

	if scope.PersonID != "" {
		fields = append(fields, zap.String("person_id", scope.PersonID))
	}

	return fields
}

func (mw *loggingMiddleware) Close() error {
	log := mw.log.With(
		zap.String("action", "close"),
	)

	err := mw.next.Close()
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("service closed")
	return nil
}

func (mw *loggingMiddleware) Register(ctx context.Context, images [][]byte, scope Scope) ([]FaceStatus, error) {
	log := mw.log.With(
		zap.String("action", "register"),
		zap.Int("images", len(images)),
	).With(scopeFields(scope)...)

	statuses, err := mw.next.Register(ctx, images, scope)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	stored := 0
	for _, status := range statuses {
		if status.OK() {
			stored++
		}
	}

	log.Info("faces registered",
		zap.Int("stored", stored),
		zap.Int("rejected", len(statuses)-stored),
	)
	return statuses, nil
}

func (mw *loggingMiddleware) CheckSingle(ctx context.Context, images [][]byte, scope Scope, thresh float32, policy ...Policy) (*CheckResult, error) {
	log := mw.log.With(
		zap.String("action", "check_single"),
		zap.Int("images", len(images)),
		zap.Float32("threshold", thresh),
	).With(scopeFields(scope)...)

	if len(policy) > 0 {
		log = log.With(
			zap.String("policy", string(policy[0])),
		)
	}

	result, err := mw.next.CheckSingle(ctx, images, scope, thresh, policy...)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	if result.Match != nil {
		log = log.With(zap.Bool("match", *result.Match))
	}

	log.Info("faces checked", zap.Int("matched", matched(result)))
	return result, nil
}

func (mw *loggingMiddleware) CheckMulti(ctx context.Context, images [][]byte, groupID string, thresh float32) (*CheckResult, error) {
	log := mw.log.With(
		zap.String("action", "check_multi"),
		zap.Int("images", len(images)),
		zap.Float32("threshold", thresh),
		zap.String("group_id", groupID),
	)

	result, err := mw.next.CheckMulti(ctx, images, groupID, thresh)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("faces identified", zap.Int("matched", matched(result)))
	return result, nil
}

func matched(result *CheckResult) int {
	n := 0
	for _, v := range result.Verdicts {
		if v.Match {
			n++
		}
	}

	return n
}

func (mw *loggingMiddleware) ListFaces(ctx context.Context, scope Scope) ([]Face, error) {
	log := mw.log.With(
		zap.String("action", "list_faces"),
	).With(scopeFields(scope)...)

	faces, err := mw.next.ListFaces(ctx, scope)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("faces listed", zap.Int("count", len(faces)))
	return faces, nil
}

func (mw *loggingMiddleware) DeleteFaces(ctx context.Context, faceID string, scope Scope) (int, error) {
	log := mw.log.With(
		zap.String("action", "delete_faces"),
	).With(scopeFields(scope)...)

	if faceID != "" {
		log = log.With(
			zap.String("face_id", faceID),
		)
	}

	count, err := mw.next.DeleteFaces(ctx, faceID, scope)
	if err != nil {
		log.Error(err.Error())
		return 0, err
	}

	log.Info("faces deleted", zap.Int("count", count))
	return count, nil
}

func (mw *loggingMiddleware) ListAllFaces(ctx context.Context) ([]Face, error) {
	log := mw.log.With(
		zap.String("action", "list_all_faces"),
	)

	faces, err := mw.next.ListAllFaces(ctx)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("faces listed", zap.Int("count", len(faces)))
	return faces, nil
}

func (mw *loggingMiddleware) PurgeFace(ctx context.Context, faceID string) (bool, error) {
	log := mw.log.With(
		zap.String("action", "purge_face"),
		zap.String("face_id", faceID),
	)

	ok, err := mw.next.PurgeFace(ctx, faceID)
	if err != nil {
		log.Error(err.Error())
		return false, err
	}

	log.Info("face purged", zap.Bool("existed", ok))
	return ok, nil
}
