package qdrant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/flarexio/faceblade/vector"
)

const (
	fieldGroupID  = "group_id"
	fieldPersonID = "person_id"

	scrollPageSize = 256
)

// NewQdrantStore connects to a Qdrant instance over gRPC. Point ids must be
// UUID strings.
func NewQdrantStore(cfg vector.Config) (vector.Store, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrUnavailable, err)
	}

	return &qdrantStore{client: client}, nil
}

type qdrantStore struct {
	client *qdrant.Client
	infos  sync.Map
}

func wrap(err error) error {
	if err == nil {
		return nil
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted:
		return fmt.Errorf("%w: %w", vector.ErrUnavailable, err)
	}

	return err
}

func toQdrantDistance(d vector.Distance) qdrant.Distance {
	switch d {
	case vector.DistanceEuclidean:
		return qdrant.Distance_Euclid
	case vector.DistanceDot:
		return qdrant.Distance_Dot
	case vector.DistanceManhattan:
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

func fromQdrantDistance(d qdrant.Distance) (vector.Distance, error) {
	switch d {
	case qdrant.Distance_Cosine:
		return vector.DistanceCosine, nil
	case qdrant.Distance_Euclid:
		return vector.DistanceEuclidean, nil
	case qdrant.Distance_Dot:
		return vector.DistanceDot, nil
	case qdrant.Distance_Manhattan:
		return vector.DistanceManhattan, nil
	default:
		return "", fmt.Errorf("%w: unsupported qdrant distance %s", vector.ErrInvalidConfig, d)
	}
}

// score maps a qdrant score onto "higher is more similar". Qdrant already
// reports similarity for cosine and dot, but raw distance for the others.
func score(d vector.Distance, raw float32) float32 {
	switch d {
	case vector.DistanceEuclidean, vector.DistanceManhattan:
		return vector.FromDistance(raw)
	default:
		return raw
	}
}

// validIDs keeps the ids Qdrant can address. Anything else names no point.
func validIDs(ids []string) []*qdrant.PointId {
	valid := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			continue
		}

		valid = append(valid, qdrant.NewID(id))
	}

	return valid
}

// matchesNothing reports a face id filter without a single addressable id.
func matchesNothing(filter vector.Filter) bool {
	return len(filter.FaceIDs) > 0 && len(validIDs(filter.FaceIDs)) == 0
}

func toFilter(filter vector.Filter) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, 3)

	if filter.GroupID != "" {
		conditions = append(conditions, qdrant.NewMatch(fieldGroupID, filter.GroupID))
	}

	if filter.PersonID != "" {
		conditions = append(conditions, qdrant.NewMatch(fieldPersonID, filter.PersonID))
	}

	if len(filter.FaceIDs) > 0 {
		conditions = append(conditions, qdrant.NewHasID(validIDs(filter.FaceIDs)...))
	}

	if len(conditions) == 0 {
		return nil
	}

	return &qdrant.Filter{
		Must: conditions,
	}
}

func pointID(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}

	return fmt.Sprint(id.GetNum())
}

func toPayload(payload map[string]*qdrant.Value) vector.Payload {
	return vector.Payload{
		GroupID:  payload[fieldGroupID].GetStringValue(),
		PersonID: payload[fieldPersonID].GetStringValue(),
	}
}

func (s *qdrantStore) CreateCollection(ctx context.Context, info vector.CollectionInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	distance, _ := vector.ParseDistance(string(info.Distance))
	info.Distance = distance

	exists, err := s.client.CollectionExists(ctx, info.Name)
	if err != nil {
		return wrap(err)
	}

	if exists {
		return fmt.Errorf("%w: %s", vector.ErrCollectionExists, info.Name)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: info.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(info.Dimension),
			Distance: toQdrantDistance(info.Distance),
		}),
	})
	if err != nil {
		return wrap(err)
	}

	// keyword indexes back the scope filters
	for _, field := range []string{fieldGroupID, fieldPersonID} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: info.Name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return wrap(err)
		}
	}

	s.infos.Store(info.Name, info)
	return nil
}

func (s *qdrantStore) Collection(ctx context.Context, name string) (vector.CollectionInfo, error) {
	if v, ok := s.infos.Load(name); ok {
		return v.(vector.CollectionInfo), nil
	}

	result, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return vector.CollectionInfo{}, fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
		}

		return vector.CollectionInfo{}, wrap(err)
	}

	params := result.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return vector.CollectionInfo{}, fmt.Errorf("%w: collection %s has no default vector", vector.ErrInvalidConfig, name)
	}

	distance, err := fromQdrantDistance(params.GetDistance())
	if err != nil {
		return vector.CollectionInfo{}, err
	}

	info := vector.CollectionInfo{
		Name:      name,
		Dimension: int(params.GetSize()),
		Distance:  distance,
	}

	s.infos.Store(name, info)
	return info, nil
}

func (s *qdrantStore) Collections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, wrap(err)
	}

	return names, nil
}

func (s *qdrantStore) DropCollection(ctx context.Context, name string) error {
	if _, err := s.Collection(ctx, name); err != nil {
		return err
	}

	s.infos.Delete(name)
	return wrap(s.client.DeleteCollection(ctx, name))
}

func (s *qdrantStore) Upsert(ctx context.Context, collection string, points ...vector.Point) error {
	info, err := s.Collection(ctx, collection)
	if err != nil {
		return err
	}

	for _, p := range points {
		if err := vector.CheckDimension(info, p.Embedding); err != nil {
			return err
		}
	}

	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				fieldGroupID:  p.Payload.GroupID,
				fieldPersonID: p.Payload.PersonID,
			}),
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})

	return wrap(err)
}

func (s *qdrantStore) Query(ctx context.Context, collection string, embedding []float32, filter vector.Filter, k int) ([]vector.Candidate, error) {
	info, err := s.Collection(ctx, collection)
	if err != nil {
		return nil, err
	}

	if err := vector.CheckDimension(info, embedding); err != nil {
		return nil, err
	}

	if k <= 0 || matchesNothing(filter) {
		return []vector.Candidate{}, nil
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(embedding...),
		Filter:         toFilter(filter),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, wrap(err)
	}

	candidates := make([]vector.Candidate, len(results))
	for i, result := range results {
		candidates[i] = vector.Candidate{
			ID:      pointID(result.GetId()),
			Score:   score(info.Distance, result.GetScore()),
			Payload: toPayload(result.GetPayload()),
		}
	}

	return candidates, nil
}

func (s *qdrantStore) DeleteByID(ctx context.Context, collection string, id string) (bool, error) {
	if _, err := s.Collection(ctx, collection); err != nil {
		return false, err
	}

	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
	})
	if err != nil {
		return false, wrap(err)
	}

	if len(existing) == 0 {
		return false, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(qdrant.NewID(id)),
	})
	if err != nil {
		return false, wrap(err)
	}

	return true, nil
}

// Delete counts and then removes the matching points. A concurrent insert
// into the same scope between the two calls is removed but not counted.
func (s *qdrantStore) Delete(ctx context.Context, collection string, filter vector.Filter) (int, error) {
	if _, err := s.Collection(ctx, collection); err != nil {
		return 0, err
	}

	if matchesNothing(filter) {
		return 0, nil
	}

	f := toFilter(filter)
	if f == nil {
		f = &qdrant.Filter{}
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         f,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, wrap(err)
	}

	if count == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(f),
	})
	if err != nil {
		return 0, wrap(err)
	}

	return int(count), nil
}

func (s *qdrantStore) List(ctx context.Context, collection string, filter vector.Filter) ([]vector.Point, error) {
	if _, err := s.Collection(ctx, collection); err != nil {
		return nil, err
	}

	points := make([]vector.Point, 0)
	if matchesNothing(filter) {
		return points, nil
	}

	var offset *qdrant.PointId
	for {
		resp, err := s.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         toFilter(filter),
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, wrap(err)
		}

		for _, result := range resp.GetResult() {
			points = append(points, vector.Point{
				ID:      pointID(result.GetId()),
				Payload: toPayload(result.GetPayload()),
			})
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	return points, nil
}

func (s *qdrantStore) Close() error {
	err := s.client.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
