// Package vectortest holds the behavioural suite every vector.Store backend runs.
package vectortest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/flarexio/faceblade/vector"
)

type StoreSuite struct {
	suite.Suite

	// NewStore returns an empty store. Called once per test.
	NewStore func() vector.Store

	// Distances lists the metrics the backend supports.
	Distances []vector.Distance

	ctx        context.Context
	store      vector.Store
	collection string
}

var seq atomic.Int64

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore()
	s.collection = fmt.Sprintf("faces_%d", seq.Add(1))

	err := s.store.CreateCollection(s.ctx, vector.CollectionInfo{
		Name:      s.collection,
		Dimension: 3,
		Distance:  vector.DistanceCosine,
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.store.DropCollection(s.ctx, s.collection)
		s.store.Close()
	}
}

// FaceID returns a deterministic UUID so backends that only accept UUID ids work.
func FaceID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func point(name string, group string, person string, embedding ...float32) vector.Point {
	return vector.Point{
		ID:        FaceID(name),
		Embedding: embedding,
		Payload: vector.Payload{
			GroupID:  group,
			PersonID: person,
		},
	}
}

func (s *StoreSuite) seed() {
	err := s.store.Upsert(s.ctx, s.collection,
		point("alice-1", "eng", "alice", 1, 0, 0),
		point("alice-2", "eng", "alice", 0.9, 0.1, 0),
		point("bob-1", "eng", "bob", 0, 1, 0),
		point("carol-1", "ops", "carol", 0, 0, 1),
	)
	s.Require().NoError(err)
}

func (s *StoreSuite) TestCreateCollection() {
	err := s.store.CreateCollection(s.ctx, vector.CollectionInfo{
		Name:      s.collection,
		Dimension: 3,
		Distance:  vector.DistanceCosine,
	})
	s.ErrorIs(err, vector.ErrCollectionExists)

	err = s.store.CreateCollection(s.ctx, vector.CollectionInfo{
		Name:      s.collection + "_zero",
		Dimension: 0,
	})
	s.ErrorIs(err, vector.ErrInvalidConfig)

	info, err := s.store.Collection(s.ctx, s.collection)
	s.Require().NoError(err)
	s.Equal(3, info.Dimension)
	s.Equal(vector.DistanceCosine, info.Distance)

	_, err = s.store.Collection(s.ctx, s.collection+"_missing")
	s.ErrorIs(err, vector.ErrCollectionNotFound)

	names, err := s.store.Collections(s.ctx)
	s.Require().NoError(err)
	s.Contains(names, s.collection)
}

func (s *StoreSuite) TestDistances() {
	for _, d := range s.Distances {
		name := s.collection + "_" + string(d)

		err := s.store.CreateCollection(s.ctx, vector.CollectionInfo{
			Name:      name,
			Dimension: 2,
			Distance:  d,
		})
		s.Require().NoError(err, string(d))

		err = s.store.Upsert(s.ctx, name,
			point("near", "g", "p", 0.9, 0.1),
			point("far", "g", "p", -1, 0),
		)
		s.Require().NoError(err, string(d))

		candidates, err := s.store.Query(s.ctx, name, []float32{1, 0}, vector.Filter{GroupID: "g"}, 2)
		s.Require().NoError(err, string(d))
		s.Require().Len(candidates, 2, string(d))
		s.Equal(FaceID("near"), candidates[0].ID, string(d))
		s.Greater(candidates[0].Score, candidates[1].Score, string(d))

		s.NoError(s.store.DropCollection(s.ctx, name))
	}
}

func (s *StoreSuite) TestUpsertDimensionMismatch() {
	err := s.store.Upsert(s.ctx, s.collection, point("short", "eng", "alice", 1, 0))
	s.ErrorIs(err, vector.ErrDimensionMismatch)

	err = s.store.Upsert(s.ctx, s.collection, point("long", "eng", "alice", 1, 0, 0, 0))
	s.ErrorIs(err, vector.ErrDimensionMismatch)

	points, err := s.store.List(s.ctx, s.collection, vector.Filter{})
	s.Require().NoError(err)
	s.Empty(points)
}

func (s *StoreSuite) TestUpsertIsIdempotent() {
	p := point("alice-1", "eng", "alice", 1, 0, 0)

	s.Require().NoError(s.store.Upsert(s.ctx, s.collection, p))
	s.Require().NoError(s.store.Upsert(s.ctx, s.collection, p))

	points, err := s.store.List(s.ctx, s.collection, vector.Filter{GroupID: "eng"})
	s.Require().NoError(err)
	s.Len(points, 1)
	s.Equal(p.ID, points[0].ID)
}

func (s *StoreSuite) TestConcurrentUpsert() {
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			p := point(fmt.Sprintf("face-%d", i%4), "eng", "alice", 1, float32(i%4), 0)
			s.NoError(s.store.Upsert(s.ctx, s.collection, p))
		}(i)
	}
	wg.Wait()

	points, err := s.store.List(s.ctx, s.collection, vector.Filter{GroupID: "eng"})
	s.Require().NoError(err)
	s.Len(points, 4)
}

func (s *StoreSuite) TestQueryScoped() {
	s.seed()

	candidates, err := s.store.Query(s.ctx, s.collection, []float32{1, 0, 0},
		vector.Filter{GroupID: "eng", PersonID: "bob"}, 1)
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(FaceID("bob-1"), candidates[0].ID)
	s.Equal("bob", candidates[0].Payload.PersonID)

	candidates, err = s.store.Query(s.ctx, s.collection, []float32{1, 0, 0},
		vector.Filter{GroupID: "eng"}, 10)
	s.Require().NoError(err)
	s.Require().Len(candidates, 3)
	s.Equal(FaceID("alice-1"), candidates[0].ID)
	s.Equal(FaceID("alice-2"), candidates[1].ID)
	for _, c := range candidates {
		s.Equal("eng", c.Payload.GroupID)
	}

	candidates, err = s.store.Query(s.ctx, s.collection, []float32{1, 0, 0},
		vector.Filter{GroupID: "sales"}, 1)
	s.Require().NoError(err)
	s.Empty(candidates)

	_, err = s.store.Query(s.ctx, s.collection, []float32{1, 0}, vector.Filter{GroupID: "eng"}, 1)
	s.ErrorIs(err, vector.ErrDimensionMismatch)
}

func (s *StoreSuite) TestQueryEmptyCollection() {
	candidates, err := s.store.Query(s.ctx, s.collection, []float32{1, 0, 0},
		vector.Filter{GroupID: "eng"}, 1)
	s.Require().NoError(err)
	s.Empty(candidates)
}

func (s *StoreSuite) TestList() {
	s.seed()

	points, err := s.store.List(s.ctx, s.collection, vector.Filter{GroupID: "eng", PersonID: "alice"})
	s.Require().NoError(err)
	s.Len(points, 2)
	for _, p := range points {
		s.Equal("eng", p.Payload.GroupID)
		s.Equal("alice", p.Payload.PersonID)
	}

	points, err = s.store.List(s.ctx, s.collection, vector.Filter{})
	s.Require().NoError(err)
	s.Len(points, 4)

	points, err = s.store.List(s.ctx, s.collection, vector.Filter{GroupID: "eng", PersonID: "dave"})
	s.Require().NoError(err)
	s.Empty(points)
}

func (s *StoreSuite) TestDeleteByID() {
	s.seed()

	ok, err := s.store.DeleteByID(s.ctx, s.collection, FaceID("bob-1"))
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.DeleteByID(s.ctx, s.collection, FaceID("bob-1"))
	s.Require().NoError(err)
	s.False(ok)

	points, err := s.store.List(s.ctx, s.collection, vector.Filter{})
	s.Require().NoError(err)
	s.Len(points, 3)
}

func (s *StoreSuite) TestDelete() {
	s.seed()

	count, err := s.store.Delete(s.ctx, s.collection, vector.Filter{GroupID: "eng", PersonID: "alice"})
	s.Require().NoError(err)
	s.Equal(2, count)

	points, err := s.store.List(s.ctx, s.collection, vector.Filter{GroupID: "eng", PersonID: "alice"})
	s.Require().NoError(err)
	s.Empty(points)

	count, err = s.store.Delete(s.ctx, s.collection, vector.Filter{GroupID: "eng", PersonID: "alice"})
	s.Require().NoError(err)
	s.Equal(0, count)

	// a face id outside the scope is left alone
	count, err = s.store.Delete(s.ctx, s.collection, vector.Filter{
		GroupID: "eng",
		FaceIDs: []string{FaceID("carol-1")},
	})
	s.Require().NoError(err)
	s.Equal(0, count)

	count, err = s.store.Delete(s.ctx, s.collection, vector.Filter{
		GroupID: "ops",
		FaceIDs: []string{FaceID("carol-1")},
	})
	s.Require().NoError(err)
	s.Equal(1, count)

	points, err = s.store.List(s.ctx, s.collection, vector.Filter{})
	s.Require().NoError(err)
	s.Len(points, 1)
	s.Equal(FaceID("bob-1"), points[0].ID)
}

func (s *StoreSuite) TestUnknownFaceIDs() {
	s.seed()

	// ids that are not UUIDs can never name a stored point
	for _, id := range []string{"abc", FaceID("dave-1")} {
		ok, err := s.store.DeleteByID(s.ctx, s.collection, id)
		s.Require().NoError(err, id)
		s.False(ok, id)

		filter := vector.Filter{GroupID: "eng", FaceIDs: []string{id}}

		points, err := s.store.List(s.ctx, s.collection, filter)
		s.Require().NoError(err, id)
		s.Empty(points, id)

		count, err := s.store.Delete(s.ctx, s.collection, filter)
		s.Require().NoError(err, id)
		s.Zero(count, id)
	}

	count, err := s.store.Delete(s.ctx, s.collection, vector.Filter{
		GroupID: "eng",
		FaceIDs: []string{"abc", FaceID("bob-1")},
	})
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *StoreSuite) TestListPages() {
	const total = 600

	points := make([]vector.Point, total)
	for i := range points {
		points[i] = point(fmt.Sprintf("face-%d", i), "eng", "alice", 1, float32(i), 0)
	}
	s.Require().NoError(s.store.Upsert(s.ctx, s.collection, points...))

	listed, err := s.store.List(s.ctx, s.collection, vector.Filter{GroupID: "eng"})
	s.Require().NoError(err)
	s.Len(listed, total)

	seen := make(map[string]struct{}, total)
	for _, p := range listed {
		seen[p.ID] = struct{}{}
	}
	s.Len(seen, total)
}
