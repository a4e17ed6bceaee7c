package faceblade

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/flarexio/faceblade/embedding"
	"github.com/flarexio/faceblade/persistence/memory"
	"github.com/flarexio/faceblade/vector"
)

// fakeEncoder maps crop contents to fixed embeddings. Unknown crops have no
// detectable face.
type fakeEncoder map[string][]float32

func (enc fakeEncoder) Embed(ctx context.Context, crop []byte) ([]float32, error) {
	if string(crop) == "offline" {
		return nil, embedding.ErrUnavailable
	}

	vec, ok := enc[string(crop)]
	if !ok {
		return nil, embedding.ErrDetectionFailed
	}

	return vec, nil
}

var encoder = fakeEncoder{
	"alice-1":     {1, 0, 0},
	"alice-2":     {0.96, 0.04, 0},
	"alice-query": {0.9, 0.1, 0},
	"bob-1":       {0, 1, 0},
	"bob-query":   {0.1, 0.9, 0},
	"carol-query": {0, 0, 1},
	"wide":        {1, 0, 0, 0},
}

func testConfig() Config {
	return Config{
		Collection: vector.CollectionInfo{
			Name:      "faces",
			Dimension: 3,
			Distance:  vector.DistanceCosine,
		},
		Recognition: RecognitionConfig{
			Threshold: 0.4,
		},
		Timeout: Duration(time.Second),
	}
}

func images(crops ...string) [][]byte {
	bs := make([][]byte, len(crops))
	for i, crop := range crops {
		bs[i] = []byte(crop)
	}

	return bs
}

type faceBladeTestSuite struct {
	suite.Suite
	ctx   context.Context
	store vector.Store
	svc   Service
}

func (suite *faceBladeTestSuite) SetupTest() {
	ctx := context.Background()
	store := memory.NewMemoryStore()

	svc, err := NewService(ctx, testConfig(), store, encoder)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.ctx = ctx
	suite.store = store
	suite.svc = svc
}

func (suite *faceBladeTestSuite) TearDownTest() {
	suite.svc.Close()
}

func (suite *faceBladeTestSuite) register(scope Scope, crops ...string) []FaceStatus {
	statuses, err := suite.svc.Register(suite.ctx, images(crops...), scope)
	suite.Require().NoError(err)
	return statuses
}

func (suite *faceBladeTestSuite) TestRegisterAndCheck() {
	alice := Scope{GroupID: "default", PersonID: "alice"}

	statuses := suite.register(alice, "alice-1", "alice-2")
	suite.Len(statuses, 2)
	suite.True(statuses[0].OK())
	suite.True(statuses[1].OK())
	suite.NotEqual(statuses[0].FaceID, statuses[1].FaceID)

	result, err := suite.svc.CheckSingle(suite.ctx, images("alice-query"), alice, 0)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Nil(result.Match)
	suite.Len(result.Verdicts, 1)

	verdict := result.Verdicts[0]
	suite.True(verdict.Match)
	suite.Equal("alice", verdict.PersonID)
	suite.Greater(verdict.Score, float32(0.9))

	result, err = suite.svc.CheckSingle(suite.ctx, images("bob-query"), alice, 0)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.False(result.Verdicts[0].Match)
	suite.Empty(result.Verdicts[0].FaceID)
	suite.Empty(result.Verdicts[0].PersonID)
}

func (suite *faceBladeTestSuite) TestRegisterIsIdempotent() {
	alice := Scope{GroupID: "default", PersonID: "alice"}

	first := suite.register(alice, "alice-1")
	second := suite.register(alice, "alice-1", "alice-1")

	suite.Equal(first[0].FaceID, second[0].FaceID)
	suite.Equal(first[0].FaceID, second[1].FaceID)

	faces, err := suite.svc.ListFaces(suite.ctx, alice)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Len(faces, 1)
	suite.Equal(first[0].FaceID, faces[0].ID)
}

func (suite *faceBladeTestSuite) TestRegisterRejectsBadImagesIndividually() {
	alice := Scope{GroupID: "default", PersonID: "alice"}

	statuses := suite.register(alice, "alice-1", "landscape", "")
	suite.Len(statuses, 3)

	suite.True(statuses[0].OK())
	suite.Equal(0, statuses[0].Index)

	suite.False(statuses[1].OK())
	suite.Contains(statuses[1].Error, embedding.ErrDetectionFailed.Error())
	suite.Empty(statuses[1].FaceID)

	suite.False(statuses[2].OK())
	suite.Contains(statuses[2].Error, ErrEmptyImage.Error())

	faces, err := suite.svc.ListFaces(suite.ctx, alice)
	suite.Require().NoError(err)
	suite.Len(faces, 1)
}

func (suite *faceBladeTestSuite) TestRegisterWrongDimension() {
	alice := Scope{GroupID: "default", PersonID: "alice"}

	_, err := suite.svc.Register(suite.ctx, images("alice-1", "wide"), alice)
	suite.ErrorIs(err, vector.ErrDimensionMismatch)

	faces, err := suite.svc.ListFaces(suite.ctx, alice)
	suite.Require().NoError(err)
	suite.Empty(faces)
}

func (suite *faceBladeTestSuite) TestRegisterEncoderUnavailable() {
	alice := Scope{GroupID: "default", PersonID: "alice"}

	_, err := suite.svc.Register(suite.ctx, images("alice-1", "offline"), alice)
	suite.ErrorIs(err, ErrCollaboratorUnavailable)

	faces, err := suite.svc.ListFaces(suite.ctx, alice)
	suite.Require().NoError(err)
	suite.Empty(faces, "nothing is stored when the encoder fails")
}

func (suite *faceBladeTestSuite) TestInvalidRequests() {
	_, err := suite.svc.Register(suite.ctx, images("alice-1"), Scope{GroupID: "default"})
	suite.ErrorIs(err, ErrInvalidScope)

	_, err = suite.svc.Register(suite.ctx, nil, Scope{GroupID: "default", PersonID: "alice"})
	suite.ErrorIs(err, ErrNoImages)

	_, err = suite.svc.CheckSingle(suite.ctx, images("alice-query"), Scope{PersonID: "alice"}, 0)
	suite.ErrorIs(err, ErrInvalidScope)

	_, err = suite.svc.CheckSingle(suite.ctx, images("alice-query"), Scope{GroupID: "default", PersonID: "alice"}, 1.5)
	suite.ErrorIs(err, ErrInvalidThreshold)

	_, err = suite.svc.CheckSingle(suite.ctx, images("alice-query"), Scope{GroupID: "default", PersonID: "alice"}, 0, "majority")
	suite.ErrorIs(err, ErrInvalidPolicy)

	_, err = suite.svc.CheckMulti(suite.ctx, nil, "default", 0)
	suite.ErrorIs(err, ErrNoImages)

	_, err = suite.svc.CheckMulti(suite.ctx, images("alice-query"), "", 0)
	suite.ErrorIs(err, ErrInvalidScope)

	_, err = suite.svc.ListFaces(suite.ctx, Scope{})
	suite.ErrorIs(err, ErrInvalidScope)

	_, err = suite.svc.DeleteFaces(suite.ctx, "", Scope{})
	suite.ErrorIs(err, ErrInvalidScope)
}

func (suite *faceBladeTestSuite) TestCheckSinglePolicies() {
	alice := Scope{GroupID: "default", PersonID: "alice"}
	suite.register(alice, "alice-1")

	crops := images("alice-query", "bob-query", "landscape")

	result, err := suite.svc.CheckSingle(suite.ctx, crops, alice, 0, PolicyAll)
	suite.Require().NoError(err)
	suite.Require().NotNil(result.Match)
	suite.False(*result.Match)

	result, err = suite.svc.CheckSingle(suite.ctx, crops, alice, 0, PolicyAny)
	suite.Require().NoError(err)
	suite.Require().NotNil(result.Match)
	suite.True(*result.Match)

	suite.Len(result.Verdicts, 3)
	suite.Contains(result.Verdicts[2].Error, embedding.ErrDetectionFailed.Error())
}

func (suite *faceBladeTestSuite) TestCheckMulti() {
	suite.register(Scope{GroupID: "office", PersonID: "alice"}, "alice-1")
	suite.register(Scope{GroupID: "office", PersonID: "bob"}, "bob-1")

	result, err := suite.svc.CheckMulti(suite.ctx, images("bob-query", "alice-query", "carol-query"), "office", 0)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Len(result.Verdicts, 3)
	suite.Nil(result.Match)

	suite.True(result.Verdicts[0].Match)
	suite.Equal("bob", result.Verdicts[0].PersonID)

	suite.True(result.Verdicts[1].Match)
	suite.Equal("alice", result.Verdicts[1].PersonID)

	suite.False(result.Verdicts[2].Match)
	suite.Empty(result.Verdicts[2].PersonID)
}

func (suite *faceBladeTestSuite) TestGroupsAreIsolated() {
	suite.register(Scope{GroupID: "office", PersonID: "alice"}, "alice-1")

	result, err := suite.svc.CheckMulti(suite.ctx, images("alice-query"), "warehouse", 0)
	suite.Require().NoError(err)
	suite.False(result.Verdicts[0].Match)
	suite.Zero(result.Verdicts[0].Score)

	result, err = suite.svc.CheckSingle(suite.ctx, images("alice-query"), Scope{GroupID: "office", PersonID: "bob"}, 0)
	suite.Require().NoError(err)
	suite.False(result.Verdicts[0].Match)

	faces, err := suite.svc.ListFaces(suite.ctx, Scope{GroupID: "warehouse"})
	suite.Require().NoError(err)
	suite.Empty(faces)
}

func (suite *faceBladeTestSuite) TestListFaces() {
	suite.register(Scope{GroupID: "office", PersonID: "alice"}, "alice-1", "alice-2")
	suite.register(Scope{GroupID: "office", PersonID: "bob"}, "bob-1")
	suite.register(Scope{GroupID: "lab", PersonID: "bob"}, "bob-query")

	faces, err := suite.svc.ListFaces(suite.ctx, Scope{GroupID: "office"})
	suite.Require().NoError(err)
	suite.Len(faces, 3)

	faces, err = suite.svc.ListFaces(suite.ctx, Scope{GroupID: "office", PersonID: "alice"})
	suite.Require().NoError(err)
	suite.Len(faces, 2)
	for _, face := range faces {
		suite.Equal("alice", face.PersonID)
		suite.Equal("office", face.GroupID)
	}

	all, err := suite.svc.ListAllFaces(suite.ctx)
	suite.Require().NoError(err)
	suite.Len(all, 4)
}

func (suite *faceBladeTestSuite) TestDeleteFaces() {
	alice := Scope{GroupID: "office", PersonID: "alice"}
	bob := Scope{GroupID: "office", PersonID: "bob"}

	statuses := suite.register(alice, "alice-1", "alice-2")
	suite.register(bob, "bob-1")

	// a face id outside the scope is left alone
	count, err := suite.svc.DeleteFaces(suite.ctx, statuses[0].FaceID, bob)
	suite.Require().NoError(err)
	suite.Zero(count)

	count, err = suite.svc.DeleteFaces(suite.ctx, statuses[0].FaceID, alice)
	suite.Require().NoError(err)
	suite.Equal(1, count)

	count, err = suite.svc.DeleteFaces(suite.ctx, statuses[0].FaceID, alice)
	suite.Require().NoError(err)
	suite.Zero(count)

	count, err = suite.svc.DeleteFaces(suite.ctx, "", Scope{GroupID: "office"})
	suite.Require().NoError(err)
	suite.Equal(2, count)

	faces, err := suite.svc.ListAllFaces(suite.ctx)
	suite.Require().NoError(err)
	suite.Empty(faces)
}

func (suite *faceBladeTestSuite) TestDeletedFaceNoLongerMatches() {
	alice := Scope{GroupID: "default", PersonID: "alice"}
	suite.register(alice, "alice-1")

	_, err := suite.svc.DeleteFaces(suite.ctx, "", alice)
	suite.Require().NoError(err)

	result, err := suite.svc.CheckSingle(suite.ctx, images("alice-query"), alice, 0)
	suite.Require().NoError(err)
	suite.False(result.Verdicts[0].Match)
}

func (suite *faceBladeTestSuite) TestPurgeFace() {
	statuses := suite.register(Scope{GroupID: "office", PersonID: "alice"}, "alice-1")

	existed, err := suite.svc.PurgeFace(suite.ctx, statuses[0].FaceID)
	suite.Require().NoError(err)
	suite.True(existed)

	existed, err = suite.svc.PurgeFace(suite.ctx, statuses[0].FaceID)
	suite.Require().NoError(err)
	suite.False(existed)
}

func TestFaceBladeTestSuite(t *testing.T) {
	suite.Run(t, new(faceBladeTestSuite))
}

// fixedScoreStore answers every query with one candidate of a given score.
type fixedScoreStore struct {
	vector.Store
	score float32
}

func (s *fixedScoreStore) Query(ctx context.Context, collection string, embedding []float32, filter vector.Filter, k int) ([]vector.Candidate, error) {
	return []vector.Candidate{
		{
			ID:    "face-1",
			Score: s.score,
			Payload: vector.Payload{
				GroupID:  filter.GroupID,
				PersonID: "alice",
			},
		},
	}, nil
}

func TestThresholdIsStrict(t *testing.T) {
	ctx := context.Background()
	alice := Scope{GroupID: "default", PersonID: "alice"}

	tests := []struct {
		score float32
		match bool
	}{
		{0.4, false},
		{math.Nextafter32(0.4, 1), true},
		{math.Nextafter32(0.4, 0), false},
	}

	for _, tt := range tests {
		store := &fixedScoreStore{memory.NewMemoryStore(), tt.score}

		svc, err := NewService(ctx, testConfig(), store, encoder)
		if err != nil {
			t.Fatal(err)
		}

		result, err := svc.CheckSingle(ctx, images("alice-query"), alice, 0.4)
		if err != nil {
			t.Fatal(err)
		}

		if got := result.Verdicts[0].Match; got != tt.match {
			t.Errorf("score %v: match = %v, want %v", tt.score, got, tt.match)
		}
	}
}

func TestEnsureCollectionMismatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()

	err := store.CreateCollection(ctx, vector.CollectionInfo{
		Name:      "faces",
		Dimension: 4,
		Distance:  vector.DistanceCosine,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = NewService(ctx, testConfig(), store, encoder)
	if err == nil {
		t.Fatal("expected a config error")
	}

	assert.ErrorIs(t, err, vector.ErrInvalidConfig)
}

func TestEnsureCollectionReuse(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()

	cfg := testConfig()
	if err := cfg.Normalize(); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if err := EnsureCollection(ctx, store, cfg.Collection); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCheckSingleUsesConfiguredPolicy(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	alice := Scope{GroupID: "default", PersonID: "alice"}

	cfg := testConfig()
	cfg.Recognition.Policy = PolicyAll

	svc, err := NewService(ctx, cfg, memory.NewMemoryStore(), encoder)
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer svc.Close()

	_, err = svc.Register(ctx, images("alice-1"), alice)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	result, err := svc.CheckSingle(ctx, images("alice-query", "bob-query"), alice, 0)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	if assert.NotNil(result.Match) {
		assert.False(*result.Match)
	}

	// a request policy still wins over the configured one
	result, err = svc.CheckSingle(ctx, images("alice-query", "bob-query"), alice, 0, PolicyEach)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Nil(result.Match)
}

// blockingStore never answers a query before its context ends.
type blockingStore struct {
	vector.Store
}

func (s *blockingStore) Query(ctx context.Context, collection string, embedding []float32, filter vector.Filter, k int) ([]vector.Candidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCollaboratorTimeouts(t *testing.T) {
	ctx := context.Background()
	alice := Scope{GroupID: "default", PersonID: "alice"}

	cfg := testConfig()
	cfg.Timeout = Duration(50 * time.Millisecond)

	t.Run("encoder", func(t *testing.T) {
		assert := assert.New(t)

		stalled := embedding.SourceFunc(func(ctx context.Context, crop []byte) ([]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

		svc, err := NewService(ctx, cfg, memory.NewMemoryStore(), stalled)
		if err != nil {
			assert.Fail(err.Error())
			return
		}
		defer svc.Close()

		start := time.Now()
		_, err = svc.Register(ctx, images("alice-1"), alice)
		assert.ErrorIs(err, ErrCollaboratorUnavailable)
		assert.Less(time.Since(start), 5*time.Second)

		faces, err := svc.ListFaces(ctx, alice)
		assert.NoError(err)
		assert.Empty(faces)

		_, err = svc.CheckSingle(ctx, images("alice-query"), alice, 0)
		assert.ErrorIs(err, ErrCollaboratorUnavailable)
	})

	t.Run("store", func(t *testing.T) {
		assert := assert.New(t)

		store := &blockingStore{memory.NewMemoryStore()}

		svc, err := NewService(ctx, cfg, store, encoder)
		if err != nil {
			assert.Fail(err.Error())
			return
		}
		defer svc.Close()

		_, err = svc.CheckSingle(ctx, images("alice-query"), alice, 0)
		assert.ErrorIs(err, ErrCollaboratorUnavailable)

		_, err = svc.CheckMulti(ctx, images("alice-query"), "default", 0)
		assert.ErrorIs(err, ErrCollaboratorUnavailable)
	})
}
