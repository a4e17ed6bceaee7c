package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"

	"github.com/flarexio/faceblade"
	"github.com/flarexio/faceblade/embedding"
	"github.com/flarexio/faceblade/persistence/memory"
	"github.com/flarexio/faceblade/vector"
)

var crops = map[string][]float32{
	"alice-1":     {1, 0, 0},
	"alice-query": {0.9, 0.1, 0},
	"bob-query":   {0, 1, 0},
}

func encode(ctx context.Context, crop []byte) ([]float32, error) {
	if string(crop) == "offline" {
		return nil, embedding.ErrUnavailable
	}

	vec, ok := crops[string(crop)]
	if !ok {
		return nil, embedding.ErrDetectionFailed
	}

	return vec, nil
}

type httpTransportTestSuite struct {
	suite.Suite
	svc faceblade.Service
	r   *gin.Engine
}

func (suite *httpTransportTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	cfg := faceblade.Config{
		Collection: vector.CollectionInfo{
			Name:      "faces",
			Dimension: 3,
		},
		Timeout: faceblade.Duration(time.Second),
	}

	svc, err := faceblade.NewService(context.Background(), cfg, memory.NewMemoryStore(), embedding.SourceFunc(encode))
	suite.Require().NoError(err)

	r := gin.New()
	AddRouters(r, faceblade.MakeEndpoints(svc))

	suite.svc = svc
	suite.r = r
}

func (suite *httpTransportTestSuite) TearDownTest() {
	suite.svc.Close()
}

func (suite *httpTransportTestSuite) do(method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		suite.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	suite.r.ServeHTTP(w, req)
	return w
}

func (suite *httpTransportTestSuite) registerAlice() []faceblade.FaceStatus {
	w := suite.do(http.MethodPost, "/api/v1/register", map[string]any{
		"images":    [][]byte{[]byte("alice-1")},
		"person_id": "alice",
	})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var statuses []faceblade.FaceStatus
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &statuses))
	suite.Require().Len(statuses, 1)
	return statuses
}

func (suite *httpTransportTestSuite) TestRegisterJSONDefaultsGroup() {
	statuses := suite.registerAlice()
	suite.True(statuses[0].OK())

	w := suite.do(http.MethodGet, "/api/v1/faces?group_id=default&person_id=alice", nil)
	suite.Equal(http.StatusOK, w.Code)

	var faces []faceblade.Face
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &faces))
	suite.Len(faces, 1)
	suite.Equal(faceblade.DefaultGroupID, faces[0].GroupID)
	suite.Equal(statuses[0].FaceID, faces[0].ID)
}

func (suite *httpTransportTestSuite) TestRegisterMultipart() {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	suite.Require().NoError(writer.WriteField("group_id", "office"))
	suite.Require().NoError(writer.WriteField("person_id", "alice"))

	for _, crop := range []string{"alice-1", "landscape"} {
		part, err := writer.CreateFormFile("images", crop+".jpg")
		suite.Require().NoError(err)
		part.Write([]byte(crop))
	}
	suite.Require().NoError(writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/register/faces", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w := httptest.NewRecorder()
	suite.r.ServeHTTP(w, req)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var statuses []faceblade.FaceStatus
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &statuses))
	suite.Len(statuses, 2)
	suite.True(statuses[0].OK())
	suite.False(statuses[1].OK())

	faces, err := suite.svc.ListFaces(context.Background(), faceblade.Scope{GroupID: "office"})
	suite.Require().NoError(err)
	suite.Len(faces, 1)
}

func (suite *httpTransportTestSuite) TestCheckFace() {
	suite.registerAlice()

	w := suite.do(http.MethodPost, "/api/v1/check/face", map[string]any{
		"images":    [][]byte{[]byte("alice-query"), []byte("bob-query")},
		"person_id": "alice",
		"policy":    "any",
	})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var result faceblade.CheckResult
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &result))
	suite.Len(result.Verdicts, 2)
	suite.True(result.Verdicts[0].Match)
	suite.False(result.Verdicts[1].Match)
	suite.Require().NotNil(result.Match)
	suite.True(*result.Match)
}

func (suite *httpTransportTestSuite) TestCheckFaces() {
	suite.registerAlice()

	w := suite.do(http.MethodPost, "/api/v1/check/faces", map[string]any{
		"images": [][]byte{[]byte("alice-query")},
	})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var result faceblade.CheckResult
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &result))
	suite.Equal("alice", result.Verdicts[0].PersonID)
}

func (suite *httpTransportTestSuite) TestDeleteFaces() {
	statuses := suite.registerAlice()

	w := suite.do(http.MethodDelete, "/api/v1/faces?person_id=alice&face_id="+statuses[0].FaceID, nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp faceblade.DeleteFacesResponse
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	suite.Equal(1, resp.Deleted)
}

func (suite *httpTransportTestSuite) TestAdminRoutes() {
	statuses := suite.registerAlice()

	w := suite.do(http.MethodGet, "/api/v1/admin/faces", nil)
	suite.Require().Equal(http.StatusOK, w.Code)

	var faces []faceblade.Face
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &faces))
	suite.Len(faces, 1)

	w = suite.do(http.MethodDelete, "/api/v1/admin/faces/"+statuses[0].FaceID, nil)
	suite.Equal(http.StatusOK, w.Code)

	w = suite.do(http.MethodDelete, "/api/v1/admin/faces/"+statuses[0].FaceID, nil)
	suite.Equal(http.StatusNotFound, w.Code)
}

func (suite *httpTransportTestSuite) TestErrorStatus() {
	w := suite.do(http.MethodPost, "/api/v1/register", map[string]any{
		"images": [][]byte{[]byte("alice-1")},
	})
	suite.Equal(http.StatusBadRequest, w.Code)

	w = suite.do(http.MethodPost, "/api/v1/check/face", map[string]any{
		"images":    [][]byte{[]byte("alice-query")},
		"person_id": "alice",
		"threshold": 2,
	})
	suite.Equal(http.StatusBadRequest, w.Code)

	// an explicit zero is not the same as leaving the threshold out
	w = suite.do(http.MethodPost, "/api/v1/check/face", map[string]any{
		"images":    [][]byte{[]byte("alice-query")},
		"person_id": "alice",
		"threshold": 0,
	})
	suite.Equal(http.StatusBadRequest, w.Code)

	w = suite.do(http.MethodPost, "/api/v1/check/faces", map[string]any{
		"images":    [][]byte{[]byte("alice-query")},
		"threshold": 0,
	})
	suite.Equal(http.StatusBadRequest, w.Code)

	w = suite.do(http.MethodPost, "/api/v1/register", map[string]any{
		"images":    [][]byte{[]byte("offline")},
		"person_id": "alice",
	})
	suite.Equal(http.StatusServiceUnavailable, w.Code)
}

func TestHTTPTransportTestSuite(t *testing.T) {
	suite.Run(t, new(httpTransportTestSuite))
}
