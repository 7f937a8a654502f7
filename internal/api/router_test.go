package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/galleryai/internal/analysis"
	"github.com/your-org/galleryai/internal/cluster"
	"github.com/your-org/galleryai/internal/describe"
	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/internal/resolver"
	"github.com/your-org/galleryai/internal/search"
	"github.com/your-org/galleryai/internal/testutil"
	"github.com/your-org/galleryai/pkg/dto"
)

const testKey = "secret"

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type natsPinger struct{ err error }

func (p natsPinger) Ping() error { return p.err }

type env struct {
	router     *gin.Engine
	store      *testutil.MemoryStore
	objects    *testutil.FakeObjects
	describer  *testutil.FakeDescriber
	dispatcher *testutil.RecordingDispatcher
	orch       *analysis.Orchestrator
	g          *models.Gallery
	photos     []uuid.UUID
}

func newEnv(t *testing.T, photos int, db pinger) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := &env{
		store:      testutil.NewMemoryStore(),
		objects:    testutil.NewFakeObjects(),
		describer:  testutil.NewFakeDescriber(),
		dispatcher: &testutil.RecordingDispatcher{},
	}
	faces := testutil.NewFakeFaceIndex()
	embedder := &testutil.FakeEmbedder{}
	e.g, e.photos = e.store.AddGallery(photos)
	for i, id := range e.photos {
		p, err := e.store.GetPhoto(context.Background(), id)
		require.NoError(t, err)
		e.objects.Objects[p.StorageKey] = testutil.JPEG(64, 64, uint8(40+i*30))
	}

	clusters := cluster.NewEngine(e.store, faces, 80, 100)
	e.orch = analysis.NewOrchestrator(analysis.Deps{
		Store:      e.store,
		Objects:    e.objects,
		Faces:      faces,
		Describer:  e.describer,
		Dispatcher: e.dispatcher,
		Clusterer:  clusters,
		Indexer:    search.NewDescriptionIndexer(embedder, e.store),
	}, analysis.Options{})

	e.router = NewRouter(RouterConfig{
		APIKey:       testKey,
		DB:           db,
		MinIO:        pinger{},
		Producer:     natsPinger{},
		Orchestrator: e.orch,
		Resolver:     resolver.NewResolver(e.store, faces, 80, 100),
		Clusters:     clusters,
		Searcher:     search.NewSearcher(e.store, search.NewVectorSearcher(embedder, e.store, 0.2, 50)),
	})
	return e
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// analyzeAll processes every dispatched task the way a worker would.
func (e *env) analyzeAll(t *testing.T) {
	t.Helper()
	for _, id := range e.dispatcher.PhotoIDs() {
		err := e.orch.ProcessOne(context.Background(), id)
		if !errors.Is(err, analysis.ErrNotClaimed) {
			require.NoError(t, err)
		}
	}
}

func TestAuth(t *testing.T) {
	e := newEnv(t, 1, pinger{})
	path := "/v1/galleries/" + e.g.ID.String() + "/analysis"

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, path, nil).Code)
}

func TestStartAnalysisAndStatus(t *testing.T) {
	e := newEnv(t, 2, pinger{})
	path := "/v1/galleries/" + e.g.ID.String() + "/analysis"

	w := e.do(t, http.MethodPost, path, dto.StartAnalysisRequest{Mode: "initial"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[dto.StartAnalysisResponse](t, w)
	assert.Equal(t, 2, started.Seeded)
	assert.Equal(t, 2, started.Queued)

	st := decode[dto.AnalysisStatusResponse](t, e.do(t, http.MethodGet, path, nil))
	assert.Equal(t, 0, st.Progress)
	assert.Equal(t, 2, st.Stats.Pending)
	assert.False(t, st.IsStalled)

	e.analyzeAll(t)
	st = decode[dto.AnalysisStatusResponse](t, e.do(t, http.MethodGet, path, nil))
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, 2, st.Stats.Completed)
	assert.NotEmpty(t, st.LastActivity)
}

func TestStartAnalysisErrors(t *testing.T) {
	e := newEnv(t, 1, pinger{})

	w := e.do(t, http.MethodPost, "/v1/galleries/"+e.g.ID.String()+"/analysis", dto.StartAnalysisRequest{Mode: "everything"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/v1/galleries/"+e.g.ID.String()+"/analysis", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/v1/galleries/"+uuid.NewString()+"/analysis", dto.StartAnalysisRequest{Mode: "initial"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/v1/galleries/not-a-uuid/analysis", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListFailed(t *testing.T) {
	e := newEnv(t, 1, pinger{})
	e.store.PutAnalysis(models.PhotoAnalysis{
		PhotoID: e.photos[0], GalleryID: e.g.ID, Status: models.AnalysisFailed,
		ErrorMessage: "[IMAGE_ERROR] decode image: unknown format", RetryCount: 1,
	})

	w := e.do(t, http.MethodGet, "/v1/galleries/"+e.g.ID.String()+"/analysis/failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.FailedAnalysisListResponse](t, w)
	require.Equal(t, 1, resp.Total)
	assert.False(t, resp.Failed[0].Retryable)
	assert.Equal(t, e.photos[0], resp.Failed[0].PhotoID)
}

func TestSearchRequiresAISearch(t *testing.T) {
	e := newEnv(t, 2, pinger{})
	// newEnv gives the first photo shade 40.
	beach := testutil.JPEG(64, 64, 40)
	e.describer.Descriptions[string(beach)] = &describe.PhotoDescription{Description: "sand and sea", SearchTags: []string{"beach", "sunset"}}
	e.do(t, http.MethodPost, "/v1/galleries/"+e.g.ID.String()+"/analysis", dto.StartAnalysisRequest{Mode: "initial"})
	e.analyzeAll(t)

	searchPath := "/v1/galleries/" + e.g.ID.String() + "/search?q=beach"
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, searchPath, nil).Code)

	w := e.do(t, http.MethodPut, "/v1/galleries/"+e.g.ID.String()+"/ai-search", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodGet, searchPath, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[dto.SearchResponse](t, w)
	assert.Equal(t, "instant", resp.Mode)
	assert.Equal(t, []uuid.UUID{e.photos[0]}, resp.PhotoIDs)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/v1/galleries/"+e.g.ID.String()+"/search?q=", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/v1/galleries/"+uuid.NewString()+"/search?q=beach", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPut, "/v1/galleries/"+e.g.ID.String()+"/ai-search", map[string]string{}).Code)
}

func TestFindPersonAndClusters(t *testing.T) {
	e := newEnv(t, 1, pinger{})
	e.store.PutAnalysis(models.PhotoAnalysis{
		PhotoID: e.photos[0], GalleryID: e.g.ID, Status: models.AnalysisCompleted,
		Faces:     []models.PersonFace{{FaceID: "f1", Role: "bride"}},
		FaceCount: 1,
	})

	w := e.do(t, http.MethodGet, "/v1/photos/"+e.photos[0].String()+"/faces/f1/person", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	person := decode[dto.PersonResponse](t, w)
	assert.Equal(t, "role_fallback", person.Method)
	assert.Equal(t, []uuid.UUID{e.photos[0]}, person.PhotoIDs)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/v1/photos/"+e.photos[0].String()+"/faces/f9/person", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/v1/photos/"+uuid.NewString()+"/faces/f1/person", nil).Code)

	c := &models.PersonCluster{GalleryID: e.g.ID, Role: "bride"}
	require.NoError(t, e.store.CreateCluster(context.Background(), c, []models.FaceKey{{PhotoID: e.photos[0], FaceID: "f1"}}))

	w = e.do(t, http.MethodPatch, "/v1/clusters/"+c.ID.String(), dto.RenameClusterRequest{Name: "  Anna "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Anna", decode[dto.ClusterResponse](t, w).Name)

	list := decode[dto.ClusterListResponse](t, e.do(t, http.MethodGet, "/v1/galleries/"+e.g.ID.String()+"/clusters", nil))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, []uuid.UUID{e.photos[0]}, list.Clusters[0].PhotoIDs)

	w = e.do(t, http.MethodGet, "/v1/photos/"+e.photos[0].String()+"/faces/f1/person", nil)
	person = decode[dto.PersonResponse](t, w)
	assert.Equal(t, "cluster", person.Method)
	assert.Equal(t, "Anna", person.Name)

	w = e.do(t, http.MethodGet, "/v1/clusters/"+c.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[dto.ClusterResponse](t, w)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "Anna", got.Name)
	assert.Equal(t, []uuid.UUID{e.photos[0]}, got.PhotoIDs)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/v1/clusters/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/v1/clusters/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPatch, "/v1/clusters/"+uuid.NewString(), dto.RenameClusterRequest{Name: "x"}).Code)
}

func TestEnqueuePhoto(t *testing.T) {
	e := newEnv(t, 1, pinger{})

	w := e.do(t, http.MethodPost, "/v1/photos/"+e.photos[0].String()+"/analysis", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, []uuid.UUID{e.photos[0]}, e.dispatcher.PhotoIDs())

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/v1/photos/"+uuid.NewString()+"/analysis", nil).Code)
}

func TestSystemEndpoints(t *testing.T) {
	e := newEnv(t, 0, pinger{})
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	down := newEnv(t, 0, pinger{err: errors.New("connection refused")})
	w = httptest.NewRecorder()
	down.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
