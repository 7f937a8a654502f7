//go:build integration

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/galleryai/internal/models"
)

func setupStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "testdb",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	store := NewPostgresStoreFromPool(pool)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx))
	// Applying again is a no-op.
	require.NoError(t, store.Migrate(ctx))
	return store
}

func seedGallery(t *testing.T, s *PostgresStore, photos int) (*models.Gallery, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	g := &models.Gallery{Name: "wedding"}
	require.NoError(t, s.CreateGallery(ctx, g))
	ids := make([]uuid.UUID, photos)
	for i := range ids {
		p := &models.Photo{GalleryID: g.ID, StorageKey: fmt.Sprintf("galleries/%s/%d.jpg", g.ID, i)}
		require.NoError(t, s.AddPhoto(ctx, p))
		ids[i] = p.ID
	}
	return g, ids
}

func TestAnalysisLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	g, ids := seedGallery(t, s, 3)

	n, err := s.SeedPending(ctx, g.ID, ids)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = s.SeedPending(ctx, g.ID, ids)
	require.NoError(t, err)
	assert.Zero(t, n)

	ok, err := s.TransitionStatus(ctx, ids[0], models.AnalysisPending, models.AnalysisProcessing)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.TransitionStatus(ctx, ids[0], models.AnalysisPending, models.AnalysisProcessing)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompleteAnalysis(ctx, ids[0], models.AnalysisResult{
		Description:  "bride at the altar",
		SearchTags:   []string{"wedding", "altar"},
		AnalysisData: json.RawMessage(`{"provider":"openai"}`),
		Faces: []models.PersonFace{
			{FaceID: "f1", ExternalFaceID: "ext-1", Role: "bride", BoundingBox: models.BoundingBox{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2}},
			{FaceID: "f2", Role: "guest", BoundingBox: models.BoundingBox{X: 0.5, Y: 0.1, Width: 0.2, Height: 0.2}},
		},
		AnalyzedAt: time.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	// A second completion or a failure of the finished row is refused.
	ok, err = s.CompleteAnalysis(ctx, ids[0], models.AnalysisResult{Description: "stale"})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.FailAnalysis(ctx, ids[0], "[API_ERROR] describe: upstream 503")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.TouchAnalysis(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := s.GetAnalysis(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, models.AnalysisCompleted, a.Status)
	assert.Equal(t, 2, a.FaceCount)
	require.Len(t, a.Faces, 2)
	assert.Equal(t, "f1", a.Faces[0].FaceID)
	assert.Equal(t, "bride", a.Faces[0].Role)
	assert.Equal(t, "bride at the altar", a.Description)
	assert.Zero(t, a.RetryCount)

	ok, err = s.TransitionStatus(ctx, ids[1], models.AnalysisPending, models.AnalysisProcessing)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.TouchAnalysis(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.FailAnalysis(ctx, ids[1], "[TIMEOUT] describe: context deadline exceeded")
	require.NoError(t, err)
	require.True(t, ok)

	counts, err := s.CountByStatus(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.AnalysisCompleted])
	assert.Equal(t, 1, counts[models.AnalysisFailed])
	assert.Equal(t, 1, counts[models.AnalysisPending])

	reset, err := s.ResetFailed(ctx, g.ID, []string{"[IMAGE_ERROR]"})
	require.NoError(t, err)
	assert.Zero(t, reset)
	reset, err = s.ResetFailed(ctx, g.ID, []string{"[TIMEOUT]", "[RATE_LIMIT]"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	b, err := s.GetAnalysis(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisPending, b.Status)
	assert.Empty(t, b.ErrorMessage)
	assert.Zero(t, b.RetryCount)

	pending, err := s.ListPendingPhotoIDs(ctx, g.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[1:], pending)

	total, err := s.CountPhotos(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestResetStalled(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	g, ids := seedGallery(t, s, 2)
	_, err := s.SeedPending(ctx, g.ID, ids)
	require.NoError(t, err)
	for _, id := range ids {
		_, err := s.TransitionStatus(ctx, id, models.AnalysisPending, models.AnalysisProcessing)
		require.NoError(t, err)
	}

	n, err := s.ResetStalled(ctx, g.ID, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	stalled, err := s.ListStalledGalleries(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Contains(t, stalled, g.ID)

	n, err = s.ResetStalled(ctx, g.ID, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = s.ResetStalled(ctx, g.ID, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClusters(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	g, ids := seedGallery(t, s, 2)
	_, err := s.SeedPending(ctx, g.ID, ids)
	require.NoError(t, err)
	for i, id := range ids {
		_, err := s.TransitionStatus(ctx, id, models.AnalysisPending, models.AnalysisProcessing)
		require.NoError(t, err)
		ok, err := s.CompleteAnalysis(ctx, id, models.AnalysisResult{
			Faces: []models.PersonFace{{FaceID: "f1", ExternalFaceID: fmt.Sprintf("ext-%d", i), Role: "groom"}},
		})
		require.NoError(t, err)
		require.True(t, ok)
	}

	refs, err := s.FacesByExternalIDs(ctx, g.ID, []string{"ext-0", "ext-1", "missing"})
	require.NoError(t, err)
	require.Len(t, refs, 2)

	c := &models.PersonCluster{GalleryID: g.ID, Role: "groom"}
	require.NoError(t, s.CreateCluster(ctx, c, []models.FaceKey{{PhotoID: ids[0], FaceID: "f1"}}))
	require.NoError(t, s.AssignFaces(ctx, c.ID, []models.FaceKey{{PhotoID: ids[1], FaceID: "f1"}}))

	// Seeding a cluster with a face that already has one writes nothing.
	dup := &models.PersonCluster{GalleryID: g.ID, Role: "groom"}
	err = s.CreateCluster(ctx, dup, []models.FaceKey{{PhotoID: ids[1], FaceID: "f1"}})
	require.ErrorIs(t, err, models.ErrFacesClustered)
	missing, err := s.GetCluster(ctx, dup.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	got, err := s.GetCluster(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.ElementsMatch(t, ids, got.PhotoIDs)

	renamed, err := s.RenameCluster(ctx, c.ID, "Tom")
	require.NoError(t, err)
	assert.Equal(t, "Tom", renamed.Name)

	a, err := s.GetAnalysis(ctx, ids[1])
	require.NoError(t, err)
	require.NotNil(t, a.Faces[0].PersonClusterID)
	assert.Equal(t, c.ID, *a.Faces[0].PersonClusterID)

	require.NoError(t, s.ResetGalleryAnalysis(ctx, g.ID))
	clusters, err := s.ListClusters(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestDescriptionSearch(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	g, ids := seedGallery(t, s, 2)
	_, err := s.SeedPending(ctx, g.ID, ids)
	require.NoError(t, err)
	for _, id := range ids {
		_, err := s.TransitionStatus(ctx, id, models.AnalysisPending, models.AnalysisProcessing)
		require.NoError(t, err)
		ok, err := s.CompleteAnalysis(ctx, id, models.AnalysisResult{Description: "photo"})
		require.NoError(t, err)
		require.True(t, ok)
	}

	unit := func(i int) []float32 {
		v := make([]float32, 1536)
		v[i] = 1
		return v
	}
	require.NoError(t, s.SetDescriptionEmbedding(ctx, ids[0], unit(0)))
	require.NoError(t, s.SetDescriptionEmbedding(ctx, ids[1], unit(1)))

	hits, err := s.SearchDescriptions(ctx, g.ID, unit(0), 0.5, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ids[0], hits[0].PhotoID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}
