//go:build integration

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/galleryai/internal/models"
)

func startNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestDispatchAndConsume(t *testing.T) {
	url := startNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	producer, err := NewProducer(url)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.EnsureStreams(ctx))
	require.NoError(t, producer.Ping())

	task := models.AnalysisTask{GalleryID: uuid.New(), PhotoID: uuid.New(), EnqueuedAt: time.Now().UTC()}
	require.NoError(t, producer.Dispatch(ctx, task))
	// Same enqueue published twice is deduplicated.
	require.NoError(t, producer.Dispatch(ctx, task))

	depth, err := producer.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), depth)

	consumer, err := NewConsumer(url)
	require.NoError(t, err)
	defer consumer.Close()

	got := make(chan models.AnalysisTask, 1)
	require.NoError(t, consumer.ConsumeTasks(ctx, "test-workers", func(_ context.Context, tk models.AnalysisTask) error {
		got <- tk
		return nil
	}, 2))

	select {
	case tk := <-got:
		assert.Equal(t, task.PhotoID, tk.PhotoID)
		assert.Equal(t, task.GalleryID, tk.GalleryID)
	case <-ctx.Done():
		t.Fatal("task not consumed")
	}
}

func TestProgressEvents(t *testing.T) {
	url := startNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	producer, err := NewProducer(url)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.EnsureStreams(ctx))

	consumer, err := NewConsumer(url)
	require.NoError(t, err)
	defer consumer.Close()

	got := make(chan models.ProgressEvent, 1)
	require.NoError(t, consumer.ConsumeEvents(ctx, "api-test", func(_ context.Context, ev models.ProgressEvent) error {
		got <- ev
		return nil
	}))

	ev := models.ProgressEvent{GalleryID: uuid.New(), PhotoID: uuid.New(), Status: models.AnalysisCompleted, Progress: 50}
	require.NoError(t, producer.NotifyProgress(ctx, ev))

	select {
	case e := <-got:
		assert.Equal(t, ev.GalleryID, e.GalleryID)
		assert.Equal(t, 50, e.Progress)
	case <-ctx.Done():
		t.Fatal("event not consumed")
	}
}
