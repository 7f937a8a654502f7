package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/galleryai/internal/models"
)

func TestSubjects(t *testing.T) {
	g := uuid.MustParse("6f1c2a7e-8d4b-4f0a-9b1e-2c3d4e5f6a7b")
	p := uuid.MustParse("0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d")

	task := models.AnalysisTask{GalleryID: g, PhotoID: p}
	assert.Equal(t, "analysis."+g.String()+"."+p.String(), taskSubject(task))
	assert.Equal(t, "progress."+g.String(), progressSubject(models.ProgressEvent{GalleryID: g}))
}

func TestTaskMsgID(t *testing.T) {
	p := uuid.New()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	a := taskMsgID(models.AnalysisTask{PhotoID: p, EnqueuedAt: at})
	assert.Equal(t, a, taskMsgID(models.AnalysisTask{PhotoID: p, EnqueuedAt: at}))
	assert.NotEqual(t, a, taskMsgID(models.AnalysisTask{PhotoID: p, EnqueuedAt: at.Add(time.Second)}))
	assert.NotEqual(t, a, taskMsgID(models.AnalysisTask{PhotoID: uuid.New(), EnqueuedAt: at}))
}

func TestStreamConfigs(t *testing.T) {
	cfgs := streamConfigs()
	require.Len(t, cfgs, 2)

	analysis := cfgs[0]
	assert.Equal(t, AnalysisStreamName, analysis.Name)
	assert.Equal(t, jetstream.WorkQueuePolicy, analysis.Retention)
	assert.Equal(t, []string{"analysis.>"}, analysis.Subjects)
	assert.Positive(t, analysis.Duplicates)

	progress := cfgs[1]
	assert.Equal(t, ProgressStreamName, progress.Name)
	assert.Equal(t, []string{"progress.>"}, progress.Subjects)
}
