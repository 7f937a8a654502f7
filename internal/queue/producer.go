package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/galleryai/internal/models"
)

const (
	AnalysisStreamName  = "ANALYSIS"
	AnalysisSubjectBase = "analysis"
	ProgressStreamName  = "PROGRESS"
	ProgressSubjectBase = "progress"
)

// taskSubject is analysis.<gallery>.<photo>.
func taskSubject(t models.AnalysisTask) string {
	return fmt.Sprintf("%s.%s.%s", AnalysisSubjectBase, t.GalleryID, t.PhotoID)
}

func progressSubject(ev models.ProgressEvent) string {
	return fmt.Sprintf("%s.%s", ProgressSubjectBase, ev.GalleryID)
}

// taskMsgID lets JetStream drop a task published twice for the same enqueue.
func taskMsgID(t models.AnalysisTask) string {
	return t.PhotoID.String() + "-" + strconv.FormatInt(t.EnqueuedAt.UnixNano(), 10)
}

func connect(natsURL, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL, "galleryai-producer")
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        AnalysisStreamName,
			Subjects:    []string{AnalysisSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  2 * time.Minute,
			Description: "Photo analysis tasks for workers",
		},
		{
			Name:        ProgressStreamName,
			Subjects:    []string{ProgressSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Gallery analysis progress events",
		},
	}
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streamConfigs() {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// Dispatch publishes an analysis task for the workers.
func (p *Producer) Dispatch(ctx context.Context, task models.AnalysisTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal analysis task: %w", err)
	}
	_, err = p.js.Publish(ctx, taskSubject(task), payload, jetstream.WithMsgID(taskMsgID(task)))
	if err != nil {
		return fmt.Errorf("publish analysis task: %w", err)
	}
	return nil
}

// NotifyProgress publishes a gallery progress event.
func (p *Producer) NotifyProgress(ctx context.Context, ev models.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if _, err := p.js.Publish(ctx, progressSubject(ev), payload); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// QueueDepth returns the number of tasks waiting in the ANALYSIS stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, AnalysisStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
