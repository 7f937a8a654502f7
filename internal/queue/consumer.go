package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/galleryai/internal/models"
)

const (
	taskAckWait    = 2 * time.Minute
	taskMaxDeliver = 3
	// heartbeatEvery keeps long analyses from being redelivered mid-flight.
	heartbeatEvery = 30 * time.Second
	nakDelay       = 5 * time.Second
)

type TaskHandler func(ctx context.Context, task models.AnalysisTask) error

type EventHandler func(ctx context.Context, ev models.ProgressEvent) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL, "galleryai-consumer")
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeTasks starts consuming analysis tasks from the ANALYSIS stream.
// workerCount determines how many goroutines process messages concurrently.
// A task whose handler fails is redelivered until MaxDeliver is reached;
// stall recovery picks up whatever is left behind.
func (c *Consumer) ConsumeTasks(ctx context.Context, consumerName string, handler TaskHandler, workerCount int) error {
	if workerCount < 1 {
		workerCount = 1
	}
	stream, err := c.js.Stream(ctx, AnalysisStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AnalysisStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       taskAckWait,
		MaxDeliver:    taskMaxDeliver,
		FilterSubject: AnalysisSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)
	go fetchLoop(ctx, cons, workerCount, msgCh, "fetch analysis tasks")

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				handleTask(ctx, workerID, msg, handler)
			}
		}(i)
	}

	slog.Info("task consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

func fetchLoop(ctx context.Context, cons jetstream.Consumer, batchSize int, msgCh chan<- jetstream.Msg, what string) {
	defer close(msgCh)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := cons.Fetch(batchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn(what, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for msg := range batch.Messages() {
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func handleTask(ctx context.Context, workerID int, msg jetstream.Msg, handler TaskHandler) {
	var task models.AnalysisTask
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		slog.Error("invalid analysis task", "worker", workerID, "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}

	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(heartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				_ = msg.InProgress()
			}
		}
	}()
	err := handler(ctx, task)
	close(stop)

	if err != nil {
		slog.Error("process analysis task error", "worker", workerID, "photo_id", task.PhotoID, "error", err)
		_ = msg.NakWithDelay(nakDelay)
		return
	}
	_ = msg.Ack()
}

// ConsumeEvents starts consuming progress events (for the API to broadcast
// via WebSocket). Each API instance needs its own consumer name.
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler EventHandler) error {
	stream, err := c.js.Stream(ctx, ProgressStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ProgressStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              consumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     ProgressSubjectBase + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, 20)
	go fetchLoop(ctx, cons, 10, msgCh, "fetch progress events")
	go func() {
		for msg := range msgCh {
			var ev models.ProgressEvent
			if err := json.Unmarshal(msg.Data(), &ev); err != nil {
				slog.Error("invalid progress event", "subject", msg.Subject(), "error", err)
				_ = msg.Term()
				continue
			}
			if err := handler(ctx, ev); err != nil {
				slog.Error("process event error", "error", err)
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}()

	slog.Info("event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
