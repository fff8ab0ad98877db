// Package queue provides the optional NATS JetStream hand-off between the
// HTTP receiver and the processing pipeline. When enabled, accepted events
// are published to a durable stream and consumed by a worker that runs the
// pipeline per event.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/sentrel/sentrel/internal/batcher"
	"github.com/sentrel/sentrel/internal/event"
	"github.com/sentrel/sentrel/internal/metrics"
	"github.com/sentrel/sentrel/internal/pipeline"
)

const (
	// StreamName holds accepted events awaiting processing.
	StreamName = "SENTREL_EVENTS"
	// DefaultSubject is used when no subject is configured.
	DefaultSubject = "sentrel.events"
	// durableName identifies the shared worker consumer.
	durableName = "sentrel-worker"
)

// message is the wire form of one queued event.
type message struct {
	Event      *event.RawEvent `json:"event"`
	ProjectID  int             `json:"project_id"`
	EventID    string          `json:"event_id"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Queue publishes accepted events to JetStream and optionally consumes them.
type Queue struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	stream  jetstream.Stream
	subject string
	consume jetstream.ConsumeContext
}

// New connects to NATS and ensures the event stream exists.
func New(ctx context.Context, url, subject string) (*Queue, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create event stream: %w", err)
	}

	slog.Info("event queue ready", slog.String("stream", StreamName), slog.String("url", url))

	return &Queue{
		conn:    conn,
		js:      js,
		stream:  stream,
		subject: subject,
	}, nil
}

// Submit publishes one accepted event. Satisfies the same sink contract as
// the batcher so the handlers need not know which path is active.
func (q *Queue) Submit(ctx context.Context, ev batcher.Event) error {
	data, err := json.Marshal(message{
		Event:      ev.Raw,
		ProjectID:  ev.ProjectID,
		EventID:    ev.EventID,
		ReceivedAt: ev.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal queued event: %w", err)
	}

	if _, err := q.js.Publish(ctx, q.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.QueuePublished.Inc()
	return nil
}

// StartWorker consumes queued events and runs each through the pipeline.
// Processing failures are not acked, so JetStream redelivers.
func (q *Queue) StartWorker(ctx context.Context, p *pipeline.Pipeline) error {
	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: q.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker consumer: %w", err)
	}

	consume, err := consumer.Consume(func(msg jetstream.Msg) {
		var m message
		if err := json.Unmarshal(msg.Data(), &m); err != nil {
			slog.Error("discarding unparseable queue message", slog.String("error", err.Error()))
			metrics.QueueConsumed.WithLabelValues("invalid").Inc()
			_ = msg.Term()
			return
		}

		err := p.ProcessEvent(context.Background(), batcher.Event{
			Raw:        m.Event,
			ProjectID:  m.ProjectID,
			EventID:    m.EventID,
			ReceivedAt: m.ReceivedAt,
		})
		if err != nil {
			slog.Error("queued event processing failed",
				slog.String("event_id", m.EventID),
				slog.String("error", err.Error()),
			)
			metrics.QueueConsumed.WithLabelValues("error").Inc()
			_ = msg.Nak()
			return
		}

		metrics.QueueConsumed.WithLabelValues("ok").Inc()
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	q.consume = consume
	slog.Info("queue worker started", slog.String("consumer", durableName))
	return nil
}

// Ping reports whether the NATS connection is healthy.
func (q *Queue) Ping() error {
	if q.conn == nil || !q.conn.IsConnected() {
		return fmt.Errorf("nats connection down")
	}
	return nil
}

// Close stops the worker and drains the connection.
func (q *Queue) Close() {
	if q.consume != nil {
		q.consume.Stop()
	}
	if q.conn != nil {
		if err := q.conn.Drain(); err != nil {
			q.conn.Close()
		}
	}
}
