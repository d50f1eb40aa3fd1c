// Package notify dispatches enrollment notification intents to the
// external mail collaborator. The engine only decides *which* intent to
// emit; composing and sending the actual e-mail lives outside this core.
package notify

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/pkg/config"
	"github.com/noah-isme/enrollment-api/pkg/jobs"
)

// IntentKind distinguishes the student's first matricula from an
// additional course on an existing one.
type IntentKind string

const (
	IntentWelcome IntentKind = "welcome"
	IntentAddOn   IntentKind = "add_on"
)

// Intent is one queued notification.
type Intent struct {
	Kind     IntentKind                `json:"kind"`
	Snapshot models.EnrollmentSnapshot `json:"snapshot"`
}

// Sender delivers an intent. Implemented by the external e-mail layer;
// the default logs the intent and drops it.
type Sender interface {
	Send(ctx context.Context, intent Intent) error
}

// LogSender is the default Sender used when no mail collaborator is wired.
type LogSender struct {
	Logger *zap.Logger
}

// Send logs the intent.
func (s LogSender) Send(_ context.Context, intent Intent) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification intent",
		zap.String("kind", string(intent.Kind)),
		zap.String("matricula", intent.Snapshot.Matricula),
		zap.String("course", intent.Snapshot.CourseName),
	)
	return nil
}

// Notifier queues intents and drains them through a worker pool.
type Notifier struct {
	queue    *jobs.Queue
	enqueued atomic.Int64
}

// NewNotifier builds a notifier around the given sender.
func NewNotifier(sender Sender, cfg config.NotifyConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		intent, ok := job.Payload.(Intent)
		if !ok {
			return fmt.Errorf("notification job %s: unexpected payload %T", job.ID, job.Payload)
		}
		return sender.Send(ctx, intent)
	}
	queue := jobs.NewQueue("notifications", handler, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		Logger:     logger,
	})
	return &Notifier{queue: queue}
}

// Start begins draining the queue.
func (n *Notifier) Start(ctx context.Context) {
	n.queue.Start(ctx)
}

// Stop drains workers.
func (n *Notifier) Stop() {
	n.queue.Stop()
}

// Enqueue schedules delivery of an intent.
func (n *Notifier) Enqueue(intent Intent) error {
	n.enqueued.Add(1)
	return n.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(intent.Kind),
		Payload: intent,
	})
}

// Enqueued returns the number of intents accepted so far.
func (n *Notifier) Enqueued() int64 {
	return n.enqueued.Load()
}
