// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pdiddy/novelty-engine/internal/backoff"
	"github.com/pdiddy/novelty-engine/internal/ledger"
	"github.com/pdiddy/novelty-engine/internal/queue"
)

// Receiver is the consuming side of the hand-off queue. *queue.Queue
// implements it.
type Receiver interface {
	Receive(ctx context.Context, topic string, lease time.Duration) (*queue.Message, error)
	Ack(ctx context.Context, id int64) error
	Nack(ctx context.Context, id int64, delay time.Duration) error
}

// Default worker timings and limits.
const (
	DefaultPollInterval  = 2 * time.Second
	DefaultLease         = 10 * time.Minute
	DefaultRetryDelay    = 30 * time.Second
	DefaultMaxDeliveries = 10
)

// Worker pulls item ids from one queue topic per stage and runs the stage.
// A message is acked once Run has decided the item's fate, including
// skipped, conflicting and failed runs. Messages naming a missing item or an
// unknown stage are acked and dropped. Other infrastructure errors nack the
// message so it is delivered again after RetryDelay, up to MaxDeliveries
// times.
type Worker struct {
	Coordinator *Coordinator
	Queue       Receiver

	// Stages lists the topics to consume. Empty means every registered stage.
	Stages []string

	PollInterval time.Duration
	Lease        time.Duration

	// RetryDelay is how long a nacked message stays hidden (default 30s).
	RetryDelay time.Duration

	// MaxDeliveries drops a message after that many failed deliveries
	// (default 10).
	MaxDeliveries int

	// Ack is the policy for acknowledging messages, which must eventually
	// succeed or the message is processed again. Unit defaults to 1s.
	Ack backoff.Policy

	Logger *slog.Logger
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

func (w *Worker) ackPolicy() backoff.Policy {
	p := w.Ack
	if p.Unit <= 0 {
		p.Unit = time.Second
	}
	if p.Logger == nil {
		p.Logger = w.logger()
	}
	return p
}

func (w *Worker) retryDelay() time.Duration {
	if w.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return w.RetryDelay
}

func (w *Worker) maxDeliveries() int {
	if w.MaxDeliveries <= 0 {
		return DefaultMaxDeliveries
	}
	return w.MaxDeliveries
}

func (w *Worker) stages() []string {
	if len(w.Stages) > 0 {
		return w.Stages
	}
	return w.Coordinator.Stages()
}

// ProcessOne handles at most one message from each stage topic. It reports
// whether any message was handled.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	lease := w.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	log := w.logger()

	handled := false
	for _, name := range w.stages() {
		msg, err := w.Queue.Receive(ctx, name, lease)
		if err != nil {
			return handled, err
		}
		if msg == nil {
			continue
		}
		handled = true

		outcome, err := w.Coordinator.Run(ctx, name, msg.Body)
		switch {
		case err == nil, errors.Is(err, ErrStageFailed):
			log.Info("message processed", "stage", name, "id", msg.Body, "outcome", outcome.String())
		case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ErrUnknownStage):
			log.Warn("dropping message", "stage", name, "id", msg.Body, "error", err)
		case msg.Attempts >= w.maxDeliveries():
			log.Error("dropping message after repeated failures",
				"stage", name, "id", msg.Body, "attempts", msg.Attempts, "error", err)
		default:
			log.Warn("stage run failed, message will be redelivered",
				"stage", name, "id", msg.Body, "attempts", msg.Attempts, "error", err)
			if nerr := w.Queue.Nack(ctx, msg.ID, w.retryDelay()); nerr != nil {
				log.Error("nack failed", "message", msg.ID, "error", nerr)
			}
			continue
		}

		err = backoff.Forever(ctx, "ack message", w.ackPolicy(), func(ctx context.Context) error {
			return w.Queue.Ack(ctx, msg.ID)
		})
		if err != nil {
			return handled, err
		}
	}
	return handled, nil
}

// Run processes messages until ctx is done, sleeping PollInterval whenever
// every topic is empty. It returns nil on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log := w.logger()
	log.Info("worker started", "stages", w.stages(), "poll_interval", interval)

	for {
		handled, err := w.ProcessOne(ctx)
		if ctx.Err() != nil {
			log.Info("worker stopped")
			return nil
		}
		if err != nil {
			log.Error("receiving messages", "error", err)
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return nil
		case <-time.After(interval):
		}
	}
}
