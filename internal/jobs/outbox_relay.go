// Package jobs defines the River Queue job types of the platform.
//
// The only recurring job today is the outbox relay: it drains pending
// intent rows written by the commit transaction and hands them to the
// in-process intent dispatcher. Outbound transports subscribe to the
// dispatcher; the relay itself never talks to the network.
package jobs

import (
	"context"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/kernel/jobquota"
	"bizforge.io/platform/internal/pkg/logger"
)

// IntentStore is the outbox table as seen by the relay, satisfied by
// repository.OutboxStore.
type IntentStore interface {
	ClaimPending(ctx context.Context, limit int) ([]domain.OutboxIntent, error)
	Requeue(ctx context.Context, id string) error
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// RelayQueue is the quota queue name for relay dispatches.
const RelayQueue = "outbox"

// OutboxRelayArgs triggers one relay sweep.
type OutboxRelayArgs struct{}

// Kind returns the job kind identifier for the outbox relay.
func (OutboxRelayArgs) Kind() string { return "outbox_relay" }

// InsertOpts keeps at most one relay job queued at a time; the periodic
// scheduler re-inserts it every interval.
func (OutboxRelayArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByState: []rivertype.JobState{rivertype.JobStateAvailable, rivertype.JobStateRunning},
		},
	}
}

// OutboxRelayWorker claims pending intents and dispatches them.
type OutboxRelayWorker struct {
	river.WorkerDefaults[OutboxRelayArgs]
	store      IntentStore
	dispatcher *domain.IntentDispatcher
	quota      jobquota.Quota
	batchSize  int
}

// NewOutboxRelayWorker creates a relay worker. Non-positive batch size
// falls back to 100.
func NewOutboxRelayWorker(store IntentStore, dispatcher *domain.IntentDispatcher, quota jobquota.Quota, batchSize int) *OutboxRelayWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelayWorker{
		store:      store,
		dispatcher: dispatcher,
		quota:      quota,
		batchSize:  batchSize,
	}
}

// Work drains one batch of pending intents. Per-intent failures park the
// row as failed and never abort the sweep; quota denials put the row back
// to pending for the next sweep.
func (w *OutboxRelayWorker) Work(ctx context.Context, _ *river.Job[OutboxRelayArgs]) error {
	start := time.Now()
	intents, err := w.store.ClaimPending(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		return nil
	}

	var delivered, failed, deferred int
	for i := range intents {
		intent := &intents[i]

		if d := w.quota.Acquire(intent.TenantID, RelayQueue); !d.Allowed {
			deferred++
			if err := w.store.Requeue(ctx, intent.ID); err != nil {
				logger.Warn("requeue intent failed",
					zap.String("intent_id", intent.ID),
					zap.Error(err))
			}
			continue
		}

		dispatchErr := w.dispatcher.Dispatch(ctx, intent)
		w.quota.Release(intent.TenantID, RelayQueue)

		if dispatchErr != nil {
			failed++
			if err := w.store.MarkFailed(ctx, intent.ID); err != nil {
				logger.Warn("mark intent failed errored",
					zap.String("intent_id", intent.ID),
					zap.Error(err))
			}
			continue
		}
		delivered++
		if err := w.store.MarkProcessed(ctx, intent.ID); err != nil {
			logger.Warn("mark intent processed errored",
				zap.String("intent_id", intent.ID),
				zap.Error(err))
		}
	}

	logger.Info("outbox relay sweep completed",
		zap.Int("claimed", len(intents)),
		zap.Int("delivered", delivered),
		zap.Int("failed", failed),
		zap.Int("deferred", deferred),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// PeriodicRelay returns the periodic job that triggers relay sweeps.
func PeriodicRelay(interval time.Duration) *river.PeriodicJob {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return OutboxRelayArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
