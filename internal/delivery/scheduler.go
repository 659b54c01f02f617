package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vanneszias/Safe-Chat/internal/repo"
)

const (
	deletionQueueSize      = 1024
	defaultDeletionWorkers = 4
)

// DeletionScheduler removes messages after a delay. It belongs to the process,
// not to any session, and scheduled deletions cannot be cancelled.
type DeletionScheduler struct {
	store   repo.MessageStore
	timeout time.Duration
	logger  *zap.Logger

	queue  chan uuid.UUID
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDeletionScheduler(store repo.MessageStore, workers int, timeout time.Duration, logger *zap.Logger) *DeletionScheduler {
	if workers <= 0 {
		workers = defaultDeletionWorkers
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &DeletionScheduler{
		store:   store,
		timeout: timeout,
		logger:  logger.Named("deletion"),
		queue:   make(chan uuid.UUID, deletionQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.work()
		}()
	}
	return d
}

// Schedule deletes message id once after has elapsed.
func (d *DeletionScheduler) Schedule(id uuid.UUID, after time.Duration) {
	time.AfterFunc(after, func() {
		select {
		case d.queue <- id:
		case <-d.ctx.Done():
			d.logger.Warn("deletion abandoned at shutdown", zap.String("message_id", id.String()))
		}
	})
	d.logger.Debug("deletion scheduled",
		zap.String("message_id", id.String()),
		zap.Duration("after", after),
	)
}

func (d *DeletionScheduler) work() {
	for {
		select {
		case <-d.ctx.Done():
			d.drain()
			return
		case id := <-d.queue:
			d.delete(id)
		}
	}
}

// drain finishes whatever is already queued
func (d *DeletionScheduler) drain() {
	for {
		select {
		case id := <-d.queue:
			d.delete(id)
		default:
			return
		}
	}
}

func (d *DeletionScheduler) delete(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	deleted, err := d.store.DeleteMessage(ctx, id)
	switch {
	case err != nil:
		d.logger.Error("failed to delete read message", zap.String("message_id", id.String()), zap.Error(err))
	case deleted:
		d.logger.Info("deleted read message", zap.String("message_id", id.String()))
	default:
		d.logger.Info("read message already gone", zap.String("message_id", id.String()))
	}
}

// Stop stops the workers after draining queued deletions. Timers that have
// not fired yet are abandoned.
func (d *DeletionScheduler) Stop() {
	d.cancel()
	d.wg.Wait()
}
