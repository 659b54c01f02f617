package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vanneszias/Safe-Chat/internal/model"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrInvalidMessage   = errors.New("invalid message: message cannot be nil")
	ErrDuplicateMessage = errors.New("message id already exists")
	ErrOperationTimeout = errors.New("operation timeout exceeded")
)

const (
	// Timeouts
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	// Retry configuration
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
)

// MessageStore is the durable message capability used by the delivery engine.
// Each call is atomic and independently failable.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *model.Message) error
	FetchMessagesBetween(ctx context.Context, userA, userB uuid.UUID) ([]model.Message, error)
	GetParties(ctx context.Context, id uuid.UUID) (model.Parties, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error
	// DeleteMessage reports whether a row was removed.
	DeleteMessage(ctx context.Context, id uuid.UUID) (bool, error)
	Close(ctx context.Context) error
}

func validateMessage(msg *model.Message) error {
	if msg == nil || msg.ID == uuid.Nil {
		return ErrInvalidMessage
	}
	return nil
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

func waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func timeoutAware(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrOperationTimeout
	}
	return err
}
