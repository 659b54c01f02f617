package delivery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/vanneszias/Safe-Chat/internal/event"
	"github.com/vanneszias/Safe-Chat/internal/model"
	"github.com/vanneszias/Safe-Chat/internal/repo"
)

// DefaultGracePeriod is the delay between a READ transition and the deletion of the message.
const DefaultGracePeriod = 5 * time.Second

// Pusher delivers an event to a user's registered session, if any.
type Pusher interface {
	Push(userID uuid.UUID, ev event.Event) error
}

// Scheduler defers the deletion of a message.
type Scheduler interface {
	Schedule(id uuid.UUID, after time.Duration)
}

type Config struct {
	GracePeriod  time.Duration
	Location     *time.Location // zone the creation timestamp is taken in
	StoreTimeout time.Duration
}

// Engine validates client commands, applies them to the store and notifies
// the users concerned. The store is always written before anything is pushed.
type Engine struct {
	store     repo.MessageStore
	pusher    Pusher
	scheduler Scheduler
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	sent          metric.Int64Counter
	statusUpdates metric.Int64Counter
	rejected      metric.Int64Counter
}

func NewEngine(store repo.MessageStore, pusher Pusher, scheduler Scheduler, cfg Config, logger *zap.Logger) *Engine {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}

	meter := otel.Meter("safechat/delivery")
	e := &Engine{
		store:     store,
		pusher:    pusher,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logger.Named("delivery"),
		now:       time.Now,
	}
	e.sent, _ = meter.Int64Counter("messages_sent_total",
		metric.WithDescription("Messages persisted through send_message"))
	e.statusUpdates, _ = meter.Int64Counter("message_status_updates_total",
		metric.WithDescription("Persisted status transitions"))
	e.rejected, _ = meter.Int64Counter("commands_rejected_total",
		metric.WithDescription("Client commands rejected before or at the store"))
	return e
}

// -----------------------------------------------------------------
// send_message
// -----------------------------------------------------------------

// SendMessage implements hub.CommandHandler.
func (e *Engine) SendMessage(ctx context.Context, senderID uuid.UUID, cmd event.SendMessageData) error {
	_, err := e.Send(ctx, senderID, cmd)
	return err
}

// Send persists a new message with status SENT, pushes it to the receiver and
// acknowledges it to the sender.
func (e *Engine) Send(ctx context.Context, senderID uuid.UUID, cmd event.SendMessageData) (model.Message, error) {
	msg, err := e.buildMessage(senderID, cmd)
	if err != nil {
		return model.Message{}, e.reject("send_message", senderID, err)
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()
	if err := e.store.InsertMessage(storeCtx, &msg); err != nil {
		return model.Message{}, e.reject("send_message", senderID, fmt.Errorf("%w: %w", ErrStore, err))
	}

	e.sent.Add(ctx, 1)
	e.logger.Info("message stored",
		zap.String("message_id", msg.ID.String()),
		zap.String("sender_id", senderID.String()),
		zap.String("receiver_id", msg.ReceiverID.String()),
	)

	e.push(msg.ReceiverID, event.NewMessage(msg))
	e.push(senderID, event.StatusUpdate(msg.ID.String(), model.StatusSent, event.UpdatedByServer))
	return msg, nil
}

func (e *Engine) buildMessage(senderID uuid.UUID, cmd event.SendMessageData) (model.Message, error) {
	receiverID, err := uuid.Parse(cmd.ReceiverID)
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: invalid receiver_id format", ErrValidation)
	}
	messageID, err := uuid.Parse(cmd.MessageID)
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: invalid message_id format", ErrValidation)
	}
	content, err := base64.StdEncoding.DecodeString(cmd.EncryptedContent)
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: invalid base64 for encrypted_content", ErrValidation)
	}
	iv, err := base64.StdEncoding.DecodeString(cmd.IV)
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: invalid base64 for iv", ErrValidation)
	}

	return model.Message{
		ID:               messageID,
		Timestamp:        e.now().In(e.cfg.Location).UnixMilli(),
		SenderID:         senderID,
		ReceiverID:       receiverID,
		Status:           model.StatusSent,
		Type:             cmd.Type,
		EncryptedContent: content,
		IV:               iv,
	}, nil
}

// -----------------------------------------------------------------
// update_status
// -----------------------------------------------------------------

// UpdateStatus implements hub.CommandHandler.
//
// Only the receiver may mark a message READ; any other status may be set by
// anyone. On success both parties are notified, and a READ message is
// scheduled for deletion after the grace period.
func (e *Engine) UpdateStatus(ctx context.Context, actorID uuid.UUID, cmd event.UpdateStatusData) error {
	messageID, err := uuid.Parse(cmd.MessageID)
	if err != nil {
		return e.reject("update_status", actorID, fmt.Errorf("%w: invalid message_id format", ErrValidation))
	}
	status, ok := model.ParseStatus(cmd.Status)
	if !ok {
		return e.reject("update_status", actorID,
			fmt.Errorf("%w: invalid status %q, must be one of SENT, DELIVERED, READ, FAILED", ErrValidation, cmd.Status))
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()

	parties, err := e.store.GetParties(storeCtx, messageID)
	if err != nil {
		return e.reject("update_status", actorID, storeError(err))
	}

	if status == model.StatusRead && parties.ReceiverID != actorID {
		return e.reject("update_status", actorID,
			fmt.Errorf("%w: only the message receiver can mark it as read", ErrForbidden))
	}

	if err := e.store.UpdateStatus(storeCtx, messageID, status); err != nil {
		return e.reject("update_status", actorID, storeError(err))
	}

	e.statusUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
	e.logger.Info("message status updated",
		zap.String("message_id", messageID.String()),
		zap.String("status", status.String()),
		zap.String("updated_by", actorID.String()),
	)

	update := event.StatusUpdate(messageID.String(), status, actorID.String())
	for _, userID := range lo.Uniq([]uuid.UUID{parties.SenderID, parties.ReceiverID}) {
		e.push(userID, update)
	}

	if status == model.StatusRead {
		e.scheduler.Schedule(messageID, e.cfg.GracePeriod)
	}
	return nil
}

func storeError(err error) error {
	if errors.Is(err, repo.ErrMessageNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}

// push is best-effort: an offline user or a closed mailbox is only logged.
func (e *Engine) push(userID uuid.UUID, ev event.Event) {
	err := e.pusher.Push(userID, ev)
	if err == nil {
		return
	}
	e.logger.Debug("event not delivered",
		zap.String("user_id", userID.String()),
		zap.String("event", ev.Kind.String()),
		zap.Error(err),
	)
}

func (e *Engine) reject(command string, userID uuid.UUID, err error) error {
	e.rejected.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("reason", reason(err)),
	))
	fields := []zap.Field{
		zap.String("command", command),
		zap.String("user_id", userID.String()),
		zap.Error(err),
	}
	if errors.Is(err, ErrStore) {
		e.logger.Error("command failed", fields...)
	} else {
		e.logger.Warn("command rejected", fields...)
	}
	return err
}
