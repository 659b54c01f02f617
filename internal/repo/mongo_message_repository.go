package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/vanneszias/Safe-Chat/internal/db"
	"github.com/vanneszias/Safe-Chat/internal/model"
)

// messageDocument is the stored shape of a message in MongoDB
type messageDocument struct {
	ID               string `bson:"_id"`
	Timestamp        int64  `bson:"timestamp"`
	SenderID         string `bson:"sender_id"`
	ReceiverID       string `bson:"receiver_id"`
	Status           string `bson:"status"`
	Type             string `bson:"type"`
	EncryptedContent []byte `bson:"encrypted_content"`
	IV               []byte `bson:"iv"`
}

func toDocument(m *model.Message) messageDocument {
	return messageDocument{
		ID:               m.ID.String(),
		Timestamp:        m.Timestamp,
		SenderID:         m.SenderID.String(),
		ReceiverID:       m.ReceiverID.String(),
		Status:           m.Status.String(),
		Type:             m.Type,
		EncryptedContent: m.EncryptedContent,
		IV:               m.IV,
	}
}

func (d messageDocument) toModel() (model.Message, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return model.Message{}, fmt.Errorf("stored message id %q: %w", d.ID, err)
	}
	sender, err := uuid.Parse(d.SenderID)
	if err != nil {
		return model.Message{}, fmt.Errorf("stored sender id %q: %w", d.SenderID, err)
	}
	receiver, err := uuid.Parse(d.ReceiverID)
	if err != nil {
		return model.Message{}, fmt.Errorf("stored receiver id %q: %w", d.ReceiverID, err)
	}
	return model.Message{
		ID:               id,
		Timestamp:        d.Timestamp,
		SenderID:         sender,
		ReceiverID:       receiver,
		Status:           model.Status(d.Status),
		Type:             d.Type,
		EncryptedContent: d.EncryptedContent,
		IV:               d.IV,
	}, nil
}

type mongoMessageRepository struct {
	con       *mongo.Database
	mongoRepo *db.Repository[messageDocument]
	logger    *zap.Logger
}

// NewMongoMessageRepository stores messages in the given collection.
func NewMongoMessageRepository(con *mongo.Database, collection string, logger *zap.Logger) MessageStore {
	repository := db.NewRepository[messageDocument](con, collection)

	ctx, cancel := ensureTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	if err := repository.EnsureIndex(ctx, "sender_id", "receiver_id", "timestamp"); err != nil {
		logger.Warn("failed to ensure message index", zap.Error(err))
	}

	return &mongoMessageRepository{
		con:       con,
		mongoRepo: repository,
		logger:    logger.Named("mongo_messages"),
	}
}

// -----------------------------------------------------------------------------
// InsertMessage
// -----------------------------------------------------------------------------

func (m *mongoMessageRepository) InsertMessage(ctx context.Context, msg *model.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := m.mongoRepo.Create(ctx, toDocument(msg))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.ID)
		}
		m.logger.Error("failed to insert message",
			zap.String("message_id", msg.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("insert message failed: %w", timeoutAware(err))
	}

	m.logger.Debug("message inserted",
		zap.String("message_id", msg.ID.String()),
		zap.String("receiver_id", msg.ReceiverID.String()),
	)
	return nil
}

// -----------------------------------------------------------------------------
// FetchMessagesBetween
// -----------------------------------------------------------------------------

func (m *mongoMessageRepository) FetchMessagesBetween(ctx context.Context, userA, userB uuid.UUID) ([]model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.Between("sender_id", "receiver_id", userA.String(), userB.String())

	var (
		docs    []messageDocument
		lastErr error
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return nil, fmt.Errorf("retry wait cancelled: %w", err)
			}
			m.logger.Warn("retrying fetch messages",
				zap.String("user_a", userA.String()),
				zap.String("user_b", userB.String()),
				zap.Int("attempt", attempt+1),
			)
		}

		docs, lastErr = m.mongoRepo.FindAll(ctx, filter, &db.SortParams{SortBy: "timestamp"})
		if lastErr == nil || !isRetryableError(lastErr) {
			break
		}
	}
	if lastErr != nil {
		m.logger.Error("fetch messages failed", zap.Error(lastErr))
		return nil, fmt.Errorf("fetch messages failed: %w", timeoutAware(lastErr))
	}

	messages := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		msg, err := d.toModel()
		if err != nil {
			m.logger.Warn("skipping corrupt message document", zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// -----------------------------------------------------------------------------
// GetParties
// -----------------------------------------------------------------------------

func (m *mongoMessageRepository) GetParties(ctx context.Context, id uuid.UUID) (model.Parties, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	doc, err := m.mongoRepo.FindByID(ctx, id.String(), bson.M{"sender_id": 1, "receiver_id": 1})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Parties{}, ErrMessageNotFound
		}
		return model.Parties{}, fmt.Errorf("get message parties: %w", timeoutAware(err))
	}

	sender, err := uuid.Parse(doc.SenderID)
	if err != nil {
		return model.Parties{}, fmt.Errorf("invalid sender_id in store: %w", err)
	}
	receiver, err := uuid.Parse(doc.ReceiverID)
	if err != nil {
		return model.Parties{}, fmt.Errorf("invalid receiver_id in store: %w", err)
	}
	return model.Parties{SenderID: sender, ReceiverID: receiver}, nil
}

// -----------------------------------------------------------------------------
// UpdateStatus / DeleteMessage
// -----------------------------------------------------------------------------

func (m *mongoMessageRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	res, err := m.mongoRepo.UpdateByID(ctx, id.String(), bson.M{"status": status.String()})
	if err != nil {
		return fmt.Errorf("update status: %w", timeoutAware(err))
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (m *mongoMessageRepository) DeleteMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	res, err := m.mongoRepo.DeleteByID(ctx, id.String())
	if err != nil {
		return false, fmt.Errorf("delete message: %w", timeoutAware(err))
	}
	return res.DeletedCount > 0, nil
}

func (m *mongoMessageRepository) Close(ctx context.Context) error {
	if err := m.con.Client().Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close MongoDB connection: %w", err)
	}
	return nil
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}
