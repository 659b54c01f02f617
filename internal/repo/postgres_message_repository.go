package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/vanneszias/Safe-Chat/internal/model"
)

const pqUniqueViolation = "23505"

type postgresMessageRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresMessageRepository stores messages in the messages table of conn.
func NewPostgresMessageRepository(conn *sql.DB, logger *zap.Logger) MessageStore {
	return &postgresMessageRepository{db: conn, logger: logger.Named("postgres_messages")}
}

func (p *postgresMessageRepository) InsertMessage(ctx context.Context, msg *model.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := p.db.ExecContext(ctx,
		"INSERT INTO messages (id, timestamp, sender_id, receiver_id, status, type, encrypted_content, iv) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		msg.ID.String(), msg.Timestamp, msg.SenderID.String(), msg.ReceiverID.String(),
		msg.Status.String(), msg.Type, msg.EncryptedContent, msg.IV,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.ID)
		}
		p.logger.Error("failed to insert message",
			zap.String("message_id", msg.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("insert message failed: %w", timeoutAware(err))
	}
	return nil
}

func (p *postgresMessageRepository) FetchMessagesBetween(ctx context.Context, userA, userB uuid.UUID) ([]model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx,
		"SELECT id, timestamp, sender_id, receiver_id, status, type, encrypted_content, iv FROM messages WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1) ORDER BY timestamp ASC, id ASC",
		userA.String(), userB.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch messages failed: %w", timeoutAware(err))
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		var (
			m                        model.Message
			id, sender, receiver, st string
		)
		if err := rows.Scan(&id, &m.Timestamp, &sender, &receiver, &st, &m.Type, &m.EncryptedContent, &m.IV); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if m.ID, err = uuid.Parse(id); err != nil {
			p.logger.Warn("skipping corrupt message row", zap.String("id", id), zap.Error(err))
			continue
		}
		if m.SenderID, err = uuid.Parse(sender); err != nil {
			p.logger.Warn("skipping corrupt message row", zap.String("id", id), zap.Error(err))
			continue
		}
		if m.ReceiverID, err = uuid.Parse(receiver); err != nil {
			p.logger.Warn("skipping corrupt message row", zap.String("id", id), zap.Error(err))
			continue
		}
		m.Status = model.Status(st)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch messages failed: %w", timeoutAware(err))
	}
	return messages, nil
}

func (p *postgresMessageRepository) GetParties(ctx context.Context, id uuid.UUID) (model.Parties, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	var sender, receiver string
	err := p.db.QueryRowContext(ctx,
		"SELECT sender_id, receiver_id FROM messages WHERE id = $1", id.String(),
	).Scan(&sender, &receiver)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Parties{}, ErrMessageNotFound
		}
		return model.Parties{}, fmt.Errorf("get message parties: %w", timeoutAware(err))
	}

	var parties model.Parties
	if parties.SenderID, err = uuid.Parse(sender); err != nil {
		return model.Parties{}, fmt.Errorf("invalid sender_id in store: %w", err)
	}
	if parties.ReceiverID, err = uuid.Parse(receiver); err != nil {
		return model.Parties{}, fmt.Errorf("invalid receiver_id in store: %w", err)
	}
	return parties, nil
}

func (p *postgresMessageRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	res, err := p.db.ExecContext(ctx, "UPDATE messages SET status = $1 WHERE id = $2", status.String(), id.String())
	if err != nil {
		return fmt.Errorf("update status: %w", timeoutAware(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (p *postgresMessageRepository) DeleteMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	res, err := p.db.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id.String())
	if err != nil {
		return false, fmt.Errorf("delete message: %w", timeoutAware(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	return n > 0, nil
}

func (p *postgresMessageRepository) Close(_ context.Context) error {
	return p.db.Close()
}
