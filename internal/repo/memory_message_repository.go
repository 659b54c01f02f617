package repo

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vanneszias/Safe-Chat/internal/model"
)

// MemoryMessageRepository keeps messages in process memory.
// Used by tests and by the "memory" store driver.
type MemoryMessageRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]model.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{rows: make(map[uuid.UUID]model.Message)}
}

func (r *MemoryMessageRepository) InsertMessage(_ context.Context, msg *model.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[msg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.ID)
	}
	r.rows[msg.ID] = clone(*msg)
	return nil
}

func (r *MemoryMessageRepository) FetchMessagesBetween(_ context.Context, userA, userB uuid.UUID) ([]model.Message, error) {
	r.mu.RLock()
	between := lo.Filter(lo.Values(r.rows), func(m model.Message, _ int) bool {
		return (m.SenderID == userA && m.ReceiverID == userB) ||
			(m.SenderID == userB && m.ReceiverID == userA)
	})
	r.mu.RUnlock()

	slices.SortStableFunc(between, func(a, b model.Message) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return bytes.Compare(a.ID[:], b.ID[:])
		}
	})
	return lo.Map(between, func(m model.Message, _ int) model.Message { return clone(m) }), nil
}

func (r *MemoryMessageRepository) GetParties(_ context.Context, id uuid.UUID) (model.Parties, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rows[id]
	if !ok {
		return model.Parties{}, ErrMessageNotFound
	}
	return model.Parties{SenderID: m.SenderID, ReceiverID: m.ReceiverID}, nil
}

func (r *MemoryMessageRepository) UpdateStatus(_ context.Context, id uuid.UUID, status model.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return ErrMessageNotFound
	}
	m.Status = status
	r.rows[id] = m
	return nil
}

func (r *MemoryMessageRepository) DeleteMessage(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return false, nil
	}
	delete(r.rows, id)
	return true, nil
}

// Get returns a copy of a stored message.
func (r *MemoryMessageRepository) Get(id uuid.UUID) (model.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rows[id]
	if !ok {
		return model.Message{}, false
	}
	return clone(m), true
}

func (r *MemoryMessageRepository) Close(_ context.Context) error {
	return nil
}

func clone(m model.Message) model.Message {
	m.EncryptedContent = slices.Clone(m.EncryptedContent)
	m.IV = slices.Clone(m.IV)
	return m
}
