package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vanneszias/Safe-Chat/internal/delivery"
	"github.com/vanneszias/Safe-Chat/internal/event"
	"github.com/vanneszias/Safe-Chat/internal/model"
	"github.com/vanneszias/Safe-Chat/internal/repo"
)

// Delivery is the part of the delivery engine the HTTP API drives.
type Delivery interface {
	Send(ctx context.Context, senderID uuid.UUID, cmd event.SendMessageData) (model.Message, error)
	UpdateStatus(ctx context.Context, actorID uuid.UUID, cmd event.UpdateStatusData) error
}

type MessageService interface {
	// Conversation lists the messages exchanged by two users, oldest first.
	Conversation(ctx context.Context, userID, otherID uuid.UUID) ([]event.NewMessageData, error)
	Send(ctx context.Context, senderID uuid.UUID, cmd event.SendMessageData) (event.NewMessageData, error)
	UpdateStatus(ctx context.Context, actorID uuid.UUID, cmd event.UpdateStatusData) error
}

type messageService struct {
	store    repo.MessageStore
	delivery Delivery
}

func NewMessageService(store repo.MessageStore, delivery Delivery) MessageService {
	return &messageService{
		store:    store,
		delivery: delivery,
	}
}

func (s *messageService) Conversation(ctx context.Context, userID, otherID uuid.UUID) ([]event.NewMessageData, error) {
	msgs, err := s.store.FetchMessagesBetween(ctx, userID, otherID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", delivery.ErrStore, err)
	}
	return lo.Map(msgs, func(m model.Message, _ int) event.NewMessageData {
		return event.NewMessageFromModel(m)
	}), nil
}

func (s *messageService) Send(ctx context.Context, senderID uuid.UUID, cmd event.SendMessageData) (event.NewMessageData, error) {
	if err := event.Validate(cmd); err != nil {
		return event.NewMessageData{}, fmt.Errorf("%w: %w", delivery.ErrValidation, err)
	}
	msg, err := s.delivery.Send(ctx, senderID, cmd)
	if err != nil {
		return event.NewMessageData{}, err
	}
	return event.NewMessageFromModel(msg), nil
}

func (s *messageService) UpdateStatus(ctx context.Context, actorID uuid.UUID, cmd event.UpdateStatusData) error {
	if err := event.Validate(cmd); err != nil {
		return fmt.Errorf("%w: %w", delivery.ErrValidation, err)
	}
	return s.delivery.UpdateStatus(ctx, actorID, cmd)
}
