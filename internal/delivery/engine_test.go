package delivery

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vanneszias/Safe-Chat/internal/event"
	"github.com/vanneszias/Safe-Chat/internal/model"
	"github.com/vanneszias/Safe-Chat/internal/repo"
)

type pushed struct {
	userID uuid.UUID
	ev     event.Event
}

// recordingPusher captures every push in order. Users in offline never receive.
type recordingPusher struct {
	mu      sync.Mutex
	pushes  []pushed
	offline map[uuid.UUID]bool
}

func (p *recordingPusher) Push(userID uuid.UUID, ev event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offline[userID] {
		return errors.New("offline")
	}
	p.pushes = append(p.pushes, pushed{userID: userID, ev: ev})
	return nil
}

func (p *recordingPusher) all() []pushed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushed(nil), p.pushes...)
}

func (p *recordingPusher) to(userID uuid.UUID) []event.Event {
	var out []event.Event
	for _, x := range p.all() {
		if x.userID == userID {
			out = append(out, x.ev)
		}
	}
	return out
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []uuid.UUID
	after []time.Duration
}

func (s *recordingScheduler) Schedule(id uuid.UUID, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, id)
	s.after = append(s.after, after)
}

type failingStore struct {
	*repo.MemoryMessageRepository
	err error
}

func (f failingStore) InsertMessage(context.Context, *model.Message) error {
	return f.err
}

func (f failingStore) UpdateStatus(context.Context, uuid.UUID, model.Status) error {
	return f.err
}

type fixture struct {
	store     *repo.MemoryMessageRepository
	pusher    *recordingPusher
	scheduler *recordingScheduler
	engine    *Engine
}

func newFixture() *fixture {
	f := &fixture{
		store:     repo.NewMemoryMessageRepository(),
		pusher:    &recordingPusher{offline: map[uuid.UUID]bool{}},
		scheduler: &recordingScheduler{},
	}
	f.engine = NewEngine(f.store, f.pusher, f.scheduler, Config{}, zap.NewNop())
	return f
}

func sendCmd(receiver uuid.UUID) event.SendMessageData {
	return event.SendMessageData{
		MessageID:        uuid.NewString(),
		ReceiverID:       receiver.String(),
		Type:             "text",
		EncryptedContent: base64.StdEncoding.EncodeToString([]byte("ciphertext")),
		IV:               base64.StdEncoding.EncodeToString([]byte("0123456789ab")),
	}
}

func Test_Send_Stores_Then_Notifies_Receiver_Then_Sender(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice, bob := uuid.New(), uuid.New()
	cmd := sendCmd(bob)

	msg, err := f.engine.Send(context.Background(), alice, cmd)
	req.NoError(err)
	req.Equal(cmd.MessageID, msg.ID.String())
	req.Equal(model.StatusSent, msg.Status)

	stored, ok := f.store.Get(msg.ID)
	req.True(ok)
	req.Equal(alice, stored.SenderID)
	req.Equal(bob, stored.ReceiverID)
	req.Equal([]byte("ciphertext"), stored.EncryptedContent)
	req.Equal([]byte("0123456789ab"), stored.IV)
	req.Equal("text", stored.Type)

	all := f.pusher.all()
	req.Len(all, 2)

	req.Equal(bob, all[0].userID)
	req.Equal(event.KindNewMessage, all[0].ev.Kind)
	req.Equal(msg.ID, all[0].ev.Message.ID)

	req.Equal(alice, all[1].userID)
	req.Equal(event.KindStatusUpdate, all[1].ev.Kind)
	req.Equal(cmd.MessageID, all[1].ev.Status.MessageID)
	req.Equal("SENT", all[1].ev.Status.Status)
	req.Equal(event.UpdatedByServer, all[1].ev.Status.UpdatedBy)
}

func Test_Send_Round_Trips_Payload_Bytes(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice, bob := uuid.New(), uuid.New()
	cmd := sendCmd(bob)

	_, err := f.engine.Send(context.Background(), alice, cmd)
	req.NoError(err)

	delivered := f.pusher.to(bob)
	req.Len(delivered, 1)
	wire := event.NewMessageFromModel(*delivered[0].Message)
	req.Equal(cmd.EncryptedContent, wire.EncryptedContent)
	req.Equal(cmd.IV, wire.IV)
}

func Test_Send_Accepts_Empty_Payload(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	cmd := sendCmd(uuid.New())
	cmd.EncryptedContent = ""
	cmd.IV = ""

	msg, err := f.engine.Send(context.Background(), uuid.New(), cmd)
	req.NoError(err)

	stored, ok := f.store.Get(msg.ID)
	req.True(ok)
	req.Empty(stored.EncryptedContent)
	req.Empty(stored.IV)
}

func Test_Send_Uses_Configured_Clock(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return fixed }

	msg, err := f.engine.Send(context.Background(), uuid.New(), sendCmd(uuid.New()))
	req.NoError(err)
	req.Equal(fixed.UnixMilli(), msg.Timestamp)
}

func Test_Send_To_Offline_Receiver_Still_Acknowledges(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice, bob := uuid.New(), uuid.New()
	f.pusher.offline[bob] = true

	msg, err := f.engine.Send(context.Background(), alice, sendCmd(bob))
	req.NoError(err)

	_, ok := f.store.Get(msg.ID)
	req.True(ok)
	req.Len(f.pusher.to(alice), 1)
}

func Test_Send_Rejects_Invalid_Input_Before_Store(t *testing.T) {
	cases := map[string]func(*event.SendMessageData){
		"receiver":  func(c *event.SendMessageData) { c.ReceiverID = "not-a-uuid" },
		"messageID": func(c *event.SendMessageData) { c.MessageID = "nope" },
		"content":   func(c *event.SendMessageData) { c.EncryptedContent = "%%%" },
		"iv":        func(c *event.SendMessageData) { c.IV = "!!" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture()
			cmd := sendCmd(uuid.New())
			mutate(&cmd)

			_, err := f.engine.Send(context.Background(), uuid.New(), cmd)
			req.ErrorIs(err, ErrValidation)
			req.Empty(f.pusher.all())
		})
	}
}

func Test_Send_Store_Failure_Emits_Nothing(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	store := failingStore{MemoryMessageRepository: f.store, err: errors.New("disk on fire")}
	engine := NewEngine(store, f.pusher, f.scheduler, Config{}, zap.NewNop())

	_, err := engine.Send(context.Background(), uuid.New(), sendCmd(uuid.New()))
	req.ErrorIs(err, ErrStore)
	req.Empty(f.pusher.all())
}

func Test_Send_Duplicate_ID_Is_Store_Error(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice, bob := uuid.New(), uuid.New()
	cmd := sendCmd(bob)

	_, err := f.engine.Send(context.Background(), alice, cmd)
	req.NoError(err)
	before := len(f.pusher.all())

	_, err = f.engine.Send(context.Background(), alice, cmd)
	req.ErrorIs(err, ErrStore)
	req.ErrorIs(err, repo.ErrDuplicateMessage)
	req.Len(f.pusher.all(), before)
}

func (f *fixture) seed(t *testing.T, sender, receiver uuid.UUID) model.Message {
	t.Helper()
	msg, err := f.engine.Send(context.Background(), sender, sendCmd(receiver))
	require.NoError(t, err)
	f.pusher.mu.Lock()
	f.pusher.pushes = nil
	f.pusher.mu.Unlock()
	return msg
}

func Test_UpdateStatus_Notifies_Both_Parties_Once(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice, bob := uuid.New(), uuid.New()
	msg := f.seed(t, alice, bob)

	err := f.engine.UpdateStatus(context.Background(), bob, event.UpdateStatusData{
		MessageID: msg.ID.String(),
		Status:    "DELIVERED",
	})
	req.NoError(err)

	stored, _ := f.store.Get(msg.ID)
	req.Equal(model.StatusDelivered, stored.Status)

	for _, user := range []uuid.UUID{alice, bob} {
		got := f.pusher.to(user)
		req.Len(got, 1)
		req.Equal("DELIVERED", got[0].Status.Status)
		req.Equal(bob.String(), got[0].Status.UpdatedBy)
	}
	req.Empty(f.scheduler.calls)
}

func Test_UpdateStatus_Normalizes_Case(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice, bob := uuid.New(), uuid.New()
	msg := f.seed(t, alice, bob)

	err := f.engine.UpdateStatus(context.Background(), alice, event.UpdateStatusData{
		MessageID: msg.ID.String(),
		Status:    " delivered ",
	})
	req.NoError(err)

	stored, _ := f.store.Get(msg.ID)
	req.Equal(model.StatusDelivered, stored.Status)
}

func Test_UpdateStatus_Self_Message_Notifies_Once(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice := uuid.New()
	msg := f.seed(t, alice, alice)

	err := f.engine.UpdateStatus(context.Background(), alice, event.UpdateStatusData{
		MessageID: msg.ID.String(),
		Status:    "READ",
	})
	req.NoError(err)
	req.Len(f.pusher.to(alice), 1)
}

func Test_UpdateStatus_Read_By_Receiver_Schedules_Deletion(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice, bob := uuid.New(), uuid.New()
	msg := f.seed(t, alice, bob)

	err := f.engine.UpdateStatus(context.Background(), bob, event.UpdateStatusData{
		MessageID: msg.ID.String(),
		Status:    "READ",
	})
	req.NoError(err)

	req.Equal([]uuid.UUID{msg.ID}, f.scheduler.calls)
	req.Equal([]time.Duration{DefaultGracePeriod}, f.scheduler.after)

	stored, ok := f.store.Get(msg.ID)
	req.True(ok)
	req.Equal(model.StatusRead, stored.Status)
}

func Test_UpdateStatus_Read_By_Sender_Is_Forbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice, bob := uuid.New(), uuid.New()
	msg := f.seed(t, alice, bob)

	err := f.engine.UpdateStatus(context.Background(), alice, event.UpdateStatusData{
		MessageID: msg.ID.String(),
		Status:    "READ",
	})
	req.ErrorIs(err, ErrForbidden)

	stored, _ := f.store.Get(msg.ID)
	req.Equal(model.StatusSent, stored.Status)
	req.Empty(f.pusher.all())
	req.Empty(f.scheduler.calls)
}

func Test_UpdateStatus_Read_By_Stranger_Is_Forbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	msg := f.seed(t, uuid.New(), uuid.New())

	err := f.engine.UpdateStatus(context.Background(), uuid.New(), event.UpdateStatusData{
		MessageID: msg.ID.String(),
		Status:    "READ",
	})
	req.ErrorIs(err, ErrForbidden)
}

func Test_UpdateStatus_Invalid_Input(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	msg := f.seed(t, uuid.New(), uuid.New())

	err := f.engine.UpdateStatus(context.Background(), uuid.New(), event.UpdateStatusData{
		MessageID: msg.ID.String(),
		Status:    "ARCHIVED",
	})
	req.ErrorIs(err, ErrValidation)

	err = f.engine.UpdateStatus(context.Background(), uuid.New(), event.UpdateStatusData{
		MessageID: "123",
		Status:    "READ",
	})
	req.ErrorIs(err, ErrValidation)
	req.Empty(f.pusher.all())
}

func Test_UpdateStatus_Unknown_Message(t *testing.T) {
	req := require.New(t)
	f := newFixture()

	err := f.engine.UpdateStatus(context.Background(), uuid.New(), event.UpdateStatusData{
		MessageID: uuid.NewString(),
		Status:    "DELIVERED",
	})
	req.ErrorIs(err, ErrNotFound)
	req.Empty(f.pusher.all())
}

func Test_UpdateStatus_Store_Failure_Emits_Nothing(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	alice, bob := uuid.New(), uuid.New()
	msg := f.seed(t, alice, bob)

	store := failingStore{MemoryMessageRepository: f.store, err: errors.New("timeout")}
	engine := NewEngine(store, f.pusher, f.scheduler, Config{}, zap.NewNop())

	err := engine.UpdateStatus(context.Background(), bob, event.UpdateStatusData{
		MessageID: msg.ID.String(),
		Status:    "READ",
	})
	req.ErrorIs(err, ErrStore)
	req.Empty(f.pusher.all())
	req.Empty(f.scheduler.calls)
}

func Test_Read_Message_Is_Deleted_After_Grace_Period(t *testing.T) {
	req := require.New(t)
	store := repo.NewMemoryMessageRepository()
	pusher := &recordingPusher{offline: map[uuid.UUID]bool{}}
	scheduler := NewDeletionScheduler(store, 1, time.Second, zap.NewNop())
	defer scheduler.Stop()

	engine := NewEngine(store, pusher, scheduler, Config{GracePeriod: 50 * time.Millisecond}, zap.NewNop())
	alice, bob := uuid.New(), uuid.New()

	msg, err := engine.Send(context.Background(), alice, sendCmd(bob))
	req.NoError(err)
	req.NoError(engine.UpdateStatus(context.Background(), bob, event.UpdateStatusData{
		MessageID: msg.ID.String(),
		Status:    "READ",
	}))

	_, ok := store.Get(msg.ID)
	req.True(ok, "message must survive until the grace period ends")

	req.Eventually(func() bool {
		_, ok := store.Get(msg.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	// a late transition on a deleted message is a plain not-found
	err = engine.UpdateStatus(context.Background(), bob, event.UpdateStatusData{
		MessageID: msg.ID.String(),
		Status:    "DELIVERED",
	})
	req.ErrorIs(err, ErrNotFound)
}
