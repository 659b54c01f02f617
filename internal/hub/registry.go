package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/vanneszias/Safe-Chat/internal/event"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

var ErrNotRegistered = errors.New("user has no registered session")

type userBucket struct {
	sync.RWMutex
	users map[uuid.UUID]*Mailbox
}

// Registry maps each user to the mailbox of their reachable session.
// Every operation touches a single key and is safe for concurrent use.
type Registry struct {
	shards [shardCount]*userBucket
	logger *zap.Logger

	dropped      atomic.Uint64
	droppedCount metric.Int64Counter
}

func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{logger: logger.Named("registry")}
	for i := 0; i < shardCount; i++ {
		r.shards[i] = &userBucket{
			users: make(map[uuid.UUID]*Mailbox),
		}
	}

	meter := otel.Meter("safechat/hub")
	r.droppedCount, _ = meter.Int64Counter("mailbox_events_dropped_total",
		metric.WithDescription("Events evicted from full session mailboxes"))
	_, _ = meter.Int64ObservableGauge("presence_registered_users",
		metric.WithDescription("Users with a registered session"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.Count()))
			return nil
		}))
	return r
}

func getShard(userID uuid.UUID) uint32 {
	h := sha1.Sum(userID[:])
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

func (r *Registry) bucket(userID uuid.UUID) *userBucket {
	return r.shards[getShard(userID)]
}

// Register makes mb the push target for userID, replacing any earlier entry.
// The replaced mailbox, if any, is returned untouched.
func (r *Registry) Register(userID uuid.UUID, mb *Mailbox) *Mailbox {
	b := r.bucket(userID)
	b.Lock()
	previous := b.users[userID]
	b.users[userID] = mb
	b.Unlock()

	if previous != nil && previous != mb {
		r.logger.Warn("session superseded",
			zap.String("user_id", userID.String()),
			zap.String("previous_session", previous.SessionID()),
			zap.String("session", mb.SessionID()),
		)
		return previous
	}
	return nil
}

// Unregister removes the entry for userID only while it still points at mb.
func (r *Registry) Unregister(userID uuid.UUID, mb *Mailbox) bool {
	b := r.bucket(userID)
	b.Lock()
	defer b.Unlock()

	current, ok := b.users[userID]
	if !ok || current != mb {
		return false
	}
	delete(b.users, userID)
	return true
}

// Lookup returns the current mailbox for userID.
func (r *Registry) Lookup(userID uuid.UUID) (*Mailbox, bool) {
	b := r.bucket(userID)
	b.RLock()
	defer b.RUnlock()
	mb, ok := b.users[userID]
	return mb, ok
}

// Push delivers ev to userID's current mailbox, if any.
func (r *Registry) Push(userID uuid.UUID, ev event.Event) error {
	mb, ok := r.Lookup(userID)
	if !ok {
		return ErrNotRegistered
	}
	return r.pushTo(userID, mb, ev)
}

func (r *Registry) pushTo(userID uuid.UUID, mb *Mailbox, ev event.Event) error {
	evicted, err := mb.Push(ev)
	if err != nil {
		return err
	}
	if evicted {
		r.dropped.Add(1)
		r.droppedCount.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("event", ev.Kind.String())))
		r.logger.Warn("mailbox full, dropped oldest event",
			zap.String("user_id", userID.String()),
			zap.String("session", mb.SessionID()),
		)
	}
	return nil
}

type entry struct {
	userID  uuid.UUID
	mailbox *Mailbox
}

func (r *Registry) snapshot() []entry {
	entries := make([]entry, 0)
	for _, b := range r.shards {
		b.RLock()
		for userID, mb := range b.users {
			entries = append(entries, entry{userID: userID, mailbox: mb})
		}
		b.RUnlock()
	}
	return entries
}

// Broadcast pushes ev to every registered mailbox at call time.
// A failed push is logged and does not affect the others.
func (r *Registry) Broadcast(ev event.Event) int {
	delivered := 0
	for _, e := range r.snapshot() {
		if err := r.pushTo(e.userID, e.mailbox, ev); err != nil {
			r.logger.Error("failed to broadcast to user",
				zap.String("user_id", e.userID.String()),
				zap.String("event", ev.Kind.String()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Count is the number of users with a registered session.
func (r *Registry) Count() int {
	total := 0
	for _, b := range r.shards {
		b.RLock()
		total += len(b.users)
		b.RUnlock()
	}
	return total
}

// Users lists the registered user ids.
func (r *Registry) Users() []uuid.UUID {
	return lo.Map(r.snapshot(), func(e entry, _ int) uuid.UUID { return e.userID })
}

// Dropped is the total number of events evicted by mailbox overflow.
func (r *Registry) Dropped() uint64 {
	return r.dropped.Load()
}
