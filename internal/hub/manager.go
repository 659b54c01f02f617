package hub

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/vanneszias/Safe-Chat/internal/auth"
	"github.com/vanneszias/Safe-Chat/internal/event"
)

// CommandHandler applies client commands on behalf of an authenticated user.
type CommandHandler interface {
	SendMessage(ctx context.Context, senderID uuid.UUID, cmd event.SendMessageData) error
	UpdateStatus(ctx context.Context, actorID uuid.UUID, cmd event.UpdateStatusData) error
}

// SessionConfig tunes per-connection behaviour
type SessionConfig struct {
	MailboxCapacity int
	WriteWait       time.Duration // time allowed to write a message to the peer
	PongWait        time.Duration // time allowed to read the next pong message from the peer
	MaxMessageSize  int64         // max inbound message size
	// EvictSuperseded closes a user's previous session when a newer one registers.
	EvictSuperseded bool
	AllowedOrigins  []string
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MailboxCapacity: DefaultMailboxCapacity,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		MaxMessageSize:  512 * 1024,
	}
}

// send pings to peer with this period
func (c SessionConfig) pingInterval() time.Duration {
	return (c.PongWait * 9) / 10
}

// Hub accepts websocket connections and runs one Session per connection.
type Hub struct {
	registry *Registry
	auth     auth.Authenticator
	commands CommandHandler
	cfg      SessionConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	live map[string]*Session
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	activeSessions metric.Int64UpDownCounter
}

func NewHub(registry *Registry, authenticator auth.Authenticator, commands CommandHandler, cfg SessionConfig, logger *zap.Logger) *Hub {
	defaults := DefaultSessionConfig()
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = defaults.MailboxCapacity
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry: registry,
		auth:     authenticator,
		commands: commands,
		cfg:      cfg,
		logger:   logger.Named("hub"),
		live:     make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	h.activeSessions, _ = otel.Meter("safechat/hub").Int64UpDownCounter("sessions_active",
		metric.WithDescription("Open websocket sessions"))
	return h
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || lo.Contains(h.cfg.AllowedOrigins, origin)
}

// ServeWS authenticates the ?token= credential, upgrades the connection and
// starts its session. Bad credentials are rejected before the upgrade.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	userID, err := h.auth.Authenticate(r.URL.Query().Get("token"))
	if err != nil {
		h.logger.Warn("websocket connection attempt with invalid token", zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	s := newSession(userID, conn, h)
	if !h.track(s) {
		h.logger.Info("rejecting session, server stopping", zap.String("user_id", userID.String()))
		s.writeClose(websocket.CloseGoingAway, "server stopping")
		_ = conn.Close()
		return
	}

	go func() {
		defer h.wg.Done()
		defer h.untrack(s)
		s.run()
	}()
}

// activate registers the session and announces the user online.
func (h *Hub) activate(s *Session) {
	previous := h.registry.Register(s.userID, s.mailbox)
	if previous != nil && h.cfg.EvictSuperseded {
		previous.Close()
	}
	h.registry.Broadcast(event.UserOnline(s.userID.String()))
}

// deactivate removes the session's registry entry if it is still the current one.
func (h *Hub) deactivate(s *Session) bool {
	return h.registry.Unregister(s.userID, s.mailbox)
}

// track admits s unless Stop has begun. The check, the insert and wg.Add
// share h.mu with Stop so no session can slip past its snapshot.
func (h *Hub) track(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.live[s.ID] = s
	h.wg.Add(1)
	h.activeSessions.Add(context.Background(), 1)
	return true
}

func (h *Hub) untrack(s *Session) {
	h.mu.Lock()
	delete(h.live, s.ID)
	h.mu.Unlock()
	h.activeSessions.Add(context.Background(), -1)
}

// Sessions is the number of open sessions, including superseded ones.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// Stop closes every session and waits for their teardown, up to ctx.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.cancel()
	sessions := lo.Values(h.live)
	h.mu.Unlock()

	for _, s := range sessions {
		s.mailbox.Close()
		_ = s.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for sessions to close")
	}
}
