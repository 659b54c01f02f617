package hub

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vanneszias/Safe-Chat/internal/event"
)

// SessionState is the lifecycle stage of a session
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one authenticated websocket connection for one user.
type Session struct {
	ID      string
	userID  uuid.UUID
	conn    *websocket.Conn
	manager *Hub
	mailbox *Mailbox
	logger  *zap.Logger

	// both loops write: pongs from the reader, events and pings from the writer
	writeMu sync.Mutex

	state     atomic.Int32
	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(userID uuid.UUID, conn *websocket.Conn, h *Hub) *Session {
	id := uuid.NewString()
	return &Session{
		ID:      id,
		userID:  userID,
		conn:    conn,
		manager: h,
		mailbox: NewMailbox(id, h.cfg.MailboxCapacity),
		logger: h.logger.With(
			zap.String("session_id", id),
			zap.String("user_id", userID.String()),
		),
		closed: make(chan struct{}),
	}
}

func (s *Session) UserID() uuid.UUID {
	return s.userID
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// Closed is closed once the session has finished its teardown.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// run drives the session from registration to teardown. The first loop to
// finish ends the session; the other one is abandoned.
func (s *Session) run() {
	s.manager.activate(s)
	s.setState(StateActive)
	s.logger.Info("session active")

	inboundDone := make(chan struct{})
	outboundDone := make(chan struct{})

	go func() {
		defer close(inboundDone)
		s.readMessages()
	}()
	go func() {
		defer close(outboundDone)
		s.writeMessages()
	}()

	select {
	case <-inboundDone:
		s.logger.Debug("inbound loop ended first")
	case <-outboundDone:
		s.logger.Debug("outbound loop ended first")
	}

	s.teardown()
}

// teardown unregisters before announcing the user offline.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)

		removed := s.manager.deactivate(s)
		s.mailbox.Close()
		_ = s.conn.Close()

		if removed {
			s.manager.registry.Broadcast(event.UserOffline(s.userID.String()))
		}

		s.setState(StateClosed)
		close(s.closed)
		s.logger.Info("session closed", zap.Bool("was_registered", removed))
	})
}

// -----------------------------------------------------------------
// Inbound loop
// -----------------------------------------------------------------

func (s *Session) readMessages() {
	cfg := s.manager.cfg

	s.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	s.conn.SetPongHandler(s.pongHandler)
	s.conn.SetPingHandler(s.pingHandler)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		if messageType != websocket.TextMessage {
			s.logger.Debug("ignoring non-text frame", zap.Int("type", messageType))
			continue
		}

		s.handleText(data)
	}
}

func (s *Session) logReadError(err error) {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		s.logger.Info("client closed connection")
		return
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		s.logger.Info("client timed out")
		return
	}

	if websocket.IsUnexpectedCloseError(err) {
		s.logger.Warn("unexpected close", zap.Error(err))
		return
	}

	s.logger.Debug("read loop ended", zap.Error(err))
}

// handleText parses one client frame and routes it. Failures are local: they
// are logged and the session keeps running.
func (s *Session) handleText(data []byte) {
	frame, err := event.ParseFrame(data)
	if err != nil {
		s.logger.Warn("failed to parse client message", zap.Error(err))
		return
	}

	// store work triggered here must outlive the session
	ctx := context.WithoutCancel(s.manager.ctx)

	switch frame.MessageType {
	case event.TypePing:
		s.logger.Debug("received ping")
	case event.TypeMarkTyping:
		s.logger.Debug("user is typing")
	case event.TypeSendMessage:
		cmd, err := event.DecodeSendMessage(frame.Data)
		if err != nil {
			s.logger.Warn("invalid send_message", zap.Error(err))
			return
		}
		if err := s.manager.commands.SendMessage(ctx, s.userID, cmd); err != nil {
			s.logger.Warn("send_message rejected", zap.Error(err))
		}
	case event.TypeUpdateStatus:
		cmd, err := event.DecodeUpdateStatus(frame.Data)
		if err != nil {
			s.logger.Warn("invalid update_status", zap.Error(err))
			return
		}
		if err := s.manager.commands.UpdateStatus(ctx, s.userID, cmd); err != nil {
			s.logger.Warn("update_status rejected", zap.Error(err))
		}
	default:
		s.logger.Warn("unknown message type", zap.String("message_type", frame.MessageType))
	}
}

func (s *Session) pongHandler(string) error {
	return s.conn.SetReadDeadline(time.Now().Add(s.manager.cfg.PongWait))
}

func (s *Session) pingHandler(appData string) error {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.manager.cfg.PongWait))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.manager.cfg.WriteWait))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil
	}
	return err
}

// -----------------------------------------------------------------
// Outbound loop
// -----------------------------------------------------------------

func (s *Session) writeMessages() {
	ticker := time.NewTicker(s.manager.cfg.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.mailbox.Events():
			if err := s.writeEvent(ev); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-s.mailbox.Done():
			s.writeClose(websocket.CloseGoingAway, "session replaced or server stopping")
			return
		case <-ticker.C:
			if err := s.writeControl(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Session) writeEvent(ev event.Event) error {
	frame, err := ev.ToFrame()
	if err != nil {
		// unserializable events are skipped, not fatal
		s.logger.Error("failed to serialize event", zap.String("event", ev.Kind.String()), zap.Error(err))
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.manager.cfg.WriteWait))
	return s.conn.WriteJSON(frame)
}

func (s *Session) writeControl(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(messageType, data, time.Now().Add(s.manager.cfg.WriteWait))
}

func (s *Session) writeClose(code int, text string) {
	if err := s.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text)); err != nil {
		s.logger.Debug("close frame not sent", zap.Error(err))
	}
}
