package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/subreax/reaction/internal/api"
	"github.com/subreax/reaction/internal/appstate"
	"github.com/subreax/reaction/internal/chat"
	"github.com/subreax/reaction/internal/events"
	"github.com/subreax/reaction/internal/user"
)

// wire event names
const (
	evConnectionEstablished = "connection-established"
	evConnectError          = "connect-error"
	evDisconnected          = "disconnected"
	evException             = "exception"
	evMessageSent           = "message-sent"
	evRoomCreated           = "room-created"
	evJoinedRoom            = "joined-room"
	evLeftRoom              = "left-room"

	evSubscribeToRooms = "subscribe-to-rooms"
	evNewMessage       = "new-message"
	evCreateRoom       = "create-room"
	evJoinRoom         = "join-room"
	evLeaveRoom        = "leave-room"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = 54 * time.Second
	handshakeTimeout  = 10 * time.Second
	userLookupTimeout = 3 * time.Second
	sendQueueSize     = 64
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TokenSource supplies the bearer token for the handshake and a stream
// of token changes (empty value = signed out).
type TokenSource interface {
	Token(ctx context.Context) string
	UserID() string
	OnTokenChanged() *events.Stream[string]
}

// UserSource resolves message senders.
type UserSource interface {
	GetByID(ctx context.Context, id string) user.User
}

// liveConn bundles one websocket connection with its pumps' plumbing so
// that a stale pump can never tear down a newer connection.
type liveConn struct {
	ws   *websocket.Conn
	send chan envelope
	done chan struct{}
	once sync.Once
}

func (c *liveConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Service maintains the one persistent event-stream connection. It owns
// the connection handle and relays payloads; it never owns domain data.
type Service struct {
	url      string
	tokens   TokenSource
	users    UserSource
	appState *appstate.Source
	log      *slog.Logger

	mu       sync.Mutex
	conn     *liveConn
	dialDone chan struct{}

	onMessage    *events.Stream[chat.Message]
	onCreateChat *events.Stream[string]
	onJoinChat   *events.Stream[string]
	onLeaveChat  *events.Stream[string]

	inMsgs chan json.RawMessage
}

func New(url string, tokens TokenSource, users UserSource, appState *appstate.Source, log *slog.Logger) *Service {
	s := &Service{
		url:          url,
		tokens:       tokens,
		users:        users,
		appState:     appState,
		log:          log,
		onMessage:    events.NewStream[chat.Message](),
		onCreateChat: events.NewStream[string](),
		onJoinChat:   events.NewStream[string](),
		onLeaveChat:  events.NewStream[string](),
		inMsgs:       make(chan json.RawMessage, sendQueueSize),
	}

	appState.AddConnectingAction(func(ctx context.Context) bool {
		s.Stop()
		if err := s.Start(ctx); err != nil {
			s.log.Error("socket - connect failed", "error", err)
			return false
		}
		return true
	})

	go s.watchToken()
	go s.messageWorker()
	return s
}

func (s *Service) OnMessage() *events.Stream[chat.Message] { return s.onMessage }
func (s *Service) OnCreateChat() *events.Stream[string]    { return s.onCreateChat }
func (s *Service) OnJoinChat() *events.Stream[string]      { return s.onJoinChat }
func (s *Service) OnLeaveChat() *events.Stream[string]     { return s.onLeaveChat }

func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Start dials the backend with the current bearer token and performs the
// subscribe-to-rooms handshake. Starting an already-open connection is a
// logged no-op. It returns once the connection is open or failed.
func (s *Service) Start(ctx context.Context) error {
	// the connection slot is reserved before the dial: the token watcher
	// and the state machine's connecting action are concurrent callers,
	// and two dials in flight would leak the losing connection
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		s.log.Warn("socket - start: already connected")
		return nil
	}
	if s.dialDone != nil {
		done := s.dialDone
		s.mu.Unlock()
		return s.awaitDial(ctx, done)
	}
	done := make(chan struct{})
	s.dialDone = done
	s.mu.Unlock()

	header := http.Header{}
	if token := s.tokens.Token(ctx); token != "" {
		header.Set("Authorization", token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, s.url, header)

	s.mu.Lock()
	s.dialDone = nil
	close(done)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	conn := &liveConn{
		ws:   ws,
		send: make(chan envelope, sendQueueSize),
		done: make(chan struct{}),
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readPump(conn)
	go s.writePump(conn)

	s.emit(evSubscribeToRooms, map[string]any{"userId": s.tokens.UserID()})
	s.log.Info("socket - connected", "url", s.url)
	return nil
}

// awaitDial joins a dial another caller already has in flight and
// reports its outcome.
func (s *Service) awaitDial(ctx context.Context, done <-chan struct{}) error {
	s.log.Debug("socket - start: joining in-flight dial")
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	connected := s.conn != nil
	s.mu.Unlock()
	if !connected {
		return errors.New("connection attempt failed")
	}
	return nil
}

// Stop tears down the connection; safe to call when already stopped.
// An explicit stop does not cascade into the state machine.
func (s *Service) Stop() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}
	conn.close()
	s.log.Debug("socket - closed")
}

// Send emits a new-message event. Fire-and-forget: while disconnected
// the emission is silently dropped, with no queuing and no delivery
// guarantee.
func (s *Service) Send(chatID, text string) {
	s.emit(evNewMessage, map[string]any{
		"id":     uuid.NewString(),
		"text":   text,
		"userId": s.tokens.UserID(),
		"roomId": chatID,
		"date":   time.Now().UnixMilli(),
		"type":   "text",
	})
}

func (s *Service) CreateChat(name string) {
	s.emit(evCreateRoom, map[string]any{
		"userId": s.tokens.UserID(),
		"name":   name,
	})
}

func (s *Service) JoinChat(chatID string) {
	s.emit(evJoinRoom, map[string]any{
		"userId": s.tokens.UserID(),
		"roomId": chatID,
	})
}

func (s *Service) LeaveChat(chatID string) {
	s.emit(evLeaveRoom, map[string]any{
		"userId": s.tokens.UserID(),
		"roomId": chatID,
	})
}

func (s *Service) emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("socket - marshal failed", "event", event, "error", err)
		return
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.log.Debug("socket - emit dropped, not connected", "event", event)
		return
	}

	select {
	case conn.send <- envelope{Event: event, Data: data}:
		s.log.Debug("socket - emit", "event", event)
	default:
		s.log.Warn("socket - send queue full, dropping", "event", event)
	}
}

func (s *Service) readPump(conn *liveConn) {
	defer func() {
		conn.close()

		s.mu.Lock()
		current := s.conn == conn
		if current {
			s.conn = nil
		}
		s.mu.Unlock()

		// an unexpected loss re-evaluates the outer state machine;
		// a deliberate Stop already cleared s.conn and does not
		if current {
			s.appState.Restart()
		}
	}()

	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Error("socket - read failed", "error", err)
			}
			return
		}
		s.dispatch(data)
	}
}

func (s *Service) writePump(conn *liveConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.close()
	}()

	for {
		select {
		case <-conn.done:
			return

		case env := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch parses one inbound frame. Malformed payloads are logged and
// dropped; they never crash the streams.
func (s *Service) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Error("socket - malformed frame", "error", err)
		return
	}

	switch env.Event {
	case evConnectionEstablished:
		s.log.Debug("socket - connection established")
	case evConnectError, evDisconnected:
		s.log.Warn("socket - server reported connection trouble", "event", env.Event)
	case evException:
		s.log.Error("socket - server exception", "data", string(env.Data))
	case evMessageSent:
		// sender resolution can hit the backend, so it runs off the read
		// loop; the single worker keeps arrival order
		select {
		case s.inMsgs <- env.Data:
		default:
			s.log.Warn("socket - message queue full, dropping")
		}
	case evRoomCreated:
		s.handleRoomEvent(env.Event, env.Data, s.onCreateChat)
	case evJoinedRoom:
		s.handleRoomEvent(env.Event, env.Data, s.onJoinChat)
	case evLeftRoom:
		s.handleRoomEvent(env.Event, env.Data, s.onLeaveChat)
	default:
		s.log.Debug("socket - unhandled event", "event", env.Event)
	}
}

func (s *Service) messageWorker() {
	for data := range s.inMsgs {
		s.handleMessage(data)
	}
}

func (s *Service) handleMessage(data json.RawMessage) {
	var payload struct {
		Message api.MessageDTO `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Message.ChatID == "" {
		s.log.Error("socket - malformed message payload", "data", string(data))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), userLookupTimeout)
	defer cancel()

	s.onMessage.Publish(chat.Message{
		ChatID:   payload.Message.ChatID,
		From:     s.users.GetByID(ctx, payload.Message.UserID),
		Content:  payload.Message.Text,
		SentTime: time.UnixMilli(payload.Message.SentTime),
		State:    chat.NoState,
	})
}

func (s *Service) handleRoomEvent(event string, data json.RawMessage, stream *events.Stream[string]) {
	var payload struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		s.log.Error("socket - malformed room payload", "event", event, "data", string(data))
		return
	}
	s.log.Debug("socket - room event", "event", event, "room_id", payload.RoomID)
	stream.Publish(payload.RoomID)
}

// watchToken restarts the connection on token changes. The empty
// sentinel (signed out) stops the socket and leaves it stopped until a
// real token arrives; otherwise the new token takes effect by
// reconnecting, but only if a connection was open before.
func (s *Service) watchToken() {
	tokens, cancel := s.tokens.OnTokenChanged().Subscribe()
	defer cancel()

	for token := range tokens {
		s.mu.Lock()
		wasOpen := s.conn != nil
		s.mu.Unlock()

		s.Stop()

		if token == "" || !wasOpen {
			continue
		}

		ctx, cancelDial := context.WithTimeout(context.Background(), handshakeTimeout)
		if err := s.Start(ctx); err != nil {
			s.log.Error("socket - restart after token change failed", "error", err)
		}
		cancelDial()
	}
}
