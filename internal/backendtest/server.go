// Package backendtest runs a fake Reaction backend (REST + websocket) on
// an httptest server for integration tests.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/subreax/reaction/internal/api"
)

const tokenLifetime = time.Hour

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) write(event string, payload any) error {
	data, _ := json.Marshal(payload)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(frame{Event: event, Data: data})
}

// Server is the fake backend. Seed it through the exported maps before
// the client under test connects; mutate through the helpers afterwards.
type Server struct {
	ts       *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	users    map[string]api.UserDTO
	chats    map[string]api.ChatDTO
	messages map[string][]api.MessageDTO
	conns    []*wsConn

	refreshToken string

	// knobs
	FailChatList atomic.Bool
	AutoConfirm  atomic.Bool

	RefreshCalls atomic.Int32
	MuteCalls    atomic.Int32
	UnmuteCalls  atomic.Int32

	frames chan frame
}

func NewServer(t testing.TB) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		upgrader:     websocket.Upgrader{},
		users:        make(map[string]api.UserDTO),
		chats:        make(map[string]api.ChatDTO),
		messages:     make(map[string][]api.MessageDTO),
		refreshToken: uuid.NewString(),
		frames:       make(chan frame, 64),
	}
	s.AutoConfirm.Store(true)

	r := gin.New()
	auth := r.Group("/api/auth")
	auth.POST("/sign-in", s.signIn)
	auth.POST("/sign-up", s.signUp)
	auth.GET("/update-refresh-token", s.refresh)

	apiGroup := r.Group("/api")
	apiGroup.GET("/user/getDetails/:userId", s.userDetails)
	apiGroup.GET("/room/getUserRooms", s.userRooms)
	apiGroup.GET("/room/roomDetails/:chatId", s.roomDetails)
	apiGroup.GET("/room/members/:chatId", s.roomMembers)
	apiGroup.GET("/room/roomChat/:chatId", s.roomChat)
	apiGroup.PUT("/room/muteRoom", s.mute)
	apiGroup.PUT("/room/unmuteRoom", s.unmute)

	r.GET("/ws", s.serveWS)

	s.ts = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Close() { s.ts.Close() }

// URL is the REST base address.
func (s *Server) URL() string { return s.ts.URL }

// WSURL is the websocket endpoint address.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws"
}

func (s *Server) AddUser(u api.UserDTO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Server) AddChat(c api.ChatDTO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ID] = c
}

func (s *Server) AddMessages(chatID string, msgs ...api.MessageDTO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[chatID] = append(s.messages[chatID], msgs...)
}

// EmitToAll pushes an event frame to every connected websocket client.
func (s *Server) EmitToAll(event string, payload any) {
	s.mu.Lock()
	conns := make([]*wsConn, len(s.conns))
	copy(conns, s.conns)
	s.mu.Unlock()

	for _, c := range conns {
		c.write(event, payload)
	}
}

// CloseAll drops every websocket connection from the server side,
// simulating an unexpected connection loss.
func (s *Server) CloseAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

// ConnCount reports how many websocket clients are connected.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// WaitFrame blocks until the clients send a frame with the given event
// name, failing the test after two seconds.
func (s *Server) WaitFrame(t testing.TB, event string) json.RawMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-s.frames:
			if f.Event == event {
				return f.Data
			}
		case <-deadline:
			t.Fatalf("no %q frame received", event)
			return nil
		}
	}
}

func (s *Server) issueAuth(userID string) api.AuthData {
	return api.AuthData{
		UserID:          userID,
		AccessToken:     "access-" + uuid.NewString(),
		AccessTokenExp:  time.Now().Add(tokenLifetime).UnixMilli(),
		RefreshToken:    s.refreshToken,
		RefreshTokenExp: time.Now().Add(30 * 24 * time.Hour).UnixMilli(),
	}
}

func (s *Server) signIn(c *gin.Context) {
	var req api.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"statusCode": 400, "message": "malformed body"})
		return
	}
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"statusCode": 401, "message": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, s.issueAuth("user-"+req.Username))
}

func (s *Server) signUp(c *gin.Context) {
	var req api.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"statusCode": 400, "message": []string{"username must not be empty"}})
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) refresh(c *gin.Context) {
	s.RefreshCalls.Add(1)
	if c.Query("token") != s.refreshToken {
		c.JSON(http.StatusUnauthorized, gin.H{"statusCode": 401, "message": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, s.issueAuth(""))
}

func (s *Server) userDetails(c *gin.Context) {
	s.mu.Lock()
	u, ok := s.users[c.Param("userId")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"statusCode": 404, "message": "user not found"})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) userRooms(c *gin.Context) {
	if s.FailChatList.Load() {
		c.JSON(http.StatusInternalServerError, gin.H{"statusCode": 500, "message": "boom"})
		return
	}
	s.mu.Lock()
	list := make([]api.ChatDTO, 0, len(s.chats))
	for _, chat := range s.chats {
		list = append(list, chat)
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, list)
}

func (s *Server) roomDetails(c *gin.Context) {
	s.mu.Lock()
	chat, ok := s.chats[c.Param("chatId")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"statusCode": 404, "message": "room not found"})
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (s *Server) roomMembers(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]api.MemberDTO, 0, len(s.users))
	for id := range s.users {
		members = append(members, api.MemberDTO{UserID: id})
	}
	c.JSON(http.StatusOK, members)
}

func (s *Server) roomChat(c *gin.Context) {
	s.mu.Lock()
	msgs := s.messages[c.Param("chatId")]
	s.mu.Unlock()
	c.JSON(http.StatusOK, api.ChatMessagesDTO{Messages: msgs})
}

func (s *Server) mute(c *gin.Context) {
	s.MuteCalls.Add(1)
	c.Status(http.StatusOK)
}

func (s *Server) unmute(c *gin.Context) {
	s.UnmuteCalls.Add(1)
	c.Status(http.StatusOK)
}

func (s *Server) serveWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn := &wsConn{ws: ws}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	conn.write("connection-established", gin.H{})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			s.mu.Lock()
			for i, c := range s.conns {
				if c == conn {
					s.conns = append(s.conns[:i], s.conns[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.write("exception", gin.H{"message": "malformed frame"})
			continue
		}

		select {
		case s.frames <- f:
		default:
		}

		if s.AutoConfirm.Load() {
			s.confirm(conn, f)
		}
	}
}

// confirm mirrors the real backend's happy-path responses so lifecycle
// calls resolve without per-test wiring.
func (s *Server) confirm(conn *wsConn, f frame) {
	var payload struct {
		UserID string `json:"userId"`
		RoomID string `json:"roomId"`
		Name   string `json:"name"`
	}
	json.Unmarshal(f.Data, &payload)

	switch f.Event {
	case "new-message":
		var msg api.MessageDTO
		json.Unmarshal(f.Data, &msg)
		s.AddMessages(msg.ChatID, msg)
		s.EmitToAll("message-sent", gin.H{"message": msg})

	case "create-room":
		id := uuid.NewString()
		s.AddChat(api.ChatDTO{ID: id, Title: payload.Name, MembersCount: 1})
		s.EmitToAll("room-created", gin.H{"roomId": id})

	case "join-room":
		s.EmitToAll("joined-room", gin.H{"roomId": payload.RoomID})

	case "leave-room":
		s.EmitToAll("left-room", gin.H{"roomId": payload.RoomID})
	}
}
