package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/subreax/reaction/internal/api"
	"github.com/subreax/reaction/internal/appstate"
	"github.com/subreax/reaction/internal/events"
	"github.com/subreax/reaction/internal/user"
)

const defaultWaitTimeout = 10 * time.Second

// Repository merges remote fetches, socket events and the local cache
// into one consistent view. It owns the per-chat message and member-list
// caches; the local data source owns the chats themselves.
//
// Exactly two writer contexts touch the caches: the public API calls and
// the single background socket subscriber. Each cache has its own mutex
// and no lock is held across a remote call.
type Repository struct {
	local    LocalChatDataSource
	remote   RemoteChatDataSource
	api      *api.Client
	tokens   TokenSource
	socket   Socket
	appState *appstate.Source
	log      *slog.Logger

	waitTimeout time.Duration

	membersMu sync.Mutex
	members   map[string][]user.User

	messagesMu sync.Mutex
	messages   map[string][]Message

	onMessagesChanged *events.Stream[Chat]

	removeSyncing func()
	stopWatching  func()
}

type RepositoryDeps struct {
	Local    LocalChatDataSource
	Remote   RemoteChatDataSource
	API      *api.Client
	Tokens   TokenSource
	Socket   Socket
	AppState *appstate.Source
	Log      *slog.Logger

	// WaitTimeout bounds socket-confirmation waits (create/join/leave).
	WaitTimeout time.Duration
}

func NewRepository(deps RepositoryDeps) *Repository {
	if deps.WaitTimeout <= 0 {
		deps.WaitTimeout = defaultWaitTimeout
	}
	r := &Repository{
		local:             deps.Local,
		remote:            deps.Remote,
		api:               deps.API,
		tokens:            deps.Tokens,
		socket:            deps.Socket,
		appState:          deps.AppState,
		log:               deps.Log,
		waitTimeout:       deps.WaitTimeout,
		members:           make(map[string][]user.User),
		messages:          make(map[string][]Message),
		onMessagesChanged: events.NewStream[Chat](),
	}

	r.removeSyncing = deps.AppState.AddSyncingAction(r.syncAction)
	r.watchSocket()
	return r
}

// Close tears down the socket subscriptions and unregisters the syncing
// action.
func (r *Repository) Close() {
	r.removeSyncing()
	r.stopWatching()
}

// OnMessagesChanged emits the affected chat whenever its message list
// grew.
func (r *Repository) OnMessagesChanged() *events.Stream[Chat] {
	return r.onMessagesChanged
}

// OnChatsChanged relays the local cache's invalidation stream: a chat id,
// or AllChatsChanged for the whole list.
func (r *Repository) OnChatsChanged() *events.Stream[string] {
	return r.local.Changes()
}

// syncAction is the state machine's Syncing step: refetch the full chat
// list and drop the message caches. Fetch failures degrade to stale data
// and never fail the sync phase.
func (r *Repository) syncAction(ctx context.Context) bool {
	r.refreshChats(ctx)

	r.messagesMu.Lock()
	r.messages = make(map[string][]Message)
	r.messagesMu.Unlock()
	return true
}

func (r *Repository) watchSocket() {
	msgs, cancelMsgs := r.socket.OnMessage().Subscribe()
	created, cancelCreated := r.socket.OnCreateChat().Subscribe()
	r.stopWatching = func() {
		cancelMsgs()
		cancelCreated()
	}

	go func() {
		for m := range msgs {
			r.applyIncoming(m)
		}
	}()
	go func() {
		// the creator's client may not yet know the new chat's details,
		// so any room-created event invalidates the whole list
		for range created {
			r.refreshChats(context.Background())
		}
	}()
}

// applyIncoming appends a live message to its chat's cache and bumps the
// chat's last message. A message for an unknown chat is logged and
// dropped, never buffered.
func (r *Repository) applyIncoming(m Message) {
	c, ok := r.local.FindByID(m.ChatID)
	if !ok {
		r.log.Error("chat - message from unknown chat", "chat_id", m.ChatID)
		return
	}

	msg := m
	c.LastMessage = &msg
	r.local.UpdateOne(c)

	r.messagesMu.Lock()
	if list, cached := r.messages[m.ChatID]; cached {
		r.messages[m.ChatID] = append(list, m)
	}
	r.messagesMu.Unlock()

	r.onMessagesChanged.Publish(c)
}

func (r *Repository) refreshChats(ctx context.Context) {
	chats, err := r.remote.GetChatsList(ctx)
	if err != nil {
		r.log.Error("chat - sync failed", "error", err)
		return
	}
	r.local.SetList(chats)
}

// GetChatsList returns the cached chats sorted by last-message time,
// most recent first; chats with no message sort as if current. The sort
// is computed fresh on every call.
func (r *Repository) GetChatsList(ctx context.Context, invalidateCache bool) []Chat {
	if invalidateCache || len(r.local.List()) == 0 {
		r.refreshChats(ctx)
	}

	list := r.local.List()
	now := time.Now()
	sort.SliceStable(list, func(i, j int) bool {
		return sortKey(list[i], now).After(sortKey(list[j], now))
	})
	return list
}

func sortKey(c Chat, now time.Time) time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.SentTime
	}
	return now
}

// GetChatByID serves from the cache, falling through to a single-chat
// remote fetch for chats the user is not yet a member of (invite links).
func (r *Repository) GetChatByID(ctx context.Context, chatID string) (Chat, bool) {
	if c, ok := r.local.FindByID(chatID); ok {
		return c, true
	}

	c, err := r.remote.GetByID(ctx, chatID)
	if err != nil {
		r.log.Error("chat - failed to fetch details", "chat_id", chatID, "error", err)
		return Chat{}, false
	}
	return c, true
}

// GetChatMembers fetches a chat's member list once and caches it for the
// repository's lifetime. The cache is never invalidated automatically.
func (r *Repository) GetChatMembers(ctx context.Context, chatID string) []user.User {
	r.membersMu.Lock()
	members, ok := r.members[chatID]
	r.membersMu.Unlock()
	if ok {
		return members
	}

	fetched, err := r.remote.GetChatMembers(ctx, chatID)
	if err != nil {
		r.log.Error("chat - failed to fetch members", "chat_id", chatID, "error", err)
		return nil
	}

	r.membersMu.Lock()
	r.members[chatID] = fetched
	r.membersMu.Unlock()
	return fetched
}

// GetMessages fetches a chat's history on first access; afterwards the
// cache is appended to exclusively by live socket events. The result is
// sorted by SentTime descending at read time, since arrival order is not
// trusted to match timestamps.
func (r *Repository) GetMessages(ctx context.Context, chatID string) []Message {
	r.messagesMu.Lock()
	list, ok := r.messages[chatID]
	r.messagesMu.Unlock()

	if !ok {
		fetched, err := r.remote.GetChatMessages(ctx, chatID)
		if err != nil {
			r.log.Error("chat - failed to fetch history", "chat_id", chatID, "error", err)
			fetched = nil
		}

		r.messagesMu.Lock()
		if _, exists := r.messages[chatID]; !exists {
			r.messages[chatID] = fetched
		}
		list = r.messages[chatID]
		r.messagesMu.Unlock()
	}

	out := make([]Message, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentTime.After(out[j].SentTime)
	})
	return out
}

// SendMessage is fire-and-forget: the sender sees their own message only
// after the server relays it back on the event stream.
func (r *Repository) SendMessage(ctx context.Context, chatID, text string) {
	r.socket.Send(chatID, text)
}

// CreateChat emits the request, then waits for the next room-created
// event (any of them, not one correlated to this request) and fetches
// the new chat's details. Concurrent creations can resolve to the wrong
// chat; the protocol carries no correlation id.
func (r *Repository) CreateChat(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()

	confirmations, unsubscribe := r.socket.OnCreateChat().Subscribe()
	defer unsubscribe()

	r.socket.CreateChat(name)

	var chatID string
	select {
	case chatID = <-confirmations:
	case <-ctx.Done():
		return ctx.Err()
	}

	c, err := r.remote.GetByID(ctx, chatID)
	if err != nil {
		r.log.Error("chat - failed to fetch created chat", "chat_id", chatID, "error", err)
		return err
	}
	r.local.UpdateOne(c)
	return nil
}

// JoinChat emits the request and waits for the matching joined-room
// event, then schedules an async refetch of the full list.
func (r *Repository) JoinChat(ctx context.Context, chatID string) error {
	if err := r.emitAndWait(ctx, r.socket.OnJoinChat(), chatID, func() {
		r.socket.JoinChat(chatID)
	}); err != nil {
		return err
	}

	go r.refreshChats(context.Background())
	return nil
}

// LeaveChat emits the request, waits for the matching left-room event,
// then purges the chat, its messages and its member list from all caches.
func (r *Repository) LeaveChat(ctx context.Context, chatID string) error {
	if err := r.emitAndWait(ctx, r.socket.OnLeaveChat(), chatID, func() {
		r.socket.LeaveChat(chatID)
	}); err != nil {
		return err
	}

	r.membersMu.Lock()
	delete(r.members, chatID)
	r.membersMu.Unlock()

	r.messagesMu.Lock()
	delete(r.messages, chatID)
	r.messagesMu.Unlock()

	r.local.Remove(chatID)
	return nil
}

func (r *Repository) emitAndWait(ctx context.Context, stream *events.Stream[string], chatID string, emit func()) error {
	ctx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()

	confirmations, unsubscribe := stream.Subscribe()
	defer unsubscribe()

	emit()

	for {
		select {
		case id := <-confirmations:
			if id == chatID {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Repository) IsMember(chatID string) bool {
	_, ok := r.local.FindByID(chatID)
	return ok
}

// ToggleNotifications calls the mute/unmute endpoint and optimistically
// flips the cached flag. A REST failure is logged but not rolled back.
func (r *Repository) ToggleNotifications(ctx context.Context, chatID string, enabled bool) {
	ptr := api.ChatPointer{ChatID: chatID, UserID: r.tokens.UserID()}
	token := r.tokens.Token(ctx)

	var err error
	if enabled {
		err = r.api.UnmuteChat(ctx, token, ptr)
	} else {
		err = r.api.MuteChat(ctx, token, ptr)
	}
	if err != nil {
		r.log.Error("chat - mute toggle failed", "chat_id", chatID, "error", err)
	}

	c, ok := r.local.FindByID(chatID)
	if !ok {
		return
	}
	c.IsMuted = !enabled
	r.local.UpdateOne(c)
}
