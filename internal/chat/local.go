package chat

import (
	"context"
	"sync"

	"github.com/subreax/reaction/internal/events"
)

// AllChatsChanged is published on the Changes stream when the whole list
// changed; otherwise the changed chat's id is published.
const AllChatsChanged = ""

// LocalChatDataSource is the cache of Chat entities keyed by id.
type LocalChatDataSource interface {
	// Load hydrates the cache; the in-memory implementation has nothing
	// to do here.
	Load(ctx context.Context) error
	Changes() *events.Stream[string]
	List() []Chat
	SetList(chats []Chat)
	UpdateOne(c Chat)
	Remove(chatID string)
	FindByID(chatID string) (Chat, bool)
}

// InMemoryDataSource guards the map with one mutex for each
// read-modify-write and notifies after the mutex is released, on a
// separate goroutine, so a listener re-entering the cache cannot
// deadlock.
type InMemoryDataSource struct {
	mu      sync.Mutex
	chats   map[string]Chat
	changes *events.Stream[string]
}

func NewInMemoryDataSource() *InMemoryDataSource {
	return &InMemoryDataSource{
		chats:   make(map[string]Chat),
		changes: events.NewStream[string](),
	}
}

func (s *InMemoryDataSource) Load(ctx context.Context) error {
	return nil
}

func (s *InMemoryDataSource) Changes() *events.Stream[string] {
	return s.changes
}

// List returns a snapshot with no ordering guarantee.
func (s *InMemoryDataSource) List() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		list = append(list, c)
	}
	return list
}

func (s *InMemoryDataSource) SetList(chats []Chat) {
	s.mu.Lock()
	s.chats = make(map[string]Chat, len(chats))
	for _, c := range chats {
		s.chats[c.ID] = c
	}
	s.mu.Unlock()

	s.notify(AllChatsChanged)
}

// UpdateOne upserts by id. A pre-existing id notifies that single chat;
// a new entity notifies the whole list.
func (s *InMemoryDataSource) UpdateOne(c Chat) {
	s.mu.Lock()
	_, existed := s.chats[c.ID]
	s.chats[c.ID] = c
	s.mu.Unlock()

	if existed {
		s.notify(c.ID)
	} else {
		s.notify(AllChatsChanged)
	}
}

// Remove is a no-op for an absent id: no notification.
func (s *InMemoryDataSource) Remove(chatID string) {
	s.mu.Lock()
	_, existed := s.chats[chatID]
	delete(s.chats, chatID)
	s.mu.Unlock()

	if existed {
		s.notify(AllChatsChanged)
	}
}

func (s *InMemoryDataSource) FindByID(chatID string) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	return c, ok
}

func (s *InMemoryDataSource) notify(id string) {
	go s.changes.Publish(id)
}
