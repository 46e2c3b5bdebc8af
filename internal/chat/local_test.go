package chat

import (
	"testing"
	"time"
)

func recvChange(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(time.Second):
		t.Fatal("no change notification")
		return ""
	}
}

func expectSilence(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case id := <-ch:
		t.Fatalf("unexpected notification %q", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryUpdateOne(t *testing.T) {
	s := NewInMemoryDataSource()
	changes, cancel := s.Changes().Subscribe()
	defer cancel()

	s.UpdateOne(Chat{ID: "a", Title: "first"})
	if id := recvChange(t, changes); id != AllChatsChanged {
		t.Fatalf("new chat notified %q, want the all-chats sentinel", id)
	}

	s.UpdateOne(Chat{ID: "a", Title: "renamed"})
	if id := recvChange(t, changes); id != "a" {
		t.Fatalf("update notified %q, want \"a\"", id)
	}

	c, ok := s.FindByID("a")
	if !ok || c.Title != "renamed" {
		t.Fatalf("FindByID = %+v, %v", c, ok)
	}
}

func TestInMemoryRemove(t *testing.T) {
	s := NewInMemoryDataSource()
	s.UpdateOne(Chat{ID: "a"})

	changes, cancel := s.Changes().Subscribe()
	defer cancel()

	s.Remove("a")
	if id := recvChange(t, changes); id != AllChatsChanged {
		t.Fatalf("remove notified %q", id)
	}
	if _, ok := s.FindByID("a"); ok {
		t.Fatal("chat still present after Remove")
	}

	// removing an absent id is silent
	s.Remove("a")
	expectSilence(t, changes)
}

func TestInMemorySetList(t *testing.T) {
	s := NewInMemoryDataSource()
	s.UpdateOne(Chat{ID: "old"})

	changes, cancel := s.Changes().Subscribe()
	defer cancel()

	s.SetList([]Chat{{ID: "a"}, {ID: "b"}})
	if id := recvChange(t, changes); id != AllChatsChanged {
		t.Fatalf("SetList notified %q", id)
	}

	if _, ok := s.FindByID("old"); ok {
		t.Fatal("SetList kept a stale chat")
	}
	if len(s.List()) != 2 {
		t.Fatalf("List has %d chats, want 2", len(s.List()))
	}
}

func TestInMemoryListenerMayReenter(t *testing.T) {
	s := NewInMemoryDataSource()
	changes, cancel := s.Changes().Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		<-changes
		// a listener that reads the cache back must not deadlock
		s.FindByID("a")
		s.List()
		close(done)
	}()

	s.UpdateOne(Chat{ID: "a"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener deadlocked against the cache mutex")
	}
}
