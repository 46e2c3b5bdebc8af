package chat

import (
	"time"

	"github.com/subreax/reaction/internal/user"
)

type MessageState int

const (
	NoState MessageState = iota
	Pending
	Sent
)

// Message is a single chat entry. Display order is SentTime descending;
// arrival order only breaks ties.
type Message struct {
	ChatID   string
	From     user.User
	Content  string
	SentTime time.Time
	State    MessageState
}

// Chat is a room as the client sees it. Instances are owned by the local
// cache and mutated only through repository operations.
type Chat struct {
	ID           string
	Avatar       string
	Title        string
	MembersCount int
	LastMessage  *Message
	IsMuted      bool
	IsPinned     bool
}
