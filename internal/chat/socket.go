package chat

import "github.com/subreax/reaction/internal/events"

// Socket is the live event connection the repository consumes. Outbound
// calls are fire-and-forget; the inbound streams carry the server's
// confirmations and relayed messages.
type Socket interface {
	OnMessage() *events.Stream[Message]
	OnCreateChat() *events.Stream[string]
	OnJoinChat() *events.Stream[string]
	OnLeaveChat() *events.Stream[string]

	Send(chatID, text string)
	CreateChat(name string)
	JoinChat(chatID string)
	LeaveChat(chatID string)
}
