package chat

import "time"

// Sender values used in in-call turns.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// HistoryLimit caps how many turns are replayed to the backend.
const HistoryLimit = 10

// Message is one completed turn of the current call. It lives only as long as
// the call's session.
type Message struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Recent returns at most limit trailing messages.
func Recent(messages []Message, limit int) []Message {
	if limit <= 0 || len(messages) <= limit {
		return messages
	}
	return messages[len(messages)-limit:]
}
