package session

import (
	"sync"

	"github.com/Wyydra/huddle/internal/core/domain"
)

const DefaultChatLimit = 200

// ChatLog keeps the most recent room messages and counts the ones that
// arrived from others while the log was not being viewed.
type ChatLog struct {
	mu       sync.Mutex
	limit    int
	messages []domain.ChatMessage
	seen     map[domain.MessageID]struct{}
	unread   int
	open     bool
}

func NewChatLog(limit int) *ChatLog {
	if limit <= 0 {
		limit = DefaultChatLimit
	}
	return &ChatLog{limit: limit, seen: make(map[domain.MessageID]struct{})}
}

// Append stores msg unless a message with the same id is already stored.
// It reports whether msg was added.
func (c *ChatLog) Append(msg domain.ChatMessage, self domain.ParticipantID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[msg.ID]; dup {
		return false
	}
	c.seen[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)
	if over := len(c.messages) - c.limit; over > 0 {
		for _, old := range c.messages[:over] {
			delete(c.seen, old.ID)
		}
		c.messages = append([]domain.ChatMessage(nil), c.messages[over:]...)
	}
	if !c.open && msg.PeerID != self {
		c.unread++
	}
	return true
}

func (c *ChatLog) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChatMessage(nil), c.messages...)
}

func (c *ChatLog) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// SetOpen marks the log as being viewed. Opening it clears the unread
// count.
func (c *ChatLog) SetOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
	if open {
		c.unread = 0
	}
}

func (c *ChatLog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.seen = make(map[domain.MessageID]struct{})
	c.unread = 0
}
