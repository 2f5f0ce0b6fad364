package domain

import (
	"strings"
	"time"
)

// ChatMessage is the server-stamped form of a chat line broadcast to a room.
type ChatMessage struct {
	ID        MessageID     `json:"id"`
	PeerID    ParticipantID `json:"peerId"`
	PeerName  string        `json:"peerName,omitempty"`
	Message   string        `json:"message"`
	Timestamp int64         `json:"timestamp"`
}

func NewChatMessage(sender ParticipantID, senderName, content string, at time.Time) (*ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	return &ChatMessage{
		ID:        NewMessageID(sender, at),
		PeerID:    sender,
		PeerName:  senderName,
		Message:   content,
		Timestamp: at.UnixMilli(),
	}, nil
}
