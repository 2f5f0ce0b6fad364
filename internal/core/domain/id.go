package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxRoomIDLength = 128

// ParticipantID identifies one transport session. It is assigned by the
// server and is unique for the lifetime of the connection.
type ParticipantID string

type RoomID string

type StreamID string

type MessageID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.New().String())
}

// NewRoomID validates a client supplied room name.
func NewRoomID(s string) (RoomID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrRoomIDRequired
	}
	if len(s) > maxRoomIDLength {
		return "", ErrRoomIDTooLong
	}
	return RoomID(s), nil
}

func NewStreamID() StreamID {
	return StreamID(uuid.New().String())
}

// NewMessageID builds a chat message id in the <peer>-<unix millis> form.
func NewMessageID(sender ParticipantID, at time.Time) MessageID {
	return MessageID(fmt.Sprintf("%s-%d", sender, at.UnixMilli()))
}

func (id ParticipantID) String() string {
	return string(id)
}

func (id RoomID) String() string {
	return string(id)
}

func (id StreamID) String() string {
	return string(id)
}

func (id MessageID) String() string {
	return string(id)
}
