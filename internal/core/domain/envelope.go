package domain

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	TypeJoinRoom           MessageType = "join-room"
	TypeLeaveRoom          MessageType = "leave-room"
	TypeOffer              MessageType = "offer"
	TypeAnswer             MessageType = "answer"
	TypeICECandidate       MessageType = "ice-candidate"
	TypeChatMessage        MessageType = "chat-message"
	TypeScreenShareStarted MessageType = "screen-share-started"
	TypeScreenShareStopped MessageType = "screen-share-stopped"
	TypeMediaStateChanged  MessageType = "media-state-changed"

	TypeModerationMute         MessageType = "moderation-mute"
	TypeModerationUnmute       MessageType = "moderation-unmute"
	TypeModerationDisableVideo MessageType = "moderation-disable-video"
	TypeModerationEnableVideo  MessageType = "moderation-enable-video"
	TypeModerationKick         MessageType = "moderation-kick"

	TypeRoomJoined MessageType = "room-joined"
	TypePeerJoined MessageType = "peer-joined"
	TypePeerLeft   MessageType = "peer-left"
	TypeError      MessageType = "error"
)

// Envelope is a single frame on the signaling connection. The payload is
// kept raw so the relay can forward it without knowing its shape.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: data}, nil
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, e.Type, err)
	}
	return nil
}

func ErrorEnvelope(msg string) Envelope {
	env, _ := NewEnvelope(TypeError, ErrorPayload{Message: msg})
	return env
}

type JoinRoomRequest struct {
	RoomID       string `json:"roomId"`
	Name         string `json:"name,omitempty"`
	VideoEnabled *bool  `json:"videoEnabled,omitempty"`
	AudioEnabled *bool  `json:"audioEnabled,omitempty"`
	Token        string `json:"token,omitempty"`
}

type PeerInfo struct {
	ID           ParticipantID `json:"id"`
	Name         string        `json:"name,omitempty"`
	VideoEnabled bool          `json:"videoEnabled"`
	AudioEnabled bool          `json:"audioEnabled"`
}

type RoomJoined struct {
	RoomID RoomID        `json:"roomId"`
	PeerID ParticipantID `json:"peerId"`
	Role   Role          `json:"role"`
	Peers  []PeerInfo    `json:"peers"`
}

type PeerJoined struct {
	PeerID       ParticipantID `json:"peerId"`
	Name         string        `json:"name,omitempty"`
	VideoEnabled bool          `json:"videoEnabled"`
	AudioEnabled bool          `json:"audioEnabled"`
}

type PeerLeft struct {
	PeerID ParticipantID `json:"peerId"`
}

// SessionSignal carries an offer or answer. To is set by the sender, From
// by the relay.
type SessionSignal struct {
	To   ParticipantID `json:"to,omitempty"`
	From ParticipantID `json:"from,omitempty"`
	SDP  string        `json:"sdp"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit dictionary.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type CandidateSignal struct {
	To        ParticipantID `json:"to,omitempty"`
	From      ParticipantID `json:"from,omitempty"`
	Candidate ICECandidate  `json:"candidate"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type ScreenShareNotice struct {
	PeerID   ParticipantID `json:"peerId,omitempty"`
	StreamID StreamID      `json:"streamId,omitempty"`
	// To addresses a replay of an ongoing share to one newcomer.
	To ParticipantID `json:"to,omitempty"`
}

type MediaState struct {
	PeerID       ParticipantID `json:"peerId,omitempty"`
	VideoEnabled bool          `json:"videoEnabled"`
	AudioEnabled bool          `json:"audioEnabled"`
}

type ModerationRequest struct {
	TargetPeerID ParticipantID `json:"targetPeerId"`
}

type ModerationNotice struct {
	FromPeerID ParticipantID `json:"fromPeerId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
