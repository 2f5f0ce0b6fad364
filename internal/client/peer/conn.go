// Package peer drives one WebRTC connection to one remote participant:
// offer/answer exchange, ICE candidate buffering, glare resolution and the
// attribution of remote streams to camera or screen.
package peer

import (
	"github.com/Wyydra/huddle/internal/client/media"
	"github.com/Wyydra/huddle/internal/core/domain"
)

type SignalingState string

const (
	StateStable          SignalingState = "stable"
	StateHaveLocalOffer  SignalingState = "have-local-offer"
	StateHaveRemoteOffer SignalingState = "have-remote-offer"
	StateClosed          SignalingState = "closed"
)

type ICEState string

const (
	ICENew          ICEState = "new"
	ICEChecking     ICEState = "checking"
	ICEConnected    ICEState = "connected"
	ICECompleted    ICEState = "completed"
	ICEDisconnected ICEState = "disconnected"
	ICEFailed       ICEState = "failed"
	ICEClosed       ICEState = "closed"
)

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// RemoteTrack describes a track received from the remote side.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     media.Kind
}

// Conn is the part of a WebRTC peer connection a Link needs. Offer and
// Answer create the description and install it as the local one.
type Conn interface {
	SignalingState() SignalingState
	HasRemoteDescription() bool

	Offer(iceRestart bool) (string, error)
	Answer() (string, error)
	SetRemoteDescription(t SDPType, sdp string) error
	Rollback() error
	AddICECandidate(c domain.ICECandidate) error

	AddTrack(t media.Track) error
	RemoveTrack(t media.Track) error
	// SenderCount is the number of senders that still carry a track.
	SenderCount() int
	// NegotiationNeeded reports whether a sender carries a track that the
	// current local description has no m-section for. An answer cannot add
	// sections, so tracks added while answering need a follow-up offer.
	NegotiationNeeded() bool

	OnICECandidate(fn func(domain.ICECandidate))
	OnTrack(fn func(RemoteTrack))
	OnTrackEnded(fn func(RemoteTrack))
	OnICEStateChange(fn func(ICEState))

	Close() error
}

// ConnFactory opens a new Conn for the given remote participant.
type ConnFactory func(remote domain.ParticipantID) (Conn, error)

// Outbox carries signaling messages produced by a link towards the relay.
type Outbox interface {
	Emit(t domain.MessageType, payload any) error
}
