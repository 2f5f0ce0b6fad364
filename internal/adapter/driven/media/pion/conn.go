package pion

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/huddle/internal/client/media"
	"github.com/Wyydra/huddle/internal/client/peer"
	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrForeignTrack = errors.New("track was not created by the pion adapter")

// Conn adapts *webrtc.PeerConnection to peer.Conn.
type Conn struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender
	onEnded func(peer.RemoteTrack)
}

func newConn(remote domain.ParticipantID, pc *webrtc.PeerConnection) *Conn {
	return &Conn{
		pc:      pc,
		logger:  log.With().Str("peer_id", remote.String()).Logger(),
		senders: make(map[string]*webrtc.RTPSender),
	}
}

func (c *Conn) SignalingState() peer.SignalingState {
	switch s := c.pc.SignalingState(); s {
	case webrtc.SignalingStateStable:
		return peer.StateStable
	case webrtc.SignalingStateHaveLocalOffer:
		return peer.StateHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return peer.StateHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return peer.StateClosed
	default:
		return peer.SignalingState(s.String())
	}
}

func (c *Conn) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *Conn) Offer(iceRestart bool) (string, error) {
	offer, err := c.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *Conn) Answer() (string, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *Conn) SetRemoteDescription(t peer.SDPType, sdp string) error {
	desc := webrtc.SessionDescription{SDP: sdp}
	switch t {
	case peer.SDPOffer:
		desc.Type = webrtc.SDPTypeOffer
	case peer.SDPAnswer:
		desc.Type = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("unknown description type %q", t)
	}
	return c.pc.SetRemoteDescription(desc)
}

func (c *Conn) Rollback() error {
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (c *Conn) AddICECandidate(cand domain.ICECandidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *Conn) AddTrack(t media.Track) error {
	local, ok := t.(*LocalTrack)
	if !ok {
		return ErrForeignTrack
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.senders[t.ID()]; exists {
		return nil
	}
	sender, err := c.pc.AddTrack(local.sample)
	if err != nil {
		return err
	}
	c.senders[t.ID()] = sender

	// Incoming RTCP has to be read for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *Conn) RemoveTrack(t media.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sender, ok := c.senders[t.ID()]
	if !ok {
		return nil
	}
	delete(c.senders, t.ID())
	return c.pc.RemoveTrack(sender)
}

func (c *Conn) SenderCount() int {
	n := 0
	for _, s := range c.pc.GetSenders() {
		if s.Track() != nil {
			n++
		}
	}
	return n
}

// NegotiationNeeded reports a sender whose transceiver has no mid yet. Mids
// are assigned by offers and by matching a remote offer's sections, so a
// track added beyond those sections keeps an empty mid until we offer.
func (c *Conn) NegotiationNeeded() bool {
	for _, tr := range c.pc.GetTransceivers() {
		if s := tr.Sender(); s != nil && s.Track() != nil && tr.Mid() == "" {
			return true
		}
	}
	return false
}

func (c *Conn) OnICECandidate(fn func(domain.ICECandidate)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		fn(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

// OnTrack reports received tracks. Media is drained and discarded; a
// keyframe is requested as soon as a video track arrives.
func (c *Conn) OnTrack(fn func(peer.RemoteTrack)) {
	c.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t := peer.RemoteTrack{
			ID:       remote.ID(),
			StreamID: remote.StreamID(),
			Kind:     kindOf(remote.Kind()),
		}
		c.logger.Debug().Str("kind", remote.Kind().String()).Str("stream_id", t.StreamID).Msg("Received remote track")
		fn(t)

		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			if err := c.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
			}); err != nil {
				c.logger.Debug().Err(err).Msg("Sending PLI")
			}
		}

		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := remote.Read(buf); err != nil {
					break
				}
			}
			c.mu.Lock()
			ended := c.onEnded
			c.mu.Unlock()
			if ended != nil {
				ended(t)
			}
		}()
	})
}

func (c *Conn) OnTrackEnded(fn func(peer.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEnded = fn
}

func (c *Conn) OnICEStateChange(fn func(peer.ICEState)) {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		fn(peer.ICEState(s.String()))
	})
}

func (c *Conn) Close() error {
	return c.pc.Close()
}

func kindOf(k webrtc.RTPCodecType) media.Kind {
	if k == webrtc.RTPCodecTypeAudio {
		return media.KindAudio
	}
	return media.KindVideo
}
