// Package peertest provides an in-memory peer.Conn. Descriptions it creates
// list the tracks it sends, and applying a remote description fires track
// events for the tracks listed there, so two fakes wired through a relay
// behave like a connected pair.
//
// Descriptions also carry an m-section count per kind. An offer may grow
// the counts; an answer only fills the sections the remote offer had, so a
// track added while answering stays unlisted until the next offer.
package peertest

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Wyydra/huddle/internal/client/media"
	"github.com/Wyydra/huddle/internal/client/peer"
	"github.com/Wyydra/huddle/internal/core/domain"
)

var (
	ErrClosed     = errors.New("fake conn closed")
	ErrWrongState = errors.New("invalid signaling state")
	ErrNoRemote   = errors.New("remote description not set")
)

type Conn struct {
	mu sync.Mutex

	Remote domain.ParticipantID

	state     peer.SignalingState
	hasRemote bool
	closed    bool
	seq       int
	senders   map[string]media.Track
	order     []string
	received  map[string]peer.RemoteTrack

	sections  map[media.Kind]int
	offered   map[media.Kind]int
	described map[string]bool

	Applied        []domain.ICECandidate
	Offers         []string
	Answers        []string
	RemoteOffers   []string
	RemoteAnswers  []string
	Restarts       int
	Rollbacks      int
	FailCandidates bool

	onICE      func(domain.ICECandidate)
	onTrack    func(peer.RemoteTrack)
	onEnded    func(peer.RemoteTrack)
	onICEState func(peer.ICEState)

	events chan func()
	done   chan struct{}
}

func NewConn(remote domain.ParticipantID) *Conn {
	c := &Conn{
		Remote:    remote,
		state:     peer.StateStable,
		senders:   map[string]media.Track{},
		received:  map[string]peer.RemoteTrack{},
		sections:  map[media.Kind]int{},
		offered:   map[media.Kind]int{},
		described: map[string]bool{},
		events:    make(chan func(), 64),
		done:      make(chan struct{}),
	}
	go c.loop()
	return c
}

// loop delivers track events in order outside the caller's locks.
func (c *Conn) loop() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Conn) SignalingState() peer.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return peer.StateClosed
	}
	return c.state
}

func (c *Conn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasRemote
}

func (c *Conn) Offer(iceRestart bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	if c.state != peer.StateStable && c.state != peer.StateHaveLocalOffer {
		return "", fmt.Errorf("%w: offer in %s", ErrWrongState, c.state)
	}
	if iceRestart {
		c.Restarts++
	}
	counts := map[media.Kind]int{}
	for _, id := range c.order {
		counts[c.senders[id].Kind()]++
	}
	c.offered = map[media.Kind]int{}
	for k, n := range c.sections {
		c.offered[k] = n
	}
	for k, n := range counts {
		c.offered[k] = max(c.offered[k], n)
	}
	sdp := c.describeLocked("offer", iceRestart, c.order, c.offered)
	c.state = peer.StateHaveLocalOffer
	c.Offers = append(c.Offers, sdp)
	return sdp, nil
}

func (c *Conn) Answer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	if c.state != peer.StateHaveRemoteOffer {
		return "", fmt.Errorf("%w: answer in %s", ErrWrongState, c.state)
	}
	used := map[media.Kind]int{}
	var listed []string
	for _, id := range c.order {
		k := c.senders[id].Kind()
		if used[k] < c.sections[k] {
			used[k]++
			listed = append(listed, id)
		}
	}
	sdp := c.describeLocked("answer", false, listed, c.sections)
	c.state = peer.StateStable
	c.Answers = append(c.Answers, sdp)
	return sdp, nil
}

func (c *Conn) SetRemoteDescription(t peer.SDPType, sdp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	switch t {
	case peer.SDPOffer:
		if c.state != peer.StateStable {
			return fmt.Errorf("%w: remote offer in %s", ErrWrongState, c.state)
		}
		c.state = peer.StateHaveRemoteOffer
		c.RemoteOffers = append(c.RemoteOffers, sdp)
		for k, n := range ParseSections(sdp) {
			c.sections[k] = max(c.sections[k], n)
		}
	case peer.SDPAnswer:
		if c.state != peer.StateHaveLocalOffer {
			return fmt.Errorf("%w: remote answer in %s", ErrWrongState, c.state)
		}
		c.state = peer.StateStable
		c.RemoteAnswers = append(c.RemoteAnswers, sdp)
		for k, n := range c.offered {
			c.sections[k] = max(c.sections[k], n)
		}
	default:
		return fmt.Errorf("unknown description type %q", t)
	}
	c.hasRemote = true
	c.applyTracksLocked(ParseTracks(sdp))
	return nil
}

func (c *Conn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != peer.StateHaveLocalOffer {
		return fmt.Errorf("%w: rollback in %s", ErrWrongState, c.state)
	}
	c.state = peer.StateStable
	c.Rollbacks++
	return nil
}

func (c *Conn) AddICECandidate(cand domain.ICECandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasRemote {
		return ErrNoRemote
	}
	if c.FailCandidates {
		return errors.New("candidate rejected")
	}
	c.Applied = append(c.Applied, cand)
	return nil
}

func (c *Conn) AddTrack(t media.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.senders[t.ID()]; ok {
		return fmt.Errorf("track %s already added", t.ID())
	}
	c.senders[t.ID()] = t
	c.order = append(c.order, t.ID())
	return nil
}

func (c *Conn) RemoveTrack(t media.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.senders[t.ID()]; !ok {
		return fmt.Errorf("track %s not found", t.ID())
	}
	delete(c.senders, t.ID())
	for i, id := range c.order {
		if id == t.ID() {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func (c *Conn) SenderCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.senders)
}

func (c *Conn) NegotiationNeeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		if !c.described[id] {
			return true
		}
	}
	return false
}

func (c *Conn) OnICECandidate(fn func(domain.ICECandidate)) { c.onICE = fn }
func (c *Conn) OnTrack(fn func(peer.RemoteTrack))          { c.onTrack = fn }
func (c *Conn) OnTrackEnded(fn func(peer.RemoteTrack))     { c.onEnded = fn }
func (c *Conn) OnICEStateChange(fn func(peer.ICEState))    { c.onICEState = fn }

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// GatherCandidate simulates a locally gathered ICE candidate.
func (c *Conn) GatherCandidate(cand domain.ICECandidate) {
	if c.onICE != nil {
		c.onICE(cand)
	}
}

// SetICEState simulates an ICE connection state change.
func (c *Conn) SetICEState(s peer.ICEState) {
	if c.onICEState != nil {
		c.onICEState(s)
	}
}

// Offered returns a copy of the offers created so far.
func (c *Conn) Offered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Offers...)
}

func (c *Conn) AppliedCandidates() []domain.ICECandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ICECandidate(nil), c.Applied...)
}

func (c *Conn) describeLocked(kind string, restart bool, ids []string, sections map[media.Kind]int) string {
	c.seq++
	c.described = map[string]bool{}
	tracks := make([]string, 0, len(ids))
	for _, id := range ids {
		t := c.senders[id]
		c.described[id] = true
		tracks = append(tracks, fmt.Sprintf("%s/%s/%s", t.StreamID(), t.ID(), t.Kind()))
	}
	sort.Strings(tracks)

	kinds := make([]string, 0, len(sections))
	for k, n := range sections {
		if n > 0 {
			kinds = append(kinds, fmt.Sprintf("%s:%d", k, n))
		}
	}
	sort.Strings(kinds)
	return fmt.Sprintf("fake;%s;%d;restart=%t;m=%s;tracks=%s",
		kind, c.seq, restart, strings.Join(kinds, ","), strings.Join(tracks, ","))
}

func (c *Conn) applyTracksLocked(tracks []peer.RemoteTrack) {
	seen := map[string]bool{}
	for _, t := range tracks {
		seen[t.ID] = true
		if _, ok := c.received[t.ID]; ok {
			continue
		}
		c.received[t.ID] = t
		if fn := c.onTrack; fn != nil {
			t := t
			c.events <- func() { fn(t) }
		}
	}
	for id, t := range c.received {
		if seen[id] {
			continue
		}
		delete(c.received, id)
		if fn := c.onEnded; fn != nil {
			t := t
			c.events <- func() { fn(t) }
		}
	}
}

// ParseTracks extracts the tracks listed in a description made by Conn.
func ParseTracks(sdp string) []peer.RemoteTrack {
	i := strings.Index(sdp, "tracks=")
	if i < 0 {
		return nil
	}
	var out []peer.RemoteTrack
	for _, item := range strings.Split(sdp[i+len("tracks="):], ",") {
		parts := strings.Split(item, "/")
		if len(parts) != 3 {
			continue
		}
		out = append(out, peer.RemoteTrack{StreamID: parts[0], ID: parts[1], Kind: media.Kind(parts[2])})
	}
	return out
}

// ParseSections returns the m-section count per kind of a description.
// Hand-written descriptions without an m= field get one section per
// listed track.
func ParseSections(sdp string) map[media.Kind]int {
	out := map[media.Kind]int{}
	for _, field := range strings.Split(sdp, ";") {
		list, ok := strings.CutPrefix(field, "m=")
		if !ok {
			continue
		}
		for _, item := range strings.Split(list, ",") {
			k, n, ok := strings.Cut(item, ":")
			if !ok {
				continue
			}
			if v, err := strconv.Atoi(n); err == nil {
				out[media.Kind(k)] = v
			}
		}
		return out
	}
	for _, t := range ParseTracks(sdp) {
		out[t.Kind]++
	}
	return out
}

// Factory hands out fake conns and remembers them per remote participant.
type Factory struct {
	mu    sync.Mutex
	conns map[domain.ParticipantID][]*Conn
	Err   error
}

func NewFactory() *Factory {
	return &Factory{conns: map[domain.ParticipantID][]*Conn{}}
}

func (f *Factory) New(remote domain.ParticipantID) (peer.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := NewConn(remote)
	f.conns[remote] = append(f.conns[remote], c)
	return c, nil
}

// Conns returns every conn opened towards remote, oldest first.
func (f *Factory) Conns(remote domain.ParticipantID) []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns[remote]...)
}

// Last returns the most recent conn towards remote, or nil.
func (f *Factory) Last(remote domain.ParticipantID) *Conn {
	conns := f.Conns(remote)
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// Outbox records emitted signaling messages.
type Outbox struct {
	mu   sync.Mutex
	Sent []domain.Envelope
	Err  error
}

func (o *Outbox) Emit(t domain.MessageType, payload any) error {
	env, err := domain.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.Sent = append(o.Sent, env)
	return nil
}

// Take returns and clears the recorded envelopes.
func (o *Outbox) Take() []domain.Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.Sent
	o.Sent = nil
	return out
}

// OfType returns the recorded envelopes of type t without clearing them.
func (o *Outbox) OfType(t domain.MessageType) []domain.Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []domain.Envelope
	for _, env := range o.Sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}
