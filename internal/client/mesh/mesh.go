// Package mesh keeps one peer link per remote participant in the room and
// routes signaling to the right link.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Wyydra/huddle/internal/client/media"
	"github.com/Wyydra/huddle/internal/client/peer"
	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	EventPeers     EventKind = "peers"
	EventStream    EventKind = "stream"
	EventPresenter EventKind = "presenter"
	EventShareLost EventKind = "share-lost"
	EventFailed    EventKind = "link-failed"
)

type Event struct {
	Kind   EventKind
	Peer   domain.ParticipantID
	Stream peer.StreamUpdate
}

// PeerView is a read-only projection of one remote participant.
type PeerView struct {
	ID           domain.ParticipantID
	Name         string
	VideoEnabled bool
	AudioEnabled bool
	Presenting   bool
	Linked       bool
	Link         peer.LinkState
}

type meta struct {
	name  string
	video bool
	audio bool
	// screen is the announced screen stream, kept until a link exists.
	screen string
}

type Config struct {
	Factory  peer.ConnFactory
	Outbox   peer.Outbox
	Observer func(Event)
}

type Mesh struct {
	mu sync.Mutex

	self      domain.ParticipantID
	factory   peer.ConnFactory
	out       peer.Outbox
	observer  func(Event)
	links     map[domain.ParticipantID]*peer.Link
	meta      map[domain.ParticipantID]meta
	local     []media.Track
	screen    media.Track
	presenter domain.ParticipantID
	// open is false between Reset and the next Bootstrap or SetLocalMedia.
	open   bool
	closed bool
}

func New(cfg Config) *Mesh {
	return &Mesh{
		factory:  cfg.Factory,
		out:      cfg.Outbox,
		observer: cfg.Observer,
		links:    make(map[domain.ParticipantID]*peer.Link),
		meta:     make(map[domain.ParticipantID]meta),
		open:     true,
	}
}

// SetSelf records the id the relay assigned to us. Links decide politeness
// from it, so it must be set before the first link exists.
func (m *Mesh) SetSelf(id domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self = id
}

// Bootstrap opens a link to every participant already in the room and
// sends each an offer.
func (m *Mesh) Bootstrap(ctx context.Context, peers []domain.PeerInfo) error {
	m.mu.Lock()
	m.open = true
	m.mu.Unlock()

	var errs []error
	for _, p := range peers {
		m.remember(p)
		link, _, err := m.link(p.ID)
		if err != nil {
			errs = append(errs, ignoreClosed(err))
			continue
		}
		if err := ignoreClosed(link.Initiate(ctx, false)); err != nil {
			errs = append(errs, fmt.Errorf("initiate %s: %w", p.ID, err))
		}
	}
	m.notify(Event{Kind: EventPeers})
	return errors.Join(errs...)
}

// HandlePeerJoined caches the newcomer's details. The newcomer sends the
// offer, so no link is opened here. If we are presenting, the newcomer
// missed the announcement and gets its own copy.
func (m *Mesh) HandlePeerJoined(info domain.PeerInfo) error {
	if m.remember(info) {
		m.notify(Event{Kind: EventPeers})
	}

	m.mu.Lock()
	screen := m.screen
	if m.closed || info.ID == "" || info.ID == m.self {
		screen = nil
	}
	m.mu.Unlock()
	if screen == nil {
		return nil
	}
	return m.out.Emit(domain.TypeScreenShareStarted, domain.ScreenShareNotice{
		To:       info.ID,
		StreamID: domain.StreamID(screen.StreamID()),
	})
}

func (m *Mesh) HandlePeerLeft(id domain.ParticipantID) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	link := m.links[id]
	delete(m.links, id)
	delete(m.meta, id)
	wasPresenter := m.presenter == id
	if wasPresenter {
		m.presenter = ""
	}
	m.mu.Unlock()

	if link != nil {
		if err := link.Close(); err != nil {
			log.Debug().Err(err).Str("peer_id", id.String()).Msg("Closing link")
		}
	}
	m.notify(Event{Kind: EventPeers, Peer: id})
	if wasPresenter {
		m.notify(Event{Kind: EventPresenter})
	}
}

// HandleOffer answers an offer, opening the link if it does not exist yet.
func (m *Mesh) HandleOffer(ctx context.Context, from domain.ParticipantID, sdp string) error {
	link, created, err := m.link(from)
	if err != nil {
		return ignoreClosed(err)
	}
	if created {
		m.notify(Event{Kind: EventPeers, Peer: from})
	}
	return ignoreClosed(link.HandleOffer(ctx, sdp))
}

func (m *Mesh) HandleAnswer(ctx context.Context, from domain.ParticipantID, sdp string) error {
	link := m.existing(from)
	if link == nil {
		log.Debug().Str("peer_id", from.String()).Msg("Answer for unknown link")
		return nil
	}
	return ignoreClosed(link.HandleAnswer(ctx, sdp))
}

// HandleCandidate routes a remote candidate. A candidate for an unknown
// participant opens the link so it can be buffered.
func (m *Mesh) HandleCandidate(ctx context.Context, from domain.ParticipantID, c domain.ICECandidate) error {
	link, _, err := m.link(from)
	if err != nil {
		return ignoreClosed(err)
	}
	return ignoreClosed(link.HandleCandidate(ctx, c))
}

func (m *Mesh) HandleMediaState(s domain.MediaState) {
	m.mu.Lock()
	if m.closed || s.PeerID == "" {
		m.mu.Unlock()
		return
	}
	md := m.meta[s.PeerID]
	md.video, md.audio = s.VideoEnabled, s.AudioEnabled
	m.meta[s.PeerID] = md
	m.mu.Unlock()
	m.notify(Event{Kind: EventPeers, Peer: s.PeerID})
}

// HandleScreenShareStarted records a remote presenter. If we are sharing
// ourselves our share is stopped, the newest presenter wins.
func (m *Mesh) HandleScreenShareStarted(ctx context.Context, from domain.ParticipantID, streamID domain.StreamID) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.presenter = from
	sharing := m.screen != nil
	link := m.links[from]
	if md, ok := m.meta[from]; ok || link == nil {
		if !ok {
			md = meta{video: true, audio: true}
		}
		md.screen = streamID.String()
		m.meta[from] = md
	}
	m.mu.Unlock()

	if link != nil {
		link.AnnounceScreen(streamID.String())
	}
	m.notify(Event{Kind: EventPresenter, Peer: from})

	if !sharing {
		return nil
	}
	log.Info().Str("peer_id", from.String()).Msg("Remote screen share took over")
	if err := m.StopScreenShare(ctx); err != nil {
		return err
	}
	m.notify(Event{Kind: EventShareLost, Peer: from})
	return nil
}

func (m *Mesh) HandleScreenShareStopped(from domain.ParticipantID) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	changed := m.presenter == from
	if changed {
		m.presenter = ""
	}
	if md, ok := m.meta[from]; ok {
		md.screen = ""
		m.meta[from] = md
	}
	link := m.links[from]
	m.mu.Unlock()

	if link != nil {
		link.StopScreen()
	}
	if changed {
		m.notify(Event{Kind: EventPresenter})
	}
}

// SetLocalMedia hands the camera and microphone tracks to every link.
// Links that had nothing to send yet renegotiate once.
func (m *Mesh) SetLocalMedia(ctx context.Context, stream *media.LocalStream) error {
	var tracks []media.Track
	if stream != nil {
		tracks = stream.Tracks()
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.local = tracks
	m.open = true
	links := m.snapshotLinks()
	m.mu.Unlock()

	var errs []error
	for _, link := range links {
		added, err := link.AttachLocal(tracks)
		if err != nil {
			errs = append(errs, ignoreClosed(err))
			continue
		}
		if added {
			errs = append(errs, ignoreClosed(link.Initiate(ctx, false)))
		}
	}
	return errors.Join(errs...)
}

// StartScreenShare sends track to every link and announces it once.
func (m *Mesh) StartScreenShare(ctx context.Context, track media.Track) error {
	m.mu.Lock()
	if m.closed || m.screen != nil {
		m.mu.Unlock()
		return nil
	}
	m.screen = track
	m.presenter = m.self
	links := m.snapshotLinks()
	m.mu.Unlock()

	var errs []error
	for _, link := range links {
		errs = append(errs, ignoreClosed(link.AttachScreen(track)))
	}
	errs = append(errs, m.out.Emit(domain.TypeScreenShareStarted, domain.ScreenShareNotice{
		StreamID: domain.StreamID(track.StreamID()),
	}))
	m.notify(Event{Kind: EventPresenter, Peer: m.self})
	return errors.Join(errs...)
}

// StopScreenShare removes the screen sender from every link and announces
// the stop once. Without an active share it does nothing.
func (m *Mesh) StopScreenShare(ctx context.Context) error {
	m.mu.Lock()
	if m.closed || m.screen == nil {
		m.mu.Unlock()
		return nil
	}
	track := m.screen
	m.screen = nil
	wasPresenter := m.presenter == m.self
	if wasPresenter {
		m.presenter = ""
	}
	links := m.snapshotLinks()
	m.mu.Unlock()

	var errs []error
	for _, link := range links {
		errs = append(errs, ignoreClosed(link.DetachScreen()))
	}
	track.Stop()
	errs = append(errs, m.out.Emit(domain.TypeScreenShareStopped, struct{}{}))
	if wasPresenter {
		m.notify(Event{Kind: EventPresenter})
	}
	return errors.Join(errs...)
}

func (m *Mesh) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

func (m *Mesh) Presenter() domain.ParticipantID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.presenter
}

// Peers lists known participants ordered by id.
func (m *Mesh) Peers() []PeerView {
	m.mu.Lock()
	ids := make(map[domain.ParticipantID]struct{}, len(m.meta)+len(m.links))
	for id := range m.meta {
		ids[id] = struct{}{}
	}
	for id := range m.links {
		ids[id] = struct{}{}
	}
	views := make([]PeerView, 0, len(ids))
	links := make(map[domain.ParticipantID]*peer.Link, len(m.links))
	for id := range ids {
		md, ok := m.meta[id]
		if !ok {
			md = meta{video: true, audio: true}
		}
		views = append(views, PeerView{
			ID:           id,
			Name:         md.name,
			VideoEnabled: md.video,
			AudioEnabled: md.audio,
			Presenting:   m.presenter == id,
		})
		if l, ok := m.links[id]; ok {
			links[id] = l
		}
	}
	m.mu.Unlock()

	for i := range views {
		if l, ok := links[views[i].ID]; ok {
			views[i].Linked = true
			views[i].Link = l.Snapshot()
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Reset closes every link and forgets every participant but keeps the
// local media, ready for a fresh join. Until the next Bootstrap or
// SetLocalMedia, signaling from unknown participants opens no link.
func (m *Mesh) Reset() {
	m.mu.Lock()
	m.open = false
	links := m.snapshotLinks()
	m.links = make(map[domain.ParticipantID]*peer.Link)
	m.meta = make(map[domain.ParticipantID]meta)
	m.presenter = ""
	m.mu.Unlock()

	closeAll(links)
}

// Close closes every link. It is safe to call more than once.
func (m *Mesh) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	links := m.snapshotLinks()
	m.links = make(map[domain.ParticipantID]*peer.Link)
	m.meta = make(map[domain.ParticipantID]meta)
	m.presenter = ""
	m.screen = nil
	m.local = nil
	m.mu.Unlock()

	closeAll(links)
}

// remember merges participant details and reports whether they are new.
func (m *Mesh) remember(info domain.PeerInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || info.ID == "" || info.ID == m.self {
		return false
	}
	md, known := m.meta[info.ID]
	md.name, md.video, md.audio = info.Name, info.VideoEnabled, info.AudioEnabled
	m.meta[info.ID] = md
	return !known
}

func (m *Mesh) existing(id domain.ParticipantID) *peer.Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[id]
}

// link returns the link to id, opening it when missing. At most one link
// per participant exists at any time. A screen announcement that arrived
// before the link is handed to it.
func (m *Mesh) link(id domain.ParticipantID) (*peer.Link, bool, error) {
	m.mu.Lock()
	l, created, screen, err := m.linkLocked(id)
	m.mu.Unlock()
	if created && screen != "" {
		l.AnnounceScreen(screen)
	}
	return l, created, err
}

func (m *Mesh) linkLocked(id domain.ParticipantID) (*peer.Link, bool, string, error) {
	if m.closed || !m.open {
		return nil, false, "", peer.ErrLinkClosed
	}
	if l, ok := m.links[id]; ok {
		return l, false, "", nil
	}

	conn, err := m.factory(id)
	if err != nil {
		return nil, false, "", fmt.Errorf("open connection to %s: %w", id, err)
	}
	l := peer.NewLink(peer.Config{
		LocalID:  m.self,
		RemoteID: id,
		Conn:     conn,
		Outbox:   m.out,
		OnStream: func(remote domain.ParticipantID, u peer.StreamUpdate) {
			m.notify(Event{Kind: EventStream, Peer: remote, Stream: u})
		},
		OnFailed: func(remote domain.ParticipantID) {
			m.notify(Event{Kind: EventFailed, Peer: remote})
		},
	})
	l.SetLocalTracks(m.local)
	if m.screen != nil {
		l.SetScreen(m.screen)
	}
	m.links[id] = l
	md, ok := m.meta[id]
	if !ok {
		md = meta{video: true, audio: true}
		m.meta[id] = md
	}
	log.Debug().Str("peer_id", id.String()).Msg("Link opened")
	return l, true, md.screen, nil
}

func (m *Mesh) snapshotLinks() []*peer.Link {
	links := make([]*peer.Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	return links
}

func (m *Mesh) notify(e Event) {
	if m.observer != nil {
		m.observer(e)
	}
}

func closeAll(links []*peer.Link) {
	for _, l := range links {
		if err := l.Close(); err != nil {
			log.Debug().Err(err).Str("peer_id", l.Remote().String()).Msg("Closing link")
		}
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, peer.ErrLinkClosed) {
		return nil
	}
	return err
}
