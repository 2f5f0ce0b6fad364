package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/huddle/internal/client/media"
	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrLinkClosed = errors.New("peer link closed")

// MaxICERestarts bounds consecutive restarts without reaching connected.
const MaxICERestarts = 3

type Config struct {
	LocalID  domain.ParticipantID
	RemoteID domain.ParticipantID
	Conn     Conn
	Outbox   Outbox

	// OnStream is called for every classified remote stream change.
	OnStream func(remote domain.ParticipantID, u StreamUpdate)
	// OnFailed is called once restarts are exhausted.
	OnFailed func(remote domain.ParticipantID)
}

// LinkState is a read-only view of a link.
type LinkState struct {
	Remote       domain.ParticipantID
	Polite       bool
	Signaling    SignalingState
	ICE          ICEState
	CameraStream string
	ScreenStream string
	Sharing      bool
	Pending      int
}

// Link is the connection to one remote participant. Every exported method
// is serialized by the link mutex; callbacks run after it is released.
type Link struct {
	mu sync.Mutex

	local  domain.ParticipantID
	remote domain.ParticipantID
	polite bool
	conn   Conn
	out    Outbox

	candidates CandidateBuffer
	streams    StreamClassifier

	localTracks   []media.Track
	localAttached bool
	screen        media.Track
	screenAdded   bool

	negotiationPending bool
	iceState           ICEState
	restarts           int
	closed             bool

	onStream func(domain.ParticipantID, StreamUpdate)
	onFailed func(domain.ParticipantID)
	logger   zerolog.Logger
}

func NewLink(cfg Config) *Link {
	l := &Link{
		local:    cfg.LocalID,
		remote:   cfg.RemoteID,
		polite:   Polite(cfg.LocalID, cfg.RemoteID),
		conn:     cfg.Conn,
		out:      cfg.Outbox,
		iceState: ICENew,
		onStream: cfg.OnStream,
		onFailed: cfg.OnFailed,
		logger:   log.With().Str("peer_id", cfg.RemoteID.String()).Logger(),
	}

	l.conn.OnICECandidate(l.emitCandidate)
	l.conn.OnTrack(l.trackAdded)
	l.conn.OnTrackEnded(l.trackEnded)
	l.conn.OnICEStateChange(l.iceChanged)
	return l
}

// Polite reports whether the local side yields on an offer collision with
// remote. Exactly one side of every pair is polite.
func Polite(local, remote domain.ParticipantID) bool {
	return local < remote
}

func (l *Link) Remote() domain.ParticipantID {
	return l.remote
}

// SetLocalTracks records the camera and microphone tracks to send. They are
// added to the connection on the next offer or answer.
func (l *Link) SetLocalTracks(tracks []media.Track) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.localAttached {
		l.localTracks = append([]media.Track(nil), tracks...)
	}
}

// SetScreen records a screen track to send from the next offer or answer
// on. Unlike AttachScreen it does not renegotiate.
func (l *Link) SetScreen(track media.Track) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.screen == nil {
		l.screen = track
	}
}

// Initiate sends an offer when the link is stable. A non-restart request
// on an unstable link is deferred until the link is stable again. An ICE
// restart always proceeds, rolling back a pending local offer first.
func (l *Link) Initiate(ctx context.Context, restart bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}

	switch state := l.conn.SignalingState(); {
	case state == StateStable:
	case !restart:
		l.logger.Debug().Str("state", string(state)).Msg("Negotiation deferred")
		l.negotiationPending = true
		return nil
	case state == StateHaveLocalOffer:
		if err := l.conn.Rollback(); err != nil {
			return fmt.Errorf("rollback before restart: %w", err)
		}
	default:
		l.logger.Debug().Str("state", string(state)).Msg("Restart deferred until answer is sent")
		l.negotiationPending = true
		return nil
	}

	if err := l.attachLocked(); err != nil {
		return err
	}
	return l.offerLocked(restart)
}

// HandleOffer answers a remote offer, resolving collisions with our own
// outstanding offer by politeness.
func (l *Link) HandleOffer(ctx context.Context, sdp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}

	if l.conn.SignalingState() == StateHaveLocalOffer {
		if !l.polite {
			l.logger.Debug().Msg("Ignoring colliding offer")
			return nil
		}
		if err := l.conn.Rollback(); err != nil {
			return fmt.Errorf("rollback colliding offer: %w", err)
		}
		l.negotiationPending = true
	}

	if err := l.conn.SetRemoteDescription(SDPOffer, sdp); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	if err := l.attachLocked(); err != nil {
		return err
	}
	l.flushLocked()

	answer, err := l.conn.Answer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := l.out.Emit(domain.TypeAnswer, domain.SessionSignal{To: l.remote, SDP: answer}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	if l.conn.NegotiationNeeded() {
		l.logger.Debug().Msg("Answer left local tracks unnegotiated")
		l.negotiationPending = true
	}
	return l.pendingLocked()
}

// HandleAnswer applies an answer to our outstanding offer. Answers that
// arrive in any other state are stale and dropped.
func (l *Link) HandleAnswer(ctx context.Context, sdp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}

	if state := l.conn.SignalingState(); state != StateHaveLocalOffer {
		l.logger.Debug().Str("state", string(state)).Msg("Ignoring stale answer")
		return nil
	}
	if err := l.conn.SetRemoteDescription(SDPAnswer, sdp); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	l.flushLocked()
	return l.pendingLocked()
}

// HandleCandidate applies a remote candidate, or buffers it until the
// remote description is set.
func (l *Link) HandleCandidate(ctx context.Context, c domain.ICECandidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}

	if !l.conn.HasRemoteDescription() {
		l.candidates.Push(c)
		return nil
	}
	if err := l.conn.AddICECandidate(c); err != nil {
		l.logger.Debug().Err(err).Msg("Ignoring ICE candidate")
	}
	return nil
}

// AttachLocal adds the camera and microphone tracks if none were added yet.
// It reports whether tracks were added; the caller renegotiates.
func (l *Link) AttachLocal(tracks []media.Track) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, ErrLinkClosed
	}
	if l.localAttached || len(tracks) == 0 {
		return false, nil
	}
	l.localTracks = append([]media.Track(nil), tracks...)
	if err := l.attachLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// AttachScreen starts sending the screen track and renegotiates.
func (l *Link) AttachScreen(track media.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if l.screen != nil {
		return nil
	}
	if err := l.conn.AddTrack(track); err != nil {
		return fmt.Errorf("add screen track: %w", err)
	}
	l.screen = track
	l.screenAdded = true
	return l.renegotiateLocked()
}

// DetachScreen stops sending the screen track. Without a screen sender it
// does nothing.
func (l *Link) DetachScreen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if l.screen == nil {
		return nil
	}
	track, added := l.screen, l.screenAdded
	l.screen, l.screenAdded = nil, false
	if !added {
		return nil
	}
	if err := l.conn.RemoveTrack(track); err != nil {
		return fmt.Errorf("remove screen track: %w", err)
	}
	return l.renegotiateLocked()
}

// AnnounceScreen and StopScreen feed the remote peer's screen share
// announcements to the stream classifier.
func (l *Link) AnnounceScreen(streamID string) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	updates := l.streams.Announce(streamID)
	l.mu.Unlock()
	l.publish(updates)
}

func (l *Link) StopScreen() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	updates := l.streams.Stop()
	l.mu.Unlock()
	l.publish(updates)
}

func (l *Link) Snapshot() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := LinkState{
		Remote:  l.remote,
		Polite:  l.polite,
		ICE:     l.iceState,
		Sharing: l.screen != nil,
		Pending: l.candidates.Len(),
	}
	if l.closed {
		st.Signaling = StateClosed
	} else {
		st.Signaling = l.conn.SignalingState()
	}
	if s, ok := l.streams.Camera(); ok {
		st.CameraStream = s.ID
	}
	if s, ok := l.streams.Screen(); ok {
		st.ScreenStream = s.ID
	}
	return st
}

// Close tears down the connection. Later calls on the link are no-ops.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.candidates.Drain()
	return l.conn.Close()
}

func (l *Link) attachLocked() error {
	if !l.localAttached && len(l.localTracks) > 0 {
		for _, t := range l.localTracks {
			if err := l.conn.AddTrack(t); err != nil {
				return fmt.Errorf("add local %s track: %w", t.Kind(), err)
			}
		}
		l.localAttached = true
	}
	if l.screen != nil && !l.screenAdded {
		if err := l.conn.AddTrack(l.screen); err != nil {
			return fmt.Errorf("add screen track: %w", err)
		}
		l.screenAdded = true
	}
	return nil
}

func (l *Link) offerLocked(restart bool) error {
	sdp, err := l.conn.Offer(restart)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	l.negotiationPending = false
	if err := l.out.Emit(domain.TypeOffer, domain.SessionSignal{To: l.remote, SDP: sdp}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	l.logger.Debug().Bool("restart", restart).Msg("Offer sent")
	return nil
}

func (l *Link) renegotiateLocked() error {
	if l.conn.SignalingState() != StateStable {
		l.negotiationPending = true
		return nil
	}
	return l.offerLocked(false)
}

func (l *Link) pendingLocked() error {
	if !l.negotiationPending || l.conn.SignalingState() != StateStable {
		return nil
	}
	l.logger.Debug().Msg("Running deferred negotiation")
	return l.offerLocked(false)
}

func (l *Link) flushLocked() {
	for _, c := range l.candidates.Drain() {
		if err := l.conn.AddICECandidate(c); err != nil {
			l.logger.Debug().Err(err).Msg("Ignoring buffered ICE candidate")
		}
	}
}

func (l *Link) emitCandidate(c domain.ICECandidate) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	if err := l.out.Emit(domain.TypeICECandidate, domain.CandidateSignal{To: l.remote, Candidate: c}); err != nil {
		l.logger.Debug().Err(err).Msg("Failed to send ICE candidate")
	}
}

func (l *Link) trackAdded(t RemoteTrack) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	updates := l.streams.Add(t)
	l.mu.Unlock()
	l.publish(updates)
}

func (l *Link) trackEnded(t RemoteTrack) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	updates := l.streams.Remove(t)
	l.mu.Unlock()
	l.publish(updates)
}

func (l *Link) iceChanged(state ICEState) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.iceState = state
	restart, failed := false, false
	switch state {
	case ICEConnected, ICECompleted:
		l.restarts = 0
	case ICEFailed:
		if l.restarts < MaxICERestarts {
			l.restarts++
			restart = true
		} else {
			failed = true
		}
	}
	attempt := l.restarts
	l.mu.Unlock()

	l.logger.Debug().Str("ice_state", string(state)).Msg("ICE state changed")
	if restart {
		l.logger.Info().Int("attempt", attempt).Msg("ICE failed, restarting")
		go func() {
			if err := l.Initiate(context.Background(), true); err != nil && !errors.Is(err, ErrLinkClosed) {
				l.logger.Warn().Err(err).Msg("ICE restart failed")
			}
		}()
	}
	if failed {
		l.logger.Error().Msg("ICE restarts exhausted")
		if l.onFailed != nil {
			l.onFailed(l.remote)
		}
	}
}

func (l *Link) publish(updates []StreamUpdate) {
	if l.onStream == nil {
		return
	}
	for _, u := range updates {
		l.onStream(l.remote, u)
	}
}
