// Package session drives a participant through a room: acquiring local
// media, joining, dispatching relay messages to the mesh and leaving.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Wyydra/huddle/internal/client/media"
	"github.com/Wyydra/huddle/internal/client/mesh"
	"github.com/Wyydra/huddle/internal/client/moderation"
	"github.com/Wyydra/huddle/internal/client/peer"
	"github.com/Wyydra/huddle/internal/client/signaling"
	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateIdle      State = "idle"
	StateJoining   State = "joining"
	StateConnected State = "connected"
	StateError     State = "error"
)

var (
	ErrBusy         = errors.New("session is already joining or connected")
	ErrNotConnected = errors.New("session is not connected")
	ErrNoMedia      = errors.New("no media provider")
)

// MediaProvider captures local media. Camera returns a stream with the
// camera and microphone tracks; Screen returns a single video track.
type MediaProvider interface {
	Camera(ctx context.Context) (*media.LocalStream, error)
	Screen(ctx context.Context) (media.Track, error)
}

// Transport is the signaling connection to the relay.
type Transport interface {
	Send(env domain.Envelope) error
	Incoming() <-chan domain.Envelope
}

type Config struct {
	Name      string
	Token     string
	Video     bool
	Audio     bool
	Transport Transport
	Media     MediaProvider
	Factory   peer.ConnFactory
	ChatLimit int
	KickDelay time.Duration
}

type EventKind string

const (
	EventState     EventKind = "state"
	EventPeers     EventKind = "peers"
	EventStream    EventKind = "stream"
	EventChat      EventKind = "chat"
	EventModerated EventKind = "moderated"
	EventWarning   EventKind = "warning"
)

type Event struct {
	Kind    EventKind
	State   Snapshot
	Peer    domain.ParticipantID
	Stream  peer.StreamUpdate
	Chat    domain.ChatMessage
	Command domain.ModerationCommand
	Message string
}

// Snapshot is the observable session state.
type Snapshot struct {
	State        State
	Error        string
	RoomID       domain.RoomID
	Self         domain.ParticipantID
	Role         domain.Role
	VideoEnabled bool
	AudioEnabled bool
	Sharing      bool
	Presenter    domain.ParticipantID
}

type Session struct {
	mu sync.Mutex

	name      string
	token     string
	transport Transport
	provider  MediaProvider

	state  State
	errMsg string
	roomID domain.RoomID
	self   domain.ParticipantID
	role   domain.Role
	video  bool
	audio  bool
	local  *media.LocalStream

	mesh      *mesh.Mesh
	moderator *moderation.Moderator
	handler   *moderation.Handler
	chat      *ChatLog
	events    chan Event
}

func New(cfg Config) *Session {
	s := &Session{
		name:      cfg.Name,
		token:     cfg.Token,
		transport: cfg.Transport,
		provider:  cfg.Media,
		state:     StateIdle,
		video:     cfg.Video,
		audio:     cfg.Audio,
		chat:      NewChatLog(cfg.ChatLimit),
		events:    make(chan Event, 64),
	}
	s.mesh = mesh.New(mesh.Config{Factory: cfg.Factory, Outbox: s, Observer: s.meshEvent})
	s.moderator = moderation.NewModerator(s)

	var opts []moderation.Option
	if cfg.KickDelay > 0 {
		opts = append(opts, moderation.WithKickDelay(cfg.KickDelay))
	}
	s.handler = moderation.NewHandler(s, opts...)
	return s
}

// Events delivers session events. Events are dropped when the reader falls
// behind.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) Chat() *ChatLog {
	return s.chat
}

func (s *Session) Peers() []mesh.PeerView {
	return s.mesh.Peers()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:        s.state,
		Error:        s.errMsg,
		RoomID:       s.roomID,
		Self:         s.self,
		Role:         s.role,
		VideoEnabled: s.video,
		AudioEnabled: s.audio,
		Sharing:      s.mesh.Sharing(),
		Presenter:    s.mesh.Presenter(),
	}
}

// Join acquires local media and asks the relay to join room. It is allowed
// from idle and error only.
func (s *Session) Join(ctx context.Context, room string) error {
	roomID, err := domain.NewRoomID(room)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateJoining || s.state == StateConnected {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = StateJoining
	s.errMsg = ""
	s.roomID = roomID
	stale := s.local
	s.local = nil
	s.mu.Unlock()

	if stale != nil {
		stale.Stop()
	}
	s.mesh.Reset()
	s.publishState()

	var stream *media.LocalStream
	if s.provider != nil {
		stream, err = s.provider.Camera(ctx)
		if err != nil {
			s.fail(fmt.Sprintf("could not access camera or microphone: %v", err))
			return fmt.Errorf("acquire local media: %w", err)
		}
	}

	s.mu.Lock()
	if s.state != StateJoining || s.roomID != roomID {
		s.mu.Unlock()
		if stream != nil {
			stream.Stop()
		}
		return nil
	}
	if stream != nil {
		stream.SetEnabled(media.KindVideo, s.video)
		stream.SetEnabled(media.KindAudio, s.audio)
	}
	s.local = stream
	video, audio := s.video, s.audio
	s.mu.Unlock()

	if err := s.mesh.SetLocalMedia(ctx, stream); err != nil {
		log.Warn().Err(err).Msg("Attaching local media")
	}
	if err := s.sendJoin(roomID, video, audio); err != nil {
		s.fail(fmt.Sprintf("could not reach the server: %v", err))
		return err
	}
	return nil
}

func (s *Session) sendJoin(roomID domain.RoomID, video, audio bool) error {
	return s.Emit(domain.TypeJoinRoom, domain.JoinRoomRequest{
		RoomID:       roomID.String(),
		Name:         s.name,
		VideoEnabled: &video,
		AudioEnabled: &audio,
		Token:        s.token,
	})
}

// Leave resets the session to idle. It is safe to call at any time and
// more than once.
func (s *Session) Leave() error {
	s.handler.Stop()

	s.mu.Lock()
	inRoom := s.state == StateJoining || s.state == StateConnected
	local := s.local
	changed := s.state != StateIdle
	s.state = StateIdle
	s.errMsg = ""
	s.roomID, s.self, s.role = "", "", ""
	s.local = nil
	s.mu.Unlock()

	var errs []error
	if err := s.mesh.StopScreenShare(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if inRoom {
		if err := s.Emit(domain.TypeLeaveRoom, struct{}{}); err != nil {
			log.Debug().Err(err).Msg("Sending leave-room")
		}
	}
	s.mesh.Reset()
	if local != nil {
		local.Stop()
	}
	s.chat.Clear()

	if changed {
		s.publishState()
	}
	return errors.Join(errs...)
}

// Close leaves the room and releases the mesh for good.
func (s *Session) Close() error {
	err := s.Leave()
	s.mesh.Close()
	return err
}

// Run dispatches relay messages until ctx is done or the transport closes.
func (s *Session) Run(ctx context.Context) error {
	in := s.transport.Incoming()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-in:
			if !ok {
				if st := s.Snapshot().State; st == StateJoining || st == StateConnected {
					s.fail("connection to the server was lost")
				}
				return nil
			}
			if err := s.dispatch(ctx, env); err != nil {
				log.Debug().Err(err).Str("type", string(env.Type)).Msg("Handling relay message")
			}
		}
	}
}

func (s *Session) dispatch(ctx context.Context, env domain.Envelope) error {
	if roomScoped(env.Type) {
		if st := s.Snapshot().State; st != StateJoining && st != StateConnected {
			log.Debug().Str("type", string(env.Type)).Str("state", string(st)).Msg("Dropping room message outside a room")
			return nil
		}
	}

	switch env.Type {
	case domain.TypeRoomJoined:
		var msg domain.RoomJoined
		if err := env.Decode(&msg); err != nil {
			return err
		}
		return s.joined(ctx, msg)

	case domain.TypePeerJoined:
		var msg domain.PeerJoined
		if err := env.Decode(&msg); err != nil {
			return err
		}
		return s.mesh.HandlePeerJoined(domain.PeerInfo{
			ID:           msg.PeerID,
			Name:         msg.Name,
			VideoEnabled: msg.VideoEnabled,
			AudioEnabled: msg.AudioEnabled,
		})

	case domain.TypePeerLeft:
		var msg domain.PeerLeft
		if err := env.Decode(&msg); err != nil {
			return err
		}
		s.mesh.HandlePeerLeft(msg.PeerID)

	case domain.TypeOffer, domain.TypeAnswer:
		var sig domain.SessionSignal
		if err := env.Decode(&sig); err != nil {
			return err
		}
		if env.Type == domain.TypeOffer {
			return s.mesh.HandleOffer(ctx, sig.From, sig.SDP)
		}
		return s.mesh.HandleAnswer(ctx, sig.From, sig.SDP)

	case domain.TypeICECandidate:
		var sig domain.CandidateSignal
		if err := env.Decode(&sig); err != nil {
			return err
		}
		return s.mesh.HandleCandidate(ctx, sig.From, sig.Candidate)

	case domain.TypeChatMessage:
		var msg domain.ChatMessage
		if err := env.Decode(&msg); err != nil {
			return err
		}
		if s.chat.Append(msg, s.Snapshot().Self) {
			s.publish(Event{Kind: EventChat, Peer: msg.PeerID, Chat: msg})
		}

	case domain.TypeScreenShareStarted:
		var notice domain.ScreenShareNotice
		if err := env.Decode(&notice); err != nil {
			return err
		}
		return s.mesh.HandleScreenShareStarted(ctx, notice.PeerID, notice.StreamID)

	case domain.TypeScreenShareStopped:
		var notice domain.ScreenShareNotice
		if err := env.Decode(&notice); err != nil {
			return err
		}
		s.mesh.HandleScreenShareStopped(notice.PeerID)

	case domain.TypeMediaStateChanged:
		var state domain.MediaState
		if err := env.Decode(&state); err != nil {
			return err
		}
		s.mesh.HandleMediaState(state)

	case domain.TypeError:
		var payload domain.ErrorPayload
		if err := env.Decode(&payload); err != nil {
			return err
		}
		s.relayError(payload.Message)

	case signaling.TypeReconnected:
		return s.rejoin()

	default:
		cmd, ok := domain.ModerationFromType(env.Type)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownType, env.Type)
		}
		var notice domain.ModerationNotice
		if err := env.Decode(&notice); err != nil {
			return err
		}
		if err := s.handler.Apply(cmd, notice.FromPeerID); err != nil {
			return err
		}
		s.publish(Event{Kind: EventModerated, Peer: notice.FromPeerID, Command: cmd})
	}
	return nil
}

// roomScoped reports whether t only means something to a session that is
// in, or entering, a room.
func roomScoped(t domain.MessageType) bool {
	switch t {
	case domain.TypeRoomJoined, domain.TypeError, signaling.TypeReconnected:
		return false
	}
	return true
}

func (s *Session) joined(ctx context.Context, msg domain.RoomJoined) error {
	s.mu.Lock()
	if s.state != StateJoining {
		s.mu.Unlock()
		log.Debug().Str("room_id", msg.RoomID.String()).Msg("Ignoring room-joined outside of a join")
		return nil
	}
	s.state = StateConnected
	s.roomID = msg.RoomID
	s.self = msg.PeerID
	s.role = msg.Role
	s.mu.Unlock()

	s.mesh.SetSelf(msg.PeerID)
	log.Info().
		Str("room_id", msg.RoomID.String()).
		Str("peer_id", msg.PeerID.String()).
		Int("peers", len(msg.Peers)).
		Msg("Joined room")
	s.publishState()
	return s.mesh.Bootstrap(ctx, msg.Peers)
}

// relayError handles an error reported by the relay. While joining it
// fails the join; once connected it is only a warning.
func (s *Session) relayError(message string) {
	if s.Snapshot().State == StateConnected {
		s.publish(Event{Kind: EventWarning, Message: message})
		return
	}
	s.fail(message)
}

// rejoin restores room membership after the signaling connection was
// re-established. The relay saw us leave, so links start over.
func (s *Session) rejoin() error {
	s.mu.Lock()
	if s.state != StateJoining && s.state != StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateJoining
	s.self = ""
	roomID, video, audio := s.roomID, s.video, s.audio
	s.mu.Unlock()

	log.Info().Str("room_id", roomID.String()).Msg("Rejoining room after reconnect")
	s.mesh.Reset()
	s.publishState()
	return s.sendJoin(roomID, video, audio)
}

func (s *Session) fail(message string) {
	s.mu.Lock()
	s.state = StateError
	s.errMsg = message
	s.mu.Unlock()
	log.Error().Str("error", message).Msg("Session failed")
	s.publishState()
}

// SetAudioEnabled toggles the microphone and tells the room.
func (s *Session) SetAudioEnabled(enabled bool) error {
	return s.setMedia(media.KindAudio, enabled)
}

// SetVideoEnabled toggles the camera and tells the room.
func (s *Session) SetVideoEnabled(enabled bool) error {
	return s.setMedia(media.KindVideo, enabled)
}

func (s *Session) setMedia(kind media.Kind, enabled bool) error {
	s.mu.Lock()
	if kind == media.KindAudio {
		s.audio = enabled
	} else {
		s.video = enabled
	}
	if s.local != nil {
		s.local.SetEnabled(kind, enabled)
	}
	connected := s.state == StateConnected
	video, audio := s.video, s.audio
	s.mu.Unlock()

	s.publishState()
	if !connected {
		return nil
	}
	return s.Emit(domain.TypeMediaStateChanged, domain.MediaState{VideoEnabled: video, AudioEnabled: audio})
}

// SendChat sends a chat message to the room. The relay echoes it back to
// every member, the sender included.
func (s *Session) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyMessage
	}
	if s.Snapshot().State != StateConnected {
		return ErrNotConnected
	}
	return s.Emit(domain.TypeChatMessage, domain.ChatRequest{Message: text})
}

func (s *Session) StartScreenShare(ctx context.Context) error {
	if s.Snapshot().State != StateConnected {
		return ErrNotConnected
	}
	if s.mesh.Sharing() {
		return nil
	}
	if s.provider == nil {
		return ErrNoMedia
	}
	track, err := s.provider.Screen(ctx)
	if err != nil {
		return fmt.Errorf("acquire screen: %w", err)
	}
	if err := s.mesh.StartScreenShare(ctx, track); err != nil {
		return err
	}
	s.publishState()
	return nil
}

func (s *Session) StopScreenShare(ctx context.Context) error {
	if err := s.mesh.StopScreenShare(ctx); err != nil {
		return err
	}
	s.publishState()
	return nil
}

// Moderate sends a moderation command to another participant.
func (s *Session) Moderate(cmd domain.ModerationCommand, target domain.ParticipantID) error {
	if s.Snapshot().State != StateConnected {
		return ErrNotConnected
	}
	return s.moderator.Send(cmd, target)
}

// Emit sends a message to the relay.
func (s *Session) Emit(t domain.MessageType, payload any) error {
	env, err := domain.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	return s.transport.Send(env)
}

func (s *Session) meshEvent(e mesh.Event) {
	switch e.Kind {
	case mesh.EventStream:
		s.publish(Event{Kind: EventStream, Peer: e.Peer, Stream: e.Stream})
	case mesh.EventShareLost:
		s.publish(Event{Kind: EventWarning, Peer: e.Peer, Message: "screen share stopped, another participant started presenting"})
		s.publishState()
	case mesh.EventFailed:
		s.publish(Event{Kind: EventWarning, Peer: e.Peer, Message: "connection to participant failed"})
	default:
		s.publish(Event{Kind: EventPeers, Peer: e.Peer})
	}
}

func (s *Session) publishState() {
	s.publish(Event{Kind: EventState, State: s.Snapshot()})
}

func (s *Session) publish(e Event) {
	select {
	case s.events <- e:
	default:
		log.Debug().Str("event", string(e.Kind)).Msg("Dropping session event")
	}
}
