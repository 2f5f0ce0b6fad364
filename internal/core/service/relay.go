package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/Wyydra/huddle/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Relay turns inbound envelopes into registry mutations and outbound
// envelopes. It keeps no per-connection state of its own.
type Relay struct {
	registry   *Registry
	gateway    port.RealTimeGateway
	presence   port.PresenceRepository
	authorizer port.ModerationAuthorizer
	tokens     port.TokenVerifier
	now        func() time.Time
}

type RelayOption func(*Relay)

func WithPresence(p port.PresenceRepository) RelayOption {
	return func(r *Relay) { r.presence = p }
}

func WithAuthorizer(a port.ModerationAuthorizer) RelayOption {
	return func(r *Relay) { r.authorizer = a }
}

func WithTokenVerifier(v port.TokenVerifier) RelayOption {
	return func(r *Relay) { r.tokens = v }
}

func NewRelay(registry *Registry, gateway port.RealTimeGateway, opts ...RelayOption) *Relay {
	r := &Relay{
		registry:   registry,
		gateway:    gateway,
		authorizer: HostPolicy{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes one envelope from a connected participant. Errors caused
// by the sender are reported back to it as an error envelope and also
// returned for logging.
func (r *Relay) Handle(ctx context.Context, from domain.ParticipantID, env domain.Envelope) error {
	var err error
	switch env.Type {
	case domain.TypeJoinRoom:
		err = r.join(ctx, from, env)
	case domain.TypeLeaveRoom:
		r.leave(ctx, from)
	case domain.TypeOffer, domain.TypeAnswer, domain.TypeICECandidate:
		err = r.forward(ctx, from, env)
	case domain.TypeChatMessage:
		err = r.chat(ctx, from, env)
	case domain.TypeScreenShareStarted, domain.TypeScreenShareStopped:
		err = r.screenShare(ctx, from, env)
	case domain.TypeMediaStateChanged:
		err = r.mediaState(ctx, from, env)
	default:
		if cmd, ok := domain.ModerationFromType(env.Type); ok {
			err = r.moderate(ctx, from, cmd, env)
		} else {
			err = fmt.Errorf("%w: %s", domain.ErrUnknownType, env.Type)
		}
	}

	if err != nil {
		r.reject(ctx, from, err)
	}
	return err
}

// Disconnect is called when the transport closes. It behaves like leave-room.
func (r *Relay) Disconnect(ctx context.Context, from domain.ParticipantID) {
	r.leave(ctx, from)
}

func (r *Relay) join(ctx context.Context, from domain.ParticipantID, env domain.Envelope) error {
	var req domain.JoinRoomRequest
	if err := env.Decode(&req); err != nil {
		return err
	}
	roomID, err := domain.NewRoomID(req.RoomID)
	if err != nil {
		return err
	}

	role := domain.RoleMember
	if req.Token != "" && r.tokens != nil {
		granted, err := r.tokens.Verify(req.Token, roomID)
		if err != nil {
			return fmt.Errorf("invalid moderator token: %w", err)
		}
		role = granted
	}

	res := r.registry.Join(JoinRequest{
		ID:           from,
		RoomID:       roomID,
		Name:         req.Name,
		VideoEnabled: boolOr(req.VideoEnabled, true),
		AudioEnabled: boolOr(req.AudioEnabled, true),
		Role:         role,
	})
	if res.Previous != nil {
		r.announceDeparture(ctx, *res.Previous)
	}

	peers := make([]domain.PeerInfo, 0, len(res.Existing))
	for _, p := range res.Existing {
		peers = append(peers, p.Info())
	}
	r.send(ctx, from, domain.TypeRoomJoined, domain.RoomJoined{
		RoomID: roomID,
		PeerID: from,
		Role:   res.Self.Role,
		Peers:  peers,
	})

	joined := domain.PeerJoined{
		PeerID:       from,
		Name:         res.Self.Name,
		VideoEnabled: res.Self.VideoEnabled,
		AudioEnabled: res.Self.AudioEnabled,
	}
	for _, p := range res.Existing {
		r.send(ctx, p.ID, domain.TypePeerJoined, joined)
	}

	r.savePresence(ctx, res.Self)
	return nil
}

func (r *Relay) leave(ctx context.Context, from domain.ParticipantID) {
	dep, ok := r.registry.Leave(from)
	if !ok {
		return
	}
	r.announceDeparture(ctx, dep)
}

func (r *Relay) announceDeparture(ctx context.Context, dep Departure) {
	left := domain.PeerLeft{PeerID: dep.Left.ID}
	for _, id := range dep.Remaining {
		r.send(ctx, id, domain.TypePeerLeft, left)
	}

	if r.presence != nil {
		if err := r.presence.Remove(ctx, dep.RoomID, dep.Left.ID); err != nil {
			log.Warn().Err(err).Str("room_id", dep.RoomID.String()).Msg("Failed to remove presence")
		}
	}
	if dep.NewHost != nil {
		log.Info().Str("room_id", dep.RoomID.String()).Str("client_id", dep.NewHost.ID.String()).Msg("Host role transferred")
		r.savePresence(ctx, *dep.NewHost)
	}
}

// forward relays offer, answer and ice-candidate payloads verbatim, only
// swapping the recipient field for the sender id.
func (r *Relay) forward(ctx context.Context, from domain.ParticipantID, env domain.Envelope) error {
	fields := map[string]json.RawMessage{}
	if err := env.Decode(&fields); err != nil {
		return err
	}

	var to domain.ParticipantID
	if raw, ok := fields["to"]; ok {
		if err := json.Unmarshal(raw, &to); err != nil {
			return fmt.Errorf("%w: to: %v", domain.ErrMalformedPayload, err)
		}
	}
	if to == "" {
		return domain.ErrMissingRecipient
	}

	delete(fields, "to")
	fromJSON, _ := json.Marshal(from)
	fields["from"] = fromJSON

	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal forwarded payload: %w", err)
	}
	r.deliver(ctx, to, domain.Envelope{Type: env.Type, Payload: payload})
	return nil
}

func (r *Relay) chat(ctx context.Context, from domain.ParticipantID, env domain.Envelope) error {
	var req domain.ChatRequest
	if err := env.Decode(&req); err != nil {
		return err
	}
	sender, ok := r.registry.Participant(from)
	if !ok {
		log.Debug().Str("client_id", from.String()).Msg("Dropping chat from participant outside a room")
		return nil
	}

	msg, err := domain.NewChatMessage(from, sender.Name, req.Message, r.now())
	if err != nil {
		return err
	}
	for _, p := range r.registry.Members(sender.RoomID) {
		r.send(ctx, p.ID, domain.TypeChatMessage, msg)
	}
	return nil
}

func (r *Relay) screenShare(ctx context.Context, from domain.ParticipantID, env domain.Envelope) error {
	var notice domain.ScreenShareNotice
	if err := env.Decode(&notice); err != nil {
		return err
	}
	others := r.registry.Others(from)
	if others == nil {
		return nil
	}

	notice.PeerID = from
	if env.Type == domain.TypeScreenShareStopped {
		notice.StreamID = ""
	}
	// A notice addressed to one member replays an ongoing share to a
	// newcomer; it never leaves the room.
	to := notice.To
	notice.To = ""
	for _, id := range others {
		if to != "" && id != to {
			continue
		}
		r.send(ctx, id, env.Type, notice)
	}
	return nil
}

func (r *Relay) mediaState(ctx context.Context, from domain.ParticipantID, env domain.Envelope) error {
	var state domain.MediaState
	if err := env.Decode(&state); err != nil {
		return err
	}
	p, others, ok := r.registry.UpdateMediaState(from, state.VideoEnabled, state.AudioEnabled)
	if !ok {
		return nil
	}

	out := domain.MediaState{PeerID: from, VideoEnabled: p.VideoEnabled, AudioEnabled: p.AudioEnabled}
	for _, id := range others {
		r.send(ctx, id, domain.TypeMediaStateChanged, out)
	}
	r.savePresence(ctx, p)
	return nil
}

func (r *Relay) moderate(ctx context.Context, from domain.ParticipantID, cmd domain.ModerationCommand, env domain.Envelope) error {
	var req domain.ModerationRequest
	if err := env.Decode(&req); err != nil {
		return err
	}
	if req.TargetPeerID == "" {
		return domain.ErrMissingRecipient
	}

	actor, _ := r.registry.Participant(from)
	target, _ := r.registry.Participant(req.TargetPeerID)
	if actor.ID == "" {
		actor.ID = from
	}
	if target.ID == "" {
		target.ID = req.TargetPeerID
	}
	if !r.authorizer.CanModerate(actor, target, cmd) {
		log.Warn().
			Str("client_id", from.String()).
			Str("target_id", req.TargetPeerID.String()).
			Str("command", string(cmd)).
			Msg("Moderation denied")
		return domain.ErrModerationDenied
	}

	out, err := domain.NewEnvelope(env.Type, domain.ModerationNotice{FromPeerID: from})
	if err != nil {
		return err
	}
	r.deliver(ctx, req.TargetPeerID, out)
	return nil
}

func (r *Relay) send(ctx context.Context, to domain.ParticipantID, t domain.MessageType, payload any) {
	env, err := domain.NewEnvelope(t, payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build envelope")
		return
	}
	r.deliver(ctx, to, env)
}

// deliver hands env to the gateway. A recipient that cannot take the
// envelope is not the sender's fault, so the failure is logged and dropped.
func (r *Relay) deliver(ctx context.Context, to domain.ParticipantID, env domain.Envelope) {
	if err := r.gateway.Send(ctx, to, env); err != nil {
		log.Warn().Err(err).Str("client_id", to.String()).Str("type", string(env.Type)).Msg("Dropping undeliverable envelope")
	}
}

func (r *Relay) reject(ctx context.Context, to domain.ParticipantID, cause error) {
	msg := cause.Error()
	if errors.Is(cause, domain.ErrModerationDenied) {
		msg = domain.ErrModerationDenied.Error()
	}
	r.deliver(ctx, to, domain.ErrorEnvelope(msg))
}

func (r *Relay) savePresence(ctx context.Context, p domain.Participant) {
	if r.presence == nil {
		return
	}
	if err := r.presence.Save(ctx, p.RoomID, p); err != nil {
		log.Warn().Err(err).Str("room_id", p.RoomID.String()).Msg("Failed to save presence")
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
