package peer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/huddle/internal/client/media"
	"github.com/Wyydra/huddle/internal/client/peer"
	"github.com/Wyydra/huddle/internal/client/peer/peertest"
	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	link *peer.Link
	conn *peertest.Conn
	out  *peertest.Outbox

	mu      sync.Mutex
	updates []peer.StreamUpdate
	failed  int
}

func newHarness(local, remote domain.ParticipantID) *harness {
	h := &harness{conn: peertest.NewConn(remote), out: &peertest.Outbox{}}
	h.link = peer.NewLink(peer.Config{
		LocalID:  local,
		RemoteID: remote,
		Conn:     h.conn,
		Outbox:   h.out,
		OnStream: func(_ domain.ParticipantID, u peer.StreamUpdate) {
			h.mu.Lock()
			h.updates = append(h.updates, u)
			h.mu.Unlock()
		},
		OnFailed: func(domain.ParticipantID) {
			h.mu.Lock()
			h.failed++
			h.mu.Unlock()
		},
	})
	return h
}

func (h *harness) streams() []peer.StreamUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]peer.StreamUpdate(nil), h.updates...)
}

func decodeSignal(t *testing.T, env domain.Envelope) domain.SessionSignal {
	t.Helper()
	var sig domain.SessionSignal
	require.NoError(t, env.Decode(&sig))
	return sig
}

// exchange routes the envelopes each side emitted to the other until both are
// quiet.
func exchange(t *testing.T, a, b *harness) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		moved := false
		for _, pair := range [][2]*harness{{a, b}, {b, a}} {
			for _, env := range pair[0].out.Take() {
				moved = true
				switch env.Type {
				case domain.TypeOffer:
					require.NoError(t, pair[1].link.HandleOffer(ctx, decodeSignal(t, env).SDP))
				case domain.TypeAnswer:
					require.NoError(t, pair[1].link.HandleAnswer(ctx, decodeSignal(t, env).SDP))
				case domain.TypeICECandidate:
					var sig domain.CandidateSignal
					require.NoError(t, env.Decode(&sig))
					require.NoError(t, pair[1].link.HandleCandidate(ctx, sig.Candidate))
				}
			}
		}
		if !moved {
			return
		}
	}
	t.Fatal("signaling did not settle")
}

func TestPolite(t *testing.T) {
	assert.True(t, peer.Polite("a", "b"))
	assert.False(t, peer.Polite("b", "a"))
}

func TestInitiateSendsOfferToRemote(t *testing.T) {
	h := newHarness("a", "b")
	require.NoError(t, h.link.Initiate(context.Background(), false))

	offers := h.out.OfType(domain.TypeOffer)
	require.Len(t, offers, 1)
	sig := decodeSignal(t, offers[0])
	assert.Equal(t, domain.ParticipantID("b"), sig.To)
	assert.NotEmpty(t, sig.SDP)
	assert.Equal(t, peer.StateHaveLocalOffer, h.conn.SignalingState())
}

func TestInitiateWhileUnstableRunsAfterAnswer(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a", "b")
	require.NoError(t, h.link.Initiate(ctx, false))
	require.NoError(t, h.link.Initiate(ctx, false))
	assert.Len(t, h.out.OfType(domain.TypeOffer), 1)

	require.NoError(t, h.link.HandleAnswer(ctx, "fake;answer;1;restart=false;tracks="))
	assert.Len(t, h.out.OfType(domain.TypeOffer), 2)
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a", "b")

	for _, c := range []string{"c1", "c2", "c3"} {
		require.NoError(t, h.link.HandleCandidate(ctx, domain.ICECandidate{Candidate: c}))
	}
	assert.Empty(t, h.conn.AppliedCandidates())
	assert.Equal(t, 3, h.link.Snapshot().Pending)

	require.NoError(t, h.link.HandleOffer(ctx, "fake;offer;1;restart=false;tracks="))
	require.NoError(t, h.link.HandleCandidate(ctx, domain.ICECandidate{Candidate: "c4"}))

	got := h.conn.AppliedCandidates()
	require.Len(t, got, 4)
	for i, want := range []string{"c1", "c2", "c3", "c4"} {
		assert.Equal(t, want, got[i].Candidate)
	}
	assert.Equal(t, 0, h.link.Snapshot().Pending)
	assert.Len(t, h.out.OfType(domain.TypeAnswer), 1)
}

func TestCandidateFailureIsIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a", "b")
	h.conn.FailCandidates = true
	require.NoError(t, h.link.HandleOffer(ctx, "fake;offer;1;restart=false;tracks="))
	assert.NoError(t, h.link.HandleCandidate(ctx, domain.ICECandidate{Candidate: "bad"}))
}

func TestStaleAnswerIgnored(t *testing.T) {
	h := newHarness("a", "b")
	require.NoError(t, h.link.HandleAnswer(context.Background(), "fake;answer;1;restart=false;tracks="))
	assert.Equal(t, peer.StateStable, h.conn.SignalingState())
	assert.Empty(t, h.conn.RemoteAnswers)
}

func TestGlareImpoliteIgnoresOffer(t *testing.T) {
	ctx := context.Background()
	h := newHarness("b", "a")
	require.NoError(t, h.link.Initiate(ctx, false))

	require.NoError(t, h.link.HandleOffer(ctx, "fake;offer;1;restart=false;tracks="))
	assert.Empty(t, h.out.OfType(domain.TypeAnswer))
	assert.Equal(t, peer.StateHaveLocalOffer, h.conn.SignalingState())
}

func TestGlarePoliteRollsBackAndAnswers(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a", "b")
	require.NoError(t, h.link.Initiate(ctx, false))

	require.NoError(t, h.link.HandleOffer(ctx, "fake;offer;1;restart=false;tracks="))
	assert.Equal(t, 1, h.conn.Rollbacks)
	assert.Len(t, h.out.OfType(domain.TypeAnswer), 1)
	// The rolled back offer is sent again once stable.
	assert.Len(t, h.out.OfType(domain.TypeOffer), 2)
}

func TestGlareBetweenTwoLinksSettles(t *testing.T) {
	ctx := context.Background()
	a := newHarness("a", "b")
	b := newHarness("b", "a")
	camA := media.NewBaseTrack("va", "stream-a", media.KindVideo)
	camB := media.NewBaseTrack("vb", "stream-b", media.KindVideo)
	a.link.SetLocalTracks([]media.Track{camA})
	b.link.SetLocalTracks([]media.Track{camB})

	require.NoError(t, a.link.Initiate(ctx, false))
	require.NoError(t, b.link.Initiate(ctx, false))
	exchange(t, a, b)

	assert.Equal(t, peer.StateStable, a.conn.SignalingState())
	assert.Equal(t, peer.StateStable, b.conn.SignalingState())

	require.Eventually(t, func() bool {
		return a.link.Snapshot().CameraStream == "stream-b" && b.link.Snapshot().CameraStream == "stream-a"
	}, time.Second, 10*time.Millisecond)
}

func TestScreenStartStopWithoutNegotiationLeavesNoSenders(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a", "b")
	require.NoError(t, h.link.Initiate(ctx, false))

	screen := media.NewBaseTrack("screen", "s1", media.KindVideo)
	require.NoError(t, h.link.AttachScreen(screen))
	assert.True(t, h.link.Snapshot().Sharing)
	require.NoError(t, h.link.DetachScreen())

	assert.Equal(t, 0, h.conn.SenderCount())
	assert.False(t, h.link.Snapshot().Sharing)
	require.NoError(t, h.link.DetachScreen())
}

func TestScreenShareRenegotiatesWhenStable(t *testing.T) {
	h := newHarness("a", "b")
	require.NoError(t, h.link.AttachScreen(media.NewBaseTrack("screen", "s1", media.KindVideo)))

	offers := h.out.OfType(domain.TypeOffer)
	require.Len(t, offers, 1)
	tracks := peertest.ParseTracks(decodeSignal(t, offers[0]).SDP)
	require.Len(t, tracks, 1)
	assert.Equal(t, "s1", tracks[0].StreamID)
}

func TestAttachLocalOnce(t *testing.T) {
	h := newHarness("a", "b")
	tracks := []media.Track{
		media.NewBaseTrack("v", "cam", media.KindVideo),
		media.NewBaseTrack("a", "cam", media.KindAudio),
	}
	added, err := h.link.AttachLocal(tracks)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = h.link.AttachLocal(tracks)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 2, h.conn.SenderCount())
}

func TestRemoteScreenClassifiedByAnnouncement(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a", "b")
	h.link.AnnounceScreen("s1")

	require.NoError(t, h.link.HandleOffer(ctx, "fake;offer;1;restart=false;tracks=cam/v1/video,s1/v2/video"))
	require.Eventually(t, func() bool {
		st := h.link.Snapshot()
		return st.CameraStream == "cam" && st.ScreenStream == "s1"
	}, time.Second, 10*time.Millisecond)

	h.link.StopScreen()
	assert.Empty(t, h.link.Snapshot().ScreenStream)
	updates := h.streams()
	assert.True(t, updates[len(updates)-1].Removed)
}

func TestICEFailureRestarts(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a", "b")
	require.NoError(t, h.link.Initiate(ctx, false))
	require.NoError(t, h.link.HandleAnswer(ctx, "fake;answer;1;restart=false;tracks="))

	h.conn.SetICEState(peer.ICEFailed)
	require.Eventually(t, func() bool {
		return len(h.conn.Offered()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.conn.Restarts)
	assert.Equal(t, peer.ICEFailed, h.link.Snapshot().ICE)
}

func TestICERestartsBounded(t *testing.T) {
	h := newHarness("a", "b")
	for i := 0; i <= peer.MaxICERestarts; i++ {
		h.conn.SetICEState(peer.ICEFailed)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 1, h.failed)
}

func TestLocalCandidatesEmitted(t *testing.T) {
	h := newHarness("a", "b")
	h.conn.GatherCandidate(domain.ICECandidate{Candidate: "local"})

	sent := h.out.OfType(domain.TypeICECandidate)
	require.Len(t, sent, 1)
	var sig domain.CandidateSignal
	require.NoError(t, sent[0].Decode(&sig))
	assert.Equal(t, domain.ParticipantID("b"), sig.To)
	assert.Equal(t, "local", sig.Candidate.Candidate)
}

func TestClosedLinkIsNoOp(t *testing.T) {
	ctx := context.Background()
	h := newHarness("a", "b")
	require.NoError(t, h.link.Close())
	require.NoError(t, h.link.Close())
	assert.True(t, h.conn.Closed())

	assert.ErrorIs(t, h.link.Initiate(ctx, false), peer.ErrLinkClosed)
	assert.ErrorIs(t, h.link.HandleOffer(ctx, "x"), peer.ErrLinkClosed)
	assert.ErrorIs(t, h.link.HandleAnswer(ctx, "x"), peer.ErrLinkClosed)
	assert.ErrorIs(t, h.link.HandleCandidate(ctx, domain.ICECandidate{}), peer.ErrLinkClosed)

	h.conn.GatherCandidate(domain.ICECandidate{Candidate: "late"})
	assert.Empty(t, h.out.Take())
	assert.Equal(t, peer.StateClosed, h.link.Snapshot().Signaling)
}

func TestAnswerFollowedByOfferForTracksBeyondRemoteSections(t *testing.T) {
	ctx := context.Background()
	h := newHarness("b", "c")
	h.link.SetLocalTracks([]media.Track{
		media.NewBaseTrack("bv", "b-cam", media.KindVideo),
		media.NewBaseTrack("ba", "b-cam", media.KindAudio),
	})
	h.link.SetScreen(media.NewBaseTrack("bs", "b-screen", media.KindVideo))

	require.NoError(t, h.link.HandleOffer(ctx, "fake;offer;1;restart=false;tracks=c-cam/cv/video,c-cam/ca/audio"))

	answers := h.out.OfType(domain.TypeAnswer)
	require.Len(t, answers, 1)
	var answered []string
	for _, tr := range peertest.ParseTracks(decodeSignal(t, answers[0]).SDP) {
		answered = append(answered, tr.StreamID)
	}
	assert.ElementsMatch(t, []string{"b-cam", "b-cam"}, answered)

	offers := h.out.OfType(domain.TypeOffer)
	require.Len(t, offers, 1, "screen needs its own offer")
	var offered []string
	for _, tr := range peertest.ParseTracks(decodeSignal(t, offers[0]).SDP) {
		offered = append(offered, tr.StreamID)
	}
	assert.Contains(t, offered, "b-screen")
	assert.Equal(t, 2, peertest.ParseSections(decodeSignal(t, offers[0]).SDP)[media.KindVideo])
}

func TestAnswerCoveringAllTracksNeedsNoOffer(t *testing.T) {
	ctx := context.Background()
	h := newHarness("b", "c")
	h.link.SetLocalTracks([]media.Track{media.NewBaseTrack("bv", "b-cam", media.KindVideo)})

	require.NoError(t, h.link.HandleOffer(ctx, "fake;offer;1;restart=false;tracks=c-cam/cv/video"))
	assert.Len(t, h.out.OfType(domain.TypeAnswer), 1)
	assert.Empty(t, h.out.OfType(domain.TypeOffer))
	assert.False(t, h.conn.NegotiationNeeded())
}
