package mesh_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/huddle/internal/client/media"
	"github.com/Wyydra/huddle/internal/client/mesh"
	"github.com/Wyydra/huddle/internal/client/peer/peertest"
	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	id      domain.ParticipantID
	mesh    *mesh.Mesh
	factory *peertest.Factory
	out     *peertest.Outbox

	mu     sync.Mutex
	events []mesh.Event
}

func newNode(id domain.ParticipantID) *node {
	n := &node{id: id, factory: peertest.NewFactory(), out: &peertest.Outbox{}}
	n.mesh = mesh.New(mesh.Config{
		Factory: n.factory.New,
		Outbox:  n.out,
		Observer: func(e mesh.Event) {
			n.mu.Lock()
			n.events = append(n.events, e)
			n.mu.Unlock()
		},
	})
	n.mesh.SetSelf(id)
	return n
}

func (n *node) info() domain.PeerInfo {
	return domain.PeerInfo{ID: n.id, Name: string(n.id), VideoEnabled: true, AudioEnabled: true}
}

func (n *node) sawEvent(kind mesh.EventKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func (n *node) peer(t *testing.T, id domain.ParticipantID) mesh.PeerView {
	t.Helper()
	for _, p := range n.mesh.Peers() {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("%s does not know %s", n.id, id)
	return mesh.PeerView{}
}

// settle plays the relay's role between nodes until nobody has anything left
// to send.
func settle(t *testing.T, nodes ...*node) {
	t.Helper()
	ctx := context.Background()
	byID := map[domain.ParticipantID]*node{}
	for _, n := range nodes {
		byID[n.id] = n
	}

	for round := 0; round < 50; round++ {
		moved := false
		for _, src := range nodes {
			for _, env := range src.out.Take() {
				moved = true
				switch env.Type {
				case domain.TypeOffer, domain.TypeAnswer:
					var sig domain.SessionSignal
					require.NoError(t, env.Decode(&sig))
					dst := byID[sig.To]
					require.NotNil(t, dst)
					if env.Type == domain.TypeOffer {
						require.NoError(t, dst.mesh.HandleOffer(ctx, src.id, sig.SDP))
					} else {
						require.NoError(t, dst.mesh.HandleAnswer(ctx, src.id, sig.SDP))
					}
				case domain.TypeICECandidate:
					var sig domain.CandidateSignal
					require.NoError(t, env.Decode(&sig))
					require.NoError(t, byID[sig.To].mesh.HandleCandidate(ctx, src.id, sig.Candidate))
				case domain.TypeScreenShareStarted:
					var notice domain.ScreenShareNotice
					require.NoError(t, env.Decode(&notice))
					for _, dst := range nodes {
						if dst != src && (notice.To == "" || notice.To == dst.id) {
							require.NoError(t, dst.mesh.HandleScreenShareStarted(ctx, src.id, notice.StreamID))
						}
					}
				case domain.TypeScreenShareStopped:
					for _, dst := range nodes {
						if dst != src {
							dst.mesh.HandleScreenShareStopped(src.id)
						}
					}
				}
			}
		}
		if !moved {
			return
		}
	}
	t.Fatal("signaling did not settle")
}

func camera(id domain.ParticipantID) *media.LocalStream {
	stream := "cam-" + string(id)
	return media.NewLocalStream(stream,
		media.NewBaseTrack("v-"+string(id), stream, media.KindVideo),
		media.NewBaseTrack("a-"+string(id), stream, media.KindAudio),
	)
}

// join connects newcomer to the nodes already in the room the way the
// session does after room-joined.
func join(t *testing.T, newcomer *node, existing ...*node) {
	t.Helper()
	peers := make([]domain.PeerInfo, 0, len(existing))
	for _, n := range existing {
		require.NoError(t, n.mesh.HandlePeerJoined(newcomer.info()))
		peers = append(peers, n.info())
	}
	require.NoError(t, newcomer.mesh.Bootstrap(context.Background(), peers))
}

func TestNewcomerOffersAndLinksSettle(t *testing.T) {
	ctx := context.Background()
	a, b := newNode("a"), newNode("b")
	require.NoError(t, a.mesh.SetLocalMedia(ctx, camera("a")))
	require.NoError(t, b.mesh.SetLocalMedia(ctx, camera("b")))

	join(t, b, a)
	assert.Len(t, b.out.OfType(domain.TypeOffer), 1)
	settle(t, a, b)

	require.Len(t, a.factory.Conns("b"), 1)
	require.Len(t, b.factory.Conns("a"), 1)
	require.Eventually(t, func() bool {
		return a.peer(t, "b").Link.CameraStream == "cam-b" && b.peer(t, "a").Link.CameraStream == "cam-a"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "b", a.peer(t, "b").Name)
}

func TestRepeatedOffersAndBootstrapKeepOneLink(t *testing.T) {
	ctx := context.Background()
	a, b := newNode("a"), newNode("b")
	join(t, b, a)
	settle(t, a, b)

	require.NoError(t, b.mesh.Bootstrap(ctx, []domain.PeerInfo{a.info()}))
	settle(t, a, b)
	require.NoError(t, a.mesh.HandleOffer(ctx, "b", "fake;offer;9;restart=false;tracks="))
	settle(t, a, b)

	assert.Len(t, a.factory.Conns("b"), 1)
	assert.Len(t, b.factory.Conns("a"), 1)
	assert.Len(t, a.mesh.Peers(), 1)
}

func TestThreeWayMeshHasOneLinkPerPair(t *testing.T) {
	a, b, c := newNode("a"), newNode("b"), newNode("c")
	join(t, b, a)
	settle(t, a, b)
	join(t, c, a, b)
	settle(t, a, b, c)

	for _, n := range []*node{a, b, c} {
		peers := n.mesh.Peers()
		require.Len(t, peers, 2, "node %s", n.id)
		for _, p := range peers {
			assert.True(t, p.Linked)
			assert.Len(t, n.factory.Conns(p.ID), 1)
		}
	}
}

func TestPeerLeftClosesLink(t *testing.T) {
	a, b := newNode("a"), newNode("b")
	join(t, b, a)
	settle(t, a, b)
	conn := a.factory.Last("b")
	require.NotNil(t, conn)

	a.mesh.HandlePeerLeft("b")
	assert.True(t, conn.Closed())
	assert.Empty(t, a.mesh.Peers())

	a.mesh.HandlePeerLeft("b")
	assert.Empty(t, a.mesh.Peers())
}

func TestScreenShareReachesPeerAsScreen(t *testing.T) {
	ctx := context.Background()
	a, b := newNode("a"), newNode("b")
	require.NoError(t, a.mesh.SetLocalMedia(ctx, camera("a")))
	require.NoError(t, b.mesh.SetLocalMedia(ctx, camera("b")))
	join(t, b, a)
	settle(t, a, b)

	screen := media.NewBaseTrack("screen-b", "s1", media.KindVideo)
	require.NoError(t, b.mesh.StartScreenShare(ctx, screen))
	assert.Len(t, b.out.OfType(domain.TypeScreenShareStarted), 1)
	assert.Equal(t, domain.ParticipantID("b"), b.mesh.Presenter())
	settle(t, a, b)

	require.Eventually(t, func() bool {
		v := a.peer(t, "b")
		return v.Link.ScreenStream == "s1" && v.Link.CameraStream == "cam-b"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.ParticipantID("b"), a.mesh.Presenter())
	assert.True(t, a.peer(t, "b").Presenting)

	require.NoError(t, b.mesh.StopScreenShare(ctx))
	require.NoError(t, b.mesh.StopScreenShare(ctx))
	assert.Len(t, b.out.OfType(domain.TypeScreenShareStopped), 1)
	settle(t, a, b)

	assert.Empty(t, a.peer(t, "b").Link.ScreenStream)
	assert.Empty(t, a.mesh.Presenter())
	assert.Equal(t, 2, b.factory.Last("a").SenderCount())
}

func TestPresenterAlreadySharingWhenPeerJoins(t *testing.T) {
	ctx := context.Background()
	a, b, c := newNode("a"), newNode("b"), newNode("c")
	for _, n := range []*node{a, b, c} {
		require.NoError(t, n.mesh.SetLocalMedia(ctx, camera(n.id)))
	}
	join(t, b, a)
	settle(t, a, b)
	require.NoError(t, a.mesh.StartScreenShare(ctx, media.NewBaseTrack("screen-a", "s1", media.KindVideo)))
	settle(t, a, b)

	join(t, c, a, b)
	replays := a.out.OfType(domain.TypeScreenShareStarted)
	require.Len(t, replays, 1)
	var notice domain.ScreenShareNotice
	require.NoError(t, replays[0].Decode(&notice))
	assert.Equal(t, domain.ScreenShareNotice{To: "c", StreamID: "s1"}, notice)
	assert.Empty(t, b.out.OfType(domain.TypeScreenShareStarted))
	settle(t, a, b, c)

	require.Eventually(t, func() bool {
		v := c.peer(t, "a")
		return v.Link.ScreenStream == "s1" && v.Link.CameraStream == "cam-a"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.ParticipantID("a"), c.mesh.Presenter())
	assert.True(t, a.mesh.Sharing(), "a replay to c leaves the share running")
	assert.Equal(t, 3, a.factory.Last("c").SenderCount())
}

func TestScreenAnnouncementBeforeLinkIsKept(t *testing.T) {
	ctx := context.Background()
	a, b := newNode("a"), newNode("b")
	require.NoError(t, a.mesh.SetLocalMedia(ctx, camera("a")))
	require.NoError(t, b.mesh.SetLocalMedia(ctx, camera("b")))
	require.NoError(t, a.mesh.StartScreenShare(ctx, media.NewBaseTrack("screen-a", "s1", media.KindVideo)))
	a.out.Take()

	require.NoError(t, b.mesh.HandleScreenShareStarted(ctx, "a", "s1"))
	assert.Empty(t, b.factory.Conns("a"), "an announcement opens no link")
	join(t, b, a)
	a.out.Take()
	settle(t, a, b)

	require.Eventually(t, func() bool {
		return b.peer(t, "a").Link.ScreenStream == "s1"
	}, time.Second, 10*time.Millisecond)
}

func TestResetRefusesLinksUntilRejoined(t *testing.T) {
	ctx := context.Background()
	a := newNode("a")
	require.NoError(t, a.mesh.SetLocalMedia(ctx, camera("a")))
	a.mesh.Reset()

	require.NoError(t, a.mesh.HandleOffer(ctx, "z", "fake;offer;1;restart=false;tracks="))
	require.NoError(t, a.mesh.HandleCandidate(ctx, "z", domain.ICECandidate{Candidate: "candidate:1"}))
	assert.Empty(t, a.factory.Conns("z"))
	assert.Empty(t, a.out.Take())
	assert.Empty(t, a.mesh.Peers())

	require.NoError(t, a.mesh.Bootstrap(ctx, nil))
	require.NoError(t, a.mesh.HandleOffer(ctx, "z", "fake;offer;1;restart=false;tracks="))
	assert.Len(t, a.factory.Conns("z"), 1)
	assert.Len(t, a.out.OfType(domain.TypeAnswer), 1)
}

func TestNewestPresenterWins(t *testing.T) {
	ctx := context.Background()
	a, b := newNode("a"), newNode("b")
	join(t, b, a)
	settle(t, a, b)

	require.NoError(t, a.mesh.StartScreenShare(ctx, media.NewBaseTrack("screen-a", "sa", media.KindVideo)))
	settle(t, a, b)
	require.NoError(t, b.mesh.StartScreenShare(ctx, media.NewBaseTrack("screen-b", "sb", media.KindVideo)))
	settle(t, a, b)

	assert.False(t, a.mesh.Sharing())
	assert.True(t, b.mesh.Sharing())
	assert.Equal(t, domain.ParticipantID("b"), a.mesh.Presenter())
	assert.True(t, a.sawEvent(mesh.EventShareLost))
	assert.Equal(t, 0, a.factory.Last("b").SenderCount())
}

func TestLocalMediaAfterLinkRenegotiates(t *testing.T) {
	ctx := context.Background()
	a, b := newNode("a"), newNode("b")
	join(t, b, a)
	settle(t, a, b)
	offers := len(a.factory.Last("b").Offered())

	require.NoError(t, a.mesh.SetLocalMedia(ctx, camera("a")))
	assert.Len(t, a.factory.Last("b").Offered(), offers+1)
	settle(t, a, b)

	require.Eventually(t, func() bool {
		return b.peer(t, "a").Link.CameraStream == "cam-a"
	}, time.Second, 10*time.Millisecond)
}

func TestMediaStateUpdatesView(t *testing.T) {
	a := newNode("a")
	require.NoError(t, a.mesh.HandlePeerJoined(domain.PeerInfo{ID: "b", Name: "bob", VideoEnabled: true, AudioEnabled: true}))
	a.mesh.HandleMediaState(domain.MediaState{PeerID: "b", VideoEnabled: false, AudioEnabled: true})

	v := a.peer(t, "b")
	assert.False(t, v.VideoEnabled)
	assert.True(t, v.AudioEnabled)
	assert.Equal(t, "bob", v.Name)
	assert.False(t, v.Linked)
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	ctx := context.Background()
	a, b := newNode("a"), newNode("b")
	join(t, b, a)
	settle(t, a, b)
	conn := a.factory.Last("b")

	a.mesh.Close()
	a.mesh.Close()
	assert.True(t, conn.Closed())
	assert.Empty(t, a.mesh.Peers())

	assert.NoError(t, a.mesh.HandleOffer(ctx, "c", "fake;offer;1;restart=false;tracks="))
	assert.Empty(t, a.factory.Conns("c"))
}
