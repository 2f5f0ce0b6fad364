package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relay struct {
	server   *httptest.Server
	received chan domain.Envelope
	accepted atomic.Int32
	// dropFirst closes the first connection right after greeting.
	dropFirst bool
	// When hold is set, the second connection attempt signals redialing
	// and waits for hold before upgrading.
	hold      chan struct{}
	redialing chan struct{}
	requests  atomic.Int32
}

func newRelay(t *testing.T, dropFirst bool) *relay {
	t.Helper()
	r := &relay{received: make(chan domain.Envelope, 16), dropFirst: dropFirst}
	upgrader := websocket.Upgrader{}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.hold != nil && r.requests.Add(1) == 2 {
			close(r.redialing)
			<-r.hold
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := r.accepted.Add(1)

		greeting, _ := domain.NewEnvelope(domain.TypePeerLeft, domain.PeerLeft{PeerID: "ghost"})
		if err := conn.WriteJSON(greeting); err != nil {
			return
		}
		if r.dropFirst && n == 1 {
			return
		}
		for {
			var env domain.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			r.received <- env
		}
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *relay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func next(t *testing.T, ch <-chan domain.Envelope) domain.Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		require.True(t, ok, "channel closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return domain.Envelope{}
	}
}

func TestClientExchangesEnvelopes(t *testing.T) {
	r := newRelay(t, false)
	c := NewClient(r.url(), Options{Attempts: 1, Delay: 10 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	assert.Equal(t, domain.TypePeerLeft, next(t, c.Incoming()).Type)

	env, err := domain.NewEnvelope(domain.TypeChatMessage, domain.ChatRequest{Message: "hi"})
	require.NoError(t, err)
	require.NoError(t, c.Send(env))

	got := next(t, r.received)
	assert.Equal(t, domain.TypeChatMessage, got.Type)
	var req domain.ChatRequest
	require.NoError(t, got.Decode(&req))
	assert.Equal(t, "hi", req.Message)
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	r := newRelay(t, true)
	c := NewClient(r.url(), Options{Attempts: 3, Delay: 10 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	assert.Equal(t, domain.TypePeerLeft, next(t, c.Incoming()).Type)
	assert.Equal(t, TypeReconnected, next(t, c.Incoming()).Type)
	assert.Equal(t, domain.TypePeerLeft, next(t, c.Incoming()).Type)
	assert.Equal(t, int32(2), r.accepted.Load())
}

func TestClientGivesUpWhenServerIsDown(t *testing.T) {
	r := newRelay(t, false)
	url := r.url()
	r.server.Close()

	c := NewClient(url, Options{Attempts: 2, Delay: 5 * time.Millisecond})
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to")
}

func TestCloseEndsIncoming(t *testing.T) {
	r := newRelay(t, false)
	c := NewClient(r.url(), Options{Attempts: 1, Delay: 10 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	next(t, c.Incoming())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case _, ok := <-c.Incoming():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("incoming not closed")
	}
	assert.ErrorIs(t, c.Send(domain.Envelope{Type: domain.TypeLeaveRoom}), ErrClosed)
}

func TestClientDiscardsEnvelopesQueuedBeforeReconnect(t *testing.T) {
	r := newRelay(t, true)
	r.hold = make(chan struct{})
	r.redialing = make(chan struct{})
	c := NewClient(r.url(), Options{Attempts: 3, Delay: 10 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	assert.Equal(t, domain.TypePeerLeft, next(t, c.Incoming()).Type)
	select {
	case <-r.redialing:
	case <-time.After(2 * time.Second):
		t.Fatal("client never redialed")
	}

	stale, err := domain.NewEnvelope(domain.TypeChatMessage, domain.ChatRequest{Message: "stale"})
	require.NoError(t, err)
	require.NoError(t, c.Send(stale))
	close(r.hold)

	assert.Equal(t, TypeReconnected, next(t, c.Incoming()).Type)
	fresh, err := domain.NewEnvelope(domain.TypeJoinRoom, domain.JoinRoomRequest{RoomID: "r1"})
	require.NoError(t, err)
	require.NoError(t, c.Send(fresh))

	assert.Equal(t, domain.TypeJoinRoom, next(t, r.received).Type)
	select {
	case env := <-r.received:
		t.Fatalf("unexpected envelope %s", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
