package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id     domain.ParticipantID
	mu     sync.Mutex
	sent   []domain.Envelope
	closed bool
}

func (c *fakeClient) ID() domain.ParticipantID { return c.id }

func (c *fakeClient) Send(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type recordingDispatcher struct {
	mu           sync.Mutex
	handled      []domain.ParticipantID
	disconnected []domain.ParticipantID
}

func (d *recordingDispatcher) Handle(ctx context.Context, from domain.ParticipantID, env domain.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handled = append(d.handled, from)
	return nil
}

func (d *recordingDispatcher) Disconnect(ctx context.Context, from domain.ParticipantID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = append(d.disconnected, from)
}

func (d *recordingDispatcher) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handled), len(d.disconnected)
}

func TestHubLifecycle(t *testing.T) {
	hub := NewHub()
	d := &recordingDispatcher{}
	done := make(chan struct{})
	go func() {
		hub.Run(d)
		close(done)
	}()

	a := &fakeClient{id: "a"}
	hub.Register(a)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Dispatch("a", domain.Envelope{Type: domain.TypeLeaveRoom})
	hub.Dispatch("ghost", domain.Envelope{Type: domain.TypeLeaveRoom})
	require.Eventually(t, func() bool { h, _ := d.counts(); return h == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Send(context.Background(), "a", domain.Envelope{Type: domain.TypePeerLeft}))
	require.NoError(t, hub.Send(context.Background(), "ghost", domain.Envelope{Type: domain.TypePeerLeft}))
	assert.Len(t, a.sent, 1)

	hub.Unregister(a)
	hub.Unregister(a)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	_, disconnects := d.counts()
	assert.Equal(t, 1, disconnects)
	assert.True(t, a.isClosed())

	b := &fakeClient{id: "b"}
	hub.Register(b)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Stop()
	hub.Stop()
	<-done
	assert.True(t, b.isClosed())
	assert.Zero(t, hub.ClientCount())
}
