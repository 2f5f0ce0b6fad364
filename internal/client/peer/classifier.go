package peer

type StreamKind string

const (
	StreamCamera StreamKind = "camera"
	StreamScreen StreamKind = "screen"
)

// RemoteStream is a set of remote tracks sharing a stream id.
type RemoteStream struct {
	ID     string
	Kind   StreamKind
	Tracks []RemoteTrack
}

// StreamUpdate reports a classified stream that appeared, changed or went
// away.
type StreamUpdate struct {
	Stream  RemoteStream
	Removed bool
}

// StreamClassifier attributes remote streams of one peer to camera or
// screen. The stream id announced with screen-share-started is
// authoritative. Without an announcement the first stream is the camera and
// any later one is held back until an announcement names it or the camera
// goes away.
type StreamClassifier struct {
	announced string
	camera    *RemoteStream
	screen    *RemoteStream
	held      []*RemoteStream
}

func (c *StreamClassifier) Add(t RemoteTrack) []StreamUpdate {
	if s := c.find(t.StreamID); s != nil {
		s.Tracks = append(s.Tracks, t)
		if s.Kind == "" {
			return nil
		}
		return []StreamUpdate{{Stream: clone(s)}}
	}

	s := &RemoteStream{ID: t.StreamID, Tracks: []RemoteTrack{t}}
	switch {
	case c.announced != "" && t.StreamID == c.announced:
		return c.setScreen(s)
	case c.camera == nil:
		s.Kind = StreamCamera
		c.camera = s
		return []StreamUpdate{{Stream: clone(s)}}
	default:
		c.held = append(c.held, s)
		return nil
	}
}

// Announce records the screen stream id announced by the remote peer.
func (c *StreamClassifier) Announce(streamID string) []StreamUpdate {
	c.announced = streamID
	if streamID == "" {
		return nil
	}
	if c.screen != nil && c.screen.ID == streamID {
		return nil
	}

	if i := c.heldIndex(streamID); i >= 0 {
		s := c.held[i]
		c.held = append(c.held[:i], c.held[i+1:]...)
		return c.setScreen(s)
	}

	if c.camera != nil && c.camera.ID == streamID {
		s := c.camera
		c.camera = nil
		updates := []StreamUpdate{{Stream: clone(s), Removed: true}}
		updates = append(updates, c.setScreen(s)...)
		return append(updates, c.promote()...)
	}

	var updates []StreamUpdate
	if c.screen != nil {
		updates = append(updates, StreamUpdate{Stream: clone(c.screen), Removed: true})
		c.screen = nil
	}
	return updates
}

// Stop clears the screen attribution.
func (c *StreamClassifier) Stop() []StreamUpdate {
	c.announced = ""
	if c.screen == nil {
		return nil
	}
	s := c.screen
	c.screen = nil
	return []StreamUpdate{{Stream: clone(s), Removed: true}}
}

// Remove drops an ended remote track. A stream with no tracks left goes
// away; when that was the camera the oldest held stream takes its place.
func (c *StreamClassifier) Remove(t RemoteTrack) []StreamUpdate {
	s := c.find(t.StreamID)
	if s == nil {
		return nil
	}
	for i, existing := range s.Tracks {
		if existing.ID == t.ID {
			s.Tracks = append(s.Tracks[:i], s.Tracks[i+1:]...)
			break
		}
	}
	if len(s.Tracks) > 0 {
		if s.Kind == "" {
			return nil
		}
		return []StreamUpdate{{Stream: clone(s)}}
	}

	switch s {
	case c.camera:
		c.camera = nil
		return append([]StreamUpdate{{Stream: clone(s), Removed: true}}, c.promote()...)
	case c.screen:
		c.screen = nil
		return []StreamUpdate{{Stream: clone(s), Removed: true}}
	default:
		i := c.heldIndex(s.ID)
		c.held = append(c.held[:i], c.held[i+1:]...)
		return nil
	}
}

func (c *StreamClassifier) Camera() (RemoteStream, bool) {
	if c.camera == nil {
		return RemoteStream{}, false
	}
	return clone(c.camera), true
}

func (c *StreamClassifier) Screen() (RemoteStream, bool) {
	if c.screen == nil {
		return RemoteStream{}, false
	}
	return clone(c.screen), true
}

// Held is the number of streams waiting for attribution.
func (c *StreamClassifier) Held() int {
	return len(c.held)
}

func (c *StreamClassifier) setScreen(s *RemoteStream) []StreamUpdate {
	var updates []StreamUpdate
	if c.screen != nil {
		updates = append(updates, StreamUpdate{Stream: clone(c.screen), Removed: true})
	}
	s.Kind = StreamScreen
	c.screen = s
	return append(updates, StreamUpdate{Stream: clone(s)})
}

func (c *StreamClassifier) promote() []StreamUpdate {
	if c.camera != nil || len(c.held) == 0 {
		return nil
	}
	s := c.held[0]
	c.held = c.held[1:]
	s.Kind = StreamCamera
	c.camera = s
	return []StreamUpdate{{Stream: clone(s)}}
}

func (c *StreamClassifier) find(id string) *RemoteStream {
	if c.camera != nil && c.camera.ID == id {
		return c.camera
	}
	if c.screen != nil && c.screen.ID == id {
		return c.screen
	}
	if i := c.heldIndex(id); i >= 0 {
		return c.held[i]
	}
	return nil
}

func (c *StreamClassifier) heldIndex(id string) int {
	for i, s := range c.held {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func clone(s *RemoteStream) RemoteStream {
	out := *s
	out.Tracks = append([]RemoteTrack(nil), s.Tracks...)
	return out
}
