// Package media models the local tracks a participant sends. Capturing the
// actual camera, microphone or screen happens outside this module; this
// package only holds what capture produced.
package media

import (
	"sync"
	"sync/atomic"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type Track interface {
	ID() string
	StreamID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// BaseTrack implements the bookkeeping part of Track. Concrete tracks embed
// it and add a way to push samples.
type BaseTrack struct {
	id       string
	streamID string
	kind     Kind
	enabled  atomic.Bool
	stopped  atomic.Bool
}

func NewBaseTrack(id, streamID string, kind Kind) *BaseTrack {
	t := &BaseTrack{id: id, streamID: streamID, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *BaseTrack) ID() string       { return t.id }
func (t *BaseTrack) StreamID() string { return t.streamID }
func (t *BaseTrack) Kind() Kind       { return t.kind }
func (t *BaseTrack) Enabled() bool    { return t.enabled.Load() && !t.stopped.Load() }

func (t *BaseTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *BaseTrack) Stop() {
	t.stopped.Store(true)
}

func (t *BaseTrack) Stopped() bool {
	return t.stopped.Load()
}

// LocalStream groups the tracks produced by one capture, e.g. camera plus
// microphone.
type LocalStream struct {
	mu     sync.Mutex
	id     string
	tracks []Track
}

func NewLocalStream(id string, tracks ...Track) *LocalStream {
	return &LocalStream{id: id, tracks: tracks}
}

func (s *LocalStream) ID() string {
	return s.id
}

func (s *LocalStream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track(nil), s.tracks...)
}

// Track returns the first track of the given kind, or nil.
func (s *LocalStream) Track(kind Kind) Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// SetEnabled toggles the first track of kind. It reports false when the
// stream has no such track.
func (s *LocalStream) SetEnabled(kind Kind, enabled bool) bool {
	t := s.Track(kind)
	if t == nil {
		return false
	}
	t.SetEnabled(enabled)
	return true
}

// Enabled reports the state of the first track of kind. A stream without
// such a track counts as disabled.
func (s *LocalStream) Enabled(kind Kind) bool {
	t := s.Track(kind)
	return t != nil && t.Enabled()
}

func (s *LocalStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		t.Stop()
	}
}
