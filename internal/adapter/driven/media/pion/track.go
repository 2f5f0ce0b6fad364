package pion

import (
	"context"
	"fmt"

	"github.com/Wyydra/huddle/internal/client/media"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// LocalTrack is a sample based track that drops samples while disabled.
type LocalTrack struct {
	*media.BaseTrack
	sample *webrtc.TrackLocalStaticSample
}

func NewLocalTrack(kind media.Kind, id, streamID string) (*LocalTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if kind == media.KindAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	sample, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind, err)
	}
	return &LocalTrack{BaseTrack: media.NewBaseTrack(id, streamID, kind), sample: sample}, nil
}

// WriteSample forwards s unless the track is disabled or stopped.
func (t *LocalTrack) WriteSample(s pionmedia.Sample) error {
	if !t.Enabled() {
		return nil
	}
	return t.sample.WriteSample(s)
}

// Provider hands out sample tracks for camera, microphone and screen. The
// tracks start silent; a capture source feeds them through WriteSample.
type Provider struct{}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Camera(_ context.Context) (*media.LocalStream, error) {
	streamID := uuid.NewString()
	video, err := NewLocalTrack(media.KindVideo, "video-"+streamID, streamID)
	if err != nil {
		return nil, err
	}
	audio, err := NewLocalTrack(media.KindAudio, "audio-"+streamID, streamID)
	if err != nil {
		return nil, err
	}
	return media.NewLocalStream(streamID, video, audio), nil
}

func (p *Provider) Screen(_ context.Context) (media.Track, error) {
	streamID := uuid.NewString()
	t, err := NewLocalTrack(media.KindVideo, "screen-"+streamID, streamID)
	if err != nil {
		return nil, err
	}
	return t, nil
}
