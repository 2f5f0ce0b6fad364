package pion

import (
	"fmt"

	"github.com/Wyydra/huddle/internal/client/peer"
	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// NewAPI builds a webrtc API with the default codecs and interceptors plus
// periodic keyframe requests for received video.
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create PLI interceptor: %w", err)
	}
	registry.Add(pli)

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry)), nil
}

// Factory opens pion peer connections sharing one API and ICE
// configuration.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewFactory(iceServers []string) (*Factory, error) {
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Factory{api: api, config: cfg}, nil
}

func (f *Factory) New(remote domain.ParticipantID) (peer.Conn, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newConn(remote, pc), nil
}
