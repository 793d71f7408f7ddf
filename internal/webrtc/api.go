// Package webrtc holds the pion setup shared by the SFU and the call client:
// codecs, interceptors, ICE configuration and data channel messages.
package webrtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	pionlog "github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/config"
)

// NewAPI builds a pion API limited to VP8 and Opus with the default
// interceptors. A keyframeInterval > 0 adds a periodic PLI generator for
// every received video track.
func NewAPI(keyframeInterval time.Duration, lf pionlog.LoggerFactory) (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := RegisterCodecs(m); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	if keyframeInterval > 0 {
		pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(keyframeInterval))
		if err != nil {
			return nil, fmt.Errorf("create pli interceptor: %w", err)
		}
		i.Add(pli)
	}

	se := pion.SettingEngine{}
	if lf != nil {
		se.LoggerFactory = lf
	}

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	), nil
}

// RegisterCodecs registers VP8 for video and Opus for audio, nothing else.
func RegisterCodecs(m *pion.MediaEngine) error {
	videoFeedback := []pion.RTCPFeedback{
		{Type: pion.TypeRTCPFBGoogREMB},
		{Type: pion.TypeRTCPFBCCM, Parameter: "fir"},
		{Type: pion.TypeRTCPFBNACK},
		{Type: pion.TypeRTCPFBNACK, Parameter: "pli"},
	}
	if err := m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:     pion.MimeTypeVP8,
			ClockRate:    90000,
			RTCPFeedback: videoFeedback,
		},
		PayloadType: 96,
	}, pion.RTPCodecTypeVideo); err != nil {
		return fmt.Errorf("register vp8: %w", err)
	}
	if err := m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, pion.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("register opus: %w", err)
	}
	return nil
}

// ICEServers converts the ICE section of the config into pion's form.
func ICEServers(ice config.ICEConfig) []pion.ICEServer {
	var servers []pion.ICEServer
	if stun := ice.GetSTUNServers(); stun != nil {
		servers = append(servers, pion.ICEServer{URLs: stun})
	}
	if turn := ice.GetTURNServers(); turn != nil {
		username, password := ice.GetTURNCredentials()
		servers = append(servers, pion.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers
}

// PeerConnectionConfig returns the configuration for a PeerConnection, using
// relay-only transport when forced and a TURN server is present.
func PeerConnectionConfig(ice config.ICEConfig) pion.Configuration {
	policy := pion.ICETransportPolicyAll
	if ice.ForceRelay && ice.GetTURNServers() != nil {
		policy = pion.ICETransportPolicyRelay
	}
	return pion.Configuration{
		ICEServers:         ICEServers(ice),
		ICETransportPolicy: policy,
	}
}
