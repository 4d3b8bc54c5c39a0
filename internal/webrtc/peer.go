package webrtc

import (
	"fmt"
	"log/slog"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Lockstep/internal/config"
)

// ControlStreamLabel is the label of the data channel carrying sync messages.
const ControlStreamLabel = "messageChannel"

// PeerChannel is a peer-to-peer connection that carries one control stream.
type PeerChannel interface {
	CreateControlStream(label string) (ControlStream, error)
	CreateOffer() (*pion.SessionDescription, error)
	CreateAnswer() (*pion.SessionDescription, error)
	SetRemoteDescription(desc pion.SessionDescription) error
	AddICECandidate(candidate pion.ICECandidateInit) error

	// OnICECandidate is called for every locally gathered candidate.
	OnICECandidate(fn func(pion.ICECandidateInit))
	// OnControlStream is called when the remote side announces a stream.
	OnControlStream(fn func(ControlStream))
	// OnClosed is called once the connection fails or closes.
	OnClosed(fn func())

	Close() error
}

// Factory creates peer channels.
type Factory interface {
	NewPeerChannel() (PeerChannel, error)
}

// PionFactory creates PeerChannels backed by pion/webrtc.
type PionFactory struct {
	configuration pion.Configuration
	logger        *slog.Logger
}

// NewPionFactory builds the ICE configuration from cfg.
func NewPionFactory(cfg *config.Config, logger *slog.Logger) *PionFactory {
	if logger == nil {
		logger = slog.Default()
	}

	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}
	if turnServers := cfg.GetTURNServers(); turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := transportPolicy(cfg.GetTURNServers() != nil, cfg.ForceRelay, behindRestrictiveNetwork)
	if policy == pion.ICETransportPolicyRelay {
		logger.Info("using TURN relay only")
	}

	return &PionFactory{
		configuration: pion.Configuration{
			ICEServers:         iceServers,
			ICETransportPolicy: policy,
		},
		logger: logger,
	}
}

// NewPeerChannel creates a fresh pion peer connection.
func (f *PionFactory) NewPeerChannel() (PeerChannel, error) {
	pc, err := pion.NewPeerConnection(f.configuration)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &pionPeer{pc: pc, logger: f.logger}, nil
}

type pionPeer struct {
	pc     *pion.PeerConnection
	logger *slog.Logger
}

func (p *pionPeer) CreateControlStream(label string) (ControlStream, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return newDataChannelStream(dc), nil
}

func (p *pionPeer) CreateOffer() (*pion.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	if err = p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	return p.pc.LocalDescription(), nil
}

func (p *pionPeer) CreateAnswer() (*pion.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}

	if err = p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	return p.pc.LocalDescription(), nil
}

func (p *pionPeer) SetRemoteDescription(desc pion.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *pionPeer) AddICECandidate(candidate pion.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (p *pionPeer) OnICECandidate(fn func(pion.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *pionPeer) OnControlStream(fn func(ControlStream)) {
	p.pc.OnDataChannel(func(dc *pion.DataChannel) {
		fn(newDataChannelStream(dc))
	})
}

func (p *pionPeer) OnClosed(fn func()) {
	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.logger.Debug("peer connection state changed", "state", state.String())
		if state == pion.PeerConnectionStateFailed || state == pion.PeerConnectionStateClosed {
			fn()
		}
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
