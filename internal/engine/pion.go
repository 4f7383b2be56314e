package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/logging"
	"github.com/BioHazard786/warpcall/internal/negotiation"
	"github.com/BioHazard786/warpcall/internal/version"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const controlLabel = "warpcall"

// Options configure the peer connection.
type Options struct {
	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string
	Relay       bool
	Audio       bool
	Video       bool
}

// OptionsFromConfig builds engine options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	user, pass := cfg.GetTURNCredentials()
	return Options{
		STUNServers: cfg.GetSTUNServers(),
		TURNServers: cfg.GetTURNServers(),
		TURNUser:    user,
		TURNPass:    pass,
		Relay:       cfg.UseRelay(),
		Audio:       cfg.Audio,
		Video:       cfg.Video,
	}
}

func (o Options) iceServers() []pion.ICEServer {
	var servers []pion.ICEServer
	if len(o.STUNServers) > 0 {
		servers = append(servers, pion.ICEServer{URLs: o.STUNServers})
	}
	if len(o.TURNServers) > 0 {
		servers = append(servers, pion.ICEServer{
			URLs:       o.TURNServers,
			Username:   o.TURNUser,
			Credential: o.TURNPass,
		})
	}
	return servers
}

// Pion implements negotiation.Engine on a pion PeerConnection. Offer and
// answer carry the requested transceivers plus a control data channel used
// for a hello exchange once the peers connect.
type Pion struct {
	pc   *pion.PeerConnection
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	control *pion.DataChannel
	onState func(string)
	onHello func(HelloPayload)
	closed  bool
}

// New creates the peer connection.
func New(opts Options, logger zerolog.Logger) (*Pion, error) {
	log := logger.With().Str("module", "engine").Logger()

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := pion.SettingEngine{LoggerFactory: logging.NewPionFactory(logger)}
	api := pion.NewAPI(pion.WithMediaEngine(m), pion.WithSettingEngine(se))

	policy := pion.ICETransportPolicyAll
	if opts.Relay {
		policy = pion.ICETransportPolicyRelay
	}
	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:         opts.iceServers(),
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Pion{pc: pc, opts: opts, log: log}
	if err := p.addTransceivers(); err != nil {
		_ = pc.Close()
		return nil, err
	}

	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		p.log.Info().Str("state", s.String()).Msg("connection state changed")
		p.mu.Lock()
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(s.String())
		}
	})
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != controlLabel {
			p.log.Debug().Str("label", dc.Label()).Msg("ignoring data channel")
			return
		}
		p.bindControl(dc)
	})
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		p.log.Info().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("remote track")
	})

	if opts.Relay {
		log.Info().Msg("relay only ICE policy")
	}
	return p, nil
}

func (p *Pion) addTransceivers() error {
	sendrecv := pion.RTPTransceiverInit{Direction: pion.RTPTransceiverDirectionSendrecv}
	if p.opts.Audio {
		if _, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, sendrecv); err != nil {
			return fmt.Errorf("add audio transceiver: %w", err)
		}
	}
	if p.opts.Video {
		if _, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, sendrecv); err != nil {
			return fmt.Errorf("add video transceiver: %w", err)
		}
	}
	return nil
}

// OnConnectionStateChange registers fn for peer connection state changes.
func (p *Pion) OnConnectionStateChange(fn func(state string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

// OnHello registers fn for the peer's hello message.
func (p *Pion) OnHello(fn func(HelloPayload)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onHello = fn
}

// CreateOffer implements negotiation.Engine. The control channel is
// created first so that it is part of the offer.
func (p *Pion) CreateOffer(context.Context) (negotiation.SessionDescription, error) {
	p.mu.Lock()
	needChannel := p.control == nil
	p.mu.Unlock()

	if needChannel {
		ordered := true
		dc, err := p.pc.CreateDataChannel(controlLabel, &pion.DataChannelInit{Ordered: &ordered})
		if err != nil {
			return negotiation.SessionDescription{}, fmt.Errorf("create data channel: %w", err)
		}
		p.bindControl(dc)
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return negotiation.SessionDescription{}, err
	}
	return fromPion(offer)
}

// CreateAnswer implements negotiation.Engine.
func (p *Pion) CreateAnswer(context.Context) (negotiation.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return negotiation.SessionDescription{}, err
	}
	return fromPion(answer)
}

// SetLocalDescription implements negotiation.Engine.
func (p *Pion) SetLocalDescription(_ context.Context, d negotiation.SessionDescription) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	return p.pc.SetLocalDescription(desc)
}

// SetRemoteDescription implements negotiation.Engine.
func (p *Pion) SetRemoteDescription(_ context.Context, d negotiation.SessionDescription) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(desc)
}

// AddCandidate implements negotiation.Engine.
func (p *Pion) AddCandidate(c negotiation.Candidate) error {
	return p.pc.AddICECandidate(candidateToPion(c))
}

// OnCandidateGathered implements negotiation.Engine.
func (p *Pion) OnCandidateGathered(fn func(negotiation.Candidate)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.log.Debug().Msg("candidate gathering complete")
			return
		}
		fn(candidateFromPion(c.ToJSON()))
	})
}

// Close implements negotiation.Engine.
func (p *Pion) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	dc := p.control
	p.mu.Unlock()

	if dc != nil && dc.ReadyState() == pion.DataChannelStateOpen {
		if msg, err := NewMessage(MessageTypeBye, struct{}{}); err == nil {
			if data, err := msg.Encode(); err == nil {
				_ = dc.Send(data)
			}
		}
	}
	return p.pc.Close()
}

func (p *Pion) bindControl(dc *pion.DataChannel) {
	p.mu.Lock()
	p.control = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.log.Debug().Msg("control channel open")
		if err := p.sendHello(dc); err != nil {
			p.log.Warn().Err(err).Msg("failed to send hello")
		}
	})
	dc.OnMessage(func(raw pion.DataChannelMessage) {
		msg, err := DecodeMessage(raw.Data)
		if err != nil {
			p.log.Warn().Err(err).Msg("undecodable control message")
			return
		}
		switch msg.Type {
		case MessageTypeHello:
			var hello HelloPayload
			if err := msg.DecodePayload(&hello); err != nil {
				p.log.Warn().Err(err).Msg("malformed hello")
				return
			}
			p.log.Info().Str("peer", hello.DeviceName).Str("version", hello.DeviceVersion).Msg("peer said hello")
			p.mu.Lock()
			fn := p.onHello
			p.mu.Unlock()
			if fn != nil {
				fn(hello)
			}
		case MessageTypeBye:
			p.log.Info().Msg("peer hung up")
		default:
			p.log.Debug().Str("type", msg.Type).Msg("unknown control message")
		}
	})
}

func (p *Pion) sendHello(dc *pion.DataChannel) error {
	msg, err := NewMessage(MessageTypeHello, LocalHello(p.opts))
	if err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return dc.Send(data)
}

// LocalHello describes this device.
func LocalHello(opts Options) HelloPayload {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "warpcall"
	}
	return HelloPayload{
		DeviceName:    name,
		DeviceVersion: version.Version,
		Audio:         opts.Audio,
		Video:         opts.Video,
	}
}

func toPion(d negotiation.SessionDescription) (pion.SessionDescription, error) {
	switch d.Kind {
	case negotiation.KindOffer:
		return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: d.SDP}, nil
	case negotiation.KindAnswer:
		return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: d.SDP}, nil
	default:
		return pion.SessionDescription{}, fmt.Errorf("unsupported description kind %s", d.Kind)
	}
}

func fromPion(d pion.SessionDescription) (negotiation.SessionDescription, error) {
	switch d.Type {
	case pion.SDPTypeOffer:
		return negotiation.SessionDescription{Kind: negotiation.KindOffer, SDP: d.SDP}, nil
	case pion.SDPTypeAnswer:
		return negotiation.SessionDescription{Kind: negotiation.KindAnswer, SDP: d.SDP}, nil
	default:
		return negotiation.SessionDescription{}, fmt.Errorf("unsupported sdp type %s", d.Type)
	}
}

func candidateToPion(c negotiation.Candidate) pion.ICECandidateInit {
	mid := c.SDPMid
	idx := uint16(c.SDPMLineIndex)
	return pion.ICECandidateInit{Candidate: c.Candidate, SDPMid: &mid, SDPMLineIndex: &idx}
}

func candidateFromPion(ci pion.ICECandidateInit) negotiation.Candidate {
	c := negotiation.Candidate{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		c.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		c.SDPMLineIndex = int(*ci.SDPMLineIndex)
	}
	return c
}

var _ negotiation.Engine = (*Pion)(nil)
