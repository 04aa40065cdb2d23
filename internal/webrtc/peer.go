package webrtc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"github.com/bbielsa/rtcsession/internal/domain"
)

// ErrTransportFailed is reported when ICE/DTLS connectivity is lost.
var ErrTransportFailed = errors.New("peer connection failed")

// TrackSource is local media that can be added to a peer connection.
type TrackSource interface {
	Tracks() []pion.TrackLocal
}

// PeerConfig configures peer connections created by a PeerFactory.
type PeerConfig struct {
	ICEServers []domain.ICEServer

	// LoggerFactory is shared with pion. If nil, a default factory is used.
	LoggerFactory logging.LoggerFactory
}

// PeerFactory creates pion-backed peers.
type PeerFactory struct {
	cfg PeerConfig
}

// NewPeerFactory creates a PeerFactory.
func NewPeerFactory(cfg PeerConfig) *PeerFactory {
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &PeerFactory{cfg: cfg}
}

// NewPeer implements domain.PeerFactory.
func (f *PeerFactory) NewPeer(opts domain.Options, handler domain.PeerHandler) (domain.Peer, error) {
	return NewPeer(f.cfg, opts, handler)
}

// Peer wraps a pion PeerConnection.
type Peer struct {
	pc      *pion.PeerConnection
	opts    domain.Options
	handler domain.PeerHandler
	log     logging.LeveledLogger

	mu                sync.Mutex
	transceiversAdded bool
	localTracks       bool
	connectedOnce     sync.Once
}

// NewPeer creates a PeerConnection with H264, Opus and PCMU registered and
// NACK interceptors installed. Events are delivered to handler.
func NewPeer(cfg PeerConfig, opts domain.Options, handler domain.PeerHandler) (*Peer, error) {
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	m := &pion.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responder)
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)

	se := pion.SettingEngine{LoggerFactory: lf}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	)

	var servers []pion.ICEServer
	for _, s := range cfg.ICEServers {
		servers = append(servers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:      pc,
		opts:    opts,
		handler: handler,
		log:     lf.NewLogger("webrtc"),
	}

	pc.OnTrack(p.onTrack)
	pc.OnICECandidate(p.onICECandidate)
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.log.Debugf("ICE connection state: %s", state.String())
	})
	pc.OnConnectionStateChange(p.onConnectionStateChange)

	return p, nil
}

func registerCodecs(m *pion.MediaEngine) error {
	video := []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:    pion.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			PayloadType: 102,
		},
	}
	for _, c := range video {
		if err := m.RegisterCodec(c, pion.RTPCodecTypeVideo); err != nil {
			return fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}

	audio := []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:    pion.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:  pion.MimeTypePCMU,
				ClockRate: 8000,
				Channels:  1,
			},
			PayloadType: 0,
		},
	}
	for _, c := range audio {
		if err := m.RegisterCodec(c, pion.RTPCodecTypeAudio); err != nil {
			return fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}
	return nil
}

// addTransceivers adds the receive transceivers requested by the options.
// Only the offering side needs them; an answerer follows the remote offer.
func (p *Peer) addTransceivers() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transceiversAdded {
		return nil
	}
	p.transceiversAdded = true

	if p.opts.ReceiveAudio && !p.localTracks {
		_, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add audio transceiver: %w", err)
		}
	}

	if p.opts.ReceiveVideo && !p.localTracks {
		_, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add video transceiver: %w", err)
		}
	}

	return nil
}

func (p *Peer) onTrack(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	codec := track.Codec()
	p.log.Infof("got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)

	if track.Kind() == pion.RTPCodecTypeVideo {
		p.handler.OnRemoteStream(track)
		return
	}

	// Audio playback is outside this client; keep the receiver drained.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}

func (p *Peer) onICECandidate(c *pion.ICECandidate) {
	if c == nil {
		p.log.Debugf("ICE gathering complete")
		return
	}

	init := c.ToJSON()
	if isLoopback(init.Candidate) {
		p.log.Debugf("filtering loopback ICE candidate")
		return
	}

	candidate := domain.Candidate{SDP: init.Candidate}
	if init.SDPMid != nil {
		candidate.Mid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		candidate.Index = int(*init.SDPMLineIndex)
	}

	p.log.Debugf("local ICE candidate: %s", init.Candidate)
	p.handler.OnLocalCandidate(candidate)
}

func (p *Peer) onConnectionStateChange(state pion.PeerConnectionState) {
	p.log.Infof("peer connection state: %s", state.String())

	switch state {
	case pion.PeerConnectionStateConnected:
		p.connectedOnce.Do(p.handler.OnConnected)
	case pion.PeerConnectionStateFailed:
		p.handler.OnNegotiationError(ErrTransportFailed)
	}
}

// CreateOffer creates an SDP offer. It does not set the local description.
func (p *Peer) CreateOffer() (domain.SessionDescription, error) {
	if err := p.addTransceivers(); err != nil {
		return domain.SessionDescription{}, err
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: offer.SDP}, nil
}

// CreateAnswer creates an SDP answer to remoteOffer, applying it first if it is
// not yet the remote description. It does not set the local description.
func (p *Peer) CreateAnswer(remoteOffer domain.SessionDescription) (domain.SessionDescription, error) {
	if p.pc.RemoteDescription() == nil {
		if err := p.SetRemoteDescription(remoteOffer); err != nil {
			return domain.SessionDescription{}, err
		}
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: answer.SDP}, nil
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(d domain.SessionDescription) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	p.log.Infof("local SDP %s set", d.Type)
	return nil
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(d domain.SessionDescription) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.log.Infof("remote SDP %s set", d.Type)
	return nil
}

// AddCandidate adds a remote ICE candidate. The remote description must be set.
func (p *Peer) AddCandidate(c domain.Candidate) error {
	mid := c.Mid
	index := uint16(c.Index)
	init := pion.ICECandidateInit{
		Candidate:     c.SDP,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	p.log.Debugf("added remote ICE candidate")
	return nil
}

// AddLocalMedia adds the tracks of m. m must implement TrackSource.
func (p *Peer) AddLocalMedia(m domain.LocalMedia) error {
	src, ok := m.(TrackSource)
	if !ok {
		return fmt.Errorf("local media %T has no tracks", m)
	}

	for _, track := range src.Tracks() {
		if _, err := p.pc.AddTrack(track); err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
	}

	p.mu.Lock()
	p.localTracks = true
	p.mu.Unlock()
	return nil
}

// Close shuts down the PeerConnection.
func (p *Peer) Close() error {
	return p.pc.Close()
}

func toPion(d domain.SessionDescription) (pion.SessionDescription, error) {
	switch d.Type {
	case domain.SDPTypeOffer:
		return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: d.SDP}, nil
	case domain.SDPTypeAnswer:
		return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: d.SDP}, nil
	default:
		return pion.SessionDescription{}, fmt.Errorf("unsupported description type %q", d.Type)
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
