package webrtc

import (
	"strings"
	"sync"
	"testing"

	pion "github.com/pion/webrtc/v4"

	"github.com/bbielsa/rtcsession/internal/domain"
)

// recordingHandler records peer events.
type recordingHandler struct {
	mu         sync.Mutex
	candidates []domain.Candidate
	streams    []domain.StreamHandle
	errs       []error
	connected  int
}

func (h *recordingHandler) OnLocalCandidate(c domain.Candidate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.candidates = append(h.candidates, c)
}

func (h *recordingHandler) OnRemoteStream(s domain.StreamHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams = append(h.streams, s)
}

func (h *recordingHandler) OnNegotiationError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) OnConnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected++
}

type noTracks struct{}

func (noTracks) Close() error { return nil }

type staticMedia struct {
	tracks []pion.TrackLocal
}

func (m staticMedia) Tracks() []pion.TrackLocal { return m.tracks }
func (m staticMedia) Close() error               { return nil }

func newTestPeer(t *testing.T, opts domain.Options) *Peer {
	t.Helper()
	p, err := NewPeer(PeerConfig{}, opts, &recordingHandler{})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPeer_OfferFollowsReceiveOptions(t *testing.T) {
	p := newTestPeer(t, domain.Options{ReceiveAudio: true, ReceiveVideo: false})

	offer, err := p.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Type != domain.SDPTypeOffer {
		t.Errorf("expected offer type, got %q", offer.Type)
	}
	if !strings.Contains(offer.SDP, "m=audio") {
		t.Error("expected an audio section")
	}
	if strings.Contains(offer.SDP, "m=video") {
		t.Error("expected no video section")
	}
	if !strings.Contains(offer.SDP, "opus/48000/2") {
		t.Error("expected opus to be offered")
	}
}

func TestPeer_OfferAnswerRoundTrip(t *testing.T) {
	offerer := newTestPeer(t, domain.Options{ReceiveAudio: true, ReceiveVideo: true})
	answerer := newTestPeer(t, domain.Options{})

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription(offer): %v", err)
	}

	answer, err := answerer.CreateAnswer(offer)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if answer.Type != domain.SDPTypeAnswer {
		t.Errorf("expected answer type, got %q", answer.Type)
	}
	if err := answerer.SetLocalDescription(answer); err != nil {
		t.Fatalf("SetLocalDescription(answer): %v", err)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription(answer): %v", err)
	}
}

func TestPeer_AddCandidateRequiresRemoteDescription(t *testing.T) {
	p := newTestPeer(t, domain.Options{ReceiveAudio: true})

	err := p.AddCandidate(domain.Candidate{
		Mid: "0",
		SDP: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host",
	})
	if err == nil {
		t.Error("expected error before remote description is set")
	}
}

func TestPeer_RejectsUnknownDescriptionType(t *testing.T) {
	p := newTestPeer(t, domain.Options{})

	if err := p.SetRemoteDescription(domain.SessionDescription{Type: "pranswer", SDP: "v=0"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestPeer_AddLocalMedia(t *testing.T) {
	p := newTestPeer(t, domain.Options{ReceiveAudio: true})

	if err := p.AddLocalMedia(noTracks{}); err == nil {
		t.Error("expected error for media without tracks")
	}

	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "local")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	if err := p.AddLocalMedia(staticMedia{tracks: []pion.TrackLocal{track}}); err != nil {
		t.Fatalf("AddLocalMedia: %v", err)
	}

	offer, err := p.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if !strings.Contains(offer.SDP, "a=sendrecv") && !strings.Contains(offer.SDP, "a=sendonly") {
		t.Error("expected a sending audio section")
	}
}

func TestPeerFactory_NewPeer(t *testing.T) {
	f := NewPeerFactory(PeerConfig{
		ICEServers: []domain.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})

	p, err := f.NewPeer(domain.Options{ReceiveVideo: true}, &recordingHandler{})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	defer p.Close()
}

func TestIsLoopback(t *testing.T) {
	if !isLoopback("candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host") {
		t.Error("expected IPv4 loopback to be filtered")
	}
	if isLoopback("candidate:1 1 udp 2130706431 192.0.2.1 5000 typ host") {
		t.Error("expected non-loopback to pass")
	}
}
