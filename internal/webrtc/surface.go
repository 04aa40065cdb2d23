package webrtc

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtp"

	"github.com/bbielsa/rtcsession/internal/domain"
)

// RTPSource is the part of a remote track the surface reads from.
// *webrtc.TrackRemote satisfies it.
type RTPSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Orientation is the display orientation requested by the UI. The surface only
// stores it.
type Orientation int

const (
	OrientationPortrait Orientation = iota
	OrientationPortraitUpsideDown
	OrientationLandscapeLeft
	OrientationLandscapeRight
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// Surface presents one remote H264 stream by writing Annex-B NAL units to an
// io.Writer, e.g. stdout piped into ffplay.
type Surface struct {
	w   io.Writer
	log logging.LeveledLogger

	mu          sync.Mutex
	active      *playback
	orientation Orientation
	placeholder []byte
}

type playback struct {
	id     string
	paused atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// NewSurface creates a Surface writing to w.
func NewSurface(w io.Writer, lf logging.LoggerFactory) *Surface {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Surface{
		w:   w,
		log: lf.NewLogger("surface"),
	}
}

// Attach starts presenting h and detaches the previous stream, if any.
// Handles that are not RTP sources are ignored.
func (s *Surface) Attach(h domain.StreamHandle) {
	src, ok := h.(RTPSource)
	if !ok {
		s.log.Warnf("stream %s is not an RTP source, ignoring", h.StreamID())
		return
	}

	p := &playback{
		id:   h.StreamID(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.active
	s.active = p
	s.mu.Unlock()

	if prev != nil {
		close(prev.stop)
		s.log.Infof("detached stream %s", prev.id)
	}
	s.log.Infof("attached stream %s", p.id)

	go s.play(p, src)
}

// Pause suspends presentation without releasing the stream.
func (s *Surface) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.paused.Store(true)
	}
}

// Resume continues a paused presentation.
func (s *Surface) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.paused.Store(false)
	}
}

// Stop releases the attached stream and shows the placeholder.
func (s *Surface) Stop() {
	s.mu.Lock()
	prev := s.active
	s.active = nil
	if len(s.placeholder) > 0 {
		s.write(s.placeholder)
	}
	s.mu.Unlock()

	if prev != nil {
		close(prev.stop)
		s.log.Infof("stopped stream %s", prev.id)
	}
}

// SetOrientation records the display orientation.
func (s *Surface) SetOrientation(o Orientation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orientation = o
}

// Orientation returns the recorded display orientation.
func (s *Surface) Orientation() Orientation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orientation
}

// SetPlaceholder sets an Annex-B access unit written whenever no stream is
// attached. It is written immediately if nothing is attached now.
func (s *Surface) SetPlaceholder(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placeholder = append([]byte(nil), frame...)
	if s.active == nil && len(frame) > 0 {
		s.write(s.placeholder)
	}
}

// Done returns a channel closed once the stream h stops being read, or nil if
// h is not the attached stream.
func (s *Surface) Done(h domain.StreamHandle) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.id != h.StreamID() {
		return nil
	}
	return s.active.done
}

func (s *Surface) play(p *playback, src RTPSource) {
	defer close(p.done)

	depack := NewH264Depacketizer()
	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			s.log.Debugf("stream %s read ended: %v", p.id, err)
			return
		}

		select {
		case <-p.stop:
			return
		default:
		}

		if p.paused.Load() {
			depack.Reset()
			continue
		}

		nalus := depack.Depacketize(pkt.SequenceNumber, pkt.Payload)
		if len(nalus) == 0 {
			continue
		}

		s.mu.Lock()
		if s.active != p {
			s.mu.Unlock()
			return
		}
		for _, nalu := range nalus {
			s.write(annexBStartCode)
			s.write(nalu)
		}
		s.mu.Unlock()
	}
}

// write must be called with s.mu held.
func (s *Surface) write(b []byte) {
	if _, err := s.w.Write(b); err != nil {
		s.log.Warnf("write: %v", err)
	}
}
