package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bbielsa/rtcsession/internal/domain"
	"github.com/bbielsa/rtcsession/internal/transform"
)

const eventQueueSize = 64

// Events posted by the channel, the transport and the dial goroutine.
type (
	channelOpened      struct{ ch domain.Signaler }
	channelFailed      struct{ err error }
	channelClosed      struct{ err error }
	messageReceived    struct{ msg domain.Message }
	messageMalformed   struct{ err error }
	localCandidate     struct{ c domain.Candidate }
	remoteStream       struct{ h domain.StreamHandle }
	negotiationFailed  struct{ err error }
	transportConnected struct{}
)

// endSession is returned by a handler to close a connected session without
// reporting a failure.
type endSession struct {
	reason error
	bye    bool
}

func (e endSession) Error() string { return e.reason.Error() }

// attempt is one Connect call. Fields below the queue are owned by the run
// goroutine.
type attempt struct {
	c    *Controller
	url  string
	opts domain.Options

	done     CompletionFunc
	doneOnce sync.Once
	result   chan struct{}
	err      error

	events   chan any
	halt     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	finished chan struct{}

	dialCancel context.CancelFunc
	dialDone   chan struct{}

	timer    *time.Timer
	timeoutC <-chan time.Time

	channel     domain.Signaler
	peer        domain.Peer
	media       domain.LocalMedia
	initiator   bool
	localSet    bool
	remoteSet   bool
	transportUp bool
	pending     []domain.Candidate
	stream      domain.StreamHandle
	attached    map[string]bool
}

func newAttempt(c *Controller, url string, opts domain.Options, done CompletionFunc) *attempt {
	return &attempt{
		c:        c,
		url:      url,
		opts:     opts,
		done:     done,
		result:   make(chan struct{}),
		events:   make(chan any, eventQueueSize),
		halt:     make(chan struct{}),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
		dialDone: make(chan struct{}),
		attached: make(map[string]bool),
	}
}

func (a *attempt) requestStop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

func (a *attempt) stopped() bool {
	select {
	case <-a.stop:
		return true
	default:
		return false
	}
}

// post queues ev for the run goroutine. It reports false once the attempt is
// halting or a stop was requested.
func (a *attempt) post(ev any) bool {
	select {
	case <-a.halt:
		return false
	case <-a.stop:
		return false
	default:
	}

	select {
	case a.events <- ev:
		return true
	case <-a.halt:
		return false
	case <-a.stop:
		return false
	}
}

// ChannelHandler

func (a *attempt) OnMessage(msg domain.Message) { a.post(messageReceived{msg}) }
func (a *attempt) OnMalformed(err error)        { a.post(messageMalformed{err}) }
func (a *attempt) OnClosed(err error)           { a.post(channelClosed{err}) }

// PeerHandler

func (a *attempt) OnLocalCandidate(c domain.Candidate)  { a.post(localCandidate{c}) }
func (a *attempt) OnRemoteStream(h domain.StreamHandle) { a.post(remoteStream{h}) }
func (a *attempt) OnNegotiationError(err error)        { a.post(negotiationFailed{err}) }
func (a *attempt) OnConnected()                        { a.post(transportConnected{}) }

func (a *attempt) run() {
	defer close(a.finished)

	a.timer = time.NewTimer(a.c.cfg.Timeout)
	a.timeoutC = a.timer.C
	defer a.timer.Stop()

	a.dial()

	for {
		var ev any
		select {
		case <-a.stop:
			a.release(domain.StateClosed, domain.ErrCanceled, true)
			return
		case <-a.timeoutC:
			if a.stopped() {
				a.release(domain.StateClosed, domain.ErrCanceled, true)
				return
			}
			a.c.log.Warnf("no connection after %s", a.c.cfg.Timeout)
			a.release(domain.StateFailed, domain.ErrTimeout, true)
			return
		case ev = <-a.events:
		}

		// A stop requested while the event was queued wins.
		if a.stopped() {
			a.release(domain.StateClosed, domain.ErrCanceled, true)
			return
		}

		if err := a.handle(ev); err != nil {
			var end endSession
			if errors.As(err, &end) {
				a.c.log.Infof("session ended: %v", end.reason)
				a.release(domain.StateClosed, end.reason, end.bye)
				return
			}
			a.c.log.Errorf("attempt failed: %v", err)
			a.release(domain.StateFailed, err, !errors.Is(err, domain.ErrRemoteHangup))
			return
		}
	}
}

func (a *attempt) dial() {
	ctx, cancel := context.WithCancel(context.Background())
	a.dialCancel = cancel

	go func() {
		defer close(a.dialDone)
		ch, err := a.c.cfg.Dialer.Dial(ctx, a.url, a)
		if err != nil {
			a.post(channelFailed{err})
			return
		}
		if !a.post(channelOpened{ch}) {
			ch.Close()
		}
	}()
}

func (a *attempt) connected() bool {
	return a.c.State() == domain.StateConnected
}

func (a *attempt) handle(ev any) error {
	switch ev := ev.(type) {
	case channelOpened:
		a.channel = ev.ch
		a.c.log.Infof("signaling channel open, joining")
		if err := a.channel.Send(domain.Message{Kind: domain.MessageJoin}); err != nil {
			return fmt.Errorf("%w: send join: %w", domain.ErrChannelIO, err)
		}

	case channelFailed:
		return fmt.Errorf("%w: %w", domain.ErrChannelOpen, ev.err)

	case channelClosed:
		if a.channel != nil {
			a.channel.Close()
			a.channel = nil
		}
		if a.connected() {
			a.c.log.Warnf("signaling channel lost, media continues: %v", ev.err)
			return nil
		}
		return fmt.Errorf("%w: %w", domain.ErrChannelIO, ev.err)

	case messageMalformed:
		if a.connected() {
			a.c.log.Warnf("discarding malformed message: %v", ev.err)
			return nil
		}
		return ev.err

	case messageReceived:
		if err := ev.msg.Validate(); err != nil {
			if a.connected() {
				a.c.log.Warnf("discarding %s: %v", ev.msg.Kind, err)
				return nil
			}
			return err
		}
		return a.handleMessage(ev.msg)

	case localCandidate:
		if a.channel == nil {
			return nil
		}
		err := a.channel.Send(domain.Message{Kind: domain.MessageCandidate, Candidate: ev.c})
		if err != nil && !a.connected() {
			return fmt.Errorf("%w: send candidate: %w", domain.ErrChannelIO, err)
		}

	case remoteStream:
		if a.connected() {
			a.attach(ev.h)
		} else if a.stream == nil {
			a.stream = ev.h
		}

	case negotiationFailed:
		if a.connected() {
			return endSession{reason: ev.err, bye: true}
		}
		return fmt.Errorf("%w: %w", domain.ErrNegotiation, ev.err)

	case transportConnected:
		a.transportUp = true
		a.checkConnected()
	}
	return nil
}

func (a *attempt) handleMessage(msg domain.Message) error {
	switch a.c.State() {
	case domain.StateConnecting:
		switch msg.Kind {
		case domain.MessageJoin:
			return a.begin(msg.Initiator)
		case domain.MessageOffer:
			// An offer before the acknowledgment makes this side the answerer.
			if err := a.begin(false); err != nil {
				return err
			}
			return a.applyOffer(msg.SDP)
		case domain.MessageAnswer:
			return fmt.Errorf("%w: answer before negotiation started", domain.ErrNegotiation)
		case domain.MessageCandidate:
			a.pending = append(a.pending, msg.Candidate)
		case domain.MessageBye:
			return domain.ErrRemoteHangup
		}

	case domain.StateNegotiating:
		switch msg.Kind {
		case domain.MessageJoin:
			a.c.log.Debugf("ignoring repeated join")
		case domain.MessageOffer:
			if a.initiator || a.remoteSet {
				return fmt.Errorf("%w: unexpected offer", domain.ErrNegotiation)
			}
			return a.applyOffer(msg.SDP)
		case domain.MessageAnswer:
			if !a.initiator || a.remoteSet {
				return fmt.Errorf("%w: unexpected answer", domain.ErrNegotiation)
			}
			return a.applyAnswer(msg.SDP)
		case domain.MessageCandidate:
			if !a.remoteSet {
				a.pending = append(a.pending, msg.Candidate)
				return nil
			}
			if err := a.peer.AddCandidate(msg.Candidate); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrCandidate, err)
			}
		case domain.MessageBye:
			return domain.ErrRemoteHangup
		}

	case domain.StateConnected:
		switch msg.Kind {
		case domain.MessageCandidate:
			if err := a.peer.AddCandidate(msg.Candidate); err != nil {
				a.c.log.Warnf("discarding candidate: %v", err)
			}
		case domain.MessageOffer, domain.MessageAnswer:
			a.c.log.Warnf("rejecting %s after connected", msg.Kind)
		case domain.MessageBye:
			return endSession{reason: domain.ErrRemoteHangup}
		}
	}
	return nil
}

// begin enters Negotiating: it creates the transport, attaches local capture
// and, as initiator, sends the offer.
func (a *attempt) begin(initiator bool) error {
	a.initiator = initiator
	a.c.setState(domain.StateNegotiating)

	peer, err := a.c.cfg.Peers.NewPeer(a.opts, a)
	if err != nil {
		return fmt.Errorf("%w: create transport: %w", domain.ErrNegotiation, err)
	}
	a.peer = peer

	if capt := a.c.cfg.Capturer; capt != nil {
		media, err := capt.Start(a.opts.UseFrontCamera)
		if err != nil {
			return fmt.Errorf("%w: start capture: %w", domain.ErrNegotiation, err)
		}
		a.media = media
		if err := a.peer.AddLocalMedia(media); err != nil {
			return fmt.Errorf("%w: attach capture: %w", domain.ErrNegotiation, err)
		}
	}

	if !initiator {
		a.c.log.Infof("waiting for remote offer")
		return nil
	}

	offer, err := a.peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: create offer: %w", domain.ErrNegotiation, err)
	}
	return a.sendLocal(offer, domain.MessageOffer)
}

func (a *attempt) applyOffer(sdp string) error {
	if err := transform.ValidateDescription(sdp); err != nil {
		return err
	}
	offer := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: sdp}
	if err := a.setRemote(offer); err != nil {
		return err
	}

	answer, err := a.peer.CreateAnswer(offer)
	if err != nil {
		return fmt.Errorf("%w: create answer: %w", domain.ErrNegotiation, err)
	}
	return a.sendLocal(answer, domain.MessageAnswer)
}

func (a *attempt) applyAnswer(sdp string) error {
	if err := transform.ValidateDescription(sdp); err != nil {
		return err
	}
	if err := a.setRemote(domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: sdp}); err != nil {
		return err
	}
	a.checkConnected()
	return nil
}

// setRemote applies the remote description and then every buffered
// candidate in arrival order.
func (a *attempt) setRemote(d domain.SessionDescription) error {
	if err := a.peer.SetRemoteDescription(d); err != nil {
		return fmt.Errorf("%w: set remote %s: %w", domain.ErrNegotiation, d.Type, err)
	}
	a.remoteSet = true

	pending := a.pending
	a.pending = nil
	for _, c := range pending {
		if err := a.peer.AddCandidate(c); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrCandidate, err)
		}
	}
	if len(pending) > 0 {
		a.c.log.Debugf("applied %d buffered candidates", len(pending))
	}
	return nil
}

// sendLocal applies the description exactly as the transport generated it and
// sends a copy with the configured audio codec moved to the front. The
// transport rejects a local description that differs from its own.
func (a *attempt) sendLocal(d domain.SessionDescription, kind domain.MessageKind) error {
	if err := a.peer.SetLocalDescription(d); err != nil {
		return fmt.Errorf("%w: set local %s: %w", domain.ErrNegotiation, d.Type, err)
	}
	a.localSet = true

	wire := d.SDP
	if codec := a.c.cfg.AudioCodec; codec != "" {
		wire = transform.PreferAudioCodec(wire, codec, a.c.cfg.AudioClockRate)
	}

	if a.channel == nil {
		return fmt.Errorf("%w: no channel for %s", domain.ErrChannelIO, kind)
	}
	if err := a.channel.Send(domain.Message{Kind: kind, SDP: wire}); err != nil {
		return fmt.Errorf("%w: send %s: %w", domain.ErrChannelIO, kind, err)
	}
	a.c.log.Infof("sent %s", kind)

	a.checkConnected()
	return nil
}

func (a *attempt) checkConnected() {
	if !a.transportUp || !a.localSet || !a.remoteSet {
		return
	}
	if a.c.State() != domain.StateNegotiating {
		return
	}

	a.timer.Stop()
	a.timeoutC = nil
	a.c.setState(domain.StateConnected)
	a.c.log.Infof("connected")

	if a.stream != nil {
		a.attach(a.stream)
		a.stream = nil
	}
	a.complete(true, nil)
}

// attach hands a stream to the surface once.
func (a *attempt) attach(h domain.StreamHandle) {
	id := h.StreamID()
	if a.attached[id] {
		return
	}
	a.attached[id] = true
	if s := a.c.cfg.Surface; s != nil {
		a.c.log.Infof("attaching remote stream %s", id)
		s.Attach(h)
	}
}

// release tears down everything the attempt owns, then publishes the final
// state and completes the attempt if it has not completed yet.
func (a *attempt) release(final domain.State, reason error, bye bool) {
	close(a.halt)
	if final == domain.StateClosed {
		a.c.setState(domain.StateDisconnecting)
	}

	a.dialCancel()
	<-a.dialDone
	a.drain()

	if a.channel != nil && bye {
		if err := a.channel.Send(domain.Message{Kind: domain.MessageBye}); err != nil {
			a.c.log.Debugf("send bye: %v", err)
		}
	}
	if s := a.c.cfg.Surface; s != nil && final == domain.StateClosed {
		s.Stop()
	}

	var errs []error
	if a.peer != nil {
		errs = append(errs, a.peer.Close())
	}
	if a.media != nil {
		errs = append(errs, a.media.Close())
	}
	if a.channel != nil {
		errs = append(errs, a.channel.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.c.log.Warnf("release: %v", err)
	}
	a.peer, a.media, a.channel = nil, nil, nil

	a.c.setState(final)
	a.complete(false, reason)
}

// drain empties the queue once no more channels can be dialed, closing any
// channel that arrived after the attempt began halting.
func (a *attempt) drain() {
	for {
		select {
		case ev := <-a.events:
			if o, ok := ev.(channelOpened); ok && o.ch != a.channel {
				o.ch.Close()
			}
		default:
			return
		}
	}
}

func (a *attempt) complete(success bool, reason error) {
	a.doneOnce.Do(func() {
		a.err = reason
		close(a.result)
		if a.done != nil {
			go a.done(success, reason)
		}
	})
}
