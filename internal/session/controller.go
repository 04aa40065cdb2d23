// Package session drives one peer-to-peer media session at a time: it dials
// the signaling channel, runs the offer/answer/candidate handshake against a
// media transport and reports the outcome of each attempt exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/bbielsa/rtcsession/internal/domain"
)

// DefaultTimeout bounds an attempt from Connect until Connected.
const DefaultTimeout = 30 * time.Second

// ErrNotStarted is returned by Wait before the first Connect.
var ErrNotStarted = errors.New("session: no connect attempt")

// CompletionFunc receives the outcome of a connect attempt. It runs on its own
// goroutine, so it may call Connect or Disconnect.
type CompletionFunc func(success bool, reason error)

// Config wires a Controller to its collaborators.
type Config struct {
	Dialer domain.SignalDialer
	Peers  domain.PeerFactory

	// Surface receives the remote stream once connected. Optional.
	Surface domain.VideoSurface
	// Capturer starts local capture when negotiation begins. Optional.
	Capturer domain.Capturer

	// AudioCodec and AudioClockRate select the audio codec moved to the front
	// of every outbound description. An empty AudioCodec leaves descriptions
	// untouched.
	AudioCodec     string
	AudioClockRate int

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// OnStateChange is called from the controller goroutine on every
	// transition. It must not block or call Disconnect.
	OnStateChange func(domain.State)

	LoggerFactory logging.LoggerFactory
}

// Controller owns at most one live session attempt. All transitions of an
// attempt are made by a single goroutine that consumes channel and transport
// events from one queue.
type Controller struct {
	cfg Config
	log logging.LeveledLogger

	mu    sync.Mutex
	state domain.State
	att   *attempt
}

// New validates cfg and returns an idle Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("session: dialer is required")
	}
	if cfg.Peers == nil {
		return nil, errors.New("session: peer factory is required")
	}
	if cfg.AudioCodec != "" && cfg.AudioClockRate <= 0 {
		return nil, fmt.Errorf("session: audio codec %q needs a clock rate", cfg.AudioCodec)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &Controller{
		cfg:   cfg,
		log:   cfg.LoggerFactory.NewLogger("session"),
		state: domain.StateIdle,
	}, nil
}

// Connect starts a session attempt against the signaling URL and returns
// immediately. It reports false, without calling done, when rawURL has no
// scheme or host or when a previous attempt has not finished releasing.
// A well-formed URL that cannot be reached is reported through done as a
// failure wrapping domain.ErrChannelOpen.
func (c *Controller) Connect(rawURL string, opts domain.Options, done CompletionFunc) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		c.log.Warnf("rejecting signaling url %q", rawURL)
		return false
	}

	c.mu.Lock()
	if !c.state.Terminal() {
		state := c.state
		c.mu.Unlock()
		c.log.Warnf("connect while %s, ignoring", state)
		return false
	}
	a := newAttempt(c, u.String(), opts, done)
	c.att = a
	c.state = domain.StateConnecting
	c.mu.Unlock()

	c.log.Infof("connecting to %s", u.String())
	c.notify(domain.StateConnecting)

	go a.run()
	return true
}

// Disconnect ends the current attempt and blocks until its channel, transport
// and capture are released. It is a no-op when nothing is live.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	a := c.att
	c.mu.Unlock()
	if a == nil {
		return
	}

	a.requestStop()
	<-a.finished
}

// State returns the current state.
func (c *Controller) State() domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until the current attempt completes and returns nil on success
// or the failure reason.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	a := c.att
	c.mu.Unlock()
	if a == nil {
		return ErrNotStarted
	}

	select {
	case <-a.result:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once the current attempt has released all of
// its resources. It returns nil before the first Connect.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.att == nil {
		return nil
	}
	return c.att.finished
}

func (c *Controller) setState(s domain.State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev == s {
		return
	}
	c.log.Debugf("state %s -> %s", prev, s)
	c.notify(s)
}

func (c *Controller) notify(s domain.State) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}
