package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/bbielsa/rtcsession/internal/api"
	"github.com/bbielsa/rtcsession/internal/config"
	"github.com/bbielsa/rtcsession/internal/domain"
	"github.com/bbielsa/rtcsession/internal/session"
	sigclient "github.com/bbielsa/rtcsession/internal/signal"
	"github.com/bbielsa/rtcsession/internal/webrtc"
)

const helpText = `rtcsession - Join a two-party WebRTC room and stream the remote video

Usage:
  rtcsession [options]

The remote H264 stream is written to stdout as Annex-B. Pipe to ffplay or
ffmpeg for playback or recording. Logs go to stderr.

Environment Variables:
  RTC_SIGNAL_URL       ws(s):// signaling endpoint or http(s):// room page (required)
  RTC_ROOM             Room to join on a ws(s):// endpoint
  RTC_CLIENT_ID        Client id announced on join (default: random UUID)
  RTC_ICE_SERVERS      Comma-separated STUN/TURN URLs
  RTC_ICE_USERNAME     TURN username
  RTC_ICE_CREDENTIAL   TURN credential
  RTC_RECEIVE_AUDIO    Request remote audio (default: true)
  RTC_RECEIVE_VIDEO    Request remote video (default: true)
  RTC_FRONT_CAMERA     Use the front camera for local capture (default: true)
  RTC_CONNECT_TIMEOUT  Handshake timeout, e.g. 30s
  RTC_AUDIO_CODEC      Preferred audio codec as name/rate, e.g. opus/48000
  RTC_PING_INTERVAL    WebSocket keepalive interval, e.g. 20s
  RTC_LOG_LEVEL        error, warn, info, debug or trace (default: info)

Examples:
  # Live playback
  RTC_SIGNAL_URL=ws://localhost:8089/ws RTC_ROOM=demo rtcsession | ffplay -f h264 -

  # Record to MP4
  rtcsession | ffmpeg -f h264 -i - -c copy output.mp4

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	lf := config.LoggerFactory(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	// Step 1: Resolve the room page, if one was given
	signalURL := cfg.SignalURL
	room := domain.Room{Key: cfg.Room, ClientID: cfg.ClientID, ICEServers: cfg.ICEServers}
	if u, err := url.Parse(cfg.SignalURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		log.Printf("[main] resolving room page %s", cfg.SignalURL)
		var rooms domain.RoomFetcher = api.NewClient(lf)
		r, err := rooms.FetchRoom(ctx, cfg.SignalURL)
		if err != nil {
			log.Fatalf("[main] fetch room: %v", err)
		}
		signalURL = r.SignalURL
		room.Key = r.Key
		room.ClientID = r.ClientID
		room.ICEServers = append(r.ICEServers, cfg.ICEServers...)
	}
	log.Printf("[main] room=%s client=%s signal=%s", room.Key, room.ClientID, signalURL)

	// Step 2: Wire the transport, the surface and the signaling dialer
	surface := webrtc.NewSurface(os.Stdout, lf)
	peers := webrtc.NewPeerFactory(webrtc.PeerConfig{
		ICEServers:    room.ICEServers,
		LoggerFactory: lf,
	})
	dialer := &sigclient.Dialer{
		Room:          room.Key,
		ClientID:      room.ClientID,
		PingInterval:  cfg.PingInterval,
		LoggerFactory: lf,
	}

	// Step 3: Create the session controller
	ctrl, err := session.New(session.Config{
		Dialer:         dialer,
		Peers:          peers,
		Surface:        surface,
		AudioCodec:     cfg.AudioCodec,
		AudioClockRate: cfg.AudioClockRate,
		Timeout:        cfg.ConnectTimeout,
		LoggerFactory:  lf,
		OnStateChange: func(s domain.State) {
			log.Printf("[main] session %s", s)
		},
	})
	if err != nil {
		log.Fatalf("[main] create session: %v", err)
	}

	// Step 4: Connect and wait for the handshake
	result := make(chan error, 1)
	if !ctrl.Connect(signalURL, cfg.Options, func(ok bool, reason error) {
		result <- reason
	}) {
		log.Fatalf("[main] invalid signaling url %q", signalURL)
	}

	select {
	case <-ctx.Done():
		ctrl.Disconnect()
		log.Printf("[main] done")
		return
	case err := <-result:
		if err != nil {
			ctrl.Disconnect()
			log.Fatalf("[main] connect: %v", err)
		}
	}

	// Step 5: Stream until interrupted or the remote side leaves
	select {
	case <-ctx.Done():
		log.Printf("[main] shutting down")
	case <-ctrl.Done():
		log.Printf("[main] session ended")
	}

	ctrl.Disconnect()
	log.Printf("[main] done")
}
