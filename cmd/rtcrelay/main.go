package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/bbielsa/rtcsession/internal/config"
	sigclient "github.com/bbielsa/rtcsession/internal/signal"
)

const helpText = `rtcrelay - Pair two rtcsession clients per room over WebSocket

Usage:
  rtcrelay [options]

Clients connect to ws://<addr>/ws and join a room. The second client in a
room is told to send the offer; everything else is relayed verbatim.

Environment Variables:
  RTC_RELAY_ADDR  Listen address (default: :8089)
  RTC_LOG_LEVEL   error, warn, info, debug or trace (default: info)

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

	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", sigclient.NewRelay(config.LoggerFactory(cfg.LogLevel)))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Printf("[main] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[main] relay listening on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("[main] serve: %v", err)
	}
	log.Printf("[main] done")
}
