package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pion/logging"

	"github.com/bbielsa/rtcsession/internal/domain"
	"github.com/bbielsa/rtcsession/internal/transform"
)

const defaultRelayAddr = ":8089"

// Config holds the session client configuration.
type Config struct {
	// SignalURL is either a ws(s):// signaling endpoint or an http(s):// room
	// page that is resolved first.
	SignalURL string
	Room      string
	ClientID  string

	ICEServers []domain.ICEServer
	Options    domain.Options

	// ConnectTimeout of zero selects the session default.
	ConnectTimeout time.Duration
	PingInterval   time.Duration

	AudioCodec     string
	AudioClockRate int

	LogLevel logging.LogLevel
}

// RelayConfig holds the relay coordinator configuration.
type RelayConfig struct {
	Addr     string
	LogLevel logging.LogLevel
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	signalURL := os.Getenv("RTC_SIGNAL_URL")
	if signalURL == "" {
		return nil, fmt.Errorf("RTC_SIGNAL_URL environment variable is required")
	}

	cfg := &Config{
		SignalURL: signalURL,
		Room:      os.Getenv("RTC_ROOM"),
		ClientID:  os.Getenv("RTC_CLIENT_ID"),
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	var err error
	if cfg.Options.ReceiveAudio, err = boolEnv("RTC_RECEIVE_AUDIO", true); err != nil {
		return nil, err
	}
	if cfg.Options.ReceiveVideo, err = boolEnv("RTC_RECEIVE_VIDEO", true); err != nil {
		return nil, err
	}
	if cfg.Options.UseFrontCamera, err = boolEnv("RTC_FRONT_CAMERA", true); err != nil {
		return nil, err
	}

	if cfg.ConnectTimeout, err = durationEnv("RTC_CONNECT_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = durationEnv("RTC_PING_INTERVAL", 0); err != nil {
		return nil, err
	}

	if codec := os.Getenv("RTC_AUDIO_CODEC"); codec != "" {
		cfg.AudioCodec, cfg.AudioClockRate, err = transform.ParseCodec(codec)
		if err != nil {
			return nil, fmt.Errorf("RTC_AUDIO_CODEC: %w", err)
		}
	}

	cfg.ICEServers = iceServers(
		os.Getenv("RTC_ICE_SERVERS"),
		os.Getenv("RTC_ICE_USERNAME"),
		os.Getenv("RTC_ICE_CREDENTIAL"),
	)

	if cfg.LogLevel, err = logLevel(os.Getenv("RTC_LOG_LEVEL")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRelay reads the relay configuration.
func LoadRelay() (*RelayConfig, error) {
	_ = godotenv.Load()

	cfg := &RelayConfig{Addr: os.Getenv("RTC_RELAY_ADDR")}
	if cfg.Addr == "" {
		cfg.Addr = defaultRelayAddr
	}

	var err error
	if cfg.LogLevel, err = logLevel(os.Getenv("RTC_LOG_LEVEL")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoggerFactory returns a pion logger factory writing to stderr at level.
// Stdout is left to the media stream.
func LoggerFactory(level logging.LogLevel) logging.LoggerFactory {
	return &logging.DefaultLoggerFactory{
		Writer:          os.Stderr,
		DefaultLogLevel: level,
		ScopeLevels:     map[string]logging.LogLevel{},
	}
}

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

func logLevel(s string) (logging.LogLevel, error) {
	if s == "" {
		return logging.LogLevelInfo, nil
	}
	level, ok := logLevels[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("RTC_LOG_LEVEL: unknown level %q", s)
	}
	return level, nil
}

// iceServers parses a comma-separated URL list. Credentials apply to TURN
// entries only.
func iceServers(list, username, credential string) []domain.ICEServer {
	var servers []domain.ICEServer
	for _, u := range strings.Split(list, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		s := domain.ICEServer{URLs: []string{u}}
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			s.Username = username
			s.Credential = credential
		}
		servers = append(servers, s)
	}
	return servers
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", key, d)
	}
	return d, nil
}
