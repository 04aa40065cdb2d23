package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pion/logging"

	"github.com/bbielsa/rtcsession/internal/domain"
	"github.com/bbielsa/rtcsession/internal/transform"
)

const (
	maxPageSize  = 1 << 20
	maxErrorText = 200
)

var (
	roomKeyPattern  = regexp.MustCompile(`var roomKey\s*=\s*'([^']*)'`)
	mePattern       = regexp.MustCompile(`var me\s*=\s*'([^']*)'`)
	wssURLPattern   = regexp.MustCompile(`var wssUrl\s*=\s*'([^']*)'`)
	pcConfigPattern = regexp.MustCompile(`(?s)var pcConfig\s*=\s*(\{.*?\});`)
	errorPattern    = regexp.MustCompile(`(?is)<div[^>]*class="error"[^>]*>(.*?)</div>`)
)

// ErrRoomPage is returned when the room page reports an error or lacks the
// signaling parameters.
var ErrRoomPage = errors.New("room page")

type pcConfig struct {
	ICEServers []iceServer `json:"iceServers"`
}

type iceServer struct {
	URLs       urlList `json:"urls"`
	URL        string  `json:"url"`
	Username   string  `json:"username"`
	Credential string  `json:"credential"`
}

// urlList accepts either a single URL string or an array of them.
type urlList []string

func (u *urlList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*u = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*u = many
	return nil
}

// Client resolves room pages into signaling parameters. It implements
// domain.RoomFetcher.
type Client struct {
	http *http.Client
	log  logging.LeveledLogger
}

// NewClient creates an API client.
func NewClient(lf logging.LoggerFactory) *Client {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Client{
		http: &http.Client{Timeout: 15 * time.Second},
		log:  lf.NewLogger("api"),
	}
}

// FetchRoom loads the room page and scrapes the room key, client id,
// signaling URL and ICE servers from its inline script.
func (c *Client) FetchRoom(ctx context.Context, pageURL string) (*domain.Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	page := string(body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d: %s", ErrRoomPage, resp.StatusCode, pageText(page))
	}
	if msg, ok := transform.FirstMatch(errorPattern, page); ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomPage, collapse(transform.StripMarkup(msg)))
	}

	room := &domain.Room{}
	var missing []string
	if room.Key, _ = transform.FirstMatch(roomKeyPattern, page); room.Key == "" {
		missing = append(missing, "roomKey")
	}
	if room.ClientID, _ = transform.FirstMatch(mePattern, page); room.ClientID == "" {
		missing = append(missing, "me")
	}
	if room.SignalURL, _ = transform.FirstMatch(wssURLPattern, page); room.SignalURL == "" {
		missing = append(missing, "wssUrl")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrRoomPage, strings.Join(missing, ", "))
	}

	if raw, ok := transform.FirstMatch(pcConfigPattern, page); ok {
		servers, err := parseICEServers(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: pcConfig: %w", ErrRoomPage, err)
		}
		room.ICEServers = servers
	} else {
		c.log.Warnf("room %s has no pcConfig, using host candidates only", room.Key)
	}

	c.log.Infof("room %s: client %s, signal %s, %d ice servers",
		room.Key, room.ClientID, room.SignalURL, len(room.ICEServers))
	return room, nil
}

func parseICEServers(raw string) ([]domain.ICEServer, error) {
	var cfg pcConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, err
	}

	servers := make([]domain.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		urls := []string(s.URLs)
		if len(urls) == 0 && s.URL != "" {
			urls = []string{s.URL}
		}
		if len(urls) == 0 {
			continue
		}
		servers = append(servers, domain.ICEServer{
			URLs:       urls,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers, nil
}

// pageText reduces an HTML error page to a short plain-text message.
func pageText(page string) string {
	text := collapse(transform.StripMarkup(page))
	if utf8.RuneCountInString(text) > maxErrorText {
		text = string([]rune(text)[:maxErrorText]) + "..."
	}
	return text
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
