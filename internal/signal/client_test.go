package signal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bbielsa/rtcsession/internal/domain"
)

// chanHandler forwards channel events to Go channels.
type chanHandler struct {
	messages  chan domain.Message
	malformed chan error
	closed    chan error
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		messages:  make(chan domain.Message, 16),
		malformed: make(chan error, 16),
		closed:    make(chan error, 1),
	}
}

func (h *chanHandler) OnMessage(msg domain.Message) { h.messages <- msg }
func (h *chanHandler) OnMalformed(err error)        { h.malformed <- err }
func (h *chanHandler) OnClosed(err error)           { h.closed <- err }

func (h *chanHandler) next(t *testing.T) domain.Message {
	t.Helper()
	select {
	case msg := <-h.messages:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return domain.Message{}
	}
}

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// scriptServer upgrades one connection and hands it to fn.
func scriptServer(t *testing.T, fn func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_RejectsNonWebSocketScheme(t *testing.T) {
	d := &Dialer{}
	if _, err := d.Dial(context.Background(), "https://example.com/room", newChanHandler()); err == nil {
		t.Error("expected error for https scheme")
	}
}

func TestDial_Unreachable(t *testing.T) {
	d := &Dialer{HandshakeTimeout: time.Second}
	if _, err := d.Dial(context.Background(), "ws://127.0.0.1:1/ws", newChanHandler()); err == nil {
		t.Error("expected dial error")
	}
}

func TestClient_SendFillsJoinAndReceives(t *testing.T) {
	got := make(chan string, 1)
	url := scriptServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- string(data)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","initiator":true}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"offer","sdp":"v=0"}`))
		conn.ReadMessage()
	})

	h := newChanHandler()
	d := &Dialer{Room: "room-1", ClientID: "me"}
	ch, err := d.Dial(context.Background(), url, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(domain.Message{Kind: domain.MessageJoin}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-got:
		if data != `{"type":"join","room":"room-1","clientId":"me"}` {
			t.Errorf("unexpected join frame %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive join")
	}

	if msg := h.next(t); msg.Kind != domain.MessageJoin || !msg.Initiator {
		t.Errorf("expected initiator join, got %+v", msg)
	}
	if msg := h.next(t); msg.Kind != domain.MessageOffer || msg.SDP != "v=0" {
		t.Errorf("expected offer, got %+v", msg)
	}
}

func TestClient_MalformedFrameReported(t *testing.T) {
	url := scriptServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bye"}`))
		conn.ReadMessage()
	})

	h := newChanHandler()
	ch, err := (&Dialer{}).Dial(context.Background(), url, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	select {
	case err := <-h.malformed:
		if !errors.Is(err, domain.ErrMalformedMessage) {
			t.Errorf("expected ErrMalformedMessage, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected malformed report")
	}

	if msg := h.next(t); msg.Kind != domain.MessageBye {
		t.Errorf("expected bye after malformed frame, got %+v", msg)
	}
}

func TestClient_RemoteCloseReported(t *testing.T) {
	url := scriptServer(t, func(conn *websocket.Conn) {})

	h := newChanHandler()
	ch, err := (&Dialer{}).Dial(context.Background(), url, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	select {
	case err := <-h.closed:
		if err == nil {
			t.Error("expected a close error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnClosed")
	}

	if err := ch.Send(domain.Message{Kind: domain.MessageBye}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after remote close, got %v", err)
	}
}

func TestClient_LocalCloseIsSilentAndIdempotent(t *testing.T) {
	url := scriptServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	h := newChanHandler()
	ch, err := (&Dialer{}).Dial(context.Background(), url, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	ch.Close()
	ch.Close()

	select {
	case err := <-h.closed:
		t.Errorf("expected no OnClosed after local close, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if err := ch.Send(domain.Message{Kind: domain.MessageBye}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
