package signal

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/bbielsa/rtcsession/internal/domain"
)

// Relay is a signaling coordinator pairing two clients per room. The first
// frame from a client must be a Join naming the room. When the second client
// joins, both receive a Join acknowledgment and the later one is told to
// initiate. Afterwards every frame is forwarded verbatim to the counterpart,
// and a departing client is reported to the other as Bye.
type Relay struct {
	log      logging.LeveledLogger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string][]*relayPeer
}

type relayPeer struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *relayPeer) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *relayPeer) send(msg domain.Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return p.write(data)
}

// NewRelay creates a Relay.
func NewRelay(lf logging.LoggerFactory) *Relay {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Relay{
		log: lf.NewLogger("relay"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms: make(map[string][]*relayPeer),
	}
}

// ServeHTTP upgrades the request and serves one client until it leaves.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warnf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	join, err := decode(data)
	if err != nil || join.Kind != domain.MessageJoin || join.Room == "" {
		r.log.Warnf("first frame is not a join with a room")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join required"))
		return
	}

	p := &relayPeer{id: join.ClientID, conn: conn}
	other, ok := r.enter(join.Room, p)
	if !ok {
		r.log.Infof("room %s is full, rejecting %s", join.Room, p.id)
		p.send(domain.Message{Kind: domain.MessageBye})
		return
	}
	saidBye := false
	defer func() { r.leave(join.Room, p, !saidBye) }()

	r.log.Infof("client %s joined room %s", p.id, join.Room)
	if other != nil {
		other.send(domain.Message{Kind: domain.MessageJoin, Room: join.Room, ClientID: p.id})
		p.send(domain.Message{Kind: domain.MessageJoin, Room: join.Room, ClientID: other.id, Initiator: true})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := decode(data)
		if err != nil {
			r.log.Warnf("room %s: forwarding undecodable frame from %s: %v", join.Room, p.id, err)
		}

		if peer := r.counterpart(join.Room, p); peer != nil {
			if err := peer.write(data); err != nil {
				r.log.Warnf("room %s: forward to %s: %v", join.Room, peer.id, err)
			}
		} else {
			r.log.Debugf("room %s: no counterpart for %s, dropping frame", join.Room, p.id)
		}

		if err == nil && msg.Kind == domain.MessageBye {
			saidBye = true
			return
		}
	}
}

// enter adds p to room and returns the peer already waiting there, if any.
// It reports false when the room already holds two peers.
func (r *Relay) enter(room string, p *relayPeer) (*relayPeer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := r.rooms[room]
	if len(peers) >= 2 {
		return nil, false
	}
	r.rooms[room] = append(peers, p)
	if len(peers) == 1 {
		return peers[0], true
	}
	return nil, true
}

func (r *Relay) counterpart(room string, p *relayPeer) *relayPeer {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, peer := range r.rooms[room] {
		if peer != p {
			return peer
		}
	}
	return nil
}

// leave removes p from room. When notify is set the remaining peer gets a Bye.
func (r *Relay) leave(room string, p *relayPeer, notify bool) {
	r.mu.Lock()
	var other *relayPeer
	var rest []*relayPeer
	for _, peer := range r.rooms[room] {
		if peer == p {
			continue
		}
		other = peer
		rest = append(rest, peer)
	}
	if len(rest) == 0 {
		delete(r.rooms, room)
	} else {
		r.rooms[room] = rest
	}
	r.mu.Unlock()

	r.log.Infof("client %s left room %s", p.id, room)
	if other != nil && notify {
		other.send(domain.Message{Kind: domain.MessageBye})
	}
}
