package exchange

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChannelPrefix is prepended to a pair channel name on the socket
const ChannelPrefix = "tradedata-"

const defaultHubBuffer = 64

// writeTimeout bounds every control frame write
const writeTimeout = 10 * time.Second

// Message is a decoded update frame of a subscribed channel
type Message struct {
	Channel    string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// frame is the envelope of every inbound socket message
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type controlData struct {
	Channel string `json:"channel"`
}

type controlFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// dialAttempt is shared by every Connect call waiting on the same dial
type dialAttempt struct {
	done chan struct{}
	err  error
}

// Subscription is a live view of one channel on the shared socket. C is
// closed when the subscription is closed or the socket goes away.
type Subscription struct {
	Name string
	C    <-chan Message

	hub     *Hub
	id      uint64
	channel string
	ch      chan Message
	once    sync.Once
}

// Close detaches the subscription. When it was the last one on its channel
// the hub unsubscribes the channel on the socket.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.hub.unsubscribe(s)
	})
	return err
}

// Hub owns a single socket connection and multiplexes channel
// subscriptions over it. Every subscriber receives every matching frame.
type Hub struct {
	url        string
	dialer     *websocket.Dialer
	bufferSize int

	mu      sync.Mutex
	conn    *websocket.Conn
	pending *dialAttempt
	subs    map[uint64]*Subscription
	nextID  uint64
	closed  bool

	// writeMu orders control frames on the wire. Lock order is writeMu, then mu.
	writeMu sync.Mutex
}

// NewHub creates a hub for the socket at url. bufferSize is the number of
// messages a slow subscriber may lag behind before frames are dropped for it.
func NewHub(url string, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultHubBuffer
	}
	return &Hub{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		bufferSize: bufferSize,
		subs:       make(map[uint64]*Subscription),
	}
}

// Connect returns once the socket is open. It returns immediately when
// already connected, and concurrent callers share a single dial.
func (h *Hub) Connect(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if h.conn != nil {
		h.mu.Unlock()
		return nil
	}
	attempt := h.pending
	if attempt == nil {
		attempt = &dialAttempt{done: make(chan struct{})}
		h.pending = attempt
		go h.dial(attempt)
	}
	h.mu.Unlock()

	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial is detached from any caller context so one impatient caller does
// not fail the dial for the others
func (h *Hub) dial(attempt *dialAttempt) {
	log.Printf("Connecting to Indodax socket: %s", h.url)
	conn, _, err := h.dialer.Dial(h.url, nil)

	h.mu.Lock()
	h.pending = nil
	switch {
	case err != nil:
		attempt.err = &TransportError{Op: "DIAL", URL: h.url, Err: err}
	case h.closed:
		conn.Close()
		attempt.err = ErrHubClosed
	default:
		h.conn = conn
		go h.readMessages(conn)
	}
	h.mu.Unlock()

	if attempt.err == nil {
		log.Printf("✅ Indodax socket connected")
	} else {
		log.Printf("❌ Indodax socket dial failed: %v", attempt.err)
	}
	close(attempt.done)
}

// IsConnected returns connection status
func (h *Hub) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// Subscribe registers a subscriber for name and sends the subscribe frame.
// The hub must be connected.
func (h *Hub) Subscribe(ctx context.Context, name string) (*Subscription, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	conn := h.conn
	if conn == nil {
		h.mu.Unlock()
		return nil, ErrNotConnected
	}

	h.nextID++
	ch := make(chan Message, h.bufferSize)
	sub := &Subscription{
		Name:    name,
		C:       ch,
		hub:     h,
		id:      h.nextID,
		channel: ChannelPrefix + name,
		ch:      ch,
	}
	// registered before the frame goes out so the first update is not missed
	h.subs[sub.id] = sub
	h.mu.Unlock()

	msg := controlFrame{Event: "pusher:subscribe", Data: controlData{Channel: sub.channel}}
	if err := writeFrame(ctx, conn, msg); err != nil {
		h.mu.Lock()
		if _, ok := h.subs[sub.id]; ok {
			delete(h.subs, sub.id)
			close(ch)
		}
		h.mu.Unlock()
		return nil, &TransportError{Op: "SUBSCRIBE", URL: h.url, Err: err}
	}
	return sub, nil
}

func (h *Hub) unsubscribe(sub *Subscription) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.Lock()
	if _, ok := h.subs[sub.id]; !ok {
		h.mu.Unlock()
		return nil
	}
	delete(h.subs, sub.id)
	close(sub.ch)

	for _, other := range h.subs {
		if other.channel == sub.channel {
			h.mu.Unlock()
			return nil
		}
	}
	conn := h.conn
	h.mu.Unlock()

	if conn == nil {
		return nil
	}
	msg := controlFrame{Event: "pusher:unsubscribe", Data: controlData{Channel: sub.channel}}
	if err := writeFrame(context.Background(), conn, msg); err != nil {
		return &TransportError{Op: "UNSUBSCRIBE", URL: h.url, Err: err}
	}
	return nil
}

// writeFrame writes v with a deadline of writeTimeout or the ctx deadline,
// whichever comes first. Callers hold writeMu and never mu.
func writeFrame(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// readMessages is the only reader of conn
func (h *Hub) readMessages(conn *websocket.Conn) {
	defer h.teardown(conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("⚠️ Indodax socket closed unexpectedly: %v", err)
			}
			return
		}
		h.dispatch(conn, message, time.Now())
	}
}

// dispatch fans an update frame out to the subscribers of its channel.
// Frames that do not parse are dropped.
func (h *Hub) dispatch(conn *websocket.Conn, message []byte, at time.Time) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		return
	}

	switch f.Event {
	case "update":
	case "pusher:ping":
		pong := controlFrame{Event: "pusher:pong", Data: struct{}{}}
		h.writeMu.Lock()
		err := writeFrame(context.Background(), conn, pong)
		h.writeMu.Unlock()
		if err != nil {
			log.Printf("⚠️ Indodax socket pong failed: %v", err)
		}
		return
	default:
		return
	}

	data, ok := decodeFrameData(f.Data)
	if !ok {
		return
	}
	msg := Message{Channel: f.Channel, Data: data, ReceivedAt: at}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.channel != f.Channel {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			log.Printf("Subscriber buffer full, dropping %s update", f.Channel)
		}
	}
}

// decodeFrameData unwraps the data field, which carries JSON either
// directly or encoded as a JSON string
func decodeFrameData(raw json.RawMessage) (json.RawMessage, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		raw = json.RawMessage(s)
	}
	if !json.Valid(raw) {
		return nil, false
	}
	return raw, true
}

func (h *Hub) teardown(conn *websocket.Conn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	h.mu.Unlock()

	conn.Close()
	log.Printf("Disconnected from Indodax socket")
}

// Close shuts the socket down. Open subscriptions end once the reader exits.
// It does not wait for pending writes; closing the socket fails them.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	h.mu.Unlock()

	if conn == nil {
		return nil
	}

	// WriteControl is safe alongside a blocked writer
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	if err != nil && err != websocket.ErrCloseSent {
		log.Printf("Error sending close frame: %v", err)
	}

	// the reader may already have closed it after the close handshake
	conn.Close()
	return nil
}
