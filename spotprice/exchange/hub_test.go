package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePusher is a websocket server that records the frames a hub sends
type fakePusher struct {
	server   *httptest.Server
	dials    int32
	conns    chan *websocket.Conn
	received chan map[string]interface{}
}

func newFakePusher(t *testing.T, delay time.Duration) *fakePusher {
	t.Helper()
	f := &fakePusher{
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan map[string]interface{}, 32),
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.dials, 1)
		time.Sleep(delay)

		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()
		f.conns <- conn

		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.received <- msg
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePusher) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakePusher) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for socket connection")
		return nil
	}
}

func (f *fakePusher) frame(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for client frame")
		return nil
	}
}

func newConnectedHub(t *testing.T, f *fakePusher) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(f.url(), 16)
	t.Cleanup(func() { hub.Close() })
	require.NoError(t, hub.Connect(context.Background()))
	return hub, f.conn(t)
}

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		require.True(t, ok, "subscription closed unexpectedly")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for channel message")
		return Message{}
	}
}

func channelOf(frame map[string]interface{}) string {
	data, _ := frame["data"].(map[string]interface{})
	channel, _ := data["channel"].(string)
	return channel
}

func TestHubConnectConcurrentSingleDial(t *testing.T) {
	f := newFakePusher(t, 100*time.Millisecond)
	hub := NewHub(f.url(), 0)
	t.Cleanup(func() { hub.Close() })

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = hub.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.dials), "Concurrent connects should share one dial")
	assert.True(t, hub.IsConnected())

	// already connected: resolves without dialing again
	require.NoError(t, hub.Connect(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.dials))
}

func TestHubConnectContextCancelled(t *testing.T) {
	f := newFakePusher(t, 300*time.Millisecond)
	hub := NewHub(f.url(), 0)
	t.Cleanup(func() { hub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, hub.Connect(ctx), context.DeadlineExceeded)

	// the dial carries on for other callers
	require.NoError(t, hub.Connect(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.dials))
}

func TestHubDialFailure(t *testing.T) {
	f := newFakePusher(t, 0)
	url := f.url()
	f.server.Close()

	hub := NewHub(url, 0)
	err := hub.Connect(context.Background())

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "DIAL", transportErr.Op)
	assert.False(t, hub.IsConnected())
}

func TestHubSubscribeRequiresConnection(t *testing.T) {
	hub := NewHub("ws://127.0.0.1:1", 0)
	_, err := hub.Subscribe(context.Background(), "btcidr")
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, hub.Close())
	assert.ErrorIs(t, hub.Connect(context.Background()), ErrHubClosed)
}

func TestHubSubscribeSendsFrame(t *testing.T) {
	f := newFakePusher(t, 0)
	hub, _ := newConnectedHub(t, f)

	sub, err := hub.Subscribe(context.Background(), "btcidr")
	require.NoError(t, err)
	assert.Equal(t, "btcidr", sub.Name)

	frame := f.frame(t)
	assert.Equal(t, "pusher:subscribe", frame["event"])
	assert.Equal(t, "tradedata-btcidr", channelOf(frame))
}

func TestHubFiltersFrames(t *testing.T) {
	f := newFakePusher(t, 0)
	hub, server := newConnectedHub(t, f)

	sub, err := hub.Subscribe(context.Background(), "btcidr")
	require.NoError(t, err)
	f.frame(t)

	frames := []string{
		`{"event":"pusher:connection_established","data":"{\"socket_id\":\"1.2\"}"}`,
		`{"event":"other","channel":"tradedata-btcidr","data":"{\"skip\":1}"}`,
		`{"event":"update","channel":"tradedata-ethidr","data":"{\"skip\":2}"}`,
		`not json at all`,
		`{"event":"update","channel":"tradedata-btcidr","data":"{broken"}`,
		`{"event":"update","channel":"tradedata-btcidr","data":"{\"first\":1}"}`,
		`{"event":"update","channel":"tradedata-btcidr","data":{"second":2}}`,
	}
	for _, frame := range frames {
		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	first := receive(t, sub)
	assert.Equal(t, "tradedata-btcidr", first.Channel)
	assert.JSONEq(t, `{"first":1}`, string(first.Data))
	assert.False(t, first.ReceivedAt.IsZero())

	second := receive(t, sub)
	assert.JSONEq(t, `{"second":2}`, string(second.Data))
}

func TestHubBroadcastsToEverySubscriber(t *testing.T) {
	f := newFakePusher(t, 0)
	hub, server := newConnectedHub(t, f)

	a, err := hub.Subscribe(context.Background(), "btcidr")
	require.NoError(t, err)
	b, err := hub.Subscribe(context.Background(), "btcidr")
	require.NoError(t, err)
	f.frame(t)
	f.frame(t)

	update := `{"event":"update","channel":"tradedata-btcidr","data":"{\"n\":1}"}`
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(update)))

	assert.JSONEq(t, `{"n":1}`, string(receive(t, a).Data))
	assert.JSONEq(t, `{"n":1}`, string(receive(t, b).Data))
}

func TestHubUnsubscribesOnLastClose(t *testing.T) {
	f := newFakePusher(t, 0)
	hub, _ := newConnectedHub(t, f)

	a, err := hub.Subscribe(context.Background(), "btcidr")
	require.NoError(t, err)
	b, err := hub.Subscribe(context.Background(), "btcidr")
	require.NoError(t, err)
	f.frame(t)
	f.frame(t)

	// another subscriber remains, so nothing is sent
	require.NoError(t, a.Close())
	_, ok := <-a.C
	assert.False(t, ok, "closed subscription channel should be closed")

	_, err = hub.Subscribe(context.Background(), "ethidr")
	require.NoError(t, err)
	frame := f.frame(t)
	assert.Equal(t, "pusher:subscribe", frame["event"])
	assert.Equal(t, "tradedata-ethidr", channelOf(frame))

	require.NoError(t, b.Close())
	frame = f.frame(t)
	assert.Equal(t, "pusher:unsubscribe", frame["event"])
	assert.Equal(t, "tradedata-btcidr", channelOf(frame))

	// closing twice is a no-op
	assert.NoError(t, b.Close())
}

func TestHubAnswersPing(t *testing.T) {
	f := newFakePusher(t, 0)
	_, server := newConnectedHub(t, f)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"pusher:ping","data":{}}`)))

	frame := f.frame(t)
	assert.Equal(t, "pusher:pong", frame["event"])
}

func TestHubServerDisconnectEndsSubscriptions(t *testing.T) {
	f := newFakePusher(t, 0)
	hub, server := newConnectedHub(t, f)

	sub, err := hub.Subscribe(context.Background(), "btcidr")
	require.NoError(t, err)
	f.frame(t)

	server.Close()

	select {
	case _, ok := <-sub.C:
		assert.False(t, ok, "subscription should be closed when the socket drops")
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for subscription to close")
	}
	assert.Eventually(t, func() bool { return !hub.IsConnected() }, time.Second, 10*time.Millisecond)

	// the hub can dial again
	require.NoError(t, hub.Connect(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.dials))
}

// TestHubCloseWithStalledPeer covers a peer that stops reading: writes
// block, but the hub state stays usable and Close still tears down.
func TestHubCloseWithStalledPeer(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	hub := NewHub("ws"+strings.TrimPrefix(server.URL, "http"), 16)
	require.NoError(t, hub.Connect(context.Background()))

	var sent int32
	subscribeErr := make(chan error, 1)
	go func() {
		name := strings.Repeat("x", 64*1024)
		for {
			if _, err := hub.Subscribe(context.Background(), name); err != nil {
				subscribeErr <- err
				return
			}
			atomic.AddInt32(&sent, 1)
		}
	}()

	// wait for the socket buffers to fill
	deadline := time.Now().Add(5 * time.Second)
	for {
		before := atomic.LoadInt32(&sent)
		time.Sleep(200 * time.Millisecond)
		if atomic.LoadInt32(&sent) == before {
			break
		}
		require.True(t, time.Now().Before(deadline), "writes never stalled")
	}

	connected := make(chan bool, 1)
	go func() { connected <- hub.IsConnected() }()
	select {
	case ok := <-connected:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Hub state locked while a write is stalled")
	}

	closed := make(chan error, 1)
	go func() { closed <- hub.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked behind a stalled write")
	}

	select {
	case err := <-subscribeErr:
		var transportErr *TransportError
		assert.True(t, errors.As(err, &transportErr) || errors.Is(err, ErrHubClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("Stalled subscribe was not released by Close")
	}
}

func TestDecodeFrameData(t *testing.T) {
	data, ok := decodeFrameData([]byte(`"{\"a\":[1,2]}"`))
	require.True(t, ok)
	assert.JSONEq(t, `{"a":[1,2]}`, string(data))

	data, ok = decodeFrameData([]byte(`{"a":1}`))
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(data))

	_, ok = decodeFrameData(nil)
	assert.False(t, ok)
	_, ok = decodeFrameData([]byte(`"not json"`))
	assert.False(t, ok)
}
