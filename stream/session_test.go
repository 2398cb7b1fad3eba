package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamkit/mexc-stream/codec"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSessionConfig(url string) SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.URL = url
	cfg.UseBinaryProtocol = false
	cfg.PingInterval = time.Hour
	cfg.ReadTimeout = time.Hour
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 50 * time.Millisecond
	return cfg
}

type wireRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// echoSubServer acks every subscription request and records the params
// it saw, in the order they arrived.
type echoSubServer struct {
	mu     sync.Mutex
	params []string
}

func (e *echoSubServer) handler(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req wireRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		if req.Method == "SUBSCRIPTION" || req.Method == "UNSUBSCRIPTION" {
			e.mu.Lock()
			e.params = append(e.params, req.Params...)
			e.mu.Unlock()
			ack := map[string]any{"id": 0, "code": 0, "msg": req.Params[0]}
			data, _ := json.Marshal(ack)
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}
}

func (e *echoSubServer) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.params))
	copy(out, e.params)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSession_ConnectAndClose(t *testing.T) {
	srv := &echoSubServer{}
	server := mockWSServer(t, srv.handler)
	defer server.Close()

	sess, err := NewSession(testSessionConfig(wsURL(server)), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := sess.Status().State; got != StateConnected {
		t.Errorf("expected StateConnected, got %s", got)
	}

	// Connect on a connected session is a no-op.
	if err := sess.Connect(context.Background()); err != nil {
		t.Errorf("second Connect failed: %v", err)
	}

	sess.Close()
	if got := sess.Status().State; got != StateClosed {
		t.Errorf("expected StateClosed, got %s", got)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	srv := &echoSubServer{}
	server := mockWSServer(t, srv.handler)
	defer server.Close()

	sess, err := NewSession(testSessionConfig(wsURL(server)), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	sess.Close()
	sess.Close()

	if err := sess.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Connect after Close, got %v", err)
	}
	if err := sess.Subscribe(dealsTopic("BTCUSDT"), func(Event) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Subscribe after Close, got %v", err)
	}
}

func TestSession_CloseBeforeConnect(t *testing.T) {
	sess, err := NewSession(testSessionConfig("ws://localhost:1"), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	sess.Close()
}

func TestSession_SubscribeNotConnected(t *testing.T) {
	sess, err := NewSession(testSessionConfig("ws://localhost:1"), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	defer sess.Close()

	err = sess.Subscribe(dealsTopic("BTCUSDT"), func(Event) {})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestSession_SubscribeInvalidTopic(t *testing.T) {
	srv := &echoSubServer{}
	server := mockWSServer(t, srv.handler)
	defer server.Close()

	sess, err := NewSession(testSessionConfig(wsURL(server)), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Close()

	err = sess.Subscribe(codec.Topic{Stream: "no.such.stream"}, func(Event) {})
	if !errors.Is(err, codec.ErrInvalidTopic) {
		t.Errorf("expected ErrInvalidTopic, got %v", err)
	}
	if len(srv.seen()) != 0 {
		t.Error("invalid topic must not reach the wire")
	}
}

func TestSession_SubscribeAndDispatch(t *testing.T) {
	topic := dealsTopic("BTCUSDT")

	var pushOnce sync.Once
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req wireRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				continue
			}
			if req.Method == "SUBSCRIPTION" {
				pushOnce.Do(func() {
					event := map[string]any{
						"c": topic.Key(),
						"s": "BTCUSDT",
						"t": 1736500000000,
						"d": map[string]any{"deals": []any{}},
					}
					data, _ := json.Marshal(event)
					conn.WriteMessage(websocket.TextMessage, data)
				})
			}
		}
	})
	defer server.Close()

	sess, err := NewSession(testSessionConfig(wsURL(server)), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Close()

	events := make(chan Event, 1)
	if err := sess.Subscribe(topic, func(ev Event) { events <- ev }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Topic != topic.Key() {
			t.Errorf("wrong topic: %s", ev.Topic)
		}
		if ev.Symbol != "BTCUSDT" {
			t.Errorf("wrong symbol: %s", ev.Symbol)
		}
		if ev.SentAt.UnixMilli() != 1736500000000 {
			t.Errorf("wrong SentAt: %v", ev.SentAt)
		}
		if ev.ReceivedAt.IsZero() {
			t.Error("ReceivedAt not stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	if sess.Status().Subscriptions != 1 {
		t.Errorf("expected 1 subscription, got %d", sess.Status().Subscriptions)
	}
}

func TestSession_UnmatchedEventDropped(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		event := map[string]any{
			"c": "spot@public.deals.v3.api@ETHUSDT",
			"s": "ETHUSDT",
			"t": 1736500000000,
			"d": map[string]any{},
		}
		data, _ := json.Marshal(event)
		conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	sess, err := NewSession(testSessionConfig(wsURL(server)), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Close()

	called := make(chan struct{}, 1)
	if err := sess.Subscribe(dealsTopic("BTCUSDT"), func(Event) { called <- struct{}{} }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case <-called:
		t.Error("callback ran for a topic it was not registered for")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_Unsubscribe(t *testing.T) {
	srv := &echoSubServer{}
	server := mockWSServer(t, srv.handler)
	defer server.Close()

	sess, err := NewSession(testSessionConfig(wsURL(server)), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Close()

	topic := dealsTopic("BTCUSDT")
	if err := sess.Subscribe(topic, func(Event) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sess.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sess.Status().Subscriptions != 0 {
		t.Errorf("expected 0 subscriptions, got %d", sess.Status().Subscriptions)
	}

	// Unsubscribing an unknown topic is a no-op.
	if err := sess.Unsubscribe(dealsTopic("ETHUSDT")); err != nil {
		t.Errorf("unsubscribe of unknown topic errored: %v", err)
	}
}

func TestSession_UnsubscribeAll(t *testing.T) {
	srv := &echoSubServer{}
	server := mockWSServer(t, srv.handler)
	defer server.Close()

	sess, err := NewSession(testSessionConfig(wsURL(server)), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Close()

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	for _, sym := range symbols {
		if err := sess.Subscribe(dealsTopic(sym), func(Event) {}); err != nil {
			t.Fatalf("Subscribe %s failed: %v", sym, err)
		}
	}

	keys, err := sess.UnsubscribeAll()
	if err != nil {
		t.Fatalf("UnsubscribeAll failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("expected 3 keys, got %d", len(keys))
	}
	for i, sym := range symbols {
		if keys[i] != dealsTopic(sym).Key() {
			t.Errorf("key %d: expected %s, got %s", i, dealsTopic(sym).Key(), keys[i])
		}
	}
	if sess.Status().Subscriptions != 0 {
		t.Errorf("expected 0 subscriptions, got %d", sess.Status().Subscriptions)
	}
}

func TestSession_EvictionSendsUnsubscribe(t *testing.T) {
	srv := &echoSubServer{}
	server := mockWSServer(t, srv.handler)
	defer server.Close()

	cfg := testSessionConfig(wsURL(server))
	cfg.MaxSubscriptions = 2

	sess, err := NewSession(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Close()

	for _, sym := range []string{"AUSDT", "BUSDT", "CUSDT"} {
		if err := sess.Subscribe(dealsTopic(sym), func(Event) {}); err != nil {
			t.Fatalf("Subscribe %s failed: %v", sym, err)
		}
	}

	if sess.Status().Subscriptions != 2 {
		t.Errorf("expected 2 subscriptions, got %d", sess.Status().Subscriptions)
	}
	if _, ok := sess.registry.Lookup(dealsTopic("AUSDT").Key()); ok {
		t.Error("oldest subscription should have been evicted")
	}

	// The wire saw subscribe A, subscribe B, unsubscribe A, subscribe C.
	waitFor(t, time.Second, func() bool { return len(srv.seen()) == 4 })
	seen := srv.seen()
	if seen[2] != dealsTopic("AUSDT").Key() {
		t.Errorf("expected unsubscribe for evicted topic, saw %v", seen)
	}
}

func TestSession_RejectPolicy(t *testing.T) {
	srv := &echoSubServer{}
	server := mockWSServer(t, srv.handler)
	defer server.Close()

	cfg := testSessionConfig(wsURL(server))
	cfg.MaxSubscriptions = 1
	cfg.OverflowPolicy = PolicyReject

	sess, err := NewSession(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Close()

	if err := sess.Subscribe(dealsTopic("BTCUSDT"), func(Event) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	err = sess.Subscribe(dealsTopic("ETHUSDT"), func(Event) {})
	if !errors.Is(err, ErrCapacity) {
		t.Errorf("expected ErrCapacity, got %v", err)
	}
}

func TestSession_ReconnectReplaysSubscriptions(t *testing.T) {
	srv := &echoSubServer{}
	var mu sync.Mutex
	var conns int

	server := mockWSServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		conns++
		first := conns == 1
		mu.Unlock()

		if first {
			// Read one subscription then drop the connection.
			conn.ReadMessage()
			conn.Close()
			return
		}
		srv.handler(conn)
	})
	defer server.Close()

	sess, err := NewSession(testSessionConfig(wsURL(server)), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Close()

	if err := sess.Subscribe(dealsTopic("BTCUSDT"), func(Event) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	var reconnected bool
	deadline := time.After(3 * time.Second)
	for !reconnected {
		select {
		case ev := <-sess.Events():
			if ev.Kind == StatusReconnected {
				reconnected = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for reconnect")
		}
	}

	// The replacement connection must have received the replayed
	// subscription.
	waitFor(t, time.Second, func() bool {
		for _, p := range srv.seen() {
			if p == dealsTopic("BTCUSDT").Key() {
				return true
			}
		}
		return false
	})

	if sess.Status().State != StateConnected {
		t.Errorf("expected StateConnected after reconnect, got %s", sess.Status().State)
	}
}

func TestSession_PrivateStreamListenKey(t *testing.T) {
	var mu sync.Mutex
	var gotListenKey string

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotListenKey = r.URL.Query().Get("listenKey")
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	auth := &fakeAuth{key: "lk-123"}

	sess, err := NewSession(testSessionConfig(wsURL(server)), auth, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	sess.Close()

	mu.Lock()
	key := gotListenKey
	mu.Unlock()

	if key != "lk-123" {
		t.Errorf("expected listen key in stream URL, got %q", key)
	}
	if auth.created != 1 {
		t.Errorf("expected one listen key creation, got %d", auth.created)
	}
	if auth.closedKey != "lk-123" {
		t.Errorf("expected listen key closed on shutdown, got %q", auth.closedKey)
	}
}

type fakeAuth struct {
	mu        sync.Mutex
	key       string
	created   int
	kept      int
	closedKey string
	createErr error
}

func (f *fakeAuth) keptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kept
}

func (f *fakeAuth) CreateListenKey(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return f.key, nil
}

func (f *fakeAuth) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kept++
	return nil
}

func (f *fakeAuth) CloseListenKey(ctx context.Context, listenKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedKey = listenKey
	return nil
}

func TestSession_CreateListenKeyFailure(t *testing.T) {
	auth := &fakeAuth{createErr: errors.New("403")}

	sess, err := NewSession(testSessionConfig("ws://localhost:1"), auth, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	defer sess.Close()

	if err := sess.Connect(context.Background()); err == nil {
		t.Fatal("expected Connect to fail")
	}
	if sess.Status().State != StateDisconnected {
		t.Errorf("expected StateDisconnected after failed connect, got %s", sess.Status().State)
	}
}

func TestSession_ReconnectDoesNotLeakKeepAlive(t *testing.T) {
	// Server drops every connection shortly after the handshake, so the
	// session lands in Disconnected and can be connected again.
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(20 * time.Millisecond)
	})
	defer server.Close()

	auth := &fakeAuth{key: "lk-123"}

	cfg := testSessionConfig(wsURL(server))
	cfg.DisableReconnect = true
	cfg.KeepAliveInterval = 15 * time.Millisecond
	cfg.KeepAliveRetries = 1
	cfg.KeepAliveBackoff = time.Millisecond

	sess, err := NewSession(cfg, auth, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return sess.Status().State == StateDisconnected
	})

	// Second connect must replace the first keep-alive task, not stack
	// a second one on top of it.
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}

	sess.Close()
	if got := sess.Status().State; got != StateClosed {
		t.Fatalf("expected StateClosed, got %s", got)
	}

	kept := auth.keptCount()
	time.Sleep(80 * time.Millisecond)
	if got := auth.keptCount(); got != kept {
		t.Errorf("keep-alive refreshes continued after close: %d -> %d", kept, got)
	}
}

func TestSession_CloseAfterReconnectClosesReplacement(t *testing.T) {
	srv := &echoSubServer{}
	var mu sync.Mutex
	var conns int

	server := mockWSServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		conns++
		first := conns == 1
		mu.Unlock()

		if first {
			return // drop immediately to force a reconnect
		}
		srv.handler(conn)
	})
	defer server.Close()

	sess, err := NewSession(testSessionConfig(wsURL(server)), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var reconnected bool
	deadline := time.After(3 * time.Second)
	for !reconnected {
		select {
		case ev := <-sess.Events():
			if ev.Kind == StatusReconnected {
				reconnected = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for reconnect")
		}
	}

	sess.Close()

	// The replacement connection installed by the reconnect must be
	// torn down too, not just the one Close snapshotted.
	if sess.client.IsConnected() {
		t.Error("replacement client still connected after Close")
	}
}

func TestSession_EmitAfterCloseIsDropped(t *testing.T) {
	sess, err := NewSession(testSessionConfig("ws://localhost:1"), nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	sess.Close()

	// Late background emits must be silently dropped, not panic on the
	// closed status channel.
	sess.emit(StatusEvent{Kind: StatusProtocolError, At: time.Now()})
}

func TestSession_ConnectTimeout(t *testing.T) {
	cfg := testSessionConfig("ws://10.255.255.1:81")
	cfg.ConnectTimeout = 50 * time.Millisecond

	sess, err := NewSession(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	defer sess.Close()

	start := time.Now()
	err = sess.Connect(context.Background())
	if err == nil {
		t.Fatal("expected Connect to fail")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("connect did not honor timeout, took %s", elapsed)
	}
}
