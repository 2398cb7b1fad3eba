package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamkit/mexc-stream/codec"
)

// AuthProvider manages listen key lifecycle for private streams.
// The rest package's Client satisfies this interface.
type AuthProvider interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

// Session manages one logical stream connection: the underlying
// WebSocket, the subscription registry, reconnection, and for private
// streams the listen key keep-alive task.
//
// A Session moves through states Disconnected, Connecting, Connected,
// Closing, Closed. Once closed it cannot be reused.
type Session struct {
	id     string
	cfg    SessionConfig
	auth   AuthProvider
	logger *slog.Logger

	codec    codec.Codec
	registry *Registry

	mu        sync.Mutex
	state     State
	client    Client
	wsURL     string
	listenKey string
	keepAlive *keepAlive
	degraded  bool

	statusMu     sync.Mutex
	status       chan StatusEvent
	statusClosed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewSession creates a session from cfg. An AuthProvider is required
// only for private streams; pass nil for public market data.
func NewSession(cfg SessionConfig, auth AuthProvider, logger *slog.Logger) (*Session, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("session: URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := cfg.Codec
	if c == nil {
		c = codec.NewJSONCodec(cfg.UseBinaryProtocol)
	}

	id := uuid.New().String()[:8]

	return &Session{
		id:       id,
		cfg:      cfg,
		auth:     auth,
		logger:   logger.With("session", id),
		codec:    c,
		registry: NewRegistry(cfg.MaxSubscriptions, cfg.OverflowPolicy),
		state:    StateDisconnected,
		status:   make(chan StatusEvent, 16),
	}, nil
}

// ID returns the session's identifier, used in log lines.
func (s *Session) ID() string {
	return s.id
}

// Connect dials the stream endpoint and starts the dispatch loop. For
// private sessions it first creates a listen key and starts the
// keep-alive task. Calling Connect on an already connected session is a
// no-op; calling it after Close returns ErrClosed.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateClosing:
		s.mu.Unlock()
		return ErrClosed
	case StateConnected, StateConnecting:
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StateConnecting)
	prevKeepAlive := s.keepAlive
	prevCancel := s.cancel
	s.keepAlive = nil
	s.cancel = nil
	s.mu.Unlock()

	// A reconnect-after-disconnect must not leave the previous
	// connection's background tasks running.
	if prevKeepAlive != nil {
		prevKeepAlive.stop()
	}
	if prevCancel != nil {
		prevCancel()
	}
	s.wg.Wait()

	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	wsURL := s.cfg.URL

	if s.auth != nil {
		key := s.cfg.ListenKey
		if key == "" {
			var err error
			key, err = s.auth.CreateListenKey(ctx)
			if err != nil {
				s.failConnect()
				return fmt.Errorf("create listen key: %w", err)
			}
		}

		s.mu.Lock()
		s.listenKey = key
		s.mu.Unlock()

		u, err := url.Parse(wsURL)
		if err != nil {
			s.failConnect()
			return fmt.Errorf("parse stream URL: %w", err)
		}
		q := u.Query()
		q.Set("listenKey", key)
		u.RawQuery = q.Encode()
		wsURL = u.String()
	}

	client := NewClient(s.clientConfig(wsURL), s.logger)

	if err := client.Connect(ctx); err != nil {
		s.failConnect()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: connect to %s", ErrTimeout, s.cfg.URL)
		}
		return err
	}

	s.mu.Lock()
	s.client = client
	s.wsURL = wsURL
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.setStateLocked(StateConnected)
	s.degraded = false

	if s.auth != nil {
		s.keepAlive = newKeepAlive(s.auth, s.listenKey, s.cfg, s.onKeepAliveFailure, s.logger)
		s.keepAlive.start(s.ctx)
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.dispatchLoop(client)

	s.logger.Info("session connected", "url", s.cfg.URL, "private", s.auth != nil)

	return nil
}

func (s *Session) clientConfig(wsURL string) ClientConfig {
	return ClientConfig{
		URL:              wsURL,
		HandshakeTimeout: s.cfg.ConnectTimeout,
		PingInterval:     s.cfg.PingInterval,
		ReadTimeout:      s.cfg.ReadTimeout,
		WriteTimeout:     s.cfg.WriteTimeout,
		BufferSize:       s.cfg.BufferSize,
		PingFrame:        s.codec.EncodePing(),
	}
}

func (s *Session) failConnect() {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()
}

// Subscribe registers cb for topic and sends the subscription request.
// When the registry is full under PolicyEvictOldest the oldest
// subscription is unsubscribed first; under PolicyReject the call fails
// with ErrCapacity. Subscribing to a topic that is already registered
// replaces its callback without a wire round trip.
func (s *Session) Subscribe(topic codec.Topic, cb Callback) error {
	if err := topic.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	client := s.client
	s.mu.Unlock()

	key := topic.Key()

	evicted, replaced, err := s.registry.Add(topic, cb)
	if err != nil {
		return err
	}
	if replaced {
		s.logger.Debug("subscription callback replaced", "topic", key)
		return nil
	}

	if evicted != "" {
		s.logger.Info("evicting oldest subscription", "topic", evicted)
		if frame, err := s.codec.EncodeUnsubscribe([]string{evicted}); err == nil {
			if err := client.Send(frame); err != nil {
				s.logger.Warn("failed to send unsubscribe for evicted topic",
					"topic", evicted,
					"error", err,
				)
			}
		}
	}

	frame, err := s.codec.EncodeSubscribe([]codec.Topic{topic})
	if err != nil {
		s.registry.Remove(key)
		return err
	}
	if err := client.Send(frame); err != nil {
		s.registry.Remove(key)
		return fmt.Errorf("send subscribe: %w", err)
	}

	s.logger.Debug("subscribed", "topic", key)

	return nil
}

// Unsubscribe removes the subscription for topic and sends the
// unsubscription request. Unknown topics are a no-op.
func (s *Session) Unsubscribe(topic codec.Topic) error {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return ErrClosed
	}
	client := s.client
	state := s.state
	s.mu.Unlock()

	key := topic.Key()
	if !s.registry.Remove(key) {
		return nil
	}

	if state != StateConnected {
		return nil
	}

	frame, err := s.codec.EncodeUnsubscribe([]string{key})
	if err != nil {
		return err
	}
	if err := client.Send(frame); err != nil {
		return fmt.Errorf("send unsubscribe: %w", err)
	}

	s.logger.Debug("unsubscribed", "topic", key)

	return nil
}

// UnsubscribeAll removes every subscription in one request and returns
// the removed topic keys.
func (s *Session) UnsubscribeAll() ([]string, error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	client := s.client
	state := s.state
	s.mu.Unlock()

	keys := s.registry.RemoveAll()
	if len(keys) == 0 || state != StateConnected {
		return keys, nil
	}

	frame, err := s.codec.EncodeUnsubscribe(keys)
	if err != nil {
		return keys, err
	}
	if err := client.Send(frame); err != nil {
		return keys, fmt.Errorf("send unsubscribe: %w", err)
	}

	s.logger.Debug("unsubscribed all", "count", len(keys))

	return keys, nil
}

// Close tears the session down: unsubscribes everything best-effort,
// stops the keep-alive task, invalidates the listen key, and closes the
// connection. Close never returns an error and is safe to call more
// than once; operations after Close return ErrClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.setStateLocked(StateClosing)
		client := s.client
		ka := s.keepAlive
		listenKey := s.listenKey
		cancel := s.cancel
		s.mu.Unlock()

		if prev == StateConnected && client != nil {
			if keys := s.registry.RemoveAll(); len(keys) > 0 {
				if frame, err := s.codec.EncodeUnsubscribe(keys); err == nil {
					if err := client.Send(frame); err != nil {
						s.logger.Debug("unsubscribe on close failed", "error", err)
					}
				}
			}
		}

		if ka != nil {
			ka.stop()
		}

		if s.auth != nil && listenKey != "" {
			ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.auth.CloseListenKey(ctx, listenKey); err != nil {
				s.logger.Warn("failed to close listen key", "error", err)
			}
			ctxCancel()
		}

		if cancel != nil {
			cancel()
		}
		if client != nil {
			client.Close()
		}

		s.wg.Wait()

		// A reconnect racing with this teardown may have swapped in a
		// replacement client; close whatever is installed now as well.
		s.mu.Lock()
		if s.client != nil {
			s.client.Close()
		}
		s.setStateLocked(StateClosed)
		s.mu.Unlock()

		s.statusMu.Lock()
		s.statusClosed = true
		close(s.status)
		s.statusMu.Unlock()

		s.logger.Info("session closed")
	})
}

// Status returns a snapshot of the session's current state.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		State:         s.state,
		Degraded:      s.degraded,
		Subscriptions: s.registry.Size(),
	}
}

// Events returns the status event channel. Events are dropped rather
// than block the session when the channel's buffer is full.
func (s *Session) Events() <-chan StatusEvent {
	return s.status
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.emit(StatusEvent{Kind: StatusStateChange, State: state, At: time.Now()})
}

func (s *Session) emit(ev StatusEvent) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if s.statusClosed {
		return
	}
	select {
	case s.status <- ev:
	default:
	}
}

func (s *Session) onKeepAliveFailure(err error) {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()

	s.emit(StatusEvent{
		Kind:  StatusKeepAliveFailure,
		State: StateConnected,
		Err:   err,
		At:    time.Now(),
	})
}

// dispatchLoop reads frames from the client and routes them to
// subscription callbacks. Callbacks run on this single goroutine, so
// events for one session are always delivered in arrival order.
func (s *Session) dispatchLoop(client Client) {
	defer s.wg.Done()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-client.Errors():
			if !ok {
				return
			}
			s.logger.Warn("connection error", "error", err)
			if s.cfg.DisableReconnect {
				s.mu.Lock()
				if s.state == StateConnected {
					s.setStateLocked(StateDisconnected)
				}
				s.mu.Unlock()
				return
			}
			if !s.reconnect(ctx, client) {
				return
			}
			s.mu.Lock()
			client = s.client
			s.mu.Unlock()
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			s.handleFrame(msg)
		}
	}
}

func (s *Session) handleFrame(msg TimestampedMessage) {
	frame, err := s.codec.Decode(msg.Data)
	if err != nil {
		s.logger.Warn("undecodable frame", "error", err)
		s.emit(StatusEvent{
			Kind: StatusProtocolError,
			Err:  err,
			At:   msg.ReceivedAt,
		})
		return
	}

	switch frame.Kind {
	case codec.KindEvent:
		sub, ok := s.registry.Lookup(frame.Topic)
		if !ok {
			s.logger.Debug("event for unknown topic dropped", "topic", frame.Topic)
			return
		}
		sub.Callback(Event{
			Topic:      frame.Topic,
			Symbol:     frame.Symbol,
			Payload:    frame.Payload,
			SentAt:     frame.SentAt,
			ReceivedAt: msg.ReceivedAt,
		})
	case codec.KindAck:
		s.logger.Debug("server ack", "msg", frame.Msg)
	case codec.KindPong:
		// Keep-alive response, nothing to do.
	case codec.KindError:
		s.logger.Warn("server error", "code", frame.Code, "msg", frame.Msg)
		s.emit(StatusEvent{
			Kind: StatusProtocolError,
			Err:  fmt.Errorf("server error %d: %s", frame.Code, frame.Msg),
			At:   msg.ReceivedAt,
		})
	}
}

// reconnect redials with exponential backoff and replays the
// subscription snapshot. Returns false when the session is shutting
// down.
func (s *Session) reconnect(ctx context.Context, old Client) bool {
	old.Close()

	s.mu.Lock()
	s.setStateLocked(StateConnecting)
	wsURL := s.wsURL
	s.mu.Unlock()

	delay := s.cfg.ReconnectBaseDelay

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		s.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		client := NewClient(s.clientConfig(wsURL), s.logger)
		if err := client.Connect(ctx); err != nil {
			s.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			delay *= 2
			if delay > s.cfg.ReconnectMaxDelay {
				delay = s.cfg.ReconnectMaxDelay
			}
			continue
		}

		if err := s.replay(client); err != nil {
			s.logger.Warn("subscription replay failed", "error", err)
			client.Close()
			continue
		}

		s.mu.Lock()
		s.client = client
		s.setStateLocked(StateConnected)
		s.mu.Unlock()

		s.emit(StatusEvent{Kind: StatusReconnected, State: StateConnected, At: time.Now()})
		s.logger.Info("reconnected", "attempt", attempt, "subscriptions", s.registry.Size())

		return true
	}
}

// replay re-sends the subscribe request for every registered topic.
func (s *Session) replay(client Client) error {
	subs := s.registry.Snapshot()
	if len(subs) == 0 {
		return nil
	}

	topics := make([]codec.Topic, 0, len(subs))
	for _, sub := range subs {
		topics = append(topics, sub.Topic)
	}

	frame, err := s.codec.EncodeSubscribe(topics)
	if err != nil {
		return err
	}
	return client.Send(frame)
}
