// Package stream maintains the long-lived, authenticated streaming session to the venue.
//
// A Connection walks Disconnected → Connecting → Authenticating → Connected and
// self-heals through Reconnecting with a bounded number of attempts. Events are
// delivered through a Hub; when attempts are exhausted every subscriber receives
// a single fatal event and the connection stays Closed until Connect is called again.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/domain/schema"
	"github.com/coachpo/venuelink/internal/infra/auth"
	"github.com/coachpo/venuelink/internal/infra/telemetry"
)

const (
	component = "stream"

	defaultBaseDelay        = 5 * time.Second
	defaultMaxAttempts      = 5
	defaultHandshakeTimeout = 10 * time.Second
)

var (
	errHandshakeTimeout = errors.New("auth acknowledgement not received")
	errStaleAttempt     = errors.New("connection attempt superseded")
)

// Config controls a Connection.
type Config struct {
	URL              string
	Credential       schema.Credential
	BaseDelay        time.Duration
	MaxAttempts      int
	Policy           string
	HandshakeTimeout time.Duration
	BufferSize       int
	FanoutWorkers    int
}

func (c Config) normalize() Config {
	c.URL = strings.TrimSpace(c.URL)
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.Policy == "" {
		c.Policy = PolicyLinear
	}
	return c
}

// StateObserver is notified after every state transition, outside the connection lock.
type StateObserver func(from, to schema.ConnectionState)

// Option customises a Connection.
type Option func(*Connection)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Connection) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithClock injects the clock that drives reconnect and handshake timers.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Connection) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the connection logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Connection) {
		c.log = log
	}
}

// WithBackOff overrides the reconnect delay policy built from Config.Policy.
func WithBackOff(b backoff.BackOff) Option {
	return func(c *Connection) {
		if b != nil {
			c.policy = b
		}
	}
}

// WithStateObserver registers fn for state transitions.
func WithStateObserver(fn StateObserver) Option {
	return func(c *Connection) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

type transition struct {
	from, to schema.ConnectionState
}

// Connection is the streaming session owner. It is safe for concurrent use.
type Connection struct {
	cfg     Config
	dialer  Dialer
	clock   clockwork.Clock
	log     zerolog.Logger
	signer  auth.Signer
	policy  backoff.BackOff
	hub     *Hub
	metrics *streamMetrics

	observers []StateObserver

	mu          sync.Mutex
	state       schema.ConnectionState
	attempts    int
	generation  uint64
	session     Session
	cancel      context.CancelFunc
	retryTimer  clockwork.Timer
	ackTimer    clockwork.Timer
	transitions []transition
}

// NewConnection validates cfg and constructs a Connection in Disconnected.
func NewConnection(cfg Config, opts ...Option) (*Connection, error) {
	cfg = cfg.normalize()
	if cfg.URL == "" {
		return nil, errs.Configuration(component, "stream endpoint required")
	}
	if err := cfg.Credential.Validate(); err != nil {
		return nil, err
	}
	c := &Connection{
		cfg:     cfg,
		dialer:  WebsocketDialer{},
		clock:   clockwork.NewRealClock(),
		log:     zerolog.Nop(),
		state:   schema.StateDisconnected,
		metrics: newStreamMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.policy == nil {
		c.policy = NewBackOff(cfg.Policy, cfg.BaseDelay)
	}
	c.log = c.log.With().Str("component", "stream_connection").Logger()
	c.hub = NewHub(cfg.BufferSize, cfg.FanoutWorkers, c.log)
	return c, nil
}

// State returns the current state.
func (c *Connection) State() schema.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the reconnect attempt counter.
func (c *Connection) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Subscribe registers for events of typ. Fatal events reach every subscription.
func (c *Connection) Subscribe(typ schema.EventType) (*Subscription, error) {
	return c.hub.Subscribe(typ)
}

// Connect opens a session from Disconnected or Closed. It returns once the auth
// handshake has been sent; Connected is reached when the venue acknowledges it.
// A dial failure returns a connection error and leaves the connection Disconnected.
func (c *Connection) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	switch c.state {
	case schema.StateDisconnected, schema.StateClosed:
	case schema.StateConnected:
		c.mu.Unlock()
		return nil
	default:
		state := c.state
		c.mu.Unlock()
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("connect not allowed while "+state.String()))
	}
	c.generation++
	gen := c.generation
	c.attempts = 0
	c.policy.Reset()
	c.setStateLocked(schema.StateConnecting)
	c.unlock()

	return c.open(ctx, gen, false)
}

// Disconnect moves any non-terminal state to Closed immediately. Pending reconnect
// timers are cancelled and no reconnection is scheduled. The session is closed in
// the background so the caller never waits on network I/O.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.state == schema.StateClosed {
		c.mu.Unlock()
		return
	}
	c.generation++
	sess := c.teardownLocked()
	c.setStateLocked(schema.StateClosed)
	c.unlock()

	closeAsync(sess)
	c.log.Info().Msg("disconnected by caller")
}

// Close disconnects and releases every subscription.
func (c *Connection) Close() {
	c.Disconnect()
	c.hub.Close()
}

func (c *Connection) open(ctx context.Context, gen uint64, reconnect bool) error {
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		cancel()
		return errs.Connection(component, errStaleAttempt)
	}
	c.cancel = cancel
	c.mu.Unlock()

	// Caller cancellation aborts the dial only; an established session outlives ctx.
	dialCtx, stopDial := context.WithCancel(sessCtx)
	stop := context.AfterFunc(ctx, stopDial)
	sess, err := c.dialer.Dial(dialCtx, c.cfg.URL)
	stop()
	stopDial()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		cancel()
		closeAsync(sess)
		return errs.Connection(component, errStaleAttempt)
	}
	if err != nil {
		cancel()
		c.cancel = nil
		connErr := errs.Connection(component, err)
		if reconnect {
			c.log.Warn().Err(err).Int("attempt", c.attempts).Msg("reconnect dial failed")
			fatal := c.scheduleReconnectLocked()
			c.unlock()
			c.emitFatal(fatal)
			return connErr
		}
		c.setStateLocked(schema.StateDisconnected)
		c.unlock()
		c.log.Warn().Err(err).Msg("dial failed")
		return connErr
	}
	c.session = sess
	c.setStateLocked(schema.StateAuthenticating)
	c.unlock()

	payload, err := encodeAuth(c.signer, c.cfg.Credential, c.clock.Now())
	if err != nil {
		c.fault(gen, err)
		return err
	}
	c.mu.Lock()
	if gen == c.generation {
		c.ackTimer = c.clock.AfterFunc(c.cfg.HandshakeTimeout, func() {
			c.fault(gen, errHandshakeTimeout)
		})
	}
	c.mu.Unlock()

	go c.readLoop(sessCtx, gen, sess)

	if err := sess.Write(sessCtx, payload); err != nil {
		c.fault(gen, fmt.Errorf("send auth: %w", err))
	}
	return nil
}

func (c *Connection) readLoop(ctx context.Context, gen uint64, sess Session) {
	for {
		raw, err := sess.Read(ctx)
		if err != nil {
			c.fault(gen, err)
			return
		}
		c.handle(ctx, gen, raw)
	}
}

func (c *Connection) handle(ctx context.Context, gen uint64, raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		c.log.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed envelope")
		c.dropped(ctx, "", "malformed")
		return
	}
	c.metrics.received.Add(ctx, 1, metric.WithAttributes(telemetry.EventAttributes(telemetry.Environment(), string(env.Type))...))

	if env.Type == schema.EventTypeAuth {
		c.acknowledge(gen, env)
		return
	}
	if !env.Type.IsData() {
		c.log.Debug().Str("type", string(env.Type)).Msg("ignoring unknown envelope type")
		c.dropped(ctx, env.Type, "unknown_type")
		return
	}

	c.mu.Lock()
	live := gen == c.generation
	state := c.state
	c.mu.Unlock()
	if !live {
		return
	}
	if state != schema.StateConnected {
		c.dropped(ctx, env.Type, "pre_connected")
		return
	}
	c.hub.Publish(ctx, schema.Event{
		Type:      env.Type,
		Data:      env.body(),
		Timestamp: env.time(c.clock.Now()),
	})
}

func (c *Connection) acknowledge(gen uint64, env inboundEnvelope) {
	var ack authAck
	if body := env.body(); len(body) > 0 {
		if err := json.Unmarshal(body, &ack); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed auth acknowledgement")
			c.dropped(context.Background(), env.Type, "malformed")
			return
		}
	}

	c.mu.Lock()
	if gen != c.generation || c.state != schema.StateAuthenticating {
		c.mu.Unlock()
		return
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	if !ack.Success {
		c.generation++
		sess := c.teardownLocked()
		c.setStateLocked(schema.StateClosed)
		c.unlock()
		closeAsync(sess)
		msg := "authentication rejected"
		if ack.Error != "" {
			msg += ": " + ack.Error
		}
		c.emitFatal(errs.Fatal(component, msg, nil))
		return
	}
	c.attempts = 0
	c.policy.Reset()
	c.setStateLocked(schema.StateConnected)
	c.unlock()
	c.log.Info().Msg("stream authenticated")
}

// fault handles a session error that the caller did not initiate.
func (c *Connection) fault(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.state != schema.StateAuthenticating && c.state != schema.StateConnected {
		c.mu.Unlock()
		return
	}
	c.generation++
	sess := c.teardownLocked()
	c.log.Warn().Err(cause).Str("state", c.state.String()).Msg("stream session fault")
	fatal := c.scheduleReconnectLocked()
	c.unlock()

	closeAsync(sess)
	c.emitFatal(fatal)
}

// scheduleReconnectLocked either arms the next attempt or, once attempts are
// exhausted, moves to Closed and returns the fatal error to emit.
func (c *Connection) scheduleReconnectLocked() error {
	c.attempts++
	if c.attempts > c.cfg.MaxAttempts {
		c.setStateLocked(schema.StateClosed)
		return errs.Fatal(component, fmt.Sprintf("reconnect attempts exhausted after %d tries", c.cfg.MaxAttempts), nil)
	}
	delay := c.policy.NextBackOff()
	if delay == backoff.Stop {
		c.setStateLocked(schema.StateClosed)
		return errs.Fatal(component, "reconnect policy stopped", nil)
	}
	c.setStateLocked(schema.StateReconnecting)
	gen := c.generation
	c.retryTimer = c.clock.AfterFunc(delay, func() {
		c.reconnect(gen)
	})
	c.metrics.reconnectDelay.Record(context.Background(), float64(delay.Milliseconds()),
		metric.WithAttributes(telemetry.AttrEnvironment.String(telemetry.Environment())))
	c.log.Info().Int("attempt", c.attempts).Dur("delay", delay).Msg("reconnect scheduled")
	return nil
}

func (c *Connection) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != schema.StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.generation++
	next := c.generation
	c.setStateLocked(schema.StateConnecting)
	c.unlock()

	_ = c.open(context.Background(), next, true)
}

// teardownLocked cancels timers and the session context and detaches the session.
func (c *Connection) teardownLocked() Session {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	sess := c.session
	c.session = nil
	return sess
}

func (c *Connection) setStateLocked(next schema.ConnectionState) {
	if c.state == next {
		return
	}
	c.transitions = append(c.transitions, transition{from: c.state, to: next})
	c.state = next
}

// unlock releases c.mu and then notifies observers of queued transitions.
func (c *Connection) unlock() {
	pending := c.transitions
	c.transitions = nil
	c.mu.Unlock()

	for _, t := range pending {
		c.metrics.transitions.Add(context.Background(), 1,
			metric.WithAttributes(telemetry.ConnectionAttributes(telemetry.Environment(), t.to.String())...))
		for _, fn := range c.observers {
			fn(t.from, t.to)
		}
	}
}

func (c *Connection) emitFatal(err error) {
	if err == nil {
		return
	}
	c.log.Error().Err(err).Msg("stream connection closed")
	c.metrics.fatal.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.AttrEnvironment.String(telemetry.Environment())))
	c.hub.Broadcast(context.Background(), schema.Event{
		Type:      schema.EventTypeFatal,
		Timestamp: c.clock.Now(),
		Err:       err,
	})
}

func (c *Connection) dropped(ctx context.Context, typ schema.EventType, reason string) {
	attrs := telemetry.EventAttributes(telemetry.Environment(), string(typ))
	attrs = append(attrs, telemetry.AttrReason.String(reason))
	c.metrics.dropped.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func closeAsync(sess Session) {
	if sess == nil {
		return
	}
	go func() {
		_ = sess.Close()
	}()
}
