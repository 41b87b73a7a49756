// Package venue exposes the operations collaborators use against the trading venue.
package venue

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/app/coordinator"
	"github.com/coachpo/venuelink/internal/domain/schema"
	"github.com/coachpo/venuelink/internal/infra/auth"
	"github.com/coachpo/venuelink/internal/infra/cache"
	"github.com/coachpo/venuelink/internal/infra/config"
	"github.com/coachpo/venuelink/internal/infra/transport/rest"
	"github.com/coachpo/venuelink/internal/infra/transport/stream"
)

const component = "venue"

// REST routes exposed by the venue bridge.
const (
	pathStatus    = "/api/v1/status"
	pathOrders    = "/api/v1/orders"
	pathPositions = "/api/v1/positions"
	pathAccount   = "/api/v1/account"
	pathSymbols   = "/api/v1/symbols"
	pathMarket    = "/api/v1/market"
)

const (
	keyPositions    = "positions"
	keyOrders       = "orders"
	keyAccount      = "account"
	keySymbols      = "symbols"
	keyMarketPrefix = "market:"
)

// Option customises a Client.
type Option func(*options)

type options struct {
	clock       clockwork.Clock
	log         zerolog.Logger
	httpClient  *http.Client
	dialer      stream.Dialer
	sink        ResultSink
	credentials CredentialSource
}

// WithClock injects the clock shared by cache, coordinator and stream timers.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithHTTPClient overrides the HTTP client used by the REST transport.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithDialer overrides the streaming dialer.
func WithDialer(d stream.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithResultSink registers where settled order results are persisted.
func WithResultSink(sink ResultSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithCredentialSource reads credentials from a collaborator instead of the config.
func WithCredentialSource(src CredentialSource) Option {
	return func(o *options) { o.credentials = src }
}

// Client is the venue link. One instance per configuration; the composing
// application owns its lifetime and must call Close.
type Client struct {
	cfg         config.AppConfig
	clock       clockwork.Clock
	log         zerolog.Logger
	signer      auth.Signer
	transport   *rest.Transport
	stream      *stream.Connection
	cache       *cache.Cache[any]
	coord       *coordinator.Coordinator
	orders      *coordinator.Throttler
	refresh     *coordinator.Debouncer[struct{}]
	market      *coordinator.Batcher[string, schema.MarketData]
	sink        ResultSink
	credentials CredentialSource
	handlers    conc.WaitGroup

	// epochMu orders invalidations against cache write-backs of in-flight fetches.
	epochMu sync.Mutex
	epochs  map[string]uint64
}

// New wires a client from cfg. Unset tuning fields take their defaults.
func New(cfg config.AppConfig, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		clock: clockwork.NewRealClock(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Client{
		cfg:         cfg,
		clock:       o.clock,
		log:         o.log.With().Str("component", component).Logger(),
		sink:        o.sink,
		credentials: o.credentials,
		epochs:      make(map[string]uint64),
	}

	transportOpts := []rest.Option{
		rest.WithTimeout(cfg.Transport.Timeout),
		rest.WithRateLimit(cfg.Transport.RateLimit, cfg.Transport.RateBurst),
		rest.WithLogger(o.log),
	}
	if o.httpClient != nil {
		transportOpts = append(transportOpts, rest.WithHTTPClient(o.httpClient))
	}
	transport, err := rest.New(cfg.BaseURL, transportOpts...)
	if err != nil {
		return nil, err
	}
	c.transport = transport

	probe := cache.AnyProbe{cache.EntryCountProbe{MaxEntries: cfg.Cache.MaxEntries}}
	if cfg.Cache.MemoryThresholdPercent > 0 {
		probe = append(probe, cache.SystemMemoryProbe{ThresholdPercent: cfg.Cache.MemoryThresholdPercent})
	}
	c.cache = cache.New[any](
		cache.WithName("venue"),
		cache.WithClock(o.clock),
		cache.WithLogger(o.log),
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
		cache.WithPressureProbe(probe),
	)

	c.coord = coordinator.New(coordinator.WithClock(o.clock), coordinator.WithLogger(o.log))
	c.orders = c.coord.Throttle("submit_order", cfg.Coordinator.OrderThrottle)
	c.refresh = coordinator.Debounce(c.coord, "refresh_positions", cfg.Coordinator.RefreshDebounce, c.refreshPositions)
	c.market = coordinator.Batch[string, schema.MarketData](c.coord, "market_data", cfg.Coordinator.MarketBatchSize, cfg.Coordinator.MarketBatchInterval, c.flushMarketData)

	if cfg.StreamEndpoint != "" {
		streamOpts := []stream.Option{
			stream.WithClock(o.clock),
			stream.WithLogger(o.log),
			stream.WithStateObserver(c.logTransition),
		}
		if o.dialer != nil {
			streamOpts = append(streamOpts, stream.WithDialer(o.dialer))
		}
		conn, err := stream.NewConnection(stream.Config{
			URL:              cfg.StreamEndpoint,
			Credential:       cfg.Credential(),
			BaseDelay:        cfg.Stream.BaseDelay,
			MaxAttempts:      cfg.Stream.MaxAttempts,
			Policy:           cfg.Stream.Policy,
			HandshakeTimeout: cfg.Stream.HandshakeTimeout,
			BufferSize:       cfg.Stream.BufferSize,
			FanoutWorkers:    cfg.Stream.FanoutWorkers,
		}, streamOpts...)
		if err != nil {
			c.coord.Close()
			c.cache.Close()
			return nil, err
		}
		c.stream = conn
	}
	return c, nil
}

// SubmitOrder places an order. Calls arriving within the order throttle window
// of an admitted call are rejected with coordinator.ErrThrottled. Results are never cached.
func (c *Client) SubmitOrder(ctx context.Context, req schema.OrderRequest) (schema.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return schema.OrderResult{}, err
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	if !c.orders.Allow() {
		return schema.OrderResult{}, coordinator.ErrThrottled
	}
	body, err := json.Marshal(req)
	if err != nil {
		return schema.OrderResult{}, fmt.Errorf("encode order: %w", err)
	}

	resp, err := c.call(ctx, "submit_order", http.MethodPost, pathOrders, nil, body)
	if err != nil {
		return schema.OrderResult{}, fmt.Errorf("submit order %s: %w", req.ClientOrderID, err)
	}
	res, err := rest.Decode[schema.OrderResult](resp)
	if err != nil {
		return schema.OrderResult{}, fmt.Errorf("submit order %s: %w", req.ClientOrderID, err)
	}
	if res.ClientOrderID == "" {
		res.ClientOrderID = req.ClientOrderID
	}

	c.invalidate(keyPositions, keyOrders, keyAccount)
	c.refresh.Call(struct{}{})
	c.record(ctx, req, res)
	c.log.Info().Str("client_order_id", res.ClientOrderID).Int64("order_id", res.OrderID).Str("symbol", req.Symbol).Msg("order submitted")
	return res, nil
}

// ClosePosition closes the position identified by ticket.
func (c *Client) ClosePosition(ctx context.Context, ticket int64) (schema.OrderResult, error) {
	if ticket <= 0 {
		return schema.OrderResult{}, errs.New(component, errs.CodeInvalid, errs.WithMessage("ticket must be > 0"))
	}
	path := pathPositions + "/" + strconv.FormatInt(ticket, 10) + "/close"
	resp, err := c.call(ctx, "close_position", http.MethodPost, path, nil, nil)
	if err != nil {
		return schema.OrderResult{}, fmt.Errorf("close position %d: %w", ticket, err)
	}
	res, err := rest.Decode[schema.OrderResult](resp)
	if err != nil {
		return schema.OrderResult{}, fmt.Errorf("close position %d: %w", ticket, err)
	}
	c.invalidate(keyPositions, keyAccount)
	c.record(ctx, schema.OrderRequest{Comment: "close " + strconv.FormatInt(ticket, 10)}, res)
	return res, nil
}

// FetchPositions returns open positions, served from cache when fresh.
func (c *Client) FetchPositions(ctx context.Context) ([]schema.Position, error) {
	return fetch[[]schema.Position](ctx, c, keyPositions, pathPositions, c.cfg.Cache.PositionsTTL)
}

// FetchOrders returns pending orders, served from cache when fresh.
func (c *Client) FetchOrders(ctx context.Context) ([]schema.Order, error) {
	return fetch[[]schema.Order](ctx, c, keyOrders, pathOrders, c.cfg.Cache.OrdersTTL)
}

// FetchAccount returns the account snapshot, served from cache when fresh.
func (c *Client) FetchAccount(ctx context.Context) (schema.Account, error) {
	return fetch[schema.Account](ctx, c, keyAccount, pathAccount, c.cfg.Cache.AccountTTL)
}

// FetchSymbols returns tradable symbols, served from cache when fresh.
func (c *Client) FetchSymbols(ctx context.Context) ([]string, error) {
	return fetch[[]string](ctx, c, keySymbols, pathSymbols, c.cfg.Cache.SymbolsTTL)
}

// FetchMarketData returns the latest quote for symbol. Cache misses from
// concurrent callers are coalesced into one batched request.
func (c *Client) FetchMarketData(ctx context.Context, symbol string) (schema.MarketData, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return schema.MarketData{}, errs.New(component, errs.CodeInvalid, errs.WithMessage("symbol required"))
	}
	if v, ok := c.cache.Get(keyMarketPrefix + symbol); ok {
		if md, ok := v.(schema.MarketData); ok {
			return md, nil
		}
	}
	return c.market.Load(ctx, symbol)
}

// Status fetches the venue bridge status.
func (c *Client) Status(ctx context.Context) (schema.Status, error) {
	resp, err := c.call(ctx, "status", http.MethodGet, pathStatus, nil, nil)
	if err != nil {
		return schema.Status{}, err
	}
	return rest.Decode[schema.Status](resp)
}

// TestConnectivity reports whether the venue answers the status route with a
// 2xx response within the transport timeout.
func (c *Client) TestConnectivity(ctx context.Context) bool {
	_, err := c.call(ctx, "test_connectivity", http.MethodGet, pathStatus, nil, nil)
	if err != nil {
		c.log.Debug().Err(err).Msg("connectivity check failed")
		return false
	}
	return true
}

// Subscribe delivers events of eventType to handler on a dedicated goroutine,
// preserving order. Fatal connection events are delivered to every handler.
// Cancel the returned subscription to stop delivery.
func (c *Client) Subscribe(eventType schema.EventType, handler func(schema.Event)) (*stream.Subscription, error) {
	if c.stream == nil {
		return nil, errs.Configuration(component, "stream endpoint not configured")
	}
	if handler == nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("handler required"))
	}
	sub, err := c.stream.Subscribe(eventType)
	if err != nil {
		return nil, err
	}
	c.handlers.Go(func() {
		for evt := range sub.C() {
			handler(evt)
		}
	})
	return sub, nil
}

// Connect opens the streaming connection.
func (c *Client) Connect(ctx context.Context) error {
	if c.stream == nil {
		return errs.Configuration(component, "stream endpoint not configured")
	}
	return c.stream.Connect(ctx)
}

// Disconnect closes the streaming connection without scheduling reconnects.
func (c *Client) Disconnect() {
	if c.stream != nil {
		c.stream.Disconnect()
	}
}

// StreamState returns the streaming connection state; Disconnected when no stream is configured.
func (c *Client) StreamState() schema.ConnectionState {
	if c.stream == nil {
		return schema.StateDisconnected
	}
	return c.stream.State()
}

// CacheStats exposes cache counters.
func (c *Client) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// Close releases timers, subscriptions and background work.
func (c *Client) Close() {
	c.coord.Close()
	if c.stream != nil {
		c.stream.Close()
	}
	c.handlers.Wait()
	c.cache.Close()
}

// fetched carries a downstream value with the invalidation epoch its call started in.
type fetched[T any] struct {
	value T
	epoch uint64
}

// fetch serves key from cache or one shared downstream call. A caller that
// joins a call started before the latest invalidation of key waits for it and
// then shares a new one, so at most one call per key is in flight and stale
// results never reach the cache.
func fetch[T any](ctx context.Context, c *Client, key, path string, ttl time.Duration) (T, error) {
	var zero T
	for {
		if v, ok := c.cache.Get(key); ok {
			if typed, ok := v.(T); ok {
				return typed, nil
			}
		}
		want := c.epoch(key)
		got, err := coordinator.Dedup(ctx, c.coord, key, func(ctx context.Context) (fetched[T], error) {
			start := c.epoch(key)
			resp, err := c.call(ctx, "fetch_"+key, http.MethodGet, path, nil, nil)
			if err != nil {
				return fetched[T]{}, fmt.Errorf("fetch %s: %w", key, err)
			}
			value, err := rest.Decode[T](resp)
			if err != nil {
				return fetched[T]{}, fmt.Errorf("fetch %s: %w", key, err)
			}
			c.storeIfCurrent(key, start, value, ttl)
			return fetched[T]{value: value, epoch: start}, nil
		})
		if err != nil {
			return zero, err
		}
		if got.epoch >= want {
			return got.value, nil
		}
		c.log.Debug().Str("key", key).Msg("shared fetch predates invalidation, refetching")
	}
}

func (c *Client) flushMarketData(ctx context.Context, symbols []string) (map[string]schema.MarketData, error) {
	query := url.Values{"symbols": {strings.Join(symbols, ",")}}
	resp, err := c.call(ctx, "fetch_market_data", http.MethodGet, pathMarket, query, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch market data: %w", err)
	}
	quotes, err := rest.Decode[[]schema.MarketData](resp)
	if err != nil {
		return nil, fmt.Errorf("fetch market data: %w", err)
	}
	out := make(map[string]schema.MarketData, len(quotes))
	for _, q := range quotes {
		sym := strings.ToUpper(q.Symbol)
		out[sym] = q
		c.cache.Set(keyMarketPrefix+sym, q, c.cfg.Cache.MarketTTL)
	}
	return out, nil
}

func (c *Client) refreshPositions(struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Transport.Timeout)
	defer cancel()
	if _, err := c.FetchPositions(ctx); err != nil {
		c.log.Warn().Err(err).Msg("positions refresh failed")
	}
}

func (c *Client) call(ctx context.Context, operation, method, path string, query url.Values, body []byte) (*rest.Response, error) {
	cred, err := c.credential(ctx)
	if err != nil {
		return nil, err
	}
	header, err := c.signer.Headers(c.clock.Now(), cred, method, path, body)
	if err != nil {
		return nil, err
	}
	return c.transport.Send(ctx, rest.Request{
		Method:    method,
		Path:      path,
		Query:     query,
		Header:    header,
		Body:      body,
		Operation: operation,
	})
}

func (c *Client) credential(ctx context.Context) (schema.Credential, error) {
	if c.credentials == nil {
		return c.cfg.Credential(), nil
	}
	cred, err := c.credentials.Credential(ctx)
	if err != nil {
		return schema.Credential{}, errs.New(component, errs.CodeConfiguration, errs.WithMessage("credential source"), errs.WithCause(err))
	}
	return cred, nil
}

func (c *Client) epoch(key string) uint64 {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	return c.epochs[key]
}

// storeIfCurrent caches value unless key was invalidated after the call started.
func (c *Client) storeIfCurrent(key string, start uint64, value any, ttl time.Duration) {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	if c.epochs[key] != start {
		return
	}
	c.cache.Set(key, value, ttl)
}

// invalidate drops cached values for keys. In-flight fetches keep running but
// their results are no longer written back.
func (c *Client) invalidate(keys ...string) {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	for _, key := range keys {
		c.epochs[key]++
	}
	c.cache.Delete(keys...)
}

func (c *Client) logTransition(from, to schema.ConnectionState) {
	evt := c.log.Info()
	if to == schema.StateReconnecting || to == schema.StateDisconnected {
		evt = c.log.Warn()
	}
	evt.Str("from", from.String()).Str("to", to.String()).Msg("stream state changed")
}

func (c *Client) record(ctx context.Context, req schema.OrderRequest, res schema.OrderResult) {
	if c.sink == nil {
		return
	}
	if err := c.sink.RecordResult(ctx, req, res); err != nil {
		c.log.Warn().Err(err).Str("client_order_id", res.ClientOrderID).Msg("result sink rejected order result")
	}
}
