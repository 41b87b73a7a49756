// Package rest issues single-attempt, time-bounded request/response calls against the venue.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/coachpo/venuelink/errs"
)

const (
	component = "rest"

	defaultTimeout  = 10 * time.Second
	maxBodyBytes    = 8 << 20
	maxErrBodyBytes = 4 << 10
)

// Request describes one call. Path is resolved against the transport's base URL.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	Body    []byte
	Timeout time.Duration
	// Operation names the call for metrics and logs.
	Operation string
}

// Response is a successful (2xx) reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs REST calls. It never retries.
type Transport struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	log     zerolog.Logger
	metrics *transportMetrics
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithTimeout sets the default per-call deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

// WithRateLimit paces outgoing calls. Waiting for a token counts against the call's deadline.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *Transport) {
		if perSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the transport logger.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

// New constructs a transport rooted at baseURL.
func New(baseURL string, opts ...Option) (*Transport, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return nil, errs.Configuration(component, fmt.Sprintf("invalid base url %q", baseURL))
	}
	t := &Transport{
		baseURL: trimmed,
		client:  &http.Client{},
		timeout: defaultTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.log = t.log.With().Str("component", "rest_transport").Logger()
	t.metrics = newTransportMetrics()
	return t, nil
}

// BaseURL returns the resolved base URL.
func (t *Transport) BaseURL() string { return t.baseURL }

// Send performs a single attempt. The deadline timer and the in-flight request are released
// together on every path; once the deadline fires any late response is discarded.
func (t *Transport) Send(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.timeout
	}
	operation := req.Operation
	if operation == "" {
		operation = method + " " + req.Path
	}

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := t.do(reqCtx, method, req)
	t.metrics.record(ctx, operation, method, resp, err, time.Since(start))
	if err != nil {
		err = classify(ctx, reqCtx, err)
		t.log.Debug().Err(err).Str("operation", operation).Dur("elapsed", time.Since(start)).Msg("request failed")
		return nil, err
	}
	return resp, nil
}

func (t *Transport) do(ctx context.Context, method string, req Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, t.resolve(req.Path, req.Query), body)
	if err != nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("build request"), errs.WithCause(err))
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyBytes))
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header}, apiError(resp.StatusCode, raw)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}

func (t *Transport) resolve(path string, query url.Values) string {
	target := t.baseURL
	if path != "" {
		if !strings.HasPrefix(path, "/") {
			target += "/"
		}
		target += path
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	return target
}

func classify(parent, reqCtx context.Context, err error) error {
	var envelope *errs.E
	if errors.As(err, &envelope) {
		return err
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return errs.Timeout(component, err)
	}
	if parent.Err() != nil {
		return fmt.Errorf("rest call canceled: %w", parent.Err())
	}
	return errs.New(component, errs.CodeNetwork, errs.WithCause(err))
}

type errorEnvelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func apiError(status int, raw []byte) error {
	trimmed := strings.TrimSpace(string(raw))
	var payload errorEnvelope
	if len(trimmed) > 0 && json.Unmarshal(raw, &payload) == nil && (payload.Error != "" || payload.Code != "") {
		return errs.New(component, errs.CodeExchange,
			errs.WithHTTP(status),
			errs.WithRawCode(payload.Code),
			errs.WithRawMessage(payload.Error),
			errs.WithMessage(http.StatusText(status)))
	}
	return errs.API(component, status, "", trimmed)
}
