package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/schedule"
)

// Client implements remote.Adapter against a Server.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	backoff schedule.Backoff
	clock   schedule.Clock
}

var _ remote.Adapter = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBearerToken sends "Authorization: Bearer <token>".
func WithBearerToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithReconnectBackoff sets the delay policy between subscription
// reconnects.
func WithReconnectBackoff(b schedule.Backoff) ClientOption {
	return func(c *Client) { c.backoff = b }
}

// WithClientClock sets the clock that times reconnect waits.
func WithClientClock(clock schedule.Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse remote url: unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		base:    u,
		http:    &http.Client{},
		dialer:  websocket.DefaultDialer,
		backoff: schedule.Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		clock:   schedule.SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

// ApplyMutation posts m. Transport failures are classified transient.
func (c *Client) ApplyMutation(ctx context.Context, m remote.Mutation) error {
	body, err := json.Marshal(m)
	if err != nil {
		return remote.Permanent(remote.CodeInvalid, fmt.Errorf("encode mutation: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v1/mutations"), bytes.NewReader(body))
	if err != nil {
		return remote.Permanent(remote.CodeInvalid, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.IdempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, m.IdempotencyKey)
	}
	return c.do(req)
}

// Probe performs GET /v1/health. The caller bounds it with ctx.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/v1/health"), nil)
	if err != nil {
		return remote.Permanent(remote.CodeInvalid, err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	c.authorize(req.Header)
	resp, err := c.http.Do(req)
	if err != nil {
		return remote.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeError(resp)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		body.Code = codeFor(resp.StatusCode)
		body.Error = strings.TrimSpace(string(data))
	}
	cause := fmt.Errorf("remote returned %d: %s", resp.StatusCode, body.Error)
	return &remote.Error{Kind: body.Code.KindOf(), Code: body.Code, Err: cause}
}

// Subscribe opens a websocket subscription. Connection failures never end
// the subscription: each one is reported to sink.OnError and the client
// reconnects after a backoff delay until Close. ctx bounds only the setup;
// the subscription lives until Close.
func (c *Client) Subscribe(ctx context.Context, q remote.Query, sink remote.Sink) (remote.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, remote.Classify(err)
	}
	target, err := c.subscribeURL(q)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &clientSubscription{
		c:      c,
		url:    target,
		sink:   sink,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(loopCtx)
	return s, nil
}

func (c *Client) subscribeURL(q remote.Query) (string, error) {
	if q.Collection == "" {
		return "", remote.Permanent(remote.CodeInvalid, errors.New("subscription requires a collection"))
	}
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/v1/subscribe"

	v := url.Values{}
	v.Set("collection", q.Collection)
	if q.Field != "" {
		v.Set("field", q.Field)
		raw, err := json.Marshal(q.Value)
		if err != nil {
			return "", remote.Permanent(remote.CodeInvalid, fmt.Errorf("encode query value: %w", err))
		}
		v.Set("value", string(raw))
	}
	if q.Deleted {
		v.Set("deleted", "true")
	}
	u.RawQuery = v.Encode()
	return u.String(), nil
}

type clientSubscription struct {
	c    *Client
	url  string
	sink remote.Sink

	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *clientSubscription) run(ctx context.Context) {
	defer close(s.done)

	failures := 0
	for ctx.Err() == nil {
		err := s.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			failures = 0
			continue
		}
		s.sink.OnError(err)
		delay := s.c.backoff.Delay(failures)
		failures++
		slog.Debug("subscription reconnect scheduled",
			"event", "ws_reconnect",
			"url", s.url,
			"delay", delay,
			"error", err)
		if !s.wait(ctx, delay) {
			return
		}
	}
}

// stream runs one connection until it fails. It returns nil only when the
// server closed the stream normally.
func (s *clientSubscription) stream(ctx context.Context) error {
	h := http.Header{}
	s.c.authorize(h)
	conn, resp, err := s.c.dialer.DialContext(ctx, s.url, h)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return remote.Classify(err)
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return ctx.Err()
	}
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return remote.Transient(remote.CodeUnavailable, err)
		}
		var msg streamMessage
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&msg); err != nil {
			return remote.Transient(remote.CodeUnavailable, fmt.Errorf("decode stream message: %w", err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch msg.Type {
		case "batch":
			if msg.Batch != nil {
				s.sink.OnBatch(*msg.Batch)
			}
		case "error":
			code := msg.Code
			if code == "" {
				code = remote.CodeUnavailable
			}
			s.sink.OnError(&remote.Error{Kind: code.KindOf(), Code: code, Err: errors.New(msg.Error)})
		}
	}
}

func (s *clientSubscription) wait(ctx context.Context, d time.Duration) bool {
	fired := make(chan struct{})
	t := s.c.clock.AfterFunc(d, func() { close(fired) })
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-fired:
		return true
	}
}

// Close stops the subscription and waits for its goroutine to exit, so no
// sink call happens after Close returns. It must not be called from inside
// the sink.
func (s *clientSubscription) Close() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}
