// Package streamclient consumes the notification SSE stream with automatic
// reconnects. It is the transport for headless consumers (the agent binary
// and the inbox reconciler); a browser would use EventSource instead.
package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lexcomms/internal/logger"
	"github.com/lexcomms/internal/stream"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
)

const defaultReconnectDelay = 5 * time.Second

// Handler receives each decoded notification frame, in arrival order, on
// the client's run goroutine.
type Handler func(ev stream.EventPayload)

type Client struct {
	url     string
	token   string
	handler Handler

	httpClient     *http.Client
	reconnectDelay time.Duration
	onState        func(State)

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Client)

// WithReconnectDelay overrides the fixed delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// WithHTTPClient substitutes the transport (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithStateFunc observes every state transition.
func WithStateFunc(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

func New(url, token string, handler Handler, opts ...Option) *Client {
	c := &Client{
		url:            url,
		token:          token,
		handler:        handler,
		httpClient:     &http.Client{},
		reconnectDelay: defaultReconnectDelay,
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.onState != nil {
		c.onState(s)
	}
}

// Start launches the connect loop. Calling Start on a running client is a
// no-op.
func (c *Client) Start() {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(ctx)
	}()
}

// Stop tears the connection down and cancels any pending reconnect timer.
// It blocks until the run goroutine has exited and leaves the client idle;
// a stopped client may be started again.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.setState(StateIdle)
}

func (c *Client) run(ctx context.Context) {
	for {
		c.setState(StateConnecting)
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		c.setState(StateError)
		logger.Infof("stream client disconnected: %v, reconnecting in %s", err, c.reconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// connect opens one SSE connection and pumps frames until it breaks.
func (c *Client) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("stream: unexpected content type %q", ct)
	}

	c.setState(StateConnected)
	p := newParser(resp.Body)
	for {
		ev, err := p.next()
		if err != nil {
			return err
		}
		if ev.name != "notification" {
			continue
		}
		var payload stream.EventPayload
		if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
			logger.Errorf("stream client: malformed frame skipped: %v", err)
			continue
		}
		if c.handler != nil {
			c.handler(payload)
		}
	}
}
