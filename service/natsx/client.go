// Package natsx is a thin core-NATS client: publish with headers, subscribe
// through a middleware chain.
package natsx

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// MsgIDHeader carries a per-message id that receivers can deduplicate on.
const MsgIDHeader = "Nats-Msg-Id"

type Config struct {
	URL           string // one or more servers, comma separated; credentials go in the URL
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

type Client struct {
	nc  *nats.Conn
	mws []Middleware

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewClient(cfg Config, mws ...Middleware) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc, mws: mws}, nil
}

// Publish sends data on subject. ctx is only checked before sending; core
// NATS publishes are fire-and-forget.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return c.nc.PublishMsg(msg)
}

// PublishOnce publishes with msgID in the MsgIDHeader header.
func (c *Client) PublishOnce(ctx context.Context, subject string, data []byte, msgID string) error {
	return c.Publish(ctx, subject, data, map[string]string{MsgIDHeader: msgID})
}

// Subscribe delivers every message on subject to h, wrapped in the client's
// middlewares. Handlers run on the subscription's goroutine, one at a time.
// Unsubscribe the returned subscription to stop early; Close drains it too.
func (c *Client) Subscribe(subject string, h Handler) (*nats.Subscription, error) {
	h = Chain(h, c.mws...)
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		_ = h(context.Background(), Message{
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		})
	})
	if err != nil {
		return nil, err
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub, nil
}

// Flush waits until the server has processed everything sent so far.
func (c *Client) Flush(ctx context.Context) error {
	return c.nc.FlushWithContext(ctx)
}

// Close drains subscriptions and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.subs = nil
	c.mu.Unlock()
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
