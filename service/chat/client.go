package chat

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"collabgate/service/auth"
	"github.com/gorilla/websocket"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send queue full")
)

const writeWait = 10 * time.Second

// Client is one WebSocket connection. All socket writes happen on the writer
// goroutine started by Start; everything else enqueues through Deliver.
type Client struct {
	ConnID    string
	Remote    net.Addr
	CreatedAt time.Time

	ws   *websocket.Conn
	send chan []byte

	state    atomic.Int32 // auth.State
	identity atomic.Pointer[auth.Identity]

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
	closeCode int
	closeMsg  string
	drain     bool
}

func NewClient(connID string, ws *websocket.Conn, queue int) *Client {
	c := &Client{
		ConnID:    connID,
		ws:        ws,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		CreatedAt: time.Now(),
	}
	if ws != nil {
		c.Remote = ws.RemoteAddr()
	}
	return c
}

func (c *Client) State() auth.State { return auth.State(c.state.Load()) }

// Identity is nil until the handshake succeeded.
func (c *Client) Identity() *auth.Identity { return c.identity.Load() }

func (c *Client) UserID() string {
	if id := c.Identity(); id != nil {
		return id.UserID
	}
	return ""
}

// Authenticate moves Pending to Authenticated. It fails when the handshake
// already ended.
func (c *Client) Authenticate(id *auth.Identity) bool {
	if !c.state.CompareAndSwap(int32(auth.StatePending), int32(auth.StateAuthenticated)) {
		return false
	}
	c.identity.Store(id)
	return true
}

// Reject moves Pending to Rejected.
func (c *Client) Reject() bool {
	return c.state.CompareAndSwap(int32(auth.StatePending), int32(auth.StateRejected))
}

// Deliver enqueues frame without blocking. A full queue closes the client.
func (c *Client) Deliver(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.close(websocket.ClosePolicyViolation, "slow consumer", false)
		return ErrSlowConsumer
	}
}

// Send is Deliver for a frame object.
func (c *Client) Send(f *Frame) error { return c.Deliver(f.Encode()) }

// Close stops the writer after it flushed what is queued, then sends a close
// frame with code and reason.
func (c *Client) Close(code int, reason string) { c.close(code, reason, true) }

func (c *Client) close(code int, reason string, drain bool) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeMsg, c.drain = code, reason, drain
		close(c.done)
	})
}

// Done is closed once Close was called.
func (c *Client) Done() <-chan struct{} { return c.done }

// Wait blocks until the writer goroutine has exited.
func (c *Client) Wait() { <-c.stopped }

// Start runs the writer goroutine: queued frames, pings every pingInterval,
// and the final close frame.
func (c *Client) Start(pingInterval time.Duration) {
	go c.writePump(pingInterval)
}

func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.stopped)
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.close(websocket.CloseAbnormalClosure, "", false)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "", false)
				return
			}
		case <-c.done:
			if c.drain {
				c.flush()
			}
			if c.closeCode != websocket.CloseAbnormalClosure {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeMsg))
			}
			return
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(mt int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(mt, data)
}
