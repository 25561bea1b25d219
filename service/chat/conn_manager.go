package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type ManagerConf struct {
	UnauthTTL  time.Duration    // how long a connection may stay in the handshake (default 45s)
	SweepEvery time.Duration    // sweep period (default 5s)
	MaxPerUser int              // <=0 means unlimited; above it the oldest connection is evicted
	Clock      func() time.Time // injectable; nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 5 * time.Second
	}
	if c.UnauthTTL <= 0 {
		c.UnauthTTL = 45 * time.Second
	}
}

// ConnManager is the process-wide connection table: every accepted socket by
// connection id, and authenticated ones by user id as well.
type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*Client            // conn id -> client
	byUser map[string]map[string]*Client // user id -> conn id -> client
	conf   ManagerConf
}

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	return &ConnManager{
		bySnow: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		conf:   conf,
	}
}

// AddUnauth records a connection that has not finished its handshake.
func (m *ConnManager) AddUnauth(c *Client) error {
	if c == nil || c.ConnID == "" {
		return errors.New("client/conn id empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bySnow[c.ConnID]; exists {
		return errors.New("conn id exists")
	}
	c.CreatedAt = m.conf.Clock()
	m.bySnow[c.ConnID] = c
	return nil
}

// BindUser indexes an authenticated connection under its user. It returns
// the connection evicted to honour MaxPerUser, if any; the caller closes it.
func (m *ConnManager) BindUser(connID, user string) (*Client, error) {
	if connID == "" || user == "" {
		return nil, errors.New("conn id/user empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.bySnow[connID]
	if !ok {
		return nil, errors.New("conn id not found")
	}
	evicted := m.ensureRoomForUserLocked(user)
	mm := m.byUser[user]
	if mm == nil {
		mm = make(map[string]*Client)
		m.byUser[user] = mm
	}
	mm[connID] = c
	return evicted, nil
}

// Remove drops connID from both indexes and returns the client.
func (m *ConnManager) Remove(connID string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(connID)
}

func (m *ConnManager) removeLocked(connID string) *Client {
	c, ok := m.bySnow[connID]
	if !ok {
		return nil
	}
	delete(m.bySnow, connID)
	if uid := c.UserID(); uid != "" {
		if mm := m.byUser[uid]; mm != nil {
			delete(mm, connID)
			if len(mm) == 0 {
				delete(m.byUser, uid)
			}
		}
	}
	return c
}

func (m *ConnManager) Get(connID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.bySnow[connID]
	return c, ok
}

// ListUser returns every local connection of user.
func (m *ConnManager) ListUser(user string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[user]
	out := make([]*Client, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

// Count returns all connections and the authenticated subset.
func (m *ConnManager) Count() (total, authenticated int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mm := range m.byUser {
		authenticated += len(mm)
	}
	return len(m.bySnow), authenticated
}

// CloseAll closes every connection with code, e.g. on shutdown.
func (m *ConnManager) CloseAll(code int, reason string) {
	m.mu.RLock()
	all := make([]*Client, 0, len(m.bySnow))
	for _, c := range m.bySnow {
		all = append(all, c)
	}
	m.mu.RUnlock()
	for _, c := range all {
		c.Close(code, reason)
	}
}

// Run sweeps until ctx is done.
func (m *ConnManager) Run(ctx context.Context) error {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

// sweepOnce closes connections still pending after UnauthTTL. They are
// removed from the table by their own read loop.
func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*Client
	m.mu.RLock()
	for _, c := range m.bySnow {
		if c.Identity() == nil && now.Sub(c.CreatedAt) > m.conf.UnauthTTL {
			expired = append(expired, c)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, c := range expired {
		// losing the CAS means the handshake completed after the scan
		if !c.Reject() {
			continue
		}
		_ = c.Deliver(BuildErrorFrame(nil, errHandshakeTimeout()))
		c.Close(websocket.ClosePolicyViolation, "handshake timeout")
		n++
	}
	return n
}

// must be called with m.mu held
func (m *ConnManager) ensureRoomForUserLocked(user string) *Client {
	if m.conf.MaxPerUser <= 0 {
		return nil
	}
	mm := m.byUser[user]
	if len(mm) < m.conf.MaxPerUser {
		return nil
	}
	var oldest *Client
	for _, c := range mm {
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest != nil {
		m.removeLocked(oldest.ConnID)
	}
	return oldest
}
