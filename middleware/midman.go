package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// MiddlewareManager holds an ordered, mutable list of middlewares that run as
// one gin handler. Entries can be added after the engine is built.
type MiddlewareManager struct {
	mu    sync.RWMutex
	names []string
	mids  []gin.HandlerFunc
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// Add appends h under name.
func (m *MiddlewareManager) Add(name string, h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	m.mids = append(m.mids, h)
}

func (m *MiddlewareManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.names...)
}

func (m *MiddlewareManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names, m.mids = nil, nil
}

// Use returns the handler to mount on the engine. It runs a snapshot of the
// list and stops at the first abort.
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...)
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
