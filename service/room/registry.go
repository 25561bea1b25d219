// Package room tracks which local connections belong to which rooms and fans
// frames out to them.
//
// Rooms exist only while they have members: the last Leave (or Unregister)
// deletes the room, so MembersOf on it returns an empty set and Rooms does not
// list it.
package room

import (
	"sync"

	"collabgate/logger"
	"collabgate/service/metrics"
	"collabgate/tools/errs"
	"go.uber.org/zap"
)

// Deliverer is the send side of a connection. Deliver must not block on the
// network.
type Deliverer interface {
	Deliver(frame []byte) error
}

type member struct {
	d     Deliverer
	rooms map[string]struct{}
}

// Registry keeps conn -> rooms and room -> conns under one lock so the two
// indexes can never disagree.
type Registry struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]struct{} // room -> conn ids
	byConn map[string]*member             // conn id -> member

	m   *metrics.Metrics
	log *zap.Logger
}

func NewRegistry(m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.Discard()
	}
	return &Registry{
		byRoom: make(map[string]map[string]struct{}),
		byConn: make(map[string]*member),
		m:      m,
		log:    logger.Named("room"),
	}
}

// Register makes connID known. Registering twice replaces the deliverer and
// keeps memberships.
func (r *Registry) Register(connID string, d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mb := r.byConn[connID]; mb != nil {
		mb.d = d
		return
	}
	r.byConn[connID] = &member{d: d, rooms: make(map[string]struct{})}
}

// Unregister drops connID and all its memberships. It returns the rooms the
// connection was in.
func (r *Registry) Unregister(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb := r.byConn[connID]
	if mb == nil {
		return nil
	}
	left := make([]string, 0, len(mb.rooms))
	for roomID := range mb.rooms {
		r.removeLocked(roomID, connID)
		left = append(left, roomID)
	}
	delete(r.byConn, connID)
	return left
}

// Join adds connID to roomID. It reports whether the membership is new.
func (r *Registry) Join(roomID, connID string) (bool, error) {
	if roomID == "" {
		return false, errs.InvalidArgument.WrapMsg("room is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	mb := r.byConn[connID]
	if mb == nil {
		return false, errs.NotFound.WrapMsg("connection not registered", "conn", connID)
	}
	if _, ok := mb.rooms[roomID]; ok {
		return false, nil
	}
	set := r.byRoom[roomID]
	if set == nil {
		set = make(map[string]struct{})
		r.byRoom[roomID] = set
	}
	set[connID] = struct{}{}
	mb.rooms[roomID] = struct{}{}
	return true, nil
}

// Leave removes connID from roomID. It reports whether a membership was
// removed; leaving a room one is not in is a no-op.
func (r *Registry) Leave(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb := r.byConn[connID]
	if mb == nil {
		return false
	}
	if _, ok := mb.rooms[roomID]; !ok {
		return false
	}
	r.removeLocked(roomID, connID)
	delete(mb.rooms, roomID)
	return true
}

func (r *Registry) removeLocked(roomID, connID string) {
	set := r.byRoom[roomID]
	if set == nil {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byRoom, roomID)
	}
}

// Broadcast hands frame to every member of roomID except exclude and returns
// the number of successful deliveries. A failing member is logged and skipped.
func (r *Registry) Broadcast(roomID string, frame []byte, exclude string) int {
	r.mu.RLock()
	set := r.byRoom[roomID]
	targets := make([]Deliverer, 0, len(set))
	ids := make([]string, 0, len(set))
	for connID := range set {
		if connID == exclude {
			continue
		}
		if mb := r.byConn[connID]; mb != nil {
			targets = append(targets, mb.d)
			ids = append(ids, connID)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for i, d := range targets {
		if err := d.Deliver(frame); err != nil {
			r.m.DeliveryFailures.Inc()
			r.log.Warn("deliver failed", zap.String("room", roomID), zap.String("conn", ids[i]), zap.Error(err))
			continue
		}
		delivered++
	}
	r.m.BroadcastDelivered.Add(float64(delivered))
	return delivered
}

// Send delivers to a single registered connection.
func (r *Registry) Send(connID string, frame []byte) error {
	r.mu.RLock()
	mb := r.byConn[connID]
	r.mu.RUnlock()
	if mb == nil {
		return errs.NotFound.WrapMsg("connection not registered", "conn", connID)
	}
	return mb.d.Deliver(frame)
}

// MembersOf is a point-in-time snapshot.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byRoom[roomID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (r *Registry) IsMember(roomID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byRoom[roomID][connID]
	return ok
}

func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mb := r.byConn[connID]
	if mb == nil {
		return nil
	}
	out := make([]string, 0, len(mb.rooms))
	for id := range mb.rooms {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byRoom))
	for id := range r.byRoom {
		out = append(out, id)
	}
	return out
}

// Len is the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
