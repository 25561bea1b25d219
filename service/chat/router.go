package chat

import (
	"sort"

	"collabgate/service/auth"
	"collabgate/service/metrics"
	"collabgate/service/ratelimit"
	"collabgate/tools/errs"
)

// Router maps event names to routes. Register everything before serving;
// the table is not guarded for concurrent writes.
type Router struct {
	routes  map[string]Route
	limiter *ratelimit.Limiter
	m       *metrics.Metrics
}

func NewRouter(limiter *ratelimit.Limiter, m *metrics.Metrics) *Router {
	if m == nil {
		m = metrics.Discard()
	}
	return &Router{routes: make(map[string]Route), limiter: limiter, m: m}
}

func (r *Router) Register(event string, rt Route) {
	if rt.Category == "" {
		rt.Category = CategoryFor(event)
	}
	r.routes[event] = rt
}

func (r *Router) Route(event string) (Route, bool) {
	rt, ok := r.routes[event]
	return rt, ok
}

// Events lists the registered event names in sorted order.
func (r *Router) Events() []string {
	out := make([]string, 0, len(r.routes))
	for e := range r.routes {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the checks in order: identity, rate limit, permission and
// role. The first failure is returned and the handler is not called.
func (r *Router) Dispatch(ctx *Context, c *Client, f *Frame) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errs.ErrPanic(p)
		}
		r.observe(f.Event, err)
	}()
	return r.dispatch(ctx, c, f)
}

func (r *Router) observe(event string, err error) {
	result := "ok"
	if err != nil {
		result = errs.As(err).Msg
	}
	r.m.EventsTotal.WithLabelValues(r.label(event), result).Inc()
}

func (r *Router) dispatch(ctx *Context, c *Client, f *Frame) error {
	rt, ok := r.routes[f.Event]
	if !ok {
		return errs.UnknownEvent.WrapMsg("unknown event", "event", f.Event)
	}
	id := c.Identity()
	if id == nil {
		return errs.AuthenticationRequired.WrapMsg("connection is not authenticated")
	}
	if r.limiter != nil {
		if err := r.limiter.Allow(c.ConnID, rt.Category); err != nil {
			r.m.RateLimited.WithLabelValues(string(rt.Category)).Inc()
			return err
		}
	}
	if rt.Permission != "" {
		if err := auth.RequirePermission(id, rt.Permission); err != nil {
			return err
		}
	}
	if len(rt.Roles) > 0 {
		if err := auth.RequireRole(id, rt.Roles...); err != nil {
			return err
		}
	}
	return rt.Handle(ctx, c, f)
}

// label keeps metric cardinality bounded to registered events.
func (r *Router) label(event string) string {
	if _, ok := r.routes[event]; ok {
		return event
	}
	return "unknown"
}
