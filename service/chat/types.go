package chat

import (
	"context"

	"collabgate/service/ratelimit"
)

// Context is handed to every event handler.
type Context struct {
	Ctx context.Context
	S   *Server
}

type HandlerFunc func(ctx *Context, c *Client, f *Frame) error

// Route declares what an event needs before its handler runs. An empty
// Category is derived from the event name.
type Route struct {
	Category   ratelimit.Category
	Permission string
	Roles      []string
	Handle     HandlerFunc
}

// CategoryFor maps an event to its rate-limit category.
func CategoryFor(event string) ratelimit.Category {
	switch event {
	case EventJoinRoom:
		return ratelimit.JoinRoom
	case EventWorkflowUpdate:
		return ratelimit.WorkflowUpdate
	default:
		return ratelimit.Message
	}
}
