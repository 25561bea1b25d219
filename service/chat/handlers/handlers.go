// Package handlers holds the event handlers behind the router.
package handlers

import (
	"collabgate/service/chat"
	"collabgate/service/ratelimit"
)

const PermNotificationSend = "notification:send"

// Register installs every collaboration event on r.
func Register(r *chat.Router) {
	r.Register(chat.EventJoinRoom, chat.Route{Handle: Join})
	r.Register(chat.EventLeaveRoom, chat.Route{Category: ratelimit.Message, Handle: Leave})
	r.Register(chat.EventRoomMessage, chat.Route{Handle: RoomMessage})

	for _, e := range []string{chat.EventWorkflowUpdate, chat.EventWorkflowSync, chat.EventWorkflowLock, chat.EventWorkflowUnlock} {
		r.Register(e, chat.Route{Handle: WorkflowEvent})
	}
	for _, e := range []string{chat.EventCursorMove, chat.EventSelectionChange, chat.EventUserPresence} {
		r.Register(e, chat.Route{Handle: RoomMessage})
	}

	r.Register(chat.EventNotification, chat.Route{Permission: PermNotificationSend, Handle: Notification})
	r.Register(chat.EventAlert, chat.Route{Roles: []string{"admin"}, Handle: Alert})
}
