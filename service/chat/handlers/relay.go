package handlers

import (
	"collabgate/service/chat"
	"collabgate/service/room"
	"collabgate/tools/errs"
)

// RoomMessage relays f to every other member of f.Room. The sender must
// have joined the room.
func RoomMessage(ctx *chat.Context, c *chat.Client, f *chat.Frame) error {
	if f.Room == "" {
		return errs.InvalidArgument.WrapMsg("room is required")
	}
	if !ctx.S.Rooms().IsMember(f.Room, c.ConnID) {
		return errs.PermissionDenied.WrapMsg("not a member of room", "room", f.Room)
	}
	ctx.S.Broadcast(ctx.Ctx, f.Room, f.Event, chat.Relay(f, c.UserID()), c.ConnID)
	return nil
}

func WorkflowEvent(ctx *chat.Context, c *chat.Client, f *chat.Frame) error {
	if room.KindOf(f.Room) != room.KindWorkflow {
		return errs.InvalidArgument.WrapMsg("workflow events need a workflow room", "room", f.Room)
	}
	return RoomMessage(ctx, c, f)
}
