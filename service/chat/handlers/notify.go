package handlers

import (
	"collabgate/service/chat"
	"collabgate/service/room"
	"collabgate/tools/errs"
)

// Notification targets one user or one organisation. The sender receives
// its own copy when it is a member of the target.
func Notification(ctx *chat.Context, c *chat.Client, f *chat.Frame) error {
	switch room.KindOf(f.Room) {
	case room.KindUser, room.KindOrg:
	default:
		return errs.InvalidArgument.WrapMsg("notification target must be a user or org room", "room", f.Room)
	}
	ctx.S.Broadcast(ctx.Ctx, f.Room, f.Event, chat.Relay(f, c.UserID()), "")
	return c.Deliver(chat.BuildAck(f))
}

func Alert(ctx *chat.Context, c *chat.Client, f *chat.Frame) error {
	if f.Room == "" {
		f.Room = room.Global
	}
	if room.KindOf(f.Room) == room.KindUnknown {
		return errs.InvalidArgument.WrapMsg("unknown room", "room", f.Room)
	}
	ctx.S.Broadcast(ctx.Ctx, f.Room, f.Event, chat.Relay(f, c.UserID()), "")
	return c.Deliver(chat.BuildAck(f))
}
