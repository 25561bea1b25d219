package handlers

import (
	"collabgate/service/auth"
	"collabgate/service/chat"
	"collabgate/service/room"
	"collabgate/tools/errs"
)

// CanJoin reports whether id may subscribe to roomID.
func CanJoin(id *auth.Identity, roomID string) error {
	kind, target := room.Parse(roomID)
	switch kind {
	case room.KindWorkflow, room.KindGlobal:
		return nil
	case room.KindOrg:
		if id.OrgID == "" || id.OrgID == target {
			return nil
		}
	case room.KindUser:
		if id.UserID == target {
			return nil
		}
	default:
		return errs.InvalidArgument.WrapMsg("unknown room", "room", roomID)
	}
	return errs.PermissionDenied.WrapMsg("room not accessible", "room", roomID)
}

func Join(ctx *chat.Context, c *chat.Client, f *chat.Frame) error {
	if err := CanJoin(c.Identity(), f.Room); err != nil {
		return err
	}
	if _, err := ctx.S.Rooms().Join(f.Room, c.ConnID); err != nil {
		return err
	}
	return c.Deliver(chat.BuildAck(f))
}

// Leave is idempotent; leaving a room the connection is not in still acks.
func Leave(ctx *chat.Context, c *chat.Client, f *chat.Frame) error {
	if f.Room == "" {
		return errs.InvalidArgument.WrapMsg("room is required")
	}
	ctx.S.Rooms().Leave(f.Room, c.ConnID)
	return c.Deliver(chat.BuildAck(f))
}
