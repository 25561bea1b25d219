package chat

import (
	"encoding/json"
	"time"

	"collabgate/tools/errs"
)

// Wire event names.
const (
	EventAuth       = "auth"
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "error"
	EventAck        = "ack"

	EventJoinRoom    = "join:room"
	EventLeaveRoom   = "leave:room"
	EventRoomMessage = "room:message"

	EventWorkflowUpdate = "workflow:update"
	EventWorkflowSync   = "workflow:sync"
	EventWorkflowLock   = "workflow:lock"
	EventWorkflowUnlock = "workflow:unlock"

	EventCursorMove      = "cursor:move"
	EventSelectionChange = "selection:change"
	EventUserPresence    = "user:presence"

	EventNotification = "notification"
	EventAlert        = "alert"
)

// Frame is one JSON text message. Clients send event, room, data and an
// optional id that is echoed back in acks and errors. The gateway fills in
// from and ts on frames it relays.
type Frame struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
	From  string          `json:"from,omitempty"`
	TS    int64           `json:"ts,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.InvalidArgument.WrapMsg("malformed frame", "err", err)
	}
	if f.Event == "" {
		return nil, errs.InvalidArgument.WrapMsg("frame has no event")
	}
	return &f, nil
}

func (f *Frame) Encode() []byte {
	b, err := json.Marshal(f)
	if err != nil {
		// only reachable with invalid RawMessage data
		b, _ = json.Marshal(&Frame{Event: EventError, TS: f.TS})
	}
	return b
}

func now() int64 { return time.Now().UnixMilli() }

func mustData(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// Relay is what room members receive for an event sent by userID.
func Relay(f *Frame, userID string) []byte {
	out := Frame{Event: f.Event, Room: f.Room, Data: f.Data, ID: f.ID, From: userID, TS: now()}
	return out.Encode()
}

type ConnectData struct {
	ConnID    string `json:"connId"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

func BuildConnectFrame(connID, userID, sessionID string) []byte {
	f := Frame{Event: EventConnect, TS: now(), Data: mustData(ConnectData{ConnID: connID, UserID: userID, SessionID: sessionID})}
	return f.Encode()
}

type ErrorData struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
	Event  string `json:"event,omitempty"` // the rejected event
}

// BuildErrorFrame renders err for the client. req may be nil.
func BuildErrorFrame(req *Frame, err error) []byte {
	ce := errs.As(err)
	d := ErrorData{Code: ce.Code, Msg: ce.Msg, Detail: ce.Detail}
	f := Frame{Event: EventError, TS: now()}
	if req != nil {
		d.Event, f.ID, f.Room = req.Event, req.ID, req.Room
	}
	f.Data = mustData(d)
	return f.Encode()
}

type AckData struct {
	Event string `json:"event"`
	OK    bool   `json:"ok"`
}

func BuildAck(req *Frame) []byte {
	f := Frame{Event: EventAck, Room: req.Room, ID: req.ID, TS: now(), Data: mustData(AckData{Event: req.Event, OK: true})}
	return f.Encode()
}
