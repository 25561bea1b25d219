package global

import "collabgate/tools/errs"

// Msg is the JSON envelope of every HTTP response.
type Msg struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
	Data   any    `json:"data,omitempty"`
}

func Success(data any) *Msg {
	return &Msg{Code: 200, Data: data}
}

// Fail renders err as a Msg, hiding non-CodeError internals.
func Fail(err error) *Msg {
	ce := errs.As(err)
	return &Msg{Code: ce.Code, Msg: ce.Msg, Detail: ce.Detail}
}
