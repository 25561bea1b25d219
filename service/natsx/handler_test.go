package natsx

import (
	"context"
	"errors"
	"testing"

	"collabgate/logger"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var trace []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, m Message) error {
				trace = append(trace, name)
				return next(ctx, m)
			}
		}
	}
	h := Chain(func(context.Context, Message) error {
		trace = append(trace, "handler")
		return nil
	}, mw("outer"), mw("inner"))

	require.NoError(t, h(context.Background(), Message{}))
	require.Equal(t, []string{"outer", "inner", "handler"}, trace)
}

func TestRecoverAndLog(t *testing.T) {
	h := Chain(func(context.Context, Message) error { panic("boom") }, Recover())
	require.Error(t, h(context.Background(), Message{Subject: "s"}))

	h = Chain(func(context.Context, Message) error { return errors.New("bad") }, LogErrors(logger.Log))
	require.NoError(t, h(context.Background(), Message{}))
}

func TestHeaderToMap(t *testing.T) {
	require.Nil(t, headerToMap(nil))
	h := nats.Header{}
	h.Add(MsgIDHeader, "r-1")
	require.Equal(t, map[string]string{MsgIDHeader: "r-1"}, headerToMap(h))
}

func TestNewClientNeedsURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}
