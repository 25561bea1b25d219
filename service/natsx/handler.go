package natsx

import (
	"context"

	"collabgate/logger"
	"collabgate/tools/errs"
	"go.uber.org/zap"
)

// Message is a received NATS message with a flattened header.
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

type Handler func(ctx context.Context, msg Message) error

// Middleware wraps a handler (logging, recovery, ...).
type Middleware func(Handler) Handler

// Chain applies mws so that mws[0] is the outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover turns a panicking handler into an error.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.ErrPanic(r)
					logger.Log.Error("nats handler panic", zap.String("subject", msg.Subject), zap.Any("panic", r))
				}
			}()
			return next(ctx, msg)
		}
	}
}

// LogErrors logs handler errors at warn level and swallows them.
func LogErrors(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			if err := next(ctx, msg); err != nil {
				log.Warn("nats handler failed", zap.String("subject", msg.Subject), zap.Error(err))
			}
			return nil
		}
	}
}
