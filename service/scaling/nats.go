package scaling

import (
	"context"
	"encoding/json"
	"errors"

	"collabgate/logger"
	"collabgate/service/natsx"
	"collabgate/tools/errs"
	"collabgate/tools/safe"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSAdapter relays records on a core NATS subject.
type NATSAdapter struct {
	c       *natsx.Client
	subject string
	log     *zap.Logger
}

func NewNATS(c *natsx.Client, subject string) *NATSAdapter {
	return &NATSAdapter{c: c, subject: subject, log: logger.Named("scaling")}
}

func (a *NATSAdapter) Name() string { return "nats" }

func (a *NATSAdapter) Publish(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.WrapMsg(err, "marshal record")
	}
	if err := a.c.PublishOnce(ctx, a.subject, data, rec.ID); err != nil {
		return errs.UpstreamUnavailable.WrapMsg("nats publish", "subject", a.subject, "err", err)
	}
	return nil
}

// Subscribe stops receiving once ctx is done.
func (a *NATSAdapter) Subscribe(ctx context.Context, fn func(Record)) error {
	sub, err := a.c.Subscribe(a.subject, func(_ context.Context, m natsx.Message) error {
		var rec Record
		if err := json.Unmarshal(m.Data, &rec); err != nil {
			return errs.WrapMsg(err, "decode record")
		}
		if rec.ID == "" {
			rec.ID = m.Header[natsx.MsgIDHeader]
		}
		fn(rec)
		return nil
	})
	if err != nil {
		return errs.UpstreamUnavailable.WrapMsg("nats subscribe", "subject", a.subject, "err", err)
	}
	// make sure the server has registered the interest before returning
	if err := a.c.Flush(ctx); err != nil {
		_ = sub.Unsubscribe()
		return errs.UpstreamUnavailable.WrapMsg("nats flush", "err", err)
	}
	safe.Go("nats-bridge-unsub", func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			a.log.Warn("nats unsubscribe", zap.String("subject", a.subject), zap.Error(err))
		}
	})
	return nil
}

func (a *NATSAdapter) Close() error { return a.c.Close() }
