package scaling

import (
	"context"
	"time"

	"collabgate/logger"
	"collabgate/service/metrics"
	"collabgate/service/room"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	seenSize       = 8192
	seenTTL        = 2 * time.Minute
	publishTimeout = 2 * time.Second
)

// Bridge fronts the local registry. Broadcasts go to local members first and
// are then published; records from other processes are applied locally and
// never published again.
type Bridge struct {
	reg    *room.Registry
	ad     Adapter
	origin string
	seen   *expirable.LRU[string, struct{}]

	m   *metrics.Metrics
	log *zap.Logger
}

func NewBridge(reg *room.Registry, ad Adapter, origin string, m *metrics.Metrics) *Bridge {
	if ad == nil {
		ad = Local{}
	}
	if origin == "" {
		origin = uuid.NewString()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Bridge{
		reg:    reg,
		ad:     ad,
		origin: origin,
		seen:   expirable.NewLRU[string, struct{}](seenSize, nil, seenTTL),
		m:      m,
		log:    logger.Named("scaling"),
	}
}

func (b *Bridge) Origin() string   { return b.origin }
func (b *Bridge) Adapter() Adapter { return b.ad }

// Start subscribes to the cluster channel and must run before the first
// Broadcast. Delivery continues in the background until ctx is done. When the
// subscription fails the bridge falls back to Local and returns the error.
func (b *Bridge) Start(ctx context.Context) error {
	if IsLocal(b.ad) {
		return nil
	}
	if err := b.ad.Subscribe(ctx, b.apply); err != nil {
		b.log.Warn("cluster subscribe failed, running single-process", zap.String("adapter", b.ad.Name()), zap.Error(err))
		_ = b.ad.Close()
		b.ad = Local{}
		return err
	}
	b.log.Info("cluster channel subscribed", zap.String("adapter", b.ad.Name()), zap.String("origin", b.origin))
	return nil
}

// Broadcast returns the number of local deliveries. A publish failure is
// logged and does not affect local delivery.
func (b *Bridge) Broadcast(ctx context.Context, roomID, event string, frame []byte, exclude string) int {
	n := b.reg.Broadcast(roomID, frame, exclude)
	if IsLocal(b.ad) {
		return n
	}
	rec := Record{
		ID:      uuid.NewString(),
		Room:    roomID,
		Event:   event,
		Frame:   frame,
		Origin:  b.origin,
		Exclude: exclude,
	}
	b.seen.Add(rec.ID, struct{}{})

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.ad.Publish(pctx, rec); err != nil {
		b.log.Warn("cluster publish failed, delivered locally only",
			zap.String("room", roomID), zap.String("event", event), zap.Error(err))
		b.m.ClusterRecords.WithLabelValues("publish_failed").Inc()
		return n
	}
	b.m.ClusterRecords.WithLabelValues("out").Inc()
	return n
}

func (b *Bridge) apply(rec Record) {
	if rec.Origin == b.origin {
		return
	}
	if rec.ID != "" {
		if b.seen.Contains(rec.ID) {
			b.m.ClusterRecords.WithLabelValues("duplicate").Inc()
			return
		}
		b.seen.Add(rec.ID, struct{}{})
	}
	b.m.ClusterRecords.WithLabelValues("in").Inc()
	// Exclude names a connection on the origin process; it means nothing here.
	n := b.reg.Broadcast(rec.Room, rec.Frame, "")
	b.log.Debug("applied remote record",
		zap.String("room", rec.Room), zap.String("event", rec.Event), zap.String("origin", rec.Origin), zap.Int("delivered", n))
}

func (b *Bridge) Close() error { return b.ad.Close() }
