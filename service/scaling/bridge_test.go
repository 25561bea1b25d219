package scaling

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"collabgate/service/room"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu     sync.Mutex
	frames []string
}

func (i *inbox) Deliver(f []byte) error {
	i.mu.Lock()
	i.frames = append(i.frames, string(f))
	i.mu.Unlock()
	return nil
}

func (i *inbox) got() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.frames...)
}

// countingAdapter records publishes made through it.
type countingAdapter struct {
	Adapter
	published atomic.Int32
}

func (c *countingAdapter) Publish(ctx context.Context, rec Record) error {
	c.published.Add(1)
	return c.Adapter.Publish(ctx, rec)
}

type process struct {
	reg    *room.Registry
	bridge *Bridge
	ad     *countingAdapter
}

func newProcess(t *testing.T, ctx context.Context, mr *miniredis.Miniredis, origin string) *process {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ad := &countingAdapter{Adapter: NewRedis(rdb, "collab:broadcast", true)}
	reg := room.NewRegistry(nil)
	b := NewBridge(reg, ad, origin, nil)
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() { _ = b.Close() })
	return &process{reg: reg, bridge: b, ad: ad}
}

func TestCrossProcessDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr := miniredis.RunT(t)

	p1 := newProcess(t, ctx, mr, "p1")
	p2 := newProcess(t, ctx, mr, "p2")

	a, b, c := &inbox{}, &inbox{}, &inbox{}
	p1.reg.Register("p1-a", a)
	p1.reg.Register("p1-b", b)
	p2.reg.Register("p2-c", c)
	for _, m := range []struct {
		reg  *room.Registry
		conn string
	}{{p1.reg, "p1-a"}, {p1.reg, "p1-b"}, {p2.reg, "p2-c"}} {
		_, err := m.reg.Join("workflow:7", m.conn)
		require.NoError(t, err)
	}

	n := p1.bridge.Broadcast(ctx, "workflow:7", "workflow:update", []byte(`{"event":"workflow:update"}`), "p1-a")
	require.Equal(t, 1, n)

	require.Eventually(t, func() bool { return len(c.got()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, `{"event":"workflow:update"}`, c.got()[0])
	require.Empty(t, a.got(), "sender excluded")
	require.Len(t, b.got(), 1)

	// give a re-publish the chance to show up before asserting it did not
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, p1.ad.published.Load())
	require.Zero(t, p2.ad.published.Load(), "remote records are never re-published")
	require.Len(t, b.got(), 1, "own record is not applied twice")
}

func TestRemoteMemberWithSenderConnIDStillReceives(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr := miniredis.RunT(t)

	p1 := newProcess(t, ctx, mr, "p1")
	p2 := newProcess(t, ctx, mr, "p2")

	// both processes minted the same connection id
	sender, remote := &inbox{}, &inbox{}
	p1.reg.Register("4242", sender)
	p2.reg.Register("4242", remote)
	_, err := p1.reg.Join("workflow:7", "4242")
	require.NoError(t, err)
	_, err = p2.reg.Join("workflow:7", "4242")
	require.NoError(t, err)

	p1.bridge.Broadcast(ctx, "workflow:7", "workflow:update", []byte(`{"n":1}`), "4242")
	require.Eventually(t, func() bool { return len(remote.got()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, sender.got())
}

func TestApplyIgnoresExclude(t *testing.T) {
	reg := room.NewRegistry(nil)
	in := &inbox{}
	reg.Register("c", in)
	_, _ = reg.Join("global", "c")
	b := NewBridge(reg, Local{}, "me", nil)

	b.apply(Record{ID: "1", Room: "global", Frame: json.RawMessage(`1`), Origin: "other", Exclude: "c"})
	require.Equal(t, []string{"1"}, in.got())
}

func TestApplyDropsOwnAndDuplicate(t *testing.T) {
	reg := room.NewRegistry(nil)
	in := &inbox{}
	reg.Register("c", in)
	_, _ = reg.Join("global", "c")
	b := NewBridge(reg, Local{}, "me", nil)

	b.apply(Record{ID: "1", Room: "global", Frame: json.RawMessage(`1`), Origin: "me"})
	require.Empty(t, in.got())

	rec := Record{ID: "2", Room: "global", Frame: json.RawMessage(`2`), Origin: "other"}
	b.apply(rec)
	b.apply(rec)
	require.Equal(t, []string{"2"}, in.got())
}

type failingAdapter struct{ Local }

func (failingAdapter) Name() string { return "failing" }

func (failingAdapter) Publish(context.Context, Record) error {
	return context.DeadlineExceeded
}

func TestPublishFailureKeepsLocal(t *testing.T) {
	reg := room.NewRegistry(nil)
	in := &inbox{}
	reg.Register("c", in)
	_, _ = reg.Join("global", "c")

	b := NewBridge(reg, failingAdapter{}, "me", nil)
	require.Equal(t, 1, b.Broadcast(context.Background(), "global", "alert", []byte(`{}`), ""))
	require.Len(t, in.got(), 1)
}

func TestConnectFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	require.True(t, IsLocal(Connect(ctx, Options{})))

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	require.True(t, IsLocal(Connect(ctx, Options{RedisURL: "redis://" + addr})))
	require.True(t, IsLocal(Connect(ctx, Options{NatsURL: "nats://127.0.0.1:1"})))
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ad := Connect(context.Background(), Options{RedisURL: "redis://" + mr.Addr(), Channel: "c"})
	require.Equal(t, "redis", ad.Name())
	require.NoError(t, ad.Close())
}
