package querycache

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/parcel-hub/parcel-hub/internal/parcel"
	"github.com/parcel-hub/parcel-hub/internal/query"
)

func TestPollerTickRefetchesActivePolledEntries(t *testing.T) {
	polled := newScriptedFetch(listOf("A"))
	expiring := newScriptedFetch(listOf("B"))
	single := newScriptedFetch(query.SingleResult(parcel.Parcel{ID: "P1"}))
	c := newTestCache(t, nil, nil, time.Hour,
		listOp("list", query.Never, polled.fetch),
		listOp("recent", time.Hour, expiring.fetch),
		query.Operation{Name: "get", Kind: query.KindSingle, TTL: time.Hour, Fetch: single.fetch},
	)

	sub, _ := c.Subscribe(senderList())
	defer sub.Close()
	one, _ := c.Subscribe(query.New("get", map[string]string{"id": "P1"}))
	defer one.Close()
	waitFor(t, sub, "list ready", settled)
	waitFor(t, one, "single ready", settled)

	// 没有订阅者的 Never 条目常驻缓存，仍在轮询范围内。
	retained, _ := c.Subscribe(query.New("list", map[string]string{"role": "receiver"}))
	waitFor(t, retained, "retained ready", settled)
	retained.Close()
	// 有 TTL 的条目在宽限期内等待回收，不再轮询。
	idle, _ := c.Subscribe(query.New("recent", map[string]string{"role": "sender"}))
	waitFor(t, idle, "idle ready", settled)
	idle.Close()

	p := NewPoller(c, PollerOptions{Logger: testLogger()})
	if started := p.Tick(); started != 2 {
		t.Fatalf("应刷新活跃与常驻的轮询条目，得到 %d", started)
	}
	waitFor(t, sub, "polled", settled)
	waitCalls(t, polled, 4)
	if expiring.Calls() != 1 {
		t.Fatalf("等待回收的条目不应被轮询")
	}
	if single.Calls() != 1 {
		t.Fatalf("非轮询操作不应被轮询")
	}
}

func TestPollerRefreshesRetainedEntryWithoutSubscribers(t *testing.T) {
	fetch := newScriptedFetch(listOf("A"))
	c := newTestCache(t, nil, nil, 0, listOp("list", query.Never, fetch.fetch))
	sub, _ := c.Subscribe(senderList())
	waitFor(t, sub, "ready", settled)
	sub.Close()

	p := NewPoller(c, PollerOptions{Logger: testLogger()})
	p.VisibilityChanged(false)
	if n := p.VisibilityChanged(true); n != 1 {
		t.Fatalf("读取结束后常驻条目仍应在重新可见时刷新，得到 %d", n)
	}
	waitCalls(t, fetch, 2)
}

func TestPollerSkipsWhileHiddenAndRefetchesOnVisible(t *testing.T) {
	fetch := newScriptedFetch(listOf("A"))
	c := newTestCache(t, nil, nil, 0, listOp("list", query.Never, fetch.fetch))
	sub, _ := c.Subscribe(senderList())
	defer sub.Close()
	waitFor(t, sub, "ready", settled)

	p := NewPoller(c, PollerOptions{Logger: testLogger()})
	if n := p.VisibilityChanged(false); n != 0 {
		t.Fatalf("隐藏时不应刷新")
	}
	if n := p.Tick(); n != 0 || p.Visible() {
		t.Fatalf("隐藏时轮询应跳过")
	}
	if n := p.VisibilityChanged(true); n != 1 {
		t.Fatalf("重新可见时应立即刷新活跃条目，得到 %d", n)
	}
	waitFor(t, sub, "refetched", settled)
	if n := p.VisibilityChanged(true); n != 0 {
		t.Fatalf("可见性未变化时不应刷新")
	}
	if fetch.Calls() != 2 {
		t.Fatalf("expected 2 fetches, got %d", fetch.Calls())
	}
}

func TestPollerRunUsesClock(t *testing.T) {
	clk := testclock.NewClock(time.Unix(1700000000, 0))
	fetch := newScriptedFetch(listOf("A"))
	c := newTestCache(t, clk, nil, 0, listOp("list", query.Never, fetch.fetch))
	sub, _ := c.Subscribe(senderList())
	defer sub.Close()
	waitFor(t, sub, "ready", settled)

	p := NewPoller(c, PollerOptions{Interval: 30 * time.Second, Clock: clk, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	if err := clk.WaitAdvance(30*time.Second, time.Second, 1); err != nil {
		t.Fatalf("advance error: %v", err)
	}
	waitCalls(t, fetch, 2)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("poller 未在 ctx 取消后退出")
	}
}
