package querycache

import (
	"time"

	"github.com/juju/clock"

	"github.com/parcel-hub/parcel-hub/internal/query"
)

// Status 是缓存条目的加载状态。
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusLoading       Status = "loading"
	StatusReady         Status = "ready"
	StatusError         Status = "error"
)

// Snapshot 是某一时刻条目的一致视图。Data 在两次结果替换之间保持同一个值，
// 订阅方可以用 Generation 判断数据是否变化。
type Snapshot struct {
	Key        string
	Data       query.Result
	Status     Status
	IsLoading  bool
	IsFetching bool
	Stale      bool
	Err        error
	FetchedAt  time.Time
	Generation uint64
}

// fetchOutcome 通知等待某个序号的 Refetch 调用方。
type fetchOutcome struct {
	snapshot  Snapshot
	err       error
	discarded bool
}

type entry struct {
	key   string
	query query.LogicalQuery
	op    query.Operation
	ttl   time.Duration

	// result = base 依次叠加 overlays。base 是最近一次被采用的服务端结果。
	result    query.Result
	base      query.Result
	overlays  []overlay
	hasResult bool
	status    Status
	err       error
	fetchedAt time.Time

	// stale 由 Invalidate 置位；只有序号大于 staleThrough 的响应才能清除它，
	// 这样失效前已经发出的请求不会把条目误标为新鲜。
	stale        bool
	staleThrough uint64

	latestSeq  uint64
	appliedSeq uint64
	generation uint64
	inflight   int

	subs    map[*Subscription]struct{}
	waiters map[uint64][]chan fetchOutcome
	gcTimer clock.Timer
}

// overlay 是一次尚未被服务端结果取代的本地变换。committed 之后，
// 只有序号大于 through 的响应才会移除它。
type overlay struct {
	id        uint64
	transform Transform
	committed bool
	through   uint64
}

func newEntry(q query.LogicalQuery, op query.Operation, ttl time.Duration) *entry {
	return &entry{
		key:     q.Key(),
		query:   q,
		op:      op,
		ttl:     ttl,
		status:  StatusUninitialized,
		subs:    make(map[*Subscription]struct{}),
		waiters: make(map[uint64][]chan fetchOutcome),
	}
}

// needsRefresh 判断读取时是否需要回源。
func (e *entry) needsRefresh(now time.Time) bool {
	switch {
	case e.status == StatusUninitialized, e.status == StatusError:
		return true
	case e.stale:
		return true
	case !e.hasResult:
		return true
	case e.ttl > 0 && now.Sub(e.fetchedAt) >= e.ttl:
		return true
	}
	return false
}

// composeLocked 在 base 上按顺序重新叠加本地变换。
func (e *entry) composeLocked() query.Result {
	r := e.base
	for _, o := range e.overlays {
		if next, changed := o.transform(r); changed {
			r = next
		}
	}
	return r
}

// dropOverlayLocked 移除指定变换，返回是否存在。
func (e *entry) dropOverlayLocked(id uint64) bool {
	for i, o := range e.overlays {
		if o.id == id {
			e.overlays = append(e.overlays[:i:i], e.overlays[i+1:]...)
			return true
		}
	}
	return false
}

// dropCommittedLocked 移除已确认且被序号为 seq 的响应覆盖的变换。
func (e *entry) dropCommittedLocked(seq uint64) {
	kept := e.overlays[:0:0]
	for _, o := range e.overlays {
		if o.committed && seq > o.through {
			continue
		}
		kept = append(kept, o)
	}
	e.overlays = kept
}

// activeLocked 表示条目是否属于轮询与可见性刷新的范围：有订阅者，
// 或是已有结果、永不回收的常驻条目。
func (e *entry) activeLocked() bool {
	return len(e.subs) > 0 || (e.ttl == query.Never && e.hasResult)
}

func (e *entry) snapshotLocked() Snapshot {
	return Snapshot{
		Key:        e.key,
		Data:       e.result,
		Status:     e.status,
		IsLoading:  e.status == StatusLoading,
		IsFetching: e.inflight > 0,
		Stale:      e.stale,
		Err:        e.err,
		FetchedAt:  e.fetchedAt,
		Generation: e.generation,
	}
}

func (e *entry) stopGCLocked() {
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
}
