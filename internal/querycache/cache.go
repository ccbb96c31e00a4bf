package querycache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/parcel-hub/parcel-hub/internal/events"
	"github.com/parcel-hub/parcel-hub/internal/logging"
	"github.com/parcel-hub/parcel-hub/internal/query"
	"github.com/parcel-hub/parcel-hub/internal/tags"
)

var (
	// ErrUnknownOperation 表示查询的操作名未注册。
	ErrUnknownOperation = errors.New("querycache: unknown operation")
	// ErrClosed 表示缓存或订阅已关闭。
	ErrClosed = errors.New("querycache: closed")
)

const defaultTTL = 60 * time.Second

// Transform 对缓存结果做纯函数变换，返回新结果以及是否发生变化。
type Transform func(query.Result) (query.Result, bool)

// RevertToken 记录一次本地变换之前的结果，用于精确回滚。
// 每个令牌最终都应交给 Revert 或 Release 之一。
type RevertToken struct {
	key        string
	generation uint64
	previous   query.Result
	overlay    uint64
}

// Key 返回被变换条目的查询键。
func (t RevertToken) Key() string { return t.key }

// Options 配置 Cache。
type Options struct {
	Registry *query.Registry
	Index    *tags.Index
	Bus      events.Bus
	Clock    clock.Clock
	Logger   *logrus.Logger
	// DefaultTTL 用于 TTL 为 0 的操作。
	DefaultTTL time.Duration
	// GCGrace 是最后一个订阅者离开后保留条目的时长，0 表示立即回收。
	GCGrace time.Duration
}

// Cache 是查询缓存，所有公开方法都可以并发调用。
type Cache struct {
	registry   *query.Registry
	index      *tags.Index
	clock      clock.Clock
	logger     *logrus.Logger
	defaultTTL time.Duration
	gcGrace    time.Duration

	mu          sync.Mutex
	entries     map[string]*entry
	closed      bool
	nextOverlay uint64

	unsubscribeBus func()
}

// New 构造查询缓存；Bus 非空时订阅 cache-invalidated 事件。
func New(opts Options) (*Cache, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("querycache: registry is required")
	}
	if opts.Index == nil {
		opts.Index = tags.NewIndex()
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = defaultTTL
	}
	if opts.GCGrace < 0 {
		opts.GCGrace = 0
	}
	c := &Cache{
		registry:   opts.Registry,
		index:      opts.Index,
		clock:      opts.Clock,
		logger:     opts.Logger,
		defaultTTL: opts.DefaultTTL,
		gcGrace:    opts.GCGrace,
		entries:    make(map[string]*entry),
	}
	if opts.Bus != nil {
		c.unsubscribeBus = opts.Bus.Subscribe(events.TopicCacheInvalidated, c.onBusMessage)
	}
	return c, nil
}

// Close 取消事件订阅并停止所有回收定时器。进行中的请求仍会完成，但结果不再通知。
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, e := range c.entries {
		e.stopGCLocked()
		for sub := range e.subs {
			sub.closeLocked()
		}
	}
	unsubscribe := c.unsubscribeBus
	c.unsubscribeBus = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Index 返回缓存使用的 tag 索引。
func (c *Cache) Index() *tags.Index { return c.index }

// Subscribe 注册对查询的兴趣。条目不存在、已失效、已过期或处于错误状态时发起一次回源，
// 已有能反映最新失效的请求在进行中时复用它。
func (c *Cache) Subscribe(q query.LogicalQuery) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	e, err := c.ensureEntryLocked(q)
	if err != nil {
		return nil, err
	}
	e.stopGCLocked()

	sub := &Subscription{
		cache:   c,
		entry:   e,
		updates: make(chan Snapshot, 1),
	}
	e.subs[sub] = struct{}{}

	// 失效之后还没有新请求发出时，进行中的旧请求不能满足这次读取。
	refreshing := e.inflight > 0 && !(e.stale && e.latestSeq <= e.staleThrough)
	if !refreshing && e.needsRefresh(c.clock.Now()) {
		c.startFetchLocked(e, "subscribe")
		c.notifyLocked(e)
	} else {
		sub.pushLocked(e.snapshotLocked())
	}
	return sub, nil
}

// Refetch 强制回源并等待本次请求完成。查询条目不存在时会先创建；
// 若响应因过期被丢弃，返回当前快照且不报错。
func (c *Cache) Refetch(ctx context.Context, q query.LogicalQuery) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	e, err := c.ensureEntryLocked(q)
	if err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	return c.refetchLocked(ctx, e)
}

// refetchLocked 在持有锁时调用，返回前释放锁。
func (c *Cache) refetchLocked(ctx context.Context, e *entry) (Snapshot, error) {
	seq := c.startFetchLocked(e, "refetch")
	wait := make(chan fetchOutcome, 1)
	e.waiters[seq] = append(e.waiters[seq], wait)
	c.notifyLocked(e)
	c.mu.Unlock()

	select {
	case out := <-wait:
		return out.snapshot, out.err
	case <-ctx.Done():
		return c.Peek(e.query), ctx.Err()
	}
}

// Peek 返回条目当前快照，不触发回源；条目不存在时 Status 为 uninitialized。
func (c *Cache) Peek(q query.LogicalQuery) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := q.Key()
	if e, ok := c.entries[key]; ok {
		return e.snapshotLocked()
	}
	return Snapshot{Key: key, Status: StatusUninitialized}
}

// Invalidate 将提供任一 tag 的条目标记为失效，返回受影响的条目数。
// 不修改缓存数据，也不发起请求。
func (c *Cache) Invalidate(tagList []tags.Tag) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	keys := c.index.EntriesForTags(tagList)
	for _, key := range keys {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		e.stale = true
		e.staleThrough = e.latestSeq
		c.notifyLocked(e)
	}
	if len(keys) > 0 {
		c.logger.WithFields(logrus.Fields{
			"action":  "query_invalidate",
			"tags":    tagList,
			"entries": len(keys),
		}).Debug("query_invalidate")
	}
	return len(keys)
}

// HandleInvalidation 将 cache-invalidated 事件的 key 映射为 tag 并失效。
func (c *Cache) HandleInvalidation(evt events.Invalidation) int {
	tagList := tags.FromInvalidationKey(evt.Key)
	if len(tagList) == 0 {
		c.logger.WithFields(logrus.Fields{
			"action": "query_invalidate",
			"key":    evt.Key,
		}).Warn("unknown_invalidation_key")
		return 0
	}
	return c.Invalidate(tagList)
}

func (c *Cache) onBusMessage(_ string, data interface{}) {
	switch evt := data.(type) {
	case events.Invalidation:
		c.HandleInvalidation(evt)
	case *events.Invalidation:
		if evt != nil {
			c.HandleInvalidation(*evt)
		}
	case string:
		c.HandleInvalidation(events.Invalidation{Key: evt})
	}
}

// UpdateLocally 对单个已有结果的条目应用变换，并同步通知订阅者。
// 在令牌被 Revert 或 Release 之前，新到达的服务端结果会重新叠加该变换。
// 条目不存在、尚无结果或变换未产生变化时返回 false。
func (c *Cache) UpdateLocally(q query.LogicalQuery, transform Transform) (RevertToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[q.Key()]
	if !ok || c.closed {
		return RevertToken{}, false
	}
	return c.applyLocked(e, transform)
}

// UpdateTagged 对提供任一 tag 的所有条目应用变换，返回每个实际变化条目的回滚令牌。
func (c *Cache) UpdateTagged(tagList []tags.Tag, transform Transform) []RevertToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	var tokens []RevertToken
	for _, key := range c.index.EntriesForTags(tagList) {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		if token, changed := c.applyLocked(e, transform); changed {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func (c *Cache) applyLocked(e *entry, transform Transform) (RevertToken, bool) {
	if !e.hasResult {
		return RevertToken{}, false
	}
	next, changed := transform(e.result)
	if !changed {
		return RevertToken{}, false
	}
	prev := e.result
	e.result = next
	e.generation++
	c.nextOverlay++
	e.overlays = append(e.overlays, overlay{id: c.nextOverlay, transform: transform})
	c.provideLocked(e)
	c.notifyLocked(e)
	return RevertToken{key: e.key, generation: e.generation, previous: prev, overlay: c.nextOverlay}, true
}

// Revert 恢复令牌记录的结果。若此后条目已被服务端数据或其他变换替换，
// 只从当前结果中撤掉该变换，并将条目标记为失效，返回 false。
func (c *Cache) Revert(token RevertToken) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[token.key]
	if !ok || c.closed {
		return false
	}
	removed := e.dropOverlayLocked(token.overlay)
	if e.generation != token.generation {
		if removed {
			e.result = e.composeLocked()
			e.generation++
			c.provideLocked(e)
		}
		e.stale = true
		e.staleThrough = e.latestSeq
		c.notifyLocked(e)
		return false
	}
	e.result = token.previous
	e.generation++
	c.provideLocked(e)
	c.notifyLocked(e)
	return true
}

// Release 确认令牌对应的变换。已经发出的请求返回时仍会叠加该变换，
// 之后发出的请求的结果将直接取代它。
func (c *Cache) Release(token RevertToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[token.key]
	if !ok {
		return
	}
	for i := range e.overlays {
		if e.overlays[i].id == token.overlay {
			e.overlays[i].committed = true
			e.overlays[i].through = e.latestSeq
			return
		}
	}
}

// RefetchActive 对活跃且满足 filter 的条目发起回源（已有请求进行中的跳过），
// 返回发起的请求数。活跃指有订阅者，或是已有结果的 Never 常驻条目。
// filter 为空时选择所有活跃条目。
func (c *Cache) RefetchActive(reason string, filter func(query.Operation) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	started := 0
	for _, e := range c.entries {
		if !e.activeLocked() || e.inflight > 0 {
			continue
		}
		if filter != nil && !filter(e.op) {
			continue
		}
		c.startFetchLocked(e, reason)
		c.notifyLocked(e)
		started++
	}
	return started
}

// EntryInfo 是诊断接口使用的条目摘要。
type EntryInfo struct {
	Key         string        `json:"key"`
	Operation   string        `json:"operation"`
	Status      Status        `json:"status"`
	Stale       bool          `json:"stale"`
	Fetching    bool          `json:"fetching"`
	Subscribers int           `json:"subscribers"`
	Count       int           `json:"count"`
	Generation  uint64        `json:"generation"`
	TTL         time.Duration `json:"ttl"`
	FetchedAt   time.Time     `json:"fetchedAt"`
	Tags        []tags.Tag    `json:"tags"`
}

// Entries 返回按键排序的条目摘要。
func (c *Cache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EntryInfo, 0, len(c.entries))
	for key, e := range c.entries {
		out = append(out, EntryInfo{
			Key:         key,
			Operation:   e.op.Name,
			Status:      e.status,
			Stale:       e.stale,
			Fetching:    e.inflight > 0,
			Subscribers: len(e.subs),
			Count:       e.result.Len(),
			Generation:  e.generation,
			TTL:         e.ttl,
			FetchedAt:   e.fetchedAt,
			Tags:        c.index.TagsOf(key),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (c *Cache) ensureEntryLocked(q query.LogicalQuery) (*entry, error) {
	key := q.Key()
	if e, ok := c.entries[key]; ok {
		return e, nil
	}
	op, ok := c.registry.Resolve(q.Op())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, q.Op())
	}
	ttl := op.TTL
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	e := newEntry(q, op, ttl)
	c.entries[key] = e
	return e, nil
}

func (c *Cache) startFetchLocked(e *entry, reason string) uint64 {
	e.latestSeq++
	seq := e.latestSeq
	e.inflight++
	if !e.hasResult {
		e.status = StatusLoading
	}
	c.logger.WithFields(logging.QueryFields("query_fetch", e.op.Name, e.key)).
		WithFields(logrus.Fields{"seq": seq, "reason": reason}).
		Debug("query_fetch_start")

	// 请求与订阅者生命周期解耦：订阅者离开后结果仍会写回缓存。
	go c.runFetch(e, seq)
	return seq
}

func (c *Cache) runFetch(e *entry, seq uint64) {
	started := c.clock.Now()
	result, err := e.op.Fetch(context.Background(), e.query)
	c.complete(e, seq, result, err, c.clock.Now().Sub(started))
}

func (c *Cache) complete(e *entry, seq uint64, result query.Result, err error, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.inflight--
	fields := logging.QueryFields("query_fetch", e.op.Name, e.key)
	fields["seq"] = seq
	fields["elapsed_ms"] = elapsed.Milliseconds()

	out := fetchOutcome{}
	switch {
	case seq < e.appliedSeq:
		out.discarded = true
		c.logger.WithFields(fields).WithField("applied_seq", e.appliedSeq).Info("query_response_discarded")
	case err != nil:
		e.err = err
		e.status = StatusError
		out.err = err
		c.logger.WithFields(fields).WithError(err).Warn("query_fetch_failed")
	default:
		e.base = result
		e.dropCommittedLocked(seq)
		e.result = e.composeLocked()
		e.hasResult = true
		e.status = StatusReady
		e.err = nil
		e.fetchedAt = c.clock.Now()
		e.appliedSeq = seq
		e.generation++
		if seq > e.staleThrough {
			e.stale = false
		}
		c.provideLocked(e)
		c.logger.WithFields(fields).
			WithFields(logrus.Fields{"count": e.result.Len(), "overlays": len(e.overlays)}).
			Debug("query_fetch_complete")
	}

	if !c.closed {
		c.notifyLocked(e)
	}
	out.snapshot = e.snapshotLocked()
	for _, w := range e.waiters[seq] {
		w <- out
	}
	delete(e.waiters, seq)

	if len(e.subs) == 0 && !c.closed {
		c.scheduleGCLocked(e)
	}
}

func (c *Cache) provideLocked(e *entry) {
	if c.entries[e.key] != e {
		return
	}
	var provided []tags.Tag
	if e.op.Tags != nil {
		provided = e.op.Tags(e.query, e.result)
	}
	c.index.Provide(e.key, provided)
}

func (c *Cache) notifyLocked(e *entry) {
	if len(e.subs) == 0 {
		return
	}
	snap := e.snapshotLocked()
	for sub := range e.subs {
		sub.pushLocked(snap)
	}
}

// unsubscribeLocked 移除订阅者，最后一个订阅者离开时安排回收。
func (c *Cache) unsubscribeLocked(sub *Subscription) {
	e := sub.entry
	delete(e.subs, sub)
	sub.closeLocked()
	if len(e.subs) == 0 && !c.closed {
		c.scheduleGCLocked(e)
	}
}

func (c *Cache) scheduleGCLocked(e *entry) {
	if e.ttl == query.Never || e.gcTimer != nil {
		return
	}
	if c.gcGrace == 0 {
		c.collectLocked(e)
		return
	}
	var timer clock.Timer
	timer = c.clock.AfterFunc(c.gcGrace, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// 已触发的旧定时器可能在重新订阅后才拿到锁，此时 gcTimer 已换成新的。
		if e.gcTimer != timer {
			return
		}
		e.gcTimer = nil
		c.collectLocked(e)
	})
	e.gcTimer = timer
}

func (c *Cache) collectLocked(e *entry) {
	if c.entries[e.key] != e || len(e.subs) > 0 || e.inflight > 0 {
		return
	}
	delete(c.entries, e.key)
	c.index.Remove(e.key)
	c.logger.WithFields(logging.QueryFields("query_gc", e.op.Name, e.key)).Debug("query_entry_collected")
}
