package querycache

import (
	"context"

	"github.com/parcel-hub/parcel-hub/internal/query"
)

// Subscription 是调用方对某个查询的兴趣句柄。Updates 只保留最新快照，
// 慢消费者会跳过中间状态而不会阻塞缓存。
type Subscription struct {
	cache   *Cache
	entry   *entry
	updates chan Snapshot
	closed  bool
}

// Query 返回订阅的查询。
func (s *Subscription) Query() query.LogicalQuery { return s.entry.query }

// Snapshot 返回条目当前状态。
func (s *Subscription) Snapshot() Snapshot {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	return s.entry.snapshotLocked()
}

// Updates 返回状态变化通知通道，Close 后通道被关闭。
func (s *Subscription) Updates() <-chan Snapshot { return s.updates }

// Refetch 强制回源并等待完成。
func (s *Subscription) Refetch(ctx context.Context) (Snapshot, error) {
	s.cache.mu.Lock()
	if s.closed || s.cache.closed {
		s.cache.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	return s.cache.refetchLocked(ctx, s.entry)
}

// Close 取消订阅，可重复调用。
func (s *Subscription) Close() {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	if s.closed {
		return
	}
	s.cache.unsubscribeLocked(s)
}

func (s *Subscription) pushLocked(snap Snapshot) {
	if s.closed {
		return
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.updates)
}
