package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/parcel-hub/parcel-hub/internal/query"
)

const defaultPollInterval = 30 * time.Second

// PollerOptions 配置轮询器。
type PollerOptions struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *logrus.Logger
	// Filter 选择需要轮询的操作，默认选择 Polled 为 true 的操作。
	Filter func(query.Operation) bool
}

// Poller 周期性刷新活跃的轮询条目，并在视图重新可见时立即刷新一次。
type Poller struct {
	cache    *Cache
	interval time.Duration
	clock    clock.Clock
	logger   *logrus.Logger
	filter   func(query.Operation) bool

	mu      sync.Mutex
	visible bool
}

// NewPoller 构造轮询器，初始状态为可见。
func NewPoller(cache *Cache, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Filter == nil {
		opts.Filter = func(op query.Operation) bool { return op.Polled }
	}
	return &Poller{
		cache:    cache,
		interval: opts.Interval,
		clock:    opts.Clock,
		logger:   opts.Logger,
		filter:   opts.Filter,
		visible:  true,
	}
}

// Run 阻塞直到 ctx 结束。
func (p *Poller) Run(ctx context.Context) error {
	timer := p.clock.NewTimer(p.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.Chan():
			p.Tick()
			timer.Reset(p.interval)
		}
	}
}

// Tick 执行一次轮询；不可见时跳过。返回发起的请求数。
func (p *Poller) Tick() int {
	if !p.Visible() {
		return 0
	}
	started := p.cache.RefetchActive("poll", p.filter)
	if started > 0 {
		p.logger.WithFields(logrus.Fields{
			"action":  "query_poll",
			"started": started,
		}).Debug("query_poll_tick")
	}
	return started
}

// VisibilityChanged 记录视图可见性；从不可见变为可见时立即刷新活跃条目。
func (p *Poller) VisibilityChanged(visible bool) int {
	p.mu.Lock()
	became := visible && !p.visible
	p.visible = visible
	p.mu.Unlock()

	if !became {
		return 0
	}
	return p.cache.RefetchActive("visibility", nil)
}

// Visible 返回当前可见性。
func (p *Poller) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}
