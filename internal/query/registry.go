package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parcel-hub/parcel-hub/internal/tags"
)

// Never 表示条目永不过期，只在显式失效或轮询时刷新，且无订阅者时也不回收。
const Never time.Duration = -1

// Kind 区分操作结果的形态。
type Kind string

const (
	KindList    Kind = "list"
	KindSingle  Kind = "single"
	KindSummary Kind = "summary"
)

// FetchFunc 负责从上游取回查询结果。
type FetchFunc func(ctx context.Context, q LogicalQuery) (Result, error)

// TagFunc 根据查询与结果计算条目提供的 tag，必须是纯函数。
type TagFunc func(q LogicalQuery, r Result) []tags.Tag

// Operation 描述一种可缓存的查询。
type Operation struct {
	Name        string
	Description string
	Kind        Kind
	// TTL 为 0 时使用缓存的默认 TTL；Never 表示永不过期。
	TTL time.Duration
	// Polled 为 true 时，轮询与可见性变化会刷新该操作的活跃条目。
	Polled bool
	Fetch  FetchFunc
	Tags   TagFunc
}

// Registry 保存操作名到 Operation 的映射，每个缓存实例持有自己的 Registry。
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}

// Register 将操作加入注册表，重复名称会返回错误。
func (r *Registry) Register(op Operation) error {
	name := normalizeName(op.Name)
	if name == "" {
		return fmt.Errorf("operation name is required")
	}
	if op.Fetch == nil {
		return fmt.Errorf("operation %s: fetch func is required", name)
	}
	op.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[name]; exists {
		return fmt.Errorf("operation %s already registered", name)
	}
	r.ops[name] = op
	return nil
}

// MustRegister 在注册失败时 panic，适合启动阶段调用。
func (r *Registry) MustRegister(op Operation) {
	if err := r.Register(op); err != nil {
		panic(err)
	}
}

// Resolve 返回指定名称的操作。
func (r *Registry) Resolve(name string) (Operation, bool) {
	name = normalizeName(name)
	if name == "" {
		return Operation{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[name]
	return op, ok
}

// List 返回按名称排序的操作列表。
func (r *Registry) List() []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.ops) == 0 {
		return nil
	}

	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]Operation, 0, len(names))
	for _, name := range names {
		result = append(result, r.ops[name])
	}
	return result
}

// Names 返回所有已注册操作的名称，供诊断使用。
func (r *Registry) Names() []string {
	items := r.List()
	result := make([]string, len(items))
	for i, op := range items {
		result[i] = op.Name
	}
	return result
}
