// Package operations registers the parcel queries served by the cache:
// the owned-parcel list per role, a single parcel, and the dashboard and
// stats summaries derived from the same list resolution.
package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parcel-hub/parcel-hub/internal/parcel"
	"github.com/parcel-hub/parcel-hub/internal/query"
	"github.com/parcel-hub/parcel-hub/internal/resolver"
	"github.com/parcel-hub/parcel-hub/internal/tags"
)

// 操作名。
const (
	ListOwnedParcels = "listOwnedParcels"
	GetParcel        = "getParcel"
	Dashboard        = "dashboard"
	Stats            = "stats"
)

var (
	// ErrUnknownRole 表示查询参数中的角色不受支持。
	ErrUnknownRole = errors.New("operations: unknown role")
	// ErrMissingID 表示单条查询缺少包裹 ID。
	ErrMissingID = errors.New("operations: parcel id is required")
)

// ListResolver 解析“我的包裹”列表。
type ListResolver interface {
	Resolve(ctx context.Context, key string) (resolver.Resolution, error)
}

// ParcelGetter 获取单个包裹。
type ParcelGetter interface {
	Get(ctx context.Context, id string) (parcel.Parcel, error)
}

// Options 配置注册的操作。
type Options struct {
	Resolver ListResolver
	Getter   ParcelGetter
	// RecentCount 是 dashboard 中最近包裹的条数。
	RecentCount int
	// SingleTTL 为单条查询的 TTL，0 表示使用缓存默认值。
	SingleTTL time.Duration
}

// ListOwned 构造某角色的包裹列表查询。
func ListOwned(role string) query.LogicalQuery {
	return query.New(ListOwnedParcels, map[string]string{"role": role})
}

// Single 构造单个包裹查询。
func Single(id string) query.LogicalQuery {
	return query.New(GetParcel, map[string]string{"id": id})
}

// DashboardOf 构造 dashboard 查询。
func DashboardOf(role string) query.LogicalQuery {
	return query.New(Dashboard, map[string]string{"role": role})
}

// StatsOf 构造统计查询。
func StatsOf(role string) query.LogicalQuery {
	return query.New(Stats, map[string]string{"role": role})
}

// Register 将全部包裹操作注册到 reg。
func Register(reg *query.Registry, opts Options) error {
	if opts.Resolver == nil {
		return fmt.Errorf("operations: list resolver is required")
	}
	if opts.Getter == nil {
		return fmt.Errorf("operations: parcel getter is required")
	}
	if opts.RecentCount <= 0 {
		opts.RecentCount = 5
	}
	h := &handlers{opts: opts}

	ops := []query.Operation{
		{
			Name:        ListOwnedParcels,
			Description: "parcels owned by the current user in the given role",
			Kind:        query.KindList,
			TTL:         query.Never,
			Polled:      true,
			Fetch:       h.listOwned,
			Tags:        listTags,
		},
		{
			Name:        GetParcel,
			Description: "single parcel by id",
			Kind:        query.KindSingle,
			TTL:         opts.SingleTTL,
			Fetch:       h.getParcel,
			Tags:        singleTags,
		},
		{
			Name:        Dashboard,
			Description: "status counts, fee totals and recent parcels",
			Kind:        query.KindSummary,
			TTL:         query.Never,
			Polled:      true,
			Fetch:       h.summary,
			Tags: func(q query.LogicalQuery, _ query.Result) []tags.Tag {
				return []tags.Tag{tags.DashboardTag(q.Arg("role"))}
			},
		},
		{
			Name:        Stats,
			Description: "status counts and delivery success rate",
			Kind:        query.KindSummary,
			TTL:         query.Never,
			Polled:      true,
			Fetch:       h.stats,
			Tags: func(q query.LogicalQuery, _ query.Result) []tags.Tag {
				return []tags.Tag{tags.StatsTag(q.Arg("role"))}
			},
		},
	}
	for _, op := range ops {
		if err := reg.Register(op); err != nil {
			return err
		}
	}
	return nil
}

type handlers struct {
	opts Options
}

func roleOf(q query.LogicalQuery) (string, error) {
	role := q.Arg("role")
	if !tags.ValidRole(role) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return role, nil
}

// resolveOwned 以列表查询的键解析，dashboard 与 stats 共享同一条数提示。
func (h *handlers) resolveOwned(ctx context.Context, role string) ([]parcel.Parcel, error) {
	res, err := h.opts.Resolver.Resolve(ctx, ListOwned(role).Key())
	if err != nil {
		return nil, err
	}
	return res.Parcels, nil
}

func (h *handlers) listOwned(ctx context.Context, q query.LogicalQuery) (query.Result, error) {
	role, err := roleOf(q)
	if err != nil {
		return query.Result{}, err
	}
	parcels, err := h.resolveOwned(ctx, role)
	if err != nil {
		return query.Result{}, err
	}
	return query.ListResult(parcels), nil
}

func (h *handlers) getParcel(ctx context.Context, q query.LogicalQuery) (query.Result, error) {
	id := q.Arg("id")
	if id == "" {
		return query.Result{}, ErrMissingID
	}
	p, err := h.opts.Getter.Get(ctx, id)
	if err != nil {
		return query.Result{}, err
	}
	return query.SingleResult(p), nil
}

func (h *handlers) summary(ctx context.Context, q query.LogicalQuery) (query.Result, error) {
	role, err := roleOf(q)
	if err != nil {
		return query.Result{}, err
	}
	parcels, err := h.resolveOwned(ctx, role)
	if err != nil {
		return query.Result{}, err
	}
	return query.SummaryResult(parcel.Summarize(role, parcels, h.opts.RecentCount)), nil
}

func (h *handlers) stats(ctx context.Context, q query.LogicalQuery) (query.Result, error) {
	role, err := roleOf(q)
	if err != nil {
		return query.Result{}, err
	}
	parcels, err := h.resolveOwned(ctx, role)
	if err != nil {
		return query.Result{}, err
	}
	return query.SummaryResult(parcel.Summarize(role, parcels, 0)), nil
}

func listTags(q query.LogicalQuery, r query.Result) []tags.Tag {
	out := make([]tags.Tag, 0, len(r.Parcels)+1)
	out = append(out, tags.ListTag(q.Arg("role")))
	for _, p := range r.Parcels {
		out = append(out, tags.ParcelTag(p.ID))
	}
	return out
}

func singleTags(q query.LogicalQuery, r query.Result) []tags.Tag {
	id := q.Arg("id")
	if r.Parcel != nil && r.Parcel.ID != "" {
		id = r.Parcel.ID
	}
	return []tags.Tag{tags.ParcelTag(id)}
}
