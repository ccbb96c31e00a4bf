package resolver

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/parcel-hub/parcel-hub/internal/origin"
	"github.com/parcel-hub/parcel-hub/internal/parcel"
)

// Tactic 是一种从上游取回完整列表的方式。
type Tactic string

const (
	// PrimaryLarge 请求主列表接口并带上很大的 limit。
	PrimaryLarge Tactic = "primary-large"
	// SecondaryLarge 请求不分页接口并带上很大的 limit。
	SecondaryLarge Tactic = "secondary-large"
	// TwoPageConcat 分别请求主接口第 1、2 页后拼接去重。
	TwoPageConcat Tactic = "two-page-concat"
	// SecondaryBare 不带任何参数请求不分页接口。
	SecondaryBare Tactic = "secondary-bare"
	// PrimaryBare 不带任何参数请求主接口。
	PrimaryBare Tactic = "primary-bare"
)

// Step 是计划中的一步；OnlyIfEmpty 为 true 时，只有此前所有策略都没拿到记录才执行。
type Step struct {
	Tactic      Tactic
	OnlyIfEmpty bool
}

// DefaultPlan 是固定的全序策略列表。
var DefaultPlan = []Step{
	{Tactic: PrimaryLarge},
	{Tactic: SecondaryLarge},
	{Tactic: TwoPageConcat},
	{Tactic: SecondaryBare, OnlyIfEmpty: true},
	{Tactic: PrimaryBare, OnlyIfEmpty: true},
}

// ErrUnknownTactic 表示计划中包含未实现的策略。
var ErrUnknownTactic = errors.New("unknown fetch tactic")

// Source 是解析器依赖的上游列表接口，*origin.Client 满足该接口。
type Source interface {
	ListMine(ctx context.Context, params origin.ListParams) ([]parcel.Parcel, error)
	ListMineNoPagination(ctx context.Context, params origin.ListParams) ([]parcel.Parcel, error)
}

// Plausible 判断结果条数是否可信：超过阈值，或与上一次成功解析的条数一致。
func Plausible(count, hint, minPlausible int) bool {
	if count > minPlausible {
		return true
	}
	return hint > 0 && count == hint
}

// run 执行单个策略。
func (r *Resolver) run(ctx context.Context, tactic Tactic) ([]parcel.Parcel, error) {
	switch tactic {
	case PrimaryLarge:
		return r.source.ListMine(ctx, origin.ListParams{Limit: r.opts.LargeLimit})
	case SecondaryLarge:
		return r.source.ListMineNoPagination(ctx, origin.ListParams{Limit: r.opts.LargeLimit})
	case TwoPageConcat:
		return r.twoPages(ctx)
	case SecondaryBare:
		return r.source.ListMineNoPagination(ctx, origin.ListParams{})
	case PrimaryBare:
		return r.source.ListMine(ctx, origin.ListParams{})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTactic, tactic)
	}
}

// twoPages 并发请求两页，按页序拼接；重复 ID 保留先出现的一条。
func (r *Resolver) twoPages(ctx context.Context) ([]parcel.Parcel, error) {
	var pages [2][]parcel.Parcel
	g, gctx := errgroup.WithContext(ctx)
	for i := range pages {
		page := i + 1
		g.Go(func() error {
			list, err := r.source.ListMine(gctx, origin.ListParams{Page: page, Limit: r.opts.PageLimit})
			if err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			pages[page-1] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]parcel.Parcel, 0, len(pages[0])+len(pages[1]))
	merged = append(merged, pages[0]...)
	merged = append(merged, pages[1]...)
	return parcel.Dedupe(merged), nil
}
