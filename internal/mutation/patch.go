package mutation

import (
	"github.com/parcel-hub/parcel-hub/internal/parcel"
	"github.com/parcel-hub/parcel-hub/internal/query"
	"github.com/parcel-hub/parcel-hub/internal/querycache"
	"github.com/parcel-hub/parcel-hub/internal/tags"
)

// Cache 是协调器依赖的缓存能力。
type Cache interface {
	UpdateTagged(tagList []tags.Tag, transform querycache.Transform) []querycache.RevertToken
	Revert(token querycache.RevertToken) bool
	Release(token querycache.RevertToken)
	Invalidate(tagList []tags.Tag) int
}

// Patch 是一次乐观更新：Apply 作用于所有提供 targets 的条目，Revert 按相反顺序回滚。
type Patch struct {
	targets   []tags.Tag
	transform querycache.Transform
	tokens    []querycache.RevertToken
}

// Apply 应用变换并返回受影响的条目数。
func (p *Patch) Apply(cache Cache) int {
	p.tokens = cache.UpdateTagged(p.targets, p.transform)
	return len(p.tokens)
}

// Revert 回滚 Apply 产生的变化，返回成功恢复的条目数。
func (p *Patch) Revert(cache Cache) int {
	restored := 0
	for i := len(p.tokens) - 1; i >= 0; i-- {
		if cache.Revert(p.tokens[i]) {
			restored++
		}
	}
	p.tokens = nil
	return restored
}

// Commit 确认变换，缓存不再为它保留回滚信息。
func (p *Patch) Commit(cache Cache) {
	for _, token := range p.tokens {
		cache.Release(token)
	}
	p.tokens = nil
}

// removeParcel 从列表中移除包裹；单条结果的状态改为已取消。
func removeParcel(id string) *Patch {
	return &Patch{
		targets: []tags.Tag{tags.ListTag(tags.RoleSender), tags.ParcelTag(id)},
		transform: func(r query.Result) (query.Result, bool) {
			switch {
			case r.IsList():
				next, ok := parcel.Without(r.Parcels, id)
				if !ok {
					return r, false
				}
				return query.ListResult(next), true
			case r.Parcel != nil && r.Parcel.ID == id:
				return query.SingleResult(r.Parcel.WithStatus(parcel.StatusCancelled)), true
			}
			return r, false
		},
	}
}

// setStatus 将所有提供 parcel:{id} 的条目中该包裹的状态改为 status。
func setStatus(id string, status parcel.Status) *Patch {
	return &Patch{
		targets: []tags.Tag{tags.ParcelTag(id)},
		transform: func(r query.Result) (query.Result, bool) {
			switch {
			case r.IsList():
				next, ok := parcel.Replace(r.Parcels, id, func(p parcel.Parcel) parcel.Parcel {
					return p.WithStatus(status)
				})
				if !ok {
					return r, false
				}
				return query.ListResult(next), true
			case r.Parcel != nil && r.Parcel.ID == id:
				return query.SingleResult(r.Parcel.WithStatus(status)), true
			}
			return r, false
		},
	}
}
