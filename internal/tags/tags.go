// Package tags maintains the many-to-many relation between invalidation tags
// and the cache entries that currently provide them. The index answers "which
// entries does tag T affect" with a single map lookup per tag, and prunes
// reverse links as soon as an entry is removed so that long sessions do not
// accumulate tags for entries that no longer exist.
package tags

import (
	"sort"
	"strings"
)

// Tag 是不透明的失效分组键，例如 parcel:{id}、parcel-list:sender。
type Tag string

// Role 标识列表视图的归属方。
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

// Roles 列出所有支持的角色。
var Roles = []string{RoleSender, RoleReceiver}

const (
	prefixParcel    = "parcel:"
	prefixList      = "parcel-list:"
	prefixDashboard = "dashboard:"
	prefixStats     = "stats:"
)

// ParcelTag 返回单个包裹的 tag。
func ParcelTag(id string) Tag { return Tag(prefixParcel + id) }

// ListTag 返回某角色包裹列表的 tag。
func ListTag(role string) Tag { return Tag(prefixList + role) }

// DashboardTag 返回某角色 dashboard 的 tag。
func DashboardTag(role string) Tag { return Tag(prefixDashboard + role) }

// StatsTag 返回某角色统计视图的 tag。
func StatsTag(role string) Tag { return Tag(prefixStats + role) }

// RoleTags 返回角色级的全部 tag：列表、dashboard、统计。
func RoleTags(role string) []Tag {
	return []Tag{ListTag(role), DashboardTag(role), StatsTag(role)}
}

// ValidRole 判断角色是否受支持。
func ValidRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// FromInvalidationKey 将 cache-invalidated 事件中的 key 映射为需要失效的 tag。
// 未识别的 key 返回 nil。
func FromInvalidationKey(key string) []Tag {
	key = strings.TrimSpace(key)
	switch key {
	case "":
		return nil
	case "all":
		var out []Tag
		for _, role := range Roles {
			out = append(out, RoleTags(role)...)
		}
		return out
	case "parcels":
		return []Tag{ListTag(RoleSender), ListTag(RoleReceiver)}
	case "dashboard":
		return []Tag{DashboardTag(RoleSender), DashboardTag(RoleReceiver)}
	case "stats":
		return []Tag{StatsTag(RoleSender), StatsTag(RoleReceiver)}
	}

	if role, ok := strings.CutPrefix(key, "parcels:"); ok && ValidRole(role) {
		return RoleTags(role)
	}
	for _, prefix := range []string{prefixList, prefixDashboard, prefixStats} {
		if role, ok := strings.CutPrefix(key, prefix); ok && ValidRole(role) {
			return []Tag{Tag(key)}
		}
	}
	if id, ok := strings.CutPrefix(key, prefixParcel); ok && id != "" {
		return []Tag{Tag(key)}
	}
	return nil
}

// Sorted 返回去重并排序后的副本，保证 tag 集合输出稳定。
func Sorted(in []Tag) []Tag {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[Tag]struct{}, len(in))
	out := make([]Tag, 0, len(in))
	for _, t := range in {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
