package tags

import (
	"sort"
	"sync"

	"github.com/juju/collections/set"
)

// Index 维护 entry → tags 与 tag → entries 两个方向的映射。entry 以查询键标识。
type Index struct {
	mu      sync.RWMutex
	byEntry map[string]map[Tag]struct{}
	byTag   map[Tag]set.Strings
}

// NewIndex 创建空索引。
func NewIndex() *Index {
	return &Index{
		byEntry: make(map[string]map[Tag]struct{}),
		byTag:   make(map[Tag]set.Strings),
	}
}

// Provide 用 tags 整体替换 entry 之前声明的 tag 集合，并同步反向映射。
// 只更新索引，不通知任何订阅方。
func (i *Index) Provide(entry string, tags []Tag) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.unlinkLocked(entry)
	if len(tags) == 0 {
		return
	}

	provided := make(map[Tag]struct{}, len(tags))
	for _, t := range tags {
		provided[t] = struct{}{}
		entries, ok := i.byTag[t]
		if !ok {
			entries = set.NewStrings()
			i.byTag[t] = entries
		}
		entries.Add(entry)
	}
	i.byEntry[entry] = provided
}

// Remove 删除 entry 及其所有反向链接，entry 销毁时调用。
func (i *Index) Remove(entry string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.unlinkLocked(entry)
}

// EntriesForTags 返回提供任一 tag 的 entry 并集（已排序）。
func (i *Index) EntriesForTags(tags []Tag) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	seen := set.NewStrings()
	for _, t := range tags {
		if entries, ok := i.byTag[t]; ok {
			seen = seen.Union(entries)
		}
	}
	if seen.IsEmpty() {
		return nil
	}
	return seen.SortedValues()
}

// TagsOf 返回 entry 当前声明的 tag（已排序）。
func (i *Index) TagsOf(entry string) []Tag {
	i.mu.RLock()
	defer i.mu.RUnlock()

	provided := i.byEntry[entry]
	if len(provided) == 0 {
		return nil
	}
	out := make([]Tag, 0, len(provided))
	for t := range provided {
		out = append(out, t)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Len 返回当前仍被至少一个 entry 提供的 tag 数量。
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byTag)
}

func (i *Index) unlinkLocked(entry string) {
	prev, ok := i.byEntry[entry]
	if !ok {
		return
	}
	for t := range prev {
		entries := i.byTag[t]
		entries.Remove(entry)
		if entries.IsEmpty() {
			delete(i.byTag, t)
		}
	}
	delete(i.byEntry, entry)
}
