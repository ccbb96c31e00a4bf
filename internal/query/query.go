package query

import (
	"net/url"

	"github.com/parcel-hub/parcel-hub/internal/parcel"
)

// LogicalQuery 是缓存条目的身份：操作名 + 参数。构造后不可修改，
// Key 相同的两个查询始终指向同一个缓存条目。
type LogicalQuery struct {
	op   string
	args map[string]string
}

// New 复制 args 并构造查询。
func New(op string, args map[string]string) LogicalQuery {
	q := LogicalQuery{op: op}
	if len(args) > 0 {
		q.args = make(map[string]string, len(args))
		for k, v := range args {
			q.args[k] = v
		}
	}
	return q
}

// Op 返回操作名。
func (q LogicalQuery) Op() string { return q.op }

// Arg 返回参数值，不存在时为空串。
func (q LogicalQuery) Arg(name string) string { return q.args[name] }

// Args 返回参数副本。
func (q LogicalQuery) Args() map[string]string {
	out := make(map[string]string, len(q.args))
	for k, v := range q.args {
		out[k] = v
	}
	return out
}

// Key 返回稳定的序列化身份，参数按名称排序，例如 listOwnedParcels?role=sender。
func (q LogicalQuery) Key() string {
	if len(q.args) == 0 {
		return q.op
	}
	values := make(url.Values, len(q.args))
	for k, v := range q.args {
		values.Set(k, v)
	}
	return q.op + "?" + values.Encode()
}

func (q LogicalQuery) String() string { return q.Key() }

// Result 是缓存条目保存的值。不同类型的操作只使用其中一个字段；
// 任何变换都必须返回新的 Result，而不是修改已有切片。
type Result struct {
	Parcels []parcel.Parcel `json:"parcels,omitempty"`
	Parcel  *parcel.Parcel  `json:"parcel,omitempty"`
	Summary *parcel.Summary `json:"summary,omitempty"`
}

// ListResult 包装列表结果。nil 列表会被规范为空切片，便于区分“未加载”与“空列表”。
func ListResult(parcels []parcel.Parcel) Result {
	if parcels == nil {
		parcels = []parcel.Parcel{}
	}
	return Result{Parcels: parcels}
}

// SingleResult 包装单个包裹。
func SingleResult(p parcel.Parcel) Result {
	return Result{Parcel: &p}
}

// SummaryResult 包装汇总结果。
func SummaryResult(s parcel.Summary) Result {
	return Result{Summary: &s}
}

// IsList 表示结果是否为列表。
func (r Result) IsList() bool { return r.Parcels != nil }

// Len 返回列表长度；单条结果返回 1，空结果返回 0。
func (r Result) Len() int {
	switch {
	case r.Parcels != nil:
		return len(r.Parcels)
	case r.Parcel != nil:
		return 1
	}
	return 0
}
