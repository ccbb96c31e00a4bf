package query

import (
	"context"
	"testing"
)

func TestKeyIsStableAcrossArgOrder(t *testing.T) {
	a := New("listOwnedParcels", map[string]string{"role": "sender", "page": "1"})
	b := New("listOwnedParcels", map[string]string{"page": "1", "role": "sender"})
	if a.Key() != b.Key() {
		t.Fatalf("相同参数的查询 Key 应一致: %s vs %s", a.Key(), b.Key())
	}
	if a.Key() != "listOwnedParcels?page=1&role=sender" {
		t.Fatalf("unexpected key: %s", a.Key())
	}
	if New("stats", nil).Key() != "stats" {
		t.Fatalf("无参数时 Key 应只包含操作名")
	}
}

func TestQueryCopiesArgs(t *testing.T) {
	args := map[string]string{"role": "sender"}
	q := New("listOwnedParcels", args)
	args["role"] = "receiver"
	if q.Arg("role") != "sender" {
		t.Fatalf("构造后修改 args 不应影响查询")
	}
	copied := q.Args()
	copied["role"] = "receiver"
	if q.Arg("role") != "sender" {
		t.Fatalf("Args 应返回副本")
	}
}

func TestListResultNormalizesNil(t *testing.T) {
	r := ListResult(nil)
	if !r.IsList() || r.Len() != 0 {
		t.Fatalf("空列表也应被识别为列表结果")
	}
	if (Result{}).IsList() {
		t.Fatalf("零值不应被识别为列表")
	}
}

func noopFetch(context.Context, LogicalQuery) (Result, error) { return Result{}, nil }

func TestRegistryRegisterResolveAndList(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Operation{Name: "stats", Fetch: noopFetch}); err != nil {
		t.Fatalf("register stats failed: %v", err)
	}
	if err := r.Register(Operation{Name: "dashboard", Fetch: noopFetch}); err != nil {
		t.Fatalf("register dashboard failed: %v", err)
	}
	if _, ok := r.Resolve(" stats "); !ok {
		t.Fatalf("resolve 应忽略首尾空白")
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "dashboard" || names[1] != "stats" {
		t.Fatalf("unexpected order: %v", names)
	}
}

func TestRegistryRejectsDuplicatesAndMissingFetch(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Operation{Name: "x", Fetch: noopFetch}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := r.Register(Operation{Name: "x", Fetch: noopFetch}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	if err := r.Register(Operation{Name: "y"}); err == nil {
		t.Fatalf("缺少 Fetch 应报错")
	}
}
