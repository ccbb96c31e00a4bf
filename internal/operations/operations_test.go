package operations

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/parcel-hub/parcel-hub/internal/parcel"
	"github.com/parcel-hub/parcel-hub/internal/query"
	"github.com/parcel-hub/parcel-hub/internal/querycache"
	"github.com/parcel-hub/parcel-hub/internal/resolver"
	"github.com/parcel-hub/parcel-hub/internal/tags"
)

type stubResolver struct {
	mu      sync.Mutex
	keys    []string
	parcels []parcel.Parcel
	err     error
}

func (s *stubResolver) Resolve(_ context.Context, key string) (resolver.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	if s.err != nil {
		return resolver.Resolution{}, s.err
	}
	return resolver.Resolution{Parcels: s.parcels, Tactic: resolver.PrimaryLarge, Plausible: true}, nil
}

type stubGetter struct {
	parcels map[string]parcel.Parcel
}

func (s stubGetter) Get(_ context.Context, id string) (parcel.Parcel, error) {
	p, ok := s.parcels[id]
	if !ok {
		return parcel.Parcel{}, errors.New("Parcel not found")
	}
	return p, nil
}

func sample() []parcel.Parcel {
	return []parcel.Parcel{
		{ID: "A", Status: parcel.StatusRequested, Fee: 100},
		{ID: "B", Status: parcel.StatusDelivered, Fee: 50},
		{ID: "C", Status: parcel.StatusCancelled, Fee: 70},
	}
}

func newRegistry(t *testing.T, res *stubResolver) *query.Registry {
	t.Helper()
	reg := query.NewRegistry()
	err := Register(reg, Options{
		Resolver:    res,
		Getter:      stubGetter{parcels: map[string]parcel.Parcel{"A": sample()[0]}},
		RecentCount: 2,
	})
	if err != nil {
		t.Fatalf("register error: %v", err)
	}
	return reg
}

func TestRegisterAllOperations(t *testing.T) {
	reg := newRegistry(t, &stubResolver{})
	names := reg.Names()
	if len(names) != 4 {
		t.Fatalf("expected 4 operations, got %v", names)
	}
	list, _ := reg.Resolve(ListOwnedParcels)
	if list.TTL != query.Never || !list.Polled {
		t.Fatalf("列表操作应永不过期且参与轮询")
	}
	single, _ := reg.Resolve(GetParcel)
	if single.Polled {
		t.Fatalf("单条查询不参与轮询")
	}
	if err := Register(reg, Options{Resolver: &stubResolver{}, Getter: stubGetter{}}); err == nil {
		t.Fatalf("重复注册应报错")
	}
	if err := Register(query.NewRegistry(), Options{}); err == nil {
		t.Fatalf("缺少依赖应报错")
	}
}

func TestListOwnedFetchAndTags(t *testing.T) {
	res := &stubResolver{parcels: sample()}
	reg := newRegistry(t, res)
	op, _ := reg.Resolve(ListOwnedParcels)

	q := ListOwned(tags.RoleSender)
	result, err := op.Fetch(context.Background(), q)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if result.Len() != 3 {
		t.Fatalf("expected 3 parcels, got %d", result.Len())
	}
	got := tags.Sorted(op.Tags(q, result))
	want := []tags.Tag{"parcel-list:sender", "parcel:A", "parcel:B", "parcel:C"}
	if len(got) != len(want) {
		t.Fatalf("unexpected tags %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected tags %v", got)
		}
	}
	if res.keys[0] != q.Key() {
		t.Fatalf("解析键应为列表查询键，得到 %s", res.keys[0])
	}
}

func TestListOwnedRejectsUnknownRole(t *testing.T) {
	reg := newRegistry(t, &stubResolver{})
	op, _ := reg.Resolve(ListOwnedParcels)
	if _, err := op.Fetch(context.Background(), ListOwned("admin")); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestDashboardAndStatsShareResolutionKey(t *testing.T) {
	res := &stubResolver{parcels: sample()}
	reg := newRegistry(t, res)
	dash, _ := reg.Resolve(Dashboard)
	stats, _ := reg.Resolve(Stats)

	d, err := dash.Fetch(context.Background(), DashboardOf(tags.RoleReceiver))
	if err != nil {
		t.Fatalf("dashboard error: %v", err)
	}
	if d.Summary == nil || d.Summary.TotalFee != 150 || len(d.Summary.Recent) != 2 {
		t.Fatalf("unexpected dashboard %+v", d.Summary)
	}
	s, err := stats.Fetch(context.Background(), StatsOf(tags.RoleReceiver))
	if err != nil {
		t.Fatalf("stats error: %v", err)
	}
	if s.Summary.Recent != nil || s.Summary.Delivered != 1 {
		t.Fatalf("unexpected stats %+v", s.Summary)
	}
	for _, key := range res.keys {
		if key != ListOwned(tags.RoleReceiver).Key() {
			t.Fatalf("汇总查询应复用列表的解析键，得到 %s", key)
		}
	}
	if got := dash.Tags(DashboardOf("receiver"), d); len(got) != 1 || got[0] != tags.DashboardTag("receiver") {
		t.Fatalf("unexpected dashboard tags %v", got)
	}
}

func TestGetParcel(t *testing.T) {
	reg := newRegistry(t, &stubResolver{})
	op, _ := reg.Resolve(GetParcel)
	r, err := op.Fetch(context.Background(), Single("A"))
	if err != nil || r.Parcel == nil || r.Parcel.ID != "A" {
		t.Fatalf("unexpected result %+v err=%v", r, err)
	}
	if got := op.Tags(Single("A"), r); len(got) != 1 || got[0] != tags.ParcelTag("A") {
		t.Fatalf("unexpected tags %v", got)
	}
	if _, err := op.Fetch(context.Background(), Single("")); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
	if _, err := op.Fetch(context.Background(), Single("Z")); err == nil || err.Error() != "Parcel not found" {
		t.Fatalf("上游错误应原样返回，得到 %v", err)
	}
}

func TestOperationsThroughCache(t *testing.T) {
	res := &stubResolver{parcels: sample()}
	reg := newRegistry(t, res)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cache, err := querycache.New(querycache.Options{Registry: reg, Logger: logger})
	if err != nil {
		t.Fatalf("cache error: %v", err)
	}
	defer cache.Close()

	snap, err := cache.Refetch(context.Background(), ListOwned(tags.RoleSender))
	if err != nil {
		t.Fatalf("refetch error: %v", err)
	}
	if snap.Status != querycache.StatusReady || snap.Data.Len() != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if n := cache.Invalidate([]tags.Tag{tags.ParcelTag("B")}); n != 1 {
		t.Fatalf("parcel:B 应命中列表条目，得到 %d", n)
	}
	if !cache.Peek(ListOwned(tags.RoleSender)).Stale {
		t.Fatalf("失效后列表应标记为 stale")
	}
}
