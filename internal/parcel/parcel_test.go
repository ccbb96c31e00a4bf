package parcel

import "testing"

func sample() []Parcel {
	return []Parcel{
		{ID: "P1", Status: StatusRequested, Fee: 10},
		{ID: "P2", Status: StatusDelivered, Fee: 20},
		{ID: "P3", Status: StatusCancelled, Fee: 30},
	}
}

func TestWithoutReturnsNewSlice(t *testing.T) {
	in := sample()
	out, ok := Without(in, "P2")
	if !ok {
		t.Fatalf("P2 应被移除")
	}
	if len(out) != 2 || out[0].ID != "P1" || out[1].ID != "P3" {
		t.Fatalf("unexpected result: %v", IDs(out))
	}
	if len(in) != 3 || in[1].ID != "P2" {
		t.Fatalf("原切片不应被修改: %v", IDs(in))
	}

	same, ok := Without(in, "missing")
	if ok || len(same) != 3 {
		t.Fatalf("未命中时应原样返回")
	}
}

func TestReplaceKeepsOriginalUntouched(t *testing.T) {
	in := sample()
	out, ok := Replace(in, "P1", func(p Parcel) Parcel { return p.WithStatus(StatusDelivered) })
	if !ok {
		t.Fatalf("P1 应被替换")
	}
	if out[0].Status != StatusDelivered {
		t.Fatalf("expected delivered, got %s", out[0].Status)
	}
	if in[0].Status != StatusRequested {
		t.Fatalf("原记录不应被修改，得到 %s", in[0].Status)
	}
}

func TestDedupeKeepsFirstSeen(t *testing.T) {
	in := []Parcel{
		{ID: "A", TrackingID: "first"},
		{ID: "B"},
		{ID: "A", TrackingID: "second"},
	}
	out := Dedupe(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 parcels, got %d", len(out))
	}
	if out[0].TrackingID != "first" {
		t.Fatalf("应保留首次出现的记录，得到 %s", out[0].TrackingID)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize("sender", sample(), 2)
	if s.Total != 3 || s.Delivered != 1 || s.Cancelled != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.Active != 1 {
		t.Fatalf("expected 1 active parcel, got %d", s.Active)
	}
	if s.TotalFee != 30 {
		t.Fatalf("取消的包裹不应计入费用，得到 %v", s.TotalFee)
	}
	if len(s.Recent) != 2 {
		t.Fatalf("expected 2 recent parcels, got %d", len(s.Recent))
	}
	if s.ByStatus[StatusInTransit] != 0 {
		t.Fatalf("未出现的状态应为 0")
	}
}
