package schedule

import (
	"context"
	"errors"
	"testing"

	"itinsync/internal/model"
	"itinsync/internal/timeutil"
)

func item(id, tm string, dur int) model.Item {
	it := model.Item{ID: id, Type: "spot", Time: tm, Details: map[string]any{}}
	if dur > 0 {
		it.Details["duration"] = dur
	}
	return it
}

func TestPlanNoPredecessor(t *testing.T) {
	r := NewRipple(nil)
	items := []model.Item{item("a", "09:00", 60), item("b", "10:10", 30)}
	res := r.Plan(context.Background(), items, 0)
	if res.ChangesNeeded {
		t.Fatalf("index 0 must not ripple")
	}
	if res := r.Plan(context.Background(), items, 5); res.ChangesNeeded {
		t.Fatalf("out of range must not ripple")
	}
}

func TestPlanCascade(t *testing.T) {
	r := NewRipple(nil)
	// C dragged between A and B: [A@09:00/60, C@12:00/30, B@10:00/30]
	items := []model.Item{item("a", "09:00", 60), item("c", "12:00", 30), item("b", "10:00", 30)}
	res := r.Plan(context.Background(), items, 1)
	if !res.ChangesNeeded {
		t.Fatalf("expected cascade")
	}
	// expected C start = 10:00 end of A + 10 buffer = 10:10, offset -110
	if res.Offset != -110 {
		t.Fatalf("offset = %d want -110", res.Offset)
	}
	if res.Items[1].Time != "10:10" {
		t.Fatalf("C time = %s want 10:10", res.Items[1].Time)
	}
	// B now collides with C's new end 10:40 and is pushed to 10:50
	if res.Items[2].Time != "10:50" {
		t.Fatalf("B time = %s want 10:50", res.Items[2].Time)
	}
	// input untouched
	if items[1].Time != "12:00" {
		t.Fatalf("input mutated")
	}
}

func TestPlanDownstreamSlackPreserved(t *testing.T) {
	r := NewRipple(nil)
	// b snaps earlier; c and d were already comfortably spaced and stay put
	items := []model.Item{item("a", "09:00", 60), item("b", "13:00", 30), item("c", "14:00", 45), item("d", "18:00", 0)}
	res := r.Plan(context.Background(), items, 1)
	if !res.ChangesNeeded || res.Offset != -170 {
		t.Fatalf("got %+v", res)
	}
	if res.Items[1].Time != "10:10" {
		t.Fatalf("b = %s want 10:10", res.Items[1].Time)
	}
	if res.Items[2].Time != "14:00" || res.Items[3].Time != "18:00" {
		t.Fatalf("slack must be preserved: c=%s d=%s", res.Items[2].Time, res.Items[3].Time)
	}
}

func TestPlanCascadeBeyondImmediateNeighbor(t *testing.T) {
	r := NewRipple(nil)
	// after C lands at 10:10 both B and D are in violation and get pushed
	items := []model.Item{item("a", "09:00", 60), item("c", "12:00", 30), item("b", "10:00", 30), item("d", "10:45", 30)}
	res := r.Plan(context.Background(), items, 1)
	if !res.ChangesNeeded {
		t.Fatalf("expected cascade")
	}
	if res.Items[1].Time != "10:10" || res.Items[2].Time != "10:50" || res.Items[3].Time != "11:30" {
		t.Fatalf("cascade: %s %s %s", res.Items[1].Time, res.Items[2].Time, res.Items[3].Time)
	}
	// each shifted item moved all of its time fields by one per-item offset
	for i := 1; i < len(items); i++ {
		before, _ := timeutil.ItemStart(items[i])
		after, _ := timeutil.ItemStart(res.Items[i])
		endBefore, _ := timeutil.ItemEnd(items[i], 60)
		endAfter, _ := timeutil.ItemEnd(res.Items[i], 60)
		if endAfter-endBefore != after-before {
			t.Fatalf("item %d start/end offsets diverge", i)
		}
	}
}

func TestPlanSmallOffsetIsNoop(t *testing.T) {
	r := NewRipple(nil)
	// A ends 10:00, buffer 10 -> expected 10:10; B at 10:11 is within churn threshold
	items := []model.Item{item("a", "09:00", 60), item("b", "10:11", 30)}
	if res := r.Plan(context.Background(), items, 1); res.ChangesNeeded {
		t.Fatalf("offset below threshold must be a no-op")
	}
}

func TestPlanMissingTimes(t *testing.T) {
	r := NewRipple(nil)
	// predecessor without any time cannot anchor a cascade
	noTime := model.Item{ID: "x", Type: "spot"}
	items := []model.Item{noTime, item("b", "10:00", 30)}
	if res := r.Plan(context.Background(), items, 1); res.ChangesNeeded {
		t.Fatalf("no predecessor time -> no ripple")
	}
	// moved item with duration but no start cannot be rippled
	durOnly := model.Item{ID: "y", Type: "spot", Details: map[string]any{"duration": 30}}
	items = []model.Item{item("a", "09:00", 60), durOnly}
	if res := r.Plan(context.Background(), items, 1); res.ChangesNeeded {
		t.Fatalf("no moved start -> no ripple")
	}
}

func TestPlanDefaultDurationForPredecessor(t *testing.T) {
	r := NewRipple(nil)
	// predecessor has a start but no duration: approximated with 60
	items := []model.Item{item("a", "09:00", 0), item("b", "12:00", 30)}
	res := r.Plan(context.Background(), items, 1)
	if !res.ChangesNeeded || res.Items[1].Time != "10:10" {
		t.Fatalf("got %+v", res)
	}
}

type fixedProvider struct {
	minutes int
	err     error
	calls   int
	mode    string
}

func (f *fixedProvider) Estimate(ctx context.Context, origin, destination, mode string) (int, error) {
	f.calls++
	f.mode = mode
	return f.minutes, f.err
}

func TestPlanUsesDirectionsForDistinctPlaces(t *testing.T) {
	p := &fixedProvider{minutes: 45}
	r := NewRipple(p)
	a := item("a", "09:00", 60)
	a.Details["location"] = "Shinjuku"
	b := item("b", "13:00", 30)
	b.Details["location"] = "Asakusa"
	b.Details["transportType"] = "walk"
	res := r.Plan(context.Background(), []model.Item{a, b}, 1)
	if p.calls != 1 || p.mode != "walk" {
		t.Fatalf("provider calls=%d mode=%q", p.calls, p.mode)
	}
	// expected start 10:00 + 45 = 10:45
	if !res.ChangesNeeded || res.Items[1].Time != "10:45" {
		t.Fatalf("got %+v", res)
	}
}

func TestPlanClampsEstimateToBuffer(t *testing.T) {
	p := &fixedProvider{minutes: 1}
	r := NewRipple(p)
	a := item("a", "09:00", 60)
	a.Details["location"] = "x"
	b := item("b", "13:00", 30)
	b.Details["location"] = "y"
	res := r.Plan(context.Background(), []model.Item{a, b}, 1)
	if !res.ChangesNeeded || res.Items[1].Time != "10:10" {
		t.Fatalf("estimate below buffer must clamp: %+v", res)
	}
}

func TestPlanProviderFailureFallsBack(t *testing.T) {
	p := &fixedProvider{err: errors.New("down")}
	r := NewRipple(p)
	a := item("a", "09:00", 60)
	a.Details["location"] = "x"
	b := item("b", "13:00", 30)
	b.Details["location"] = "y"
	res := r.Plan(context.Background(), []model.Item{a, b}, 1)
	if !res.ChangesNeeded || res.Items[1].Time != "10:10" {
		t.Fatalf("provider failure must fall back to buffer: %+v", res)
	}
}

func TestPlanSamePlaceSkipsLookup(t *testing.T) {
	p := &fixedProvider{minutes: 45}
	r := NewRipple(p)
	a := item("a", "09:00", 60)
	a.Details["location"] = "same"
	b := item("b", "13:00", 30)
	b.Details["location"] = "same"
	res := r.Plan(context.Background(), []model.Item{a, b}, 1)
	if p.calls != 0 {
		t.Fatalf("lookup not expected for identical places")
	}
	if !res.ChangesNeeded || res.Items[1].Time != "10:10" {
		t.Fatalf("got %+v", res)
	}
}
