package timeutil

import (
	"testing"

	"itinsync/internal/model"
)

func TestParseTime(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"09:00", 540, true},
		{"9:05", 545, true},
		{"00:00", 0, true},
		{"23:59", 1439, true},
		{"24:00", 0, false},
		{"12:60", 0, false},
		{"-1:00", 0, false},
		{"120:00", 0, false},
		{"12:5", 0, false},
		{"noon", 0, false},
		{"", 0, false},
		{"12:00:00", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseTime(c.in)
		if ok != c.ok || got != c.want {
			t.Fatalf("ParseTime(%q) = %d,%v want %d,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestFormatTimeWraps(t *testing.T) {
	cases := []struct {
		in   int
		want string
	}{
		{0, "00:00"},
		{540, "09:00"},
		{1439, "23:59"},
		{1440, "00:00"},
		{1500, "01:00"},
		{-30, "23:30"},
		{-1440, "00:00"},
		{3000, "02:00"},
	}
	for _, c := range cases {
		if got := FormatTime(c.in); got != c.want {
			t.Fatalf("FormatTime(%d) = %q want %q", c.in, got, c.want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, m := range []int{-4321, -1, 0, 1, 719, 1439, 1440, 2000, 100000} {
		got, ok := ParseTime(FormatTime(m))
		if !ok {
			t.Fatalf("round trip %d: parse failed", m)
		}
		want := ((m % 1440) + 1440) % 1440
		if got != want {
			t.Fatalf("round trip %d: got %d want %d", m, got, want)
		}
	}
}

func TestCalculateEndTime(t *testing.T) {
	if got, ok := CalculateEndTime("09:00", 90); !ok || got != "10:30" {
		t.Fatalf("got %q,%v", got, ok)
	}
	if got, ok := CalculateEndTime("23:30", 60); !ok || got != "00:30" {
		t.Fatalf("overnight: got %q,%v", got, ok)
	}
	if _, ok := CalculateEndTime("bogus", 60); ok {
		t.Fatalf("expected not-ok for bad start")
	}
}

func TestGetDurationOvernight(t *testing.T) {
	if d, ok := GetDuration("09:00", "10:30"); !ok || d != 90 {
		t.Fatalf("got %d,%v", d, ok)
	}
	if d, ok := GetDuration("23:00", "01:00"); !ok || d != 120 {
		t.Fatalf("overnight: got %d,%v", d, ok)
	}
}

func TestShiftItemTime(t *testing.T) {
	in := model.Item{ID: "a", Time: "09:00", Details: map[string]any{
		"time":      "09:00",
		"startTime": "09:10",
		"endTime":   "10:00",
		"name":      "museum",
	}}
	out := ShiftItemTime(in, 75)
	if out.Time != "10:15" || out.Details["time"] != "10:15" || out.Details["startTime"] != "10:25" || out.Details["endTime"] != "11:15" {
		t.Fatalf("shifted fields wrong: %+v", out)
	}
	if out.Details["name"] != "museum" {
		t.Fatalf("unrelated field changed")
	}
	// input untouched
	if in.Time != "09:00" || in.Details["time"] != "09:00" {
		t.Fatalf("input mutated: %+v", in)
	}
}

func TestShiftItemTimeAbsentFields(t *testing.T) {
	out := ShiftItemTime(model.Item{ID: "b"}, 30)
	if out.Time != "" || out.Details != nil {
		t.Fatalf("absent fields should stay absent: %+v", out)
	}
}

func TestItemStartAndEnd(t *testing.T) {
	it := model.Item{Time: "09:00", Details: map[string]any{"duration": float64(45)}}
	if s, ok := ItemStart(it); !ok || s != 540 {
		t.Fatalf("start: %d,%v", s, ok)
	}
	if e, ok := ItemEnd(it, 60); !ok || e != 585 {
		t.Fatalf("end: %d,%v", e, ok)
	}
	// explicit endTime wins
	it.Details["endTime"] = "11:00"
	if e, ok := ItemEnd(it, 60); !ok || e != 660 {
		t.Fatalf("explicit end: %d,%v", e, ok)
	}
	// no duration falls back
	plain := model.Item{Time: "08:00"}
	if e, ok := ItemEnd(plain, 60); !ok || e != 540 {
		t.Fatalf("fallback end: %d,%v", e, ok)
	}
	if _, ok := ItemStart(model.Item{}); ok {
		t.Fatalf("no time should be not-ok")
	}
}
