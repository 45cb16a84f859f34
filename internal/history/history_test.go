package history

import "testing"

func record(s *Stack[[]string], state []string) {
	s.Record(state, "edit", "edit", "2026-05-01", len(state))
}

func TestUndoRedoSequence(t *testing.T) {
	s := New([]string{})
	states := [][]string{{"a"}, {"a", "b"}, {"a", "b", "c"}}
	for _, st := range states {
		record(s, st)
	}
	// n undos restore each prior state, then nothing
	if got, ok := s.Undo(); !ok || len(got) != 2 {
		t.Fatalf("undo 1: %v %v", got, ok)
	}
	if got, ok := s.Undo(); !ok || len(got) != 1 {
		t.Fatalf("undo 2: %v %v", got, ok)
	}
	if got, ok := s.Undo(); !ok || len(got) != 0 {
		t.Fatalf("undo 3: %v %v", got, ok)
	}
	if _, ok := s.Undo(); ok {
		t.Fatalf("undo past the seed must fail")
	}
	// redo exactly reverses
	for i := 0; i < 3; i++ {
		got, ok := s.Redo()
		if !ok || len(got) != i+1 {
			t.Fatalf("redo %d: %v %v", i, got, ok)
		}
	}
	if _, ok := s.Redo(); ok {
		t.Fatalf("redo with empty future must fail")
	}
}

func TestRecordClearsFuture(t *testing.T) {
	s := New([]string{})
	record(s, []string{"a"})
	record(s, []string{"a", "b"})
	if _, ok := s.Undo(); !ok {
		t.Fatalf("undo failed")
	}
	if !s.CanRedo() {
		t.Fatalf("expected redo history")
	}
	// applying the restored snapshot must not record; this consumes the
	// one-shot suppression
	if s.Record([]string{"a"}, "edit", "apply undo", "", 1) {
		t.Fatalf("re-entrant record must be suppressed")
	}
	// a genuinely new edit then invalidates redo
	record(s, []string{"a", "x"})
	if s.CanRedo() {
		t.Fatalf("new edit must clear future")
	}
}

func TestRedoSuppressesNextRecord(t *testing.T) {
	s := New([]string{})
	record(s, []string{"a"})
	s.Undo()
	s.Record([]string{}, "edit", "apply undo", "", 0) // suppressed
	if _, ok := s.Redo(); !ok {
		t.Fatalf("redo failed")
	}
	if s.Record([]string{"a"}, "edit", "apply redo", "", 1) {
		t.Fatalf("record during redo application must be suppressed")
	}
	if !s.Record([]string{"a", "b"}, "edit", "real edit", "", 2) {
		t.Fatalf("suppression must be one-shot")
	}
}

func TestCapEvictsOldest(t *testing.T) {
	s := New(0)
	s.SetCap(3)
	for i := 1; i <= 10; i++ {
		s.Record(i, "edit", "n", "", 1)
	}
	undos := 0
	for {
		if _, ok := s.Undo(); !ok {
			break
		}
		undos++
	}
	if undos != 3 {
		t.Fatalf("cap 3: got %d undos", undos)
	}
	if got := s.Present(); got != 7 {
		t.Fatalf("oldest retained should be 7, got %d", got)
	}
}

func TestJumpTo(t *testing.T) {
	s := New(0)
	for i := 1; i <= 4; i++ {
		s.Record(i, "edit", "n", "", 1)
	}
	// past = [0 1 2 3], present = 4
	got, ok := s.JumpTo(1)
	if !ok || got != 1 {
		t.Fatalf("jump: %d %v", got, ok)
	}
	// redo walks forward through 2, 3, 4 in order
	for _, want := range []int{2, 3, 4} {
		got, ok := s.Redo()
		if !ok || got != want {
			t.Fatalf("redo after jump: got %d,%v want %d", got, ok, want)
		}
	}
	if _, ok := s.JumpTo(99); ok {
		t.Fatalf("out-of-range jump must be a no-op")
	}
	if _, ok := s.JumpTo(-1); ok {
		t.Fatalf("negative jump must be a no-op")
	}
}

func TestResetDropsEverything(t *testing.T) {
	s := New([]string{})
	record(s, []string{"a"})
	record(s, []string{"a", "b"})
	s.Reset([]string{"z"})
	if s.CanUndo() || s.CanRedo() {
		t.Fatalf("reset must clear history")
	}
	if got := s.Present(); len(got) != 1 || got[0] != "z" {
		t.Fatalf("present not reseeded: %v", got)
	}
	if len(s.Log()) != 0 {
		t.Fatalf("log must reset with the stack")
	}
}

func TestLogEntries(t *testing.T) {
	s := New([]string{})
	record(s, []string{"a"})
	s.Undo()
	log := s.Log()
	if len(log) != 2 {
		t.Fatalf("want 2 log entries, got %d", len(log))
	}
	if log[0].ActionType != "edit" || log[0].ItemCountAfter != 1 || log[0].Date != "2026-05-01" {
		t.Fatalf("edit entry: %+v", log[0])
	}
	if log[1].ActionType != "undo" {
		t.Fatalf("undo entry: %+v", log[1])
	}
	if log[0].ID == "" || log[0].Timestamp.IsZero() {
		t.Fatalf("entry id/timestamp missing")
	}
}
