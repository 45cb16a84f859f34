// Package history provides a bounded undo/redo stack over whole-state
// snapshots, with a human-readable action log.
package history

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCap bounds how many past snapshots are retained.
const DefaultCap = 50

// Action is one entry in the human-readable log. Snapshots themselves live
// in the stack, not here.
type Action struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	ActionType     string    `json:"actionType"`
	Description    string    `json:"description"`
	Date           string    `json:"date,omitempty"`
	ItemCountAfter int       `json:"itemCountAfter"`
}

// mode suppresses re-entrant recording while an undo/redo is being applied.
type mode int

const (
	idle mode = iota
	applyingUndo
	applyingRedo
)

// Stack keeps past snapshots (oldest first), the present snapshot, and
// redone-away future snapshots. All operations are in-memory and cannot
// fail; invalid preconditions are no-ops.
type Stack[T any] struct {
	past    []T
	present T
	seeded  bool
	future  []T
	maxPast int
	mode    mode
	log     []Action
	Now     func() time.Time
}

// New returns a stack seeded with the initial state.
func New[T any](initial T) *Stack[T] {
	s := &Stack[T]{maxPast: DefaultCap, Now: time.Now}
	s.present = initial
	s.seeded = true
	return s
}

// SetCap overrides the past-snapshot bound. Values <= 0 keep the default.
func (s *Stack[T]) SetCap(n int) {
	if n > 0 {
		s.maxPast = n
	}
}

// Record pushes the present into the past and adopts state as the new
// present, clearing any redo history. When invoked while an undo/redo is
// being applied it is a one-shot no-op and reports false, so applying a
// restored snapshot does not record itself as a new action.
func (s *Stack[T]) Record(state T, actionType, description, date string, itemCount int) bool {
	if s.mode != idle {
		s.mode = idle
		return false
	}
	if s.seeded {
		s.past = append(s.past, s.present)
		if len(s.past) > s.maxPast {
			s.past = s.past[len(s.past)-s.maxPast:]
		}
	}
	s.present = state
	s.seeded = true
	s.future = nil
	s.appendLog(actionType, description, date, itemCount)
	return true
}

// Undo restores the most recent past snapshot. Returns ok=false when there
// is nothing to undo.
func (s *Stack[T]) Undo() (T, bool) {
	var zero T
	if len(s.past) == 0 {
		return zero, false
	}
	restored := s.past[len(s.past)-1]
	s.past = s.past[:len(s.past)-1]
	s.future = append([]T{s.present}, s.future...)
	s.present = restored
	s.mode = applyingUndo
	s.appendLog("undo", "undo", "", -1)
	return restored, true
}

// Redo reverses the most recent Undo. Returns ok=false when there is no
// redo history.
func (s *Stack[T]) Redo() (T, bool) {
	var zero T
	if len(s.future) == 0 {
		return zero, false
	}
	restored := s.future[0]
	s.future = s.future[1:]
	s.past = append(s.past, s.present)
	s.present = restored
	s.mode = applyingRedo
	s.appendLog("redo", "redo", "", -1)
	return restored, true
}

// JumpTo restores past[index], re-bucketing the present and everything after
// index into the future in order. Out-of-range indexes are a no-op.
func (s *Stack[T]) JumpTo(index int) (T, bool) {
	var zero T
	if index < 0 || index >= len(s.past) {
		return zero, false
	}
	restored := s.past[index]
	newFuture := append([]T{}, s.past[index+1:]...)
	newFuture = append(newFuture, s.present)
	newFuture = append(newFuture, s.future...)
	s.past = append([]T{}, s.past[:index]...)
	s.future = newFuture
	s.present = restored
	s.mode = applyingUndo
	s.appendLog("jump", "jump to earlier state", "", -1)
	return restored, true
}

// Reset drops all history and reseeds the present. Used when the active
// date changes: undo history does not span date switches.
func (s *Stack[T]) Reset(state T) {
	s.past = nil
	s.future = nil
	s.present = state
	s.seeded = true
	s.mode = idle
	s.log = nil
}

// Present returns the current snapshot.
func (s *Stack[T]) Present() T { return s.present }

// CanUndo reports whether Undo would succeed.
func (s *Stack[T]) CanUndo() bool { return len(s.past) > 0 }

// CanRedo reports whether Redo would succeed.
func (s *Stack[T]) CanRedo() bool { return len(s.future) > 0 }

// Log returns a copy of the action log, oldest first.
func (s *Stack[T]) Log() []Action {
	return append([]Action(nil), s.log...)
}

func (s *Stack[T]) appendLog(actionType, description, date string, itemCount int) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	s.log = append(s.log, Action{
		ID:             uuid.New().String(),
		Timestamp:      now,
		ActionType:     actionType,
		Description:    description,
		Date:           date,
		ItemCountAfter: itemCount,
	})
	if len(s.log) > s.maxPast*2 {
		s.log = s.log[len(s.log)-s.maxPast*2:]
	}
}
