// Package schedule implements the time-cascade logic that re-times a day
// after a reorder, plus overlap/gap diagnostics.
package schedule

import (
	"context"
	"log"

	"itinsync/internal/directions"
	"itinsync/internal/model"
	"itinsync/internal/timeutil"
)

const (
	// DefaultBuffer is the minimum travel gap kept after the preceding item.
	DefaultBuffer = 10
	// DefaultDuration approximates items that carry no duration of their own.
	DefaultDuration = 60
	// minOffset below which a cascade is skipped as rounding churn.
	minOffset = 2
)

// Ripple computes the cascade shift applied to a day's items after a move.
// Directions may be nil; lookups that fail fall back to Buffer silently.
type Ripple struct {
	Buffer     int
	Duration   int
	Directions directions.Provider
}

// NewRipple returns a Ripple with the stock buffer and default duration.
func NewRipple(p directions.Provider) *Ripple {
	return &Ripple{Buffer: DefaultBuffer, Duration: DefaultDuration, Directions: p}
}

// Result is the outcome of a ripple pass.
type Result struct {
	Items         []model.Item `json:"items"`
	ChangesNeeded bool         `json:"changesNeeded"`
	Offset        int          `json:"offset"`
}

// Plan re-times the day from movedIndex onward. The moved item snaps to its
// predecessor's end plus travel time, in either direction; each downstream
// item is then pushed later if the shift leaves it violating its own buffer,
// and the cascade stops at the first item that needs no push. Every shifted
// item has the identical offset applied to all of its present time fields.
// The input slice is never mutated.
func (r *Ripple) Plan(ctx context.Context, items []model.Item, movedIndex int) Result {
	noop := Result{Items: items}
	if movedIndex <= 0 || movedIndex >= len(items) {
		return noop
	}
	out := model.CloneItems(items)
	changed := false
	movedOffset := 0
	for i := movedIndex; i < len(out); i++ {
		prev := out[i-1]
		prevEnd, ok := timeutil.ItemEnd(prev, r.duration())
		if !ok {
			// no usable predecessor time; nothing to anchor on
			break
		}
		cur, ok := timeutil.ItemStart(out[i])
		if !ok {
			if i == movedIndex {
				// a duration-only item cannot drive a ripple it has no start for
				return noop
			}
			break
		}
		offset := prevEnd + r.travelTime(ctx, prev, out[i]) - cur
		if i == movedIndex {
			if offset > -minOffset && offset < minOffset {
				return noop
			}
			movedOffset = offset
		} else if offset < minOffset {
			// downstream items keep their slack; only buffer violations push
			break
		}
		out[i] = timeutil.ShiftItemTime(out[i], offset)
		changed = true
	}
	if !changed {
		return noop
	}
	return Result{Items: out, ChangesNeeded: true, Offset: movedOffset}
}

// travelTime returns the buffer, upgraded to a mode-aware estimate when both
// items name distinct places and a provider is configured.
func (r *Ripple) travelTime(ctx context.Context, from, to model.Item) int {
	buf := r.buffer()
	if r.Directions == nil {
		return buf
	}
	origin, dest := from.Place(), to.Place()
	if origin == "" || dest == "" || origin == dest {
		return buf
	}
	est, err := r.Directions.Estimate(ctx, origin, dest, to.TransportType())
	if err != nil {
		log.Printf("directions estimate %s -> %s failed: %v", origin, dest, err)
		return buf
	}
	if est < buf {
		return buf
	}
	return est
}

func (r *Ripple) buffer() int {
	if r.Buffer > 0 {
		return r.Buffer
	}
	return DefaultBuffer
}

func (r *Ripple) duration() int {
	if r.Duration > 0 {
		return r.Duration
	}
	return DefaultDuration
}
