// Package timeutil holds the pure "HH:MM" arithmetic the scheduler and
// conflict detector are built on. Nothing here errors; unparsable input
// reports not-ok so callers can default.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"

	"itinsync/internal/model"
)

const minutesPerDay = 24 * 60

// ParseTime converts "H:MM" or "HH:MM" to minutes since midnight.
// Hours outside 0-23, minutes outside 0-59, or any other shape report ok=false.
func ParseTime(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, false
	}
	if len(parts[0]) < 1 || len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// FormatTime renders minutes as "HH:MM", wrapping modulo 24h so negative and
// overflow inputs land on a valid clock time.
func FormatTime(minutes int) string {
	m := minutes % minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// CalculateEndTime returns start + duration, or ok=false when start is unparsable.
func CalculateEndTime(start string, durationMin int) (string, bool) {
	m, ok := ParseTime(start)
	if !ok {
		return "", false
	}
	return FormatTime(m + durationMin), true
}

// GetDuration returns minutes from start to end, assuming an overnight wrap
// when end reads earlier than start.
func GetDuration(start, end string) (int, bool) {
	s, ok := ParseTime(start)
	if !ok {
		return 0, false
	}
	e, ok := ParseTime(end)
	if !ok {
		return 0, false
	}
	if e < s {
		e += minutesPerDay
	}
	return e - s, true
}

// timeFields are every place an item may carry a clock time.
var timeFields = []string{"time", "startTime", "endTime"}

// ShiftItemTime returns a copy of item with every present time field moved by
// offset minutes: the top-level time plus details.time, details.startTime and
// details.endTime. Absent fields stay absent; the input is not mutated.
func ShiftItemTime(item model.Item, offsetMin int) model.Item {
	out := item.Clone()
	if m, ok := ParseTime(out.Time); ok {
		out.Time = FormatTime(m + offsetMin)
	}
	if out.Details == nil {
		return out
	}
	for _, f := range timeFields {
		s, ok := out.Details[f].(string)
		if !ok {
			continue
		}
		if m, ok := ParseTime(s); ok {
			out.Details[f] = FormatTime(m + offsetMin)
		}
	}
	return out
}

// ItemStart returns the item's start in minutes, preferring the top-level
// time over details.time.
func ItemStart(item model.Item) (int, bool) {
	if m, ok := ParseTime(item.Time); ok {
		return m, true
	}
	if item.Details != nil {
		if s, ok := item.Details["time"].(string); ok {
			return ParseTime(s)
		}
	}
	return 0, false
}

// ItemEnd returns the item's end in minutes: the explicit details.endTime if
// parseable, else start + duration. fallbackDur fills in when the item has no
// duration of its own.
func ItemEnd(item model.Item, fallbackDur int) (int, bool) {
	if item.Details != nil {
		if s, ok := item.Details["endTime"].(string); ok {
			if m, ok := ParseTime(s); ok {
				return m, true
			}
		}
	}
	start, ok := ItemStart(item)
	if !ok {
		return 0, false
	}
	d := item.DurationMin()
	if d <= 0 {
		d = fallbackDur
	}
	return start + d, true
}
