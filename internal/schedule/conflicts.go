package schedule

import (
	"fmt"
	"sort"

	"itinsync/internal/model"
	"itinsync/internal/timeutil"
)

// DefaultGapThreshold is the idle stretch, in minutes, reported as a gap.
const DefaultGapThreshold = 180

// Conflict is a purely diagnostic finding; Index refers to the later item of
// the offending pair within the input slice.
type Conflict struct {
	Index   int    `json:"index"`
	Type    string `json:"type"` // overlap or gap
	Message string `json:"message"`
	Minutes int    `json:"minutes"`
}

// DetectConflicts walks consecutive pairs of a time-sorted day and reports
// overlaps and long gaps. Transport items and items without parseable times
// neither trigger nor receive reports. gapThreshold <= 0 uses the default.
func DetectConflicts(items []model.Item, gapThreshold int) []Conflict {
	if gapThreshold <= 0 {
		gapThreshold = DefaultGapThreshold
	}
	out := []Conflict{}
	prevIdx := -1
	for i, it := range items {
		if it.Type == "transport" || it.Type == "walk" {
			continue
		}
		start, ok := timeutil.ItemStart(it)
		if !ok {
			continue
		}
		if prevIdx >= 0 {
			prevEnd, ok := timeutil.ItemEnd(items[prevIdx], DefaultDuration)
			if ok {
				switch {
				case start < prevEnd:
					out = append(out, Conflict{
						Index:   i,
						Type:    "overlap",
						Minutes: prevEnd - start,
						Message: fmt.Sprintf("%s overlaps %s by %d min", items[i].DisplayName(), items[prevIdx].DisplayName(), prevEnd-start),
					})
				case start-prevEnd >= gapThreshold:
					out = append(out, Conflict{
						Index:   i,
						Type:    "gap",
						Minutes: start - prevEnd,
						Message: fmt.Sprintf("%d min idle before %s", start-prevEnd, items[i].DisplayName()),
					})
				}
			}
		}
		prevIdx = i
	}
	return out
}

// SortByTime returns a chronologically ordered copy for display purposes.
// Items without a parseable time keep their relative order at the end.
func SortByTime(items []model.Item) []model.Item {
	out := model.CloneItems(items)
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := timeutil.ItemStart(out[i])
		b, bok := timeutil.ItemStart(out[j])
		if aok && bok {
			return a < b
		}
		return aok && !bok
	})
	return out
}
