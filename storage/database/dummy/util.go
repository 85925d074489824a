package dummydb

import (
	"strings"
	"time"

	"github.com/trezcool/mkopo/core"
)

// orderBy chains orderings into a less function for sort.SliceStable.
// cmp compares the rows i and j on one field: negative, zero or positive.
func orderBy(ordering []core.DBOrdering, cmp func(field string, i, j int) int) func(i, j int) bool {
	return func(i, j int) bool {
		for _, ord := range ordering {
			c := cmp(ord.Field, i, j)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	}
}

func compareStrings(a, b string) int { return strings.Compare(a, b) }

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// inRange reports whether t is within [from, to]; zero bounds are open.
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from.UTC()) {
		return false
	}
	if !to.IsZero() && t.After(to.UTC()) {
		return false
	}
	return true
}
