package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Window decides which trigger instants are allowed to reconcile.
type Window struct {
	hours       map[int]struct{}
	minuteEvery int
}

func NewWindow(hours []int, minuteEvery int) Window {
	set := make(map[int]struct{}, len(hours))
	for _, h := range hours {
		set[h] = struct{}{}
	}
	if minuteEvery <= 0 {
		minuteEvery = 1
	}
	return Window{hours: set, minuteEvery: minuteEvery}
}

// Contains reports whether t, taken in UTC, falls on an allowed hour and minute.
func (w Window) Contains(t time.Time) bool {
	u := t.UTC()
	if _, ok := w.hours[u.Hour()]; !ok {
		return false
	}
	return u.Minute()%w.minuteEvery == 0
}

func (w Window) String() string {
	hours := make([]int, 0, len(w.hours))
	for h := range w.hours {
		hours = append(hours, h)
	}
	sort.Ints(hours)
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = fmt.Sprintf("%02d", h)
	}
	return fmt.Sprintf("hours=[%s] every=%dm UTC", strings.Join(parts, ","), w.minuteEvery)
}
