package engine

import (
	"sort"
	"time"

	"github.com/marcelveldt/homeassistant-scheduler/internal/storage/models"
)

// ActiveSchedules returns the ids of all currently-active schedules in
// chronological order. The ranking is recomputed from scratch on every call;
// nothing is cached between notifications.
//
// Ordering: a stable sort on each schedule's true after-instant (the after
// time on today, or yesterday when the window crosses midnight) followed by
// a stable sort on its true before-instant (the nearest before-instant at or
// past now). Overlapping windows therefore rank by soonest end first among
// equal starts; absent or unresolvable boundaries sort first on a zero key,
// and remaining ties keep insertion order.
func (e *Engine) ActiveSchedules() []string {
	e.mu.Lock()
	evs := make([]*Evaluator, 0, len(e.order))
	for _, id := range e.order {
		if ev, ok := e.evaluators[id]; ok {
			evs = append(evs, ev)
		}
	}
	e.mu.Unlock()

	now := e.now()
	type ranked struct {
		id        string
		active    bool
		afterKey  time.Time
		beforeKey time.Time
	}
	items := make([]ranked, 0, len(evs))
	for _, ev := range evs {
		entry := ev.Entry()
		items = append(items, ranked{
			id:        entry.ID,
			active:    ev.Active(),
			afterKey:  e.trueAfterInstant(now, entry),
			beforeKey: e.trueBeforeInstant(now, entry),
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].afterKey.Before(items[j].afterKey) })
	sort.SliceStable(items, func(i, j int) bool { return items[i].beforeKey.Before(items[j].beforeKey) })

	active := make([]string, 0, len(items))
	for _, item := range items {
		if item.active {
			active = append(active, item.id)
		}
	}
	return active
}

// trueAfterInstant projects the after time onto today, or yesterday when the
// window crosses midnight, so it always lies at or before the true
// before-instant. Missing or unresolvable boundaries yield the zero instant.
func (e *Engine) trueAfterInstant(now time.Time, entry models.ScheduleEntry) time.Time {
	if entry.After == "" || entry.Before == "" {
		return time.Time{}
	}
	after, err := e.resolver.TimeOfDay(now, entry.After)
	if err != nil {
		return time.Time{}
	}
	before, err := e.resolver.TimeOfDay(now, entry.Before)
	if err != nil {
		return time.Time{}
	}

	local := now.In(e.resolver.Location)
	if after.After(before) {
		return after.At(local.AddDate(0, 0, -1))
	}
	return after.At(local)
}

// trueBeforeInstant projects the before time onto today, or tomorrow when it
// has already passed, yielding the nearest instant at or past now.
func (e *Engine) trueBeforeInstant(now time.Time, entry models.ScheduleEntry) time.Time {
	if entry.After == "" || entry.Before == "" {
		return time.Time{}
	}
	before, err := e.resolver.TimeOfDay(now, entry.Before)
	if err != nil {
		return time.Time{}
	}

	local := now.In(e.resolver.Location)
	instant := before.At(local)
	if instant.Before(now) {
		instant = before.At(local.AddDate(0, 0, 1))
	}
	return instant
}
