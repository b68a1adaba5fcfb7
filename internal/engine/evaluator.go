package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/marcelveldt/homeassistant-scheduler/internal/storage/models"
	"github.com/marcelveldt/homeassistant-scheduler/internal/timespec"
)

// conditionTimeout bounds a single condition evaluation; a stuck external
// evaluator must not wedge the whole engine.
const conditionTimeout = 10 * time.Second

type evaluatorDeps struct {
	resolver   *timespec.Resolver
	conditions ConditionEvaluator
	workday    WorkdaySignal
	cron       *cron.Cron
	now        func() time.Time
	notify     func(id string, active bool)
	logger     zerolog.Logger
}

// Evaluator is the per-schedule state machine. It owns one immutable entry
// snapshot, the watch registrations armed for it, and the cached active
// state. Recompute plus notify runs as a critical section per evaluator;
// evaluators share no state with each other.
type Evaluator struct {
	deps evaluatorDeps

	// fireMu serializes watch firings, reinitialization and teardown so a
	// recompute and its notification are never interleaved for one
	// evaluator. mu alone guards the snapshot fields read by other
	// goroutines (lock order: fireMu before mu).
	fireMu sync.Mutex

	mu         sync.Mutex
	entry      models.ScheduleEntry
	active     bool
	torn       bool
	generation int
	cancels    []func()
}

func newEvaluator(deps evaluatorDeps) *Evaluator {
	return &Evaluator{deps: deps}
}

// Entry returns the current entry snapshot.
func (ev *Evaluator) Entry() models.ScheduleEntry {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.entry
}

// Active returns the cached active state.
func (ev *Evaluator) Active() bool {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.active
}

// WatchCount returns the number of live watch registrations.
func (ev *Evaluator) WatchCount() int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return len(ev.cancels)
}

// Reinitialize replaces the entry snapshot, tears down all existing watches,
// arms fresh ones and recomputes synchronously. Safe to call repeatedly with
// the same entry; watches never accumulate.
func (ev *Evaluator) Reinitialize(entry models.ScheduleEntry) {
	ev.fireMu.Lock()
	defer ev.fireMu.Unlock()

	ev.mu.Lock()
	ev.teardownLocked()
	ev.entry = entry
	ev.torn = false
	ev.armWatchesLocked()
	active := ev.recomputeLocked()
	id := ev.entry.ID
	ev.mu.Unlock()

	ev.deps.notify(id, active)
}

// Teardown deregisters all watches. The evaluator is terminal afterwards:
// late watch firings are dropped.
func (ev *Evaluator) Teardown() {
	ev.fireMu.Lock()
	defer ev.fireMu.Unlock()

	ev.mu.Lock()
	ev.teardownLocked()
	ev.torn = true
	ev.mu.Unlock()
}

// teardownLocked cancels every registration. Idempotent.
func (ev *Evaluator) teardownLocked() {
	for _, cancel := range ev.cancels {
		cancel()
	}
	ev.cancels = nil
	ev.generation++
}

// armWatchesLocked registers exactly one watch per distinct time boundary
// (daily cron for clock times, self-re-arming timer for sun events), one for
// the condition expression when present, and one for the workday signal when
// configured. All share the same firing handler.
func (ev *Evaluator) armWatchesLocked() {
	gen := ev.generation
	handler := func() { ev.watchFired(gen) }

	for _, spec := range []string{ev.entry.After, ev.entry.Before} {
		if spec == "" {
			continue
		}
		if timespec.IsSunSpec(spec) {
			event, offset, err := timespec.ParseSunEvent(spec)
			if err != nil {
				// Entries are validated before they go live.
				ev.deps.logger.Error().Err(err).Str("spec", spec).Msg("unparseable sun spec")
				continue
			}
			ev.cancels = append(ev.cancels, ev.armSunWatch(event, offset, handler))
			continue
		}
		tod, err := timespec.ParseClock(spec)
		if err != nil {
			ev.deps.logger.Error().Err(err).Str("spec", spec).Msg("unparseable clock spec")
			continue
		}
		entryID, err := ev.deps.cron.AddFunc(
			fmt.Sprintf("%d %d %d * * *", tod.Second, tod.Minute, tod.Hour), handler)
		if err != nil {
			ev.deps.logger.Error().Err(err).Str("spec", spec).Msg("registering time watch")
			continue
		}
		c := ev.deps.cron
		ev.cancels = append(ev.cancels, func() { c.Remove(entryID) })
	}

	if ev.entry.HasCondition() && ev.deps.conditions != nil {
		cancel, err := ev.deps.conditions.Subscribe(*ev.entry.Condition, handler)
		if err != nil {
			ev.deps.logger.Error().Err(err).Msg("registering condition watch")
		} else {
			ev.cancels = append(ev.cancels, cancel)
		}
	}

	if ev.deps.workday != nil {
		ev.cancels = append(ev.cancels, ev.deps.workday.OnChange(handler))
	}
}

// armSunWatch fires the handler at each upcoming occurrence of the sun event
// (offset applied), re-arming itself after every firing.
func (ev *Evaluator) armSunWatch(event timespec.SunEvent, offset time.Duration, handler func()) (cancel func()) {
	stop := make(chan struct{})
	go func() {
		for {
			timer := time.NewTimer(ev.untilNextSunFiring(event, offset))
			select {
			case <-timer.C:
				handler()
			case <-stop:
				timer.Stop()
				return
			}
		}
	}()
	return func() { close(stop) }
}

// untilNextSunFiring returns the wait until the next occurrence of the event
// plus offset. Provider errors (polar day/night) back off for an hour.
func (ev *Evaluator) untilNextSunFiring(event timespec.SunEvent, offset time.Duration) time.Duration {
	now := ev.deps.now()
	local := now.In(ev.deps.resolver.Location)
	for day := 0; day <= 2; day++ {
		instant, err := ev.deps.resolver.Astro.EventInstant(event, local.AddDate(0, 0, day))
		if err != nil {
			ev.deps.logger.Warn().Err(err).Str("event", string(event)).Msg("sun event unavailable")
			return time.Hour
		}
		if fireAt := instant.Add(offset); fireAt.After(now) {
			return fireAt.Sub(now)
		}
	}
	return time.Hour
}

// watchFired is the shared firing handler. Firings from a previous watch
// generation (cancelled during a reinitialize) are dropped.
func (ev *Evaluator) watchFired(gen int) {
	ev.fireMu.Lock()
	defer ev.fireMu.Unlock()

	ev.mu.Lock()
	if ev.torn || gen != ev.generation {
		ev.mu.Unlock()
		return
	}
	active := ev.recomputeLocked()
	id := ev.entry.ID
	ev.mu.Unlock()

	// Notify on every firing, also when the value did not change.
	ev.deps.notify(id, active)
}

// recomputeLocked derives the active state from the three match conditions.
func (ev *Evaluator) recomputeLocked() bool {
	entry := ev.entry
	if entry.After == "" || entry.Before == "" {
		ev.active = false
		return false
	}

	now := ev.deps.now()
	local := now.In(ev.deps.resolver.Location)

	after, err := ev.deps.resolver.TimeOfDay(now, entry.After)
	if err != nil {
		ev.deps.logger.Warn().Err(err).Msg("resolving after boundary")
		ev.active = false
		return false
	}
	before, err := ev.deps.resolver.TimeOfDay(now, entry.Before)
	if err != nil {
		ev.deps.logger.Warn().Err(err).Msg("resolving before boundary")
		ev.active = false
		return false
	}

	timeMatches := timespec.InWindow(timespec.TimeOfDayOf(local), after, before)

	workdayState := timespec.WorkdayUnknown
	if ev.deps.workday != nil {
		workdayState = ev.deps.workday.State()
	}
	dayMatches := timespec.DayMatches(local.Weekday(), entry.Weekdays, workdayState)

	condMatches := true
	if entry.HasCondition() {
		if ev.deps.conditions == nil {
			condMatches = false
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), conditionTimeout)
			ok, err := ev.deps.conditions.Evaluate(ctx, *entry.Condition)
			cancel()
			if err != nil {
				// Condition failures degrade this schedule to inactive;
				// other schedules keep evaluating.
				ev.deps.logger.Error().Err(err).Msg("condition evaluation failed")
				condMatches = false
			} else {
				condMatches = ok
			}
		}
	}

	ev.active = timeMatches && condMatches && dayMatches
	return ev.active
}
