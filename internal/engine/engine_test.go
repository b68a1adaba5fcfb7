package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelveldt/homeassistant-scheduler/internal/storage/models"
	"github.com/marcelveldt/homeassistant-scheduler/internal/timespec"
)

// fakeStore is an in-memory ScheduleStore.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]models.ScheduleEntry
	order   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]models.ScheduleEntry)}
}

func (s *fakeStore) List(ctx context.Context) ([]models.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScheduleEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out, nil
}

func (s *fakeStore) Create(ctx context.Context, entry models.ScheduleEntry) (models.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.entries[entry.ID]; taken {
		entry.ID = fmt.Sprintf("%s %d", entry.ID, time.Now().Unix())
	}
	s.entries[entry.ID] = entry
	s.order = append(s.order, entry.ID)
	return entry, nil
}

func (s *fakeStore) Update(ctx context.Context, entry models.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; !ok {
		return errors.New("not found")
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// fakeAstro serves fixed sunrise/sunset wall times for every date.
type fakeAstro struct {
	sunrise timespec.TimeOfDay
	sunset  timespec.TimeOfDay
}

func (f *fakeAstro) EventInstant(event timespec.SunEvent, date time.Time) (time.Time, error) {
	tod := f.sunrise
	if event == timespec.SunEventSunset {
		tod = f.sunset
	}
	return tod.At(date).UTC(), nil
}

// fakeConditions scripts evaluation results and records subscriptions.
type fakeConditions struct {
	mu        sync.Mutex
	result    bool
	err       error
	callbacks []func()
}

func (f *fakeConditions) Evaluate(ctx context.Context, expression string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeConditions) Subscribe(expression string, fn func()) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, fn)
	return func() {}, nil
}

func (f *fakeConditions) set(result bool, err error) {
	f.mu.Lock()
	f.result = result
	f.err = err
	f.mu.Unlock()
}

func (f *fakeConditions) fire() {
	f.mu.Lock()
	cbs := append([]func(){}, f.callbacks...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// fakeWorkday scripts the workday signal.
type fakeWorkday struct {
	mu        sync.Mutex
	state     timespec.WorkdayState
	callbacks []func()
}

func (f *fakeWorkday) State() timespec.WorkdayState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeWorkday) OnChange(fn func()) func() {
	f.mu.Lock()
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeWorkday) setState(state timespec.WorkdayState) {
	f.mu.Lock()
	f.state = state
	cbs := append([]func(){}, f.callbacks...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// recordingNotifier counts lifecycle events.
type recordingNotifier struct {
	mu      sync.Mutex
	created []string
	updated []string
	removed []string
}

func (n *recordingNotifier) ScheduleCreated(id string) {
	n.mu.Lock()
	n.created = append(n.created, id)
	n.mu.Unlock()
}

func (n *recordingNotifier) ScheduleUpdated(id string, active bool) {
	n.mu.Lock()
	n.updated = append(n.updated, id)
	n.mu.Unlock()
}

func (n *recordingNotifier) ScheduleRemoved(id string) {
	n.mu.Lock()
	n.removed = append(n.removed, id)
	n.mu.Unlock()
}

func (n *recordingNotifier) updatedCount(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, u := range n.updated {
		if u == id {
			count++
		}
	}
	return count
}

type testEngine struct {
	*Engine
	store      *fakeStore
	conditions *fakeConditions
	workday    *fakeWorkday
	notifier   *recordingNotifier
	clock      *time.Time
}

func newTestEngine(t *testing.T, now time.Time, workday *fakeWorkday) *testEngine {
	t.Helper()
	astro := &fakeAstro{
		sunrise: timespec.TimeOfDay{Hour: 5, Minute: 30},
		sunset:  timespec.TimeOfDay{Hour: 21, Minute: 15},
	}
	te := &testEngine{
		store:      newFakeStore(),
		conditions: &fakeConditions{result: true},
		notifier:   &recordingNotifier{},
		workday:    workday,
		clock:      &now,
	}
	var signal WorkdaySignal
	if workday != nil {
		signal = workday
	}
	te.Engine = New(
		te.store,
		timespec.NewResolver(astro, time.UTC),
		te.conditions,
		signal,
		te.notifier,
		zerolog.Nop(),
	)
	clock := te.clock
	te.Engine.now = func() time.Time { return *clock }
	require.NoError(t, te.Start(context.Background()))
	t.Cleanup(te.Stop)
	return te
}

func (te *testEngine) setNow(now time.Time) {
	*te.clock = now
}

func mustActive(t *testing.T, e *Engine, id string) bool {
	t.Helper()
	active, err := e.IsActive(id)
	require.NoError(t, err)
	return active
}

func TestEveningScheduleEndToEnd(t *testing.T) {
	// Tuesday 22:00 UTC, sunset at 21:15.
	tuesdayEvening := time.Date(2026, 6, 16, 22, 0, 0, 0, time.UTC)
	te := newTestEngine(t, tuesdayEvening, nil)

	entry, err := te.AddSchedule(context.Background(), models.ScheduleEntry{
		ID:       "evening",
		After:    "sunset",
		Before:   "23:00:00",
		Weekdays: []string{"mon", "tue", "wed", "thu", "fri"},
	})
	require.NoError(t, err)
	assert.True(t, mustActive(t, te.Engine, entry.ID))

	// Past the before boundary on the same Tuesday.
	te.setNow(time.Date(2026, 6, 16, 23, 30, 0, 0, time.UTC))
	te.conditions.fire() // any watch firing triggers a recompute
	assert.False(t, mustActive(t, te.Engine, entry.ID))

	// Saturday at an in-window time: day mismatch.
	te.setNow(time.Date(2026, 6, 20, 22, 0, 0, 0, time.UTC))
	te.conditions.fire()
	assert.False(t, mustActive(t, te.Engine, entry.ID))
}

func TestMissingBoundaryIsInactive(t *testing.T) {
	now := time.Date(2026, 6, 16, 12, 0, 0, 0, time.UTC)
	te := newTestEngine(t, now, nil)

	// Bypass validation via the store to simulate a legacy record.
	stored, err := te.store.Create(context.Background(), models.ScheduleEntry{
		ID: "broken", After: "", Before: "18:00:00", Weekdays: []string{"tue"},
	})
	require.NoError(t, err)
	te.attach(stored)

	assert.False(t, mustActive(t, te.Engine, "broken"))
}

func TestConditionGatesActiveState(t *testing.T) {
	now := time.Date(2026, 6, 16, 12, 0, 0, 0, time.UTC)
	te := newTestEngine(t, now, nil)

	condition := "{{ is_state('binary_sensor.anyone_home', 'on') }}"
	entry, err := te.AddSchedule(context.Background(), models.ScheduleEntry{
		ID:        "daytime",
		After:     "08:00:00",
		Before:    "18:00:00",
		Weekdays:  []string{"tue"},
		Condition: &condition,
	})
	require.NoError(t, err)
	assert.True(t, mustActive(t, te.Engine, entry.ID))

	te.conditions.set(false, nil)
	te.conditions.fire()
	assert.False(t, mustActive(t, te.Engine, entry.ID))

	// An erroring evaluator degrades the schedule to inactive, it does not
	// crash the engine.
	te.conditions.set(true, errors.New("template error"))
	te.conditions.fire()
	assert.False(t, mustActive(t, te.Engine, entry.ID))

	te.conditions.set(true, nil)
	te.conditions.fire()
	assert.True(t, mustActive(t, te.Engine, entry.ID))
}

func TestWorkdayTokenFollowsSignal(t *testing.T) {
	// Saturday noon: no direct weekday match possible.
	saturday := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	workday := &fakeWorkday{state: timespec.WorkdayOn}
	te := newTestEngine(t, saturday, workday)

	entry, err := te.AddSchedule(context.Background(), models.ScheduleEntry{
		ID:       "office-hours",
		After:    "08:00:00",
		Before:   "18:00:00",
		Weekdays: []string{"workday"},
	})
	require.NoError(t, err)
	assert.True(t, mustActive(t, te.Engine, entry.ID))

	workday.setState(timespec.WorkdayOff)
	assert.False(t, mustActive(t, te.Engine, entry.ID))

	workday.setState(timespec.WorkdayUnknown)
	assert.False(t, mustActive(t, te.Engine, entry.ID))
}

func TestReinitializeIsIdempotent(t *testing.T) {
	now := time.Date(2026, 6, 16, 12, 0, 0, 0, time.UTC)
	te := newTestEngine(t, now, &fakeWorkday{state: timespec.WorkdayOn})

	condition := "{{ true }}"
	entry, err := te.AddSchedule(context.Background(), models.ScheduleEntry{
		ID:        "idem",
		After:     "08:00:00",
		Before:    "18:00:00",
		Weekdays:  []string{"tue"},
		Condition: &condition,
	})
	require.NoError(t, err)

	te.mu.Lock()
	ev := te.evaluators[entry.ID]
	te.mu.Unlock()

	// Two clock watches + condition watch + workday watch.
	first := ev.WatchCount()
	assert.Equal(t, 4, first)
	wasActive := ev.Active()

	ev.Reinitialize(entry)
	assert.Equal(t, first, ev.WatchCount())
	assert.Equal(t, wasActive, ev.Active())
}

func TestUpdatedNotificationFiresOnEveryRecompute(t *testing.T) {
	now := time.Date(2026, 6, 16, 12, 0, 0, 0, time.UTC)
	te := newTestEngine(t, now, nil)

	condition := "{{ true }}"
	entry, err := te.AddSchedule(context.Background(), models.ScheduleEntry{
		ID:        "chatty",
		After:     "08:00:00",
		Before:    "18:00:00",
		Weekdays:  []string{"tue"},
		Condition: &condition,
	})
	require.NoError(t, err)

	before := te.notifier.updatedCount(entry.ID)
	// Nothing changes, but the watch fired: the notification still goes out.
	te.conditions.fire()
	te.conditions.fire()
	assert.Equal(t, before+2, te.notifier.updatedCount(entry.ID))
}

func TestUpdateScheduleReplacesEntry(t *testing.T) {
	now := time.Date(2026, 6, 16, 12, 0, 0, 0, time.UTC)
	te := newTestEngine(t, now, nil)
	ctx := context.Background()

	entry, err := te.AddSchedule(ctx, models.ScheduleEntry{
		ID: "win", After: "08:00:00", Before: "18:00:00", Weekdays: []string{"tue"},
	})
	require.NoError(t, err)
	assert.True(t, mustActive(t, te.Engine, entry.ID))

	// Shrink the window so "now" falls outside it.
	_, err = te.UpdateSchedule(ctx, entry.ID, models.ScheduleEntry{
		After: "08:00:00", Before: "11:00:00", Weekdays: []string{"tue"},
	})
	require.NoError(t, err)
	assert.False(t, mustActive(t, te.Engine, entry.ID))

	_, err = te.UpdateSchedule(ctx, "nope", models.ScheduleEntry{
		After: "08:00:00", Before: "11:00:00", Weekdays: []string{"tue"},
	})
	assert.ErrorIs(t, err, ErrUnknownSchedule)

	// Invalid specs are rejected before anything goes live.
	_, err = te.UpdateSchedule(ctx, entry.ID, models.ScheduleEntry{
		After: "sunrise+99:99:99", Before: "11:00:00", Weekdays: []string{"tue"},
	})
	assert.ErrorIs(t, err, timespec.ErrInvalidTimeSpec)

	_, err = te.AddSchedule(ctx, models.ScheduleEntry{
		ID: "baddays", After: "08:00:00", Before: "11:00:00", Weekdays: []string{"tue", "someday"},
	})
	assert.ErrorIs(t, err, models.ErrInvalidDaySet)
}

func TestDeleteScheduleTearsDownWatches(t *testing.T) {
	now := time.Date(2026, 6, 16, 12, 0, 0, 0, time.UTC)
	te := newTestEngine(t, now, nil)
	ctx := context.Background()

	entry, err := te.AddSchedule(ctx, models.ScheduleEntry{
		ID: "gone", After: "08:00:00", Before: "18:00:00", Weekdays: []string{"tue"},
	})
	require.NoError(t, err)

	te.mu.Lock()
	ev := te.evaluators[entry.ID]
	te.mu.Unlock()
	require.Greater(t, ev.WatchCount(), 0)

	require.NoError(t, te.DeleteSchedule(ctx, entry.ID))
	assert.Equal(t, 0, ev.WatchCount())
	_, err = te.Schedule(entry.ID)
	assert.ErrorIs(t, err, ErrUnknownSchedule)
	assert.Equal(t, []string{entry.ID}, te.notifier.removed)

	assert.ErrorIs(t, te.DeleteSchedule(ctx, entry.ID), ErrUnknownSchedule)
}

func TestActiveSchedulesOrdering(t *testing.T) {
	now := time.Date(2026, 6, 16, 8, 30, 0, 0, time.UTC)
	te := newTestEngine(t, now, nil)
	ctx := context.Background()

	// A and B start together; B ends sooner and must rank first.
	_, err := te.AddSchedule(ctx, models.ScheduleEntry{
		ID: "a", After: "08:00:00", Before: "10:00:00", Weekdays: []string{"tue"},
	})
	require.NoError(t, err)
	_, err = te.AddSchedule(ctx, models.ScheduleEntry{
		ID: "b", After: "08:00:00", Before: "09:00:00", Weekdays: []string{"tue"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a"}, te.ActiveSchedules())
}

func TestActiveSchedulesCrossMidnightOrdering(t *testing.T) {
	// Tuesday 00:30: both windows are active; the one ending sooner ranks
	// first even though the overnight window started yesterday evening.
	now := time.Date(2026, 6, 16, 0, 30, 0, 0, time.UTC)
	te := newTestEngine(t, now, nil)
	ctx := context.Background()

	_, err := te.AddSchedule(ctx, models.ScheduleEntry{
		ID: "early", After: "00:00:00", Before: "01:00:00", Weekdays: []string{"tue"},
	})
	require.NoError(t, err)
	_, err = te.AddSchedule(ctx, models.ScheduleEntry{
		ID: "overnight", After: "22:00:00", Before: "06:00:00", Weekdays: []string{"mon", "tue"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"early", "overnight"}, te.ActiveSchedules())
}

func TestStartRebuildsPersistedEntries(t *testing.T) {
	now := time.Date(2026, 6, 16, 12, 0, 0, 0, time.UTC)

	store := newFakeStore()
	_, err := store.Create(context.Background(), models.ScheduleEntry{
		ID: "persisted", After: "08:00:00", Before: "18:00:00", Weekdays: []string{"tue"},
	})
	require.NoError(t, err)

	astro := &fakeAstro{sunrise: timespec.TimeOfDay{Hour: 5}, sunset: timespec.TimeOfDay{Hour: 21}}
	e := New(store, timespec.NewResolver(astro, time.UTC), &fakeConditions{result: true}, nil, nil, zerolog.Nop())
	e.now = func() time.Time { return now }
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	assert.True(t, mustActive(t, e, "persisted"))
	assert.Equal(t, []string{"persisted"}, e.ActiveSchedules())
}
