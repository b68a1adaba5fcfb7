// Package engine evaluates which schedules are currently active. It owns one
// evaluator per schedule entry, re-arms watches when entries change, and
// ranks the active set by each schedule's next transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/marcelveldt/homeassistant-scheduler/internal/storage"
	"github.com/marcelveldt/homeassistant-scheduler/internal/storage/models"
	"github.com/marcelveldt/homeassistant-scheduler/internal/timespec"
)

// ErrUnknownSchedule is returned for operations referencing an id that has
// no live evaluator.
var ErrUnknownSchedule = errors.New("unknown schedule id")

// ScheduleStore persists schedule entries; see storage.ScheduleRepository.
// Create resolves id collisions itself and returns the entry as stored.
type ScheduleStore interface {
	List(ctx context.Context) ([]models.ScheduleEntry, error)
	Create(ctx context.Context, entry models.ScheduleEntry) (models.ScheduleEntry, error)
	Update(ctx context.Context, entry models.ScheduleEntry) error
	Delete(ctx context.Context, id string) error
}

// WorkdaySignal is the external boolean state distinguishing working days
// from non-working days. A nil signal leaves the workday/not_workday tokens
// inert.
type WorkdaySignal interface {
	// State returns the signal's current state; WorkdayUnknown when the
	// signal is unavailable.
	State() timespec.WorkdayState
	// OnChange registers a callback for state changes and returns its
	// deregistration func.
	OnChange(fn func()) (cancel func())
}

// ConditionEvaluator evaluates opaque boolean condition expressions. The
// engine never inspects the expression language.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, expression string) (bool, error)
	// Subscribe registers a callback fired whenever an input referenced by
	// the expression changes.
	Subscribe(expression string, fn func()) (cancel func(), err error)
}

// Notifier receives schedule lifecycle events. ScheduleUpdated fires on
// every recompute, not only on transitions.
type Notifier interface {
	ScheduleCreated(id string)
	ScheduleUpdated(id string, active bool)
	ScheduleRemoved(id string)
}

// Engine holds the live evaluators and the collaborators they share.
type Engine struct {
	repo       ScheduleStore
	resolver   *timespec.Resolver
	conditions ConditionEvaluator
	workday    WorkdaySignal
	notifier   Notifier
	logger     zerolog.Logger
	cron       *cron.Cron
	now        func() time.Time

	mu         sync.Mutex
	evaluators map[string]*Evaluator
	order      []string
}

// New creates an engine. The workday signal and notifier may be nil.
func New(
	repo ScheduleStore,
	resolver *timespec.Resolver,
	conditions ConditionEvaluator,
	workday WorkdaySignal,
	notifier Notifier,
	logger zerolog.Logger,
) *Engine {
	loc := resolver.Location
	return &Engine{
		repo:       repo,
		resolver:   resolver,
		conditions: conditions,
		workday:    workday,
		notifier:   notifier,
		logger:     logger.With().Str("component", "engine").Logger(),
		cron:       cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		now:        func() time.Time { return time.Now().In(loc) },
		evaluators: make(map[string]*Evaluator),
	}
}

// Start loads the persisted entries and builds one evaluator per entry.
func (e *Engine) Start(ctx context.Context) error {
	entries, err := e.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	e.cron.Start()
	for _, entry := range entries {
		e.attach(entry)
	}
	e.logger.Info().Int("schedules", len(entries)).Msg("engine started")
	return nil
}

// Stop tears down all evaluators and waits for running cron jobs.
func (e *Engine) Stop() {
	e.mu.Lock()
	evs := make([]*Evaluator, 0, len(e.evaluators))
	for _, ev := range e.evaluators {
		evs = append(evs, ev)
	}
	e.mu.Unlock()

	for _, ev := range evs {
		ev.Teardown()
	}
	<-e.cron.Stop().Done()
	e.logger.Info().Msg("engine stopped")
}

// AddSchedule validates, persists and starts evaluating a new schedule. An
// id collision is resolved by the repository with a timestamp suffix; the
// entry actually stored is returned.
func (e *Engine) AddSchedule(ctx context.Context, entry models.ScheduleEntry) (models.ScheduleEntry, error) {
	if err := entry.Validate(); err != nil {
		return models.ScheduleEntry{}, err
	}

	stored, err := e.repo.Create(ctx, entry)
	if err != nil {
		return models.ScheduleEntry{}, err
	}

	e.attach(stored)
	if e.notifier != nil {
		e.notifier.ScheduleCreated(stored.ID)
	}
	e.logger.Info().Str("schedule_id", stored.ID).Msg("schedule created")
	return stored, nil
}

// UpdateSchedule replaces a schedule's entry wholesale. Validation failures
// leave the live entry untouched.
func (e *Engine) UpdateSchedule(ctx context.Context, id string, entry models.ScheduleEntry) (models.ScheduleEntry, error) {
	entry.ID = id
	if err := entry.Validate(); err != nil {
		return models.ScheduleEntry{}, err
	}

	e.mu.Lock()
	ev, ok := e.evaluators[id]
	e.mu.Unlock()
	if !ok {
		return models.ScheduleEntry{}, fmt.Errorf("%w: %s", ErrUnknownSchedule, id)
	}

	if err := e.repo.Update(ctx, entry); err != nil {
		return models.ScheduleEntry{}, err
	}

	// Reinitialize recomputes synchronously, which emits the updated event.
	ev.Reinitialize(entry)
	e.logger.Info().Str("schedule_id", id).Msg("schedule updated")
	return entry, nil
}

// DeleteSchedule tears down the schedule's watches before removing it; no
// timers survive the delete.
func (e *Engine) DeleteSchedule(ctx context.Context, id string) error {
	e.mu.Lock()
	ev, ok := e.evaluators[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, id)
	}

	ev.Teardown()

	e.mu.Lock()
	delete(e.evaluators, id)
	for i, other := range e.order {
		if other == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if err := e.repo.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrScheduleNotFound) {
		return err
	}
	if e.notifier != nil {
		e.notifier.ScheduleRemoved(id)
	}
	e.logger.Info().Str("schedule_id", id).Msg("schedule deleted")
	return nil
}

// Schedule returns the live entry for the given id.
func (e *Engine) Schedule(id string) (models.ScheduleEntry, error) {
	e.mu.Lock()
	ev, ok := e.evaluators[id]
	e.mu.Unlock()
	if !ok {
		return models.ScheduleEntry{}, fmt.Errorf("%w: %s", ErrUnknownSchedule, id)
	}
	return ev.Entry(), nil
}

// Schedules returns all live entries in insertion order.
func (e *Engine) Schedules() []models.ScheduleEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := make([]models.ScheduleEntry, 0, len(e.order))
	for _, id := range e.order {
		if ev, ok := e.evaluators[id]; ok {
			entries = append(entries, ev.Entry())
		}
	}
	return entries
}

// ScheduleCount returns the number of live schedules.
func (e *Engine) ScheduleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.evaluators)
}

// IsActive reports the cached active state for the given id.
func (e *Engine) IsActive(id string) (bool, error) {
	e.mu.Lock()
	ev, ok := e.evaluators[id]
	e.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownSchedule, id)
	}
	return ev.Active(), nil
}

// attach registers an evaluator for the entry and initializes it.
func (e *Engine) attach(entry models.ScheduleEntry) {
	ev := newEvaluator(evaluatorDeps{
		resolver:   e.resolver,
		conditions: e.conditions,
		workday:    e.workday,
		cron:       e.cron,
		now:        func() time.Time { return e.now() },
		notify:     e.scheduleUpdated,
		logger:     e.logger.With().Str("schedule_id", entry.ID).Logger(),
	})

	e.mu.Lock()
	e.evaluators[entry.ID] = ev
	e.order = append(e.order, entry.ID)
	e.mu.Unlock()

	ev.Reinitialize(entry)
}

func (e *Engine) scheduleUpdated(id string, active bool) {
	if e.notifier != nil {
		e.notifier.ScheduleUpdated(id, active)
	}
}
