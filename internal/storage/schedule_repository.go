package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcelveldt/homeassistant-scheduler/internal/storage/models"
)

// ErrScheduleNotFound is returned when an operation references an id that is
// not in the store.
var ErrScheduleNotFound = errors.New("schedule not found")

// ScheduleRepository persists schedule entries. Rows keep an explicit
// position so List returns entries in creation order.
type ScheduleRepository struct {
	db *DB
}

// NewScheduleRepository creates a repository backed by the given database.
func NewScheduleRepository(db *DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// GenerateID returns a fresh unique identifier.
func GenerateID() string {
	return uuid.New().String()
}

// List returns all schedule entries in creation order.
func (r *ScheduleRepository) List(ctx context.Context) ([]models.ScheduleEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, after_spec, before_spec, weekdays, condition
		FROM schedules ORDER BY position, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var entries []models.ScheduleEntry
	for rows.Next() {
		entry, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Get returns the entry with the given id, or ErrScheduleNotFound.
func (r *ScheduleRepository) Get(ctx context.Context, id string) (models.ScheduleEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, after_spec, before_spec, weekdays, condition
		FROM schedules WHERE id = ?
	`, id)
	entry, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ScheduleEntry{}, ErrScheduleNotFound
	}
	return entry, err
}

// Create inserts a new entry. When the requested id is already taken, a unix
// timestamp suffix is appended instead of failing; the entry actually stored
// is returned.
func (r *ScheduleRepository) Create(ctx context.Context, entry models.ScheduleEntry) (models.ScheduleEntry, error) {
	var exists int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schedules WHERE id = ?", entry.ID).Scan(&exists); err != nil {
		return models.ScheduleEntry{}, fmt.Errorf("checking schedule id: %w", err)
	}
	if exists > 0 {
		entry.ID = fmt.Sprintf("%s %d", entry.ID, time.Now().Unix())
	}

	weekdays, err := json.Marshal(entry.Weekdays)
	if err != nil {
		return models.ScheduleEntry{}, fmt.Errorf("encoding weekdays: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO schedules (id, after_spec, before_spec, weekdays, condition, position)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM schedules))
	`, entry.ID, entry.After, entry.Before, string(weekdays), entry.Condition)
	if err != nil {
		return models.ScheduleEntry{}, fmt.Errorf("inserting schedule: %w", err)
	}
	return entry, nil
}

// Update replaces the stored entry wholesale.
func (r *ScheduleRepository) Update(ctx context.Context, entry models.ScheduleEntry) error {
	weekdays, err := json.Marshal(entry.Weekdays)
	if err != nil {
		return fmt.Errorf("encoding weekdays: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules
		SET after_spec = ?, before_spec = ?, weekdays = ?, condition = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, entry.After, entry.Before, string(weekdays), entry.Condition, entry.ID)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// Delete removes the entry with the given id.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(s scanner) (models.ScheduleEntry, error) {
	var entry models.ScheduleEntry
	var weekdays string
	var condition sql.NullString
	if err := s.Scan(&entry.ID, &entry.After, &entry.Before, &weekdays, &condition); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, err
		}
		return entry, fmt.Errorf("scanning schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(weekdays), &entry.Weekdays); err != nil {
		return entry, fmt.Errorf("decoding weekdays: %w", err)
	}
	if condition.Valid {
		entry.Condition = &condition.String
	}
	return entry, nil
}
