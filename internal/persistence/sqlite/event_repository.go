package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
)

const eventColumns = `id, title, discipline, room, owner_id, owner_email, start_date, end_date,
	state, state_reason, validation_state,
	last_change_from, last_change_to, last_change_date, last_change_user_id, last_change_reason,
	version, created_at, updated_at`

// CreateEvent inserts the event and its children at version 1.
func (s *Store) CreateEvent(ctx context.Context, event scheduler.Event) (scheduler.Event, error) {
	stored := event.Clone()
	stored.Version = 1
	stored.Project()

	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			eventArgs(stored)...,
		)
		if err != nil {
			return mapError(err)
		}
		return insertChildren(ctx, tx, stored)
	})
	if err != nil {
		return scheduler.Event{}, err
	}
	return stored, nil
}

// GetEvent loads one event with its ledger.
func (s *Store) GetEvent(ctx context.Context, id string) (scheduler.Event, error) {
	var event scheduler.Event
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
		var err error
		if event, err = scanEvent(row); err != nil {
			return mapError(err)
		}
		return loadChildren(ctx, tx, &event)
	})
	if err != nil {
		return scheduler.Event{}, err
	}
	return event, nil
}

// SaveEvent replaces the event when its version still matches the stored one.
func (s *Store) SaveEvent(ctx context.Context, event scheduler.Event) (scheduler.Event, error) {
	stored := event.Clone()
	stored.Project()

	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		// Every column but id and version, then the WHERE arguments.
		cols := eventArgs(stored)
		args := append(append(append([]any{}, cols[1:16]...), cols[17:]...), stored.ID, event.Version)
		result, err := tx.ExecContext(ctx, `
			UPDATE events SET
				title = ?, discipline = ?, room = ?, owner_id = ?, owner_email = ?, start_date = ?, end_date = ?,
				state = ?, state_reason = ?, validation_state = ?,
				last_change_from = ?, last_change_to = ?, last_change_date = ?, last_change_user_id = ?, last_change_reason = ?,
				version = version + 1, created_at = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			args...,
		)
		if err != nil {
			return mapError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, stored.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return persistence.ErrNotFound
			}
			if err != nil {
				return err
			}
			return persistence.ErrVersionConflict
		}
		if err := deleteChildren(ctx, tx, stored.ID); err != nil {
			return err
		}
		return insertChildren(ctx, tx, stored)
	})
	if err != nil {
		return scheduler.Event{}, err
	}
	stored.Version = event.Version + 1
	return stored, nil
}

// DeleteEvent removes the event row. Its slots stay as orphans until the
// next retention pass.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM pending_modifications WHERE event_id = ?`,
			`DELETE FROM event_state_changers WHERE event_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if affected, err := result.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}

// ListEvents returns matching events ordered by start date, then id.
func (s *Store) ListEvents(ctx context.Context, filter persistence.EventFilter) ([]scheduler.Event, error) {
	query, args := buildListQuery(filter)

	var events []scheduler.Event
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			event, err := scanEvent(rows)
			if err != nil {
				rows.Close()
				return err
			}
			events = append(events, event)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range events {
			if err := loadChildren(ctx, tx, &events[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []scheduler.Event{}
	}
	return events, nil
}

func buildListQuery(filter persistence.EventFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.OwnerID != "" {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Discipline != "" {
		clauses = append(clauses, "discipline = ?")
		args = append(args, string(filter.Discipline))
	}
	if filter.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.PendingOnly {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM pending_modifications p WHERE p.event_id = events.id)")
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return query + " ORDER BY start_date, id", args
}

func eventArgs(e scheduler.Event) []any {
	var change scheduler.StateChange
	if e.LastStateChange != nil {
		change = *e.LastStateChange
	}
	return []any{
		e.ID, e.Title, string(e.Discipline), e.Room, e.OwnerID, e.OwnerEmail,
		formatTime(e.StartDate), formatTime(e.EndDate),
		string(e.State), e.StateReason, string(e.ValidationState),
		string(change.From), string(change.To), formatTime(change.Date), change.UserID, change.Reason,
		e.Version, formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (scheduler.Event, error) {
	var (
		e                                scheduler.Event
		discipline, state, validation    string
		start, end, created, updated     string
		changeFrom, changeTo, changeDate string
		changeUser, changeReason         string
	)
	if err := row.Scan(
		&e.ID, &e.Title, &discipline, &e.Room, &e.OwnerID, &e.OwnerEmail, &start, &end,
		&state, &e.StateReason, &validation,
		&changeFrom, &changeTo, &changeDate, &changeUser, &changeReason,
		&e.Version, &created, &updated,
	); err != nil {
		return scheduler.Event{}, err
	}
	e.Discipline = scheduler.Discipline(discipline)
	e.State = scheduler.EventState(state)
	e.ValidationState = scheduler.ValidationState(validation)

	var err error
	if e.StartDate, err = parseTime(start); err != nil {
		return scheduler.Event{}, err
	}
	if e.EndDate, err = parseTime(end); err != nil {
		return scheduler.Event{}, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return scheduler.Event{}, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return scheduler.Event{}, err
	}
	if changeDate != "" {
		date, err := parseTime(changeDate)
		if err != nil {
			return scheduler.Event{}, err
		}
		e.LastStateChange = &scheduler.StateChange{
			From:   scheduler.EventState(changeFrom),
			To:     scheduler.EventState(changeTo),
			Date:   date,
			UserID: changeUser,
			Reason: changeReason,
		}
	}
	return e, nil
}

func deleteChildren(ctx context.Context, tx *sql.Tx, eventID string) error {
	for _, stmt := range []string{
		`DELETE FROM slot_history WHERE event_id = ?`,
		`DELETE FROM time_slots WHERE event_id = ?`,
		`DELETE FROM pending_modifications WHERE event_id = ?`,
		`DELETE FROM event_state_changers WHERE event_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, eventID); err != nil {
			return fmt.Errorf("clear children of %s: %w", eventID, err)
		}
	}
	return nil
}

func insertChildren(ctx context.Context, tx *sql.Tx, e scheduler.Event) error {
	for i, slot := range e.TimeSlots {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO time_slots (event_id, id, position, start_date, end_date, status, state, created_by, created_at, updated_at, restored_from)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, slot.ID, i, formatTime(slot.StartDate), formatTime(slot.EndDate),
			string(slot.Status), string(slot.State), slot.CreatedBy,
			formatTime(slot.CreatedAt), formatTime(slot.UpdatedAt), slot.RestoredFrom,
		)
		if err != nil {
			return fmt.Errorf("insert slot %s: %w", slot.ID, mapError(err))
		}
		for j, entry := range slot.ModifiedBy {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO slot_history (event_id, slot_id, position, user_id, date, action, note, previous_start, previous_end, new_start, new_end)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, slot.ID, j, entry.UserID, formatTime(entry.Date), string(entry.Action), entry.Note,
				formatTimePtr(entry.PreviousStart), formatTimePtr(entry.PreviousEnd),
				formatTimePtr(entry.NewStart), formatTimePtr(entry.NewEnd),
			)
			if err != nil {
				return fmt.Errorf("insert history of slot %s: %w", slot.ID, mapError(err))
			}
		}
	}

	for i, mod := range e.EventModifying {
		inputs, err := json.Marshal(mod.TimeSlots)
		if err != nil {
			return fmt.Errorf("encode proposal %s: %w", mod.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pending_modifications (id, event_id, position, user_id, action, request_date, reason, time_slots, fingerprint)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			mod.ID, e.ID, i, mod.UserID, string(mod.Action), formatTime(mod.RequestDate), mod.Reason, string(inputs), mod.Fingerprint,
		)
		if err != nil {
			return fmt.Errorf("insert proposal %s: %w", mod.ID, mapError(err))
		}
	}

	for i, changer := range e.StateChanger {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_state_changers (event_id, position, user_id, date) VALUES (?, ?, ?, ?)`,
			e.ID, i, changer.UserID, formatTime(changer.Date),
		); err != nil {
			return fmt.Errorf("insert state changer: %w", err)
		}
	}
	return nil
}

func loadChildren(ctx context.Context, tx *sql.Tx, e *scheduler.Event) error {
	if err := loadSlots(ctx, tx, e); err != nil {
		return err
	}
	if err := loadModifications(ctx, tx, e); err != nil {
		return err
	}
	if err := loadStateChangers(ctx, tx, e); err != nil {
		return err
	}
	e.Project()
	return nil
}

func loadSlots(ctx context.Context, tx *sql.Tx, e *scheduler.Event) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, start_date, end_date, status, state, created_by, created_at, updated_at, restored_from
		FROM time_slots WHERE event_id = ? ORDER BY position`, e.ID)
	if err != nil {
		return fmt.Errorf("load slots of %s: %w", e.ID, err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		var (
			slot                         scheduler.TimeSlot
			start, end, created, updated string
			status, state                string
		)
		if err := rows.Scan(&slot.ID, &start, &end, &status, &state, &slot.CreatedBy, &created, &updated, &slot.RestoredFrom); err != nil {
			return err
		}
		slot.EventID = e.ID
		slot.Status = scheduler.SlotStatus(status)
		slot.State = scheduler.SlotState(state)
		if slot.StartDate, err = parseTime(start); err != nil {
			return err
		}
		if slot.EndDate, err = parseTime(end); err != nil {
			return err
		}
		if slot.CreatedAt, err = parseTime(created); err != nil {
			return err
		}
		if slot.UpdatedAt, err = parseTime(updated); err != nil {
			return err
		}
		index[slot.ID] = len(e.TimeSlots)
		e.TimeSlots = append(e.TimeSlots, slot)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	history, err := tx.QueryContext(ctx, `
		SELECT slot_id, user_id, date, action, note, previous_start, previous_end, new_start, new_end
		FROM slot_history WHERE event_id = ? ORDER BY slot_id, position`, e.ID)
	if err != nil {
		return fmt.Errorf("load history of %s: %w", e.ID, err)
	}
	defer history.Close()
	for history.Next() {
		var (
			slotID, date, action                 string
			prevStart, prevEnd, newStart, newEnd string
			entry                                scheduler.HistoryEntry
		)
		if err := history.Scan(&slotID, &entry.UserID, &date, &action, &entry.Note, &prevStart, &prevEnd, &newStart, &newEnd); err != nil {
			return err
		}
		entry.Action = scheduler.HistoryAction(action)
		if entry.Date, err = parseTime(date); err != nil {
			return err
		}
		if entry.PreviousStart, err = parseTimePtr(prevStart); err != nil {
			return err
		}
		if entry.PreviousEnd, err = parseTimePtr(prevEnd); err != nil {
			return err
		}
		if entry.NewStart, err = parseTimePtr(newStart); err != nil {
			return err
		}
		if entry.NewEnd, err = parseTimePtr(newEnd); err != nil {
			return err
		}
		i, ok := index[slotID]
		if !ok {
			continue
		}
		e.TimeSlots[i].ModifiedBy = append(e.TimeSlots[i].ModifiedBy, entry)
	}
	return history.Err()
}

func loadModifications(ctx context.Context, tx *sql.Tx, e *scheduler.Event) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, action, request_date, reason, time_slots, fingerprint
		FROM pending_modifications WHERE event_id = ? ORDER BY position`, e.ID)
	if err != nil {
		return fmt.Errorf("load proposals of %s: %w", e.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			mod               scheduler.PendingModification
			action, requested string
			inputs            string
		)
		if err := rows.Scan(&mod.ID, &mod.UserID, &action, &requested, &mod.Reason, &inputs, &mod.Fingerprint); err != nil {
			return err
		}
		mod.Action = scheduler.ModificationAction(action)
		if mod.RequestDate, err = parseTime(requested); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(inputs), &mod.TimeSlots); err != nil {
			return fmt.Errorf("decode proposal %s: %w", mod.ID, err)
		}
		e.EventModifying = append(e.EventModifying, mod)
	}
	return rows.Err()
}

func loadStateChangers(ctx context.Context, tx *sql.Tx, e *scheduler.Event) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT user_id, date FROM event_state_changers WHERE event_id = ? ORDER BY position`, e.ID)
	if err != nil {
		return fmt.Errorf("load state changers of %s: %w", e.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			changer scheduler.StateChanger
			date    string
		)
		if err := rows.Scan(&changer.UserID, &date); err != nil {
			return err
		}
		if changer.Date, err = parseTime(date); err != nil {
			return err
		}
		e.StateChanger = append(e.StateChanger, changer)
	}
	return rows.Err()
}
