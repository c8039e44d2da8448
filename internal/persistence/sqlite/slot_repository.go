package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/example/session-booking/internal/persistence"
)

// SlotRepository implements persistence.SlotRepository using SQLite. Committed
// writes are published on the storage change feed in commit order.
type SlotRepository struct {
	repository
	feed *changeFeed

	// writeMu keeps feed order equal to commit order.
	writeMu sync.Mutex
}

var _ persistence.SlotRepository = (*SlotRepository)(nil)

const slotColumns = `id, date, time_slot_id, status, created_by, editing_by, editing_at, editing_expires_at,
	lock_type, lock_reason, lock_end_time, location, property_type, created_at, updated_at`

func validateSlot(s persistence.Slot) error {
	if strings.TrimSpace(s.Date) == "" || strings.TrimSpace(s.TimeSlotID) == "" || strings.TrimSpace(s.Status) == "" {
		return fmt.Errorf("%w: date, time slot and status are required", persistence.ErrConstraintViolation)
	}
	if len(s.ParticipantIDs) > 2 {
		return fmt.Errorf("%w: at most 2 participants", persistence.ErrConstraintViolation)
	}
	return nil
}

// CreateSlot inserts a slot. A second row for the same (date, time slot)
// fails with persistence.ErrDuplicate.
func (r *SlotRepository) CreateSlot(ctx context.Context, s persistence.Slot) (persistence.Slot, error) {
	if err := validateSlot(s); err != nil {
		return persistence.Slot{}, err
	}
	if s.ID == "" {
		s.ID = r.newID()
	}
	if s.LockType == "" {
		s.LockType = "none"
	}
	now := r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			query := `INSERT INTO slots (` + slotColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
			if _, err := r.helper.Exec(ctx, tx, query, slotArgs(s)...); err != nil {
				return err
			}
			return r.writeParticipants(ctx, tx, s.ID, s.ParticipantIDs)
		})
	})
	if err != nil {
		return persistence.Slot{}, err
	}

	stored := cloneSlot(s)
	r.feed.publish(persistence.SlotChange{Type: persistence.ChangeInsert, After: &stored, At: now})
	return cloneSlot(s), nil
}

// UpdateSlot replaces every column of an existing slot.
func (r *SlotRepository) UpdateSlot(ctx context.Context, s persistence.Slot) (persistence.Slot, error) {
	if s.ID == "" {
		return persistence.Slot{}, persistence.ErrNotFound
	}
	if err := validateSlot(s); err != nil {
		return persistence.Slot{}, err
	}
	if s.LockType == "" {
		s.LockType = "none"
	}
	now := r.now()
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	var before persistence.Slot
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			current, err := r.get(ctx, tx, `WHERE id = ?`, s.ID)
			if err != nil {
				return err
			}
			before = current
			s.CreatedAt = current.CreatedAt

			query := `
				UPDATE slots
				SET date = ?, time_slot_id = ?, status = ?, created_by = ?, editing_by = ?, editing_at = ?,
					editing_expires_at = ?, lock_type = ?, lock_reason = ?, lock_end_time = ?, location = ?,
					property_type = ?, updated_at = ?
				WHERE id = ?
			`
			columns := slotArgs(s)
			args := make([]any, 0, 14)
			args = append(args, columns[1:13]...)
			args = append(args, columns[14], s.ID)
			if _, err := r.helper.Exec(ctx, tx, query, args...); err != nil {
				return err
			}
			if _, err := r.helper.Exec(ctx, tx, `DELETE FROM slot_participants WHERE slot_id = ?`, s.ID); err != nil {
				return err
			}
			return r.writeParticipants(ctx, tx, s.ID, s.ParticipantIDs)
		})
	})
	if err != nil {
		return persistence.Slot{}, err
	}

	after := cloneSlot(s)
	r.feed.publish(persistence.SlotChange{Type: persistence.ChangeUpdate, Before: &before, After: &after, At: now})
	return cloneSlot(s), nil
}

// DeleteSlot removes a slot and its participants.
func (r *SlotRepository) DeleteSlot(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	var before persistence.Slot
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			current, err := r.get(ctx, tx, `WHERE id = ?`, id)
			if err != nil {
				return err
			}
			before = current
			if _, err := r.helper.Exec(ctx, tx, `DELETE FROM slot_participants WHERE slot_id = ?`, id); err != nil {
				return err
			}
			_, err = r.helper.Exec(ctx, tx, `DELETE FROM slots WHERE id = ?`, id)
			return err
		})
	})
	if err != nil {
		return err
	}

	r.feed.publish(persistence.SlotChange{Type: persistence.ChangeDelete, Before: &before, At: r.now()})
	return nil
}

// GetSlot retrieves a slot by ID.
func (r *SlotRepository) GetSlot(ctx context.Context, id string) (persistence.Slot, error) {
	if id == "" {
		return persistence.Slot{}, persistence.ErrNotFound
	}
	s, err := r.get(ctx, nil, `WHERE id = ?`, id)
	return s, r.mapper.MapError(err)
}

// FindSlot retrieves the slot of a (date, time slot) pair.
func (r *SlotRepository) FindSlot(ctx context.Context, date, timeSlotID string) (persistence.Slot, error) {
	s, err := r.get(ctx, nil, `WHERE date = ? AND time_slot_id = ?`, date, timeSlotID)
	return s, r.mapper.MapError(err)
}

// ListSlotsInDateRange returns slots dated within [from, to] ordered by date
// and time slot.
func (r *SlotRepository) ListSlotsInDateRange(ctx context.Context, from, to string) ([]persistence.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE date >= ? AND date <= ? ORDER BY date, time_slot_id, id`
	rows, err := r.helper.Query(ctx, nil, query, from, to)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var (
		slots []persistence.Slot
		index = make(map[string]int)
	)
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		index[s.ID] = len(slots)
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	if len(slots) == 0 {
		return []persistence.Slot{}, nil
	}

	participants, err := r.helper.Query(ctx, nil, `
		SELECT p.slot_id, p.user_id
		FROM slot_participants p
		JOIN slots s ON s.id = p.slot_id
		WHERE s.date >= ? AND s.date <= ?
		ORDER BY p.slot_id, p.position
	`, from, to)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer participants.Close()
	for participants.Next() {
		var slotID, userID string
		if err := participants.Scan(&slotID, &userID); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if i, ok := index[slotID]; ok {
			slots[i].ParticipantIDs = append(slots[i].ParticipantIDs, userID)
		}
	}
	if err := participants.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return slots, nil
}

// SearchSlots returns the page of slots matching filter ordered by date and
// time slot, along with the number of matches across all pages.
func (r *SlotRepository) SearchSlots(ctx context.Context, filter persistence.SlotFilter) ([]persistence.Slot, int, error) {
	where, args := slotFilterClause(filter)

	var total int
	if err := r.helper.QueryRow(ctx, nil, `SELECT COUNT(*) FROM slots`+where, args...).Scan(&total); err != nil {
		return nil, 0, r.mapper.MapError(err)
	}
	slots := []persistence.Slot{}
	if total == 0 || filter.Offset >= total {
		return slots, total, nil
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := max(filter.Offset, 0)
	query := `SELECT ` + slotColumns + ` FROM slots` + where + ` ORDER BY date, time_slot_id, id LIMIT ? OFFSET ?`
	rows, err := r.helper.Query(ctx, nil, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, r.mapper.MapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, 0, err
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, r.mapper.MapError(err)
	}
	rows.Close()

	for i := range slots {
		participants, err := r.participants(ctx, nil, slots[i].ID)
		if err != nil {
			return nil, 0, r.mapper.MapError(err)
		}
		slots[i].ParticipantIDs = participants
	}
	return slots, total, nil
}

func slotFilterClause(filter persistence.SlotFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.From != "" {
		conds = append(conds, "date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conds = append(conds, "date <= ?")
		args = append(args, filter.To)
	}
	in := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		conds = append(conds, column+" IN ("+placeholders(len(values))+")")
		for _, v := range values {
			args = append(args, v)
		}
	}
	in("time_slot_id", filter.TimeSlotIDs)
	in("status", filter.Statuses)
	in("lock_type", filter.LockTypes)
	in("created_by", filter.CreatedBy)
	in("editing_by", filter.EditingBy)
	in("location", filter.Locations)
	if len(filter.ParticipantIDs) > 0 {
		conds = append(conds, "id IN (SELECT slot_id FROM slot_participants WHERE user_id IN ("+placeholders(len(filter.ParticipantIDs))+"))")
		for _, v := range filter.ParticipantIDs {
			args = append(args, v)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (r *SlotRepository) get(ctx context.Context, tx *sql.Tx, where string, args ...any) (persistence.Slot, error) {
	row := r.helper.QueryRow(ctx, tx, `SELECT `+slotColumns+` FROM slots `+where, args...)
	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Slot{}, persistence.ErrNotFound
		}
		return persistence.Slot{}, err
	}
	participants, err := r.participants(ctx, tx, s.ID)
	if err != nil {
		return persistence.Slot{}, err
	}
	s.ParticipantIDs = participants
	return s, nil
}

func (r *SlotRepository) participants(ctx context.Context, tx *sql.Tx, slotID string) ([]string, error) {
	rows, err := r.helper.Query(ctx, tx, `SELECT user_id FROM slot_participants WHERE slot_id = ? ORDER BY position`, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SlotRepository) writeParticipants(ctx context.Context, tx *sql.Tx, slotID string, participants []string) error {
	for i, userID := range participants {
		if _, err := r.helper.Exec(ctx, tx,
			`INSERT INTO slot_participants (slot_id, position, user_id) VALUES (?, ?, ?)`,
			slotID, i, userID,
		); err != nil {
			return err
		}
	}
	return nil
}

// slotArgs returns column values in slotColumns order.
func slotArgs(s persistence.Slot) []any {
	return []any{
		s.ID,
		s.Date,
		s.TimeSlotID,
		s.Status,
		s.CreatedBy,
		nullableString(s.EditingBy),
		formatNullableTime(s.EditingAt),
		formatNullableTime(s.EditingExpiresAt),
		s.LockType,
		nullableString(s.LockReason),
		formatNullableTime(s.LockEndTime),
		nullableString(s.Location),
		nullableString(s.PropertyType),
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (persistence.Slot, error) {
	var (
		s                                             persistence.Slot
		editingBy, lockReason, location, propertyType sql.NullString
		editingAt, editingExpiresAt, lockEndTime      sql.NullString
		createdAt, updatedAt                          string
	)
	if err := row.Scan(
		&s.ID,
		&s.Date,
		&s.TimeSlotID,
		&s.Status,
		&s.CreatedBy,
		&editingBy,
		&editingAt,
		&editingExpiresAt,
		&s.LockType,
		&lockReason,
		&lockEndTime,
		&location,
		&propertyType,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.Slot{}, err
	}

	s.EditingBy = stringPtr(editingBy)
	s.LockReason = stringPtr(lockReason)
	s.Location = stringPtr(location)
	s.PropertyType = stringPtr(propertyType)

	var err error
	if s.EditingAt, err = parseNullableTime(editingAt); err != nil {
		return persistence.Slot{}, err
	}
	if s.EditingExpiresAt, err = parseNullableTime(editingExpiresAt); err != nil {
		return persistence.Slot{}, err
	}
	if s.LockEndTime, err = parseNullableTime(lockEndTime); err != nil {
		return persistence.Slot{}, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Slot{}, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Slot{}, err
	}
	s.ParticipantIDs = []string{}
	return s, nil
}

func cloneSlot(s persistence.Slot) persistence.Slot {
	out := s
	out.ParticipantIDs = append([]string{}, s.ParticipantIDs...)
	out.EditingBy = cloneString(s.EditingBy)
	out.LockReason = cloneString(s.LockReason)
	out.Location = cloneString(s.Location)
	out.PropertyType = cloneString(s.PropertyType)
	if s.EditingAt != nil {
		t := *s.EditingAt
		out.EditingAt = &t
	}
	if s.EditingExpiresAt != nil {
		t := *s.EditingExpiresAt
		out.EditingExpiresAt = &t
	}
	if s.LockEndTime != nil {
		t := *s.LockEndTime
		out.LockEndTime = &t
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
