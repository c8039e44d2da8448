package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/session-booking/internal/persistence"
)

// FrequencyRepository implements persistence.FrequencyRepository. Each
// operation type may have a rule allowing MaxOperations within WindowSeconds;
// exceeding it starts a cooldown of CooldownSeconds.
type FrequencyRepository struct {
	repository
}

var _ persistence.FrequencyRepository = (*FrequencyRepository)(nil)

// CheckFrequency evaluates the rule of operationType for userID at now.
// Operations without an enabled rule are always allowed.
func (r *FrequencyRepository) CheckFrequency(ctx context.Context, userID, operationType string, now time.Time) (persistence.FrequencyDecision, error) {
	var decision persistence.FrequencyDecision
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			var err error
			decision, err = r.check(ctx, tx, userID, operationType, now)
			return err
		})
	})
	if err != nil {
		return persistence.FrequencyDecision{}, err
	}
	return decision, nil
}

func (r *FrequencyRepository) check(ctx context.Context, tx *sql.Tx, userID, operationType string, now time.Time) (persistence.FrequencyDecision, error) {
	var (
		rule    persistence.FrequencyRule
		enabled int
	)
	err := r.helper.QueryRow(ctx, tx,
		`SELECT operation_type, max_operations, window_seconds, cooldown_seconds, enabled FROM frequency_rules WHERE operation_type = ?`,
		operationType,
	).Scan(&rule.OperationType, &rule.MaxOperations, &rule.WindowSeconds, &rule.CooldownSeconds, &enabled)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && enabled == 0) {
		return persistence.FrequencyDecision{Allowed: true}, nil
	}
	if err != nil {
		return persistence.FrequencyDecision{}, err
	}

	var until string
	err = r.helper.QueryRow(ctx, tx,
		`SELECT cooldown_until FROM operation_cooldowns WHERE user_id = ? AND operation_type = ?`,
		userID, operationType,
	).Scan(&until)
	switch {
	case err == nil:
		cooldownUntil, err := parseTime(until)
		if err != nil {
			return persistence.FrequencyDecision{}, err
		}
		if cooldownUntil.After(now) {
			return denied(operationType, cooldownUntil), nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return persistence.FrequencyDecision{}, err
	}

	var count int
	since := now.Add(-time.Duration(rule.WindowSeconds) * time.Second)
	if err := r.helper.QueryRow(ctx, tx,
		`SELECT COUNT(*) FROM operation_logs WHERE user_id = ? AND operation_type = ? AND created_at > ? AND created_at <= ?`,
		userID, operationType, formatTime(since), formatTime(now),
	).Scan(&count); err != nil {
		return persistence.FrequencyDecision{}, err
	}
	if count < rule.MaxOperations {
		return persistence.FrequencyDecision{Allowed: true}, nil
	}

	cooldownUntil := now.Add(time.Duration(rule.CooldownSeconds) * time.Second)
	if rule.CooldownSeconds > 0 {
		if _, err := r.helper.Exec(ctx, tx, `
			INSERT INTO operation_cooldowns (user_id, operation_type, cooldown_until) VALUES (?, ?, ?)
			ON CONFLICT(user_id, operation_type) DO UPDATE SET cooldown_until = excluded.cooldown_until
		`, userID, operationType, formatTime(cooldownUntil)); err != nil {
			return persistence.FrequencyDecision{}, err
		}
	}
	return denied(operationType, cooldownUntil), nil
}

func denied(operationType string, until time.Time) persistence.FrequencyDecision {
	return persistence.FrequencyDecision{
		Allowed:       false,
		Message:       fmt.Sprintf("too many %s operations; try again after %s", operationType, until.UTC().Format(time.RFC3339)),
		CooldownUntil: &until,
	}
}

// RecordOperation appends an entry to the operation log.
func (r *FrequencyRepository) RecordOperation(ctx context.Context, entry persistence.OperationLog) error {
	if entry.UserID == "" || entry.OperationType == "" {
		return fmt.Errorf("%w: user and operation type are required", persistence.ErrConstraintViolation)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	return r.retry.WithRetry(ctx, func() error {
		_, err := r.helper.Exec(ctx, nil,
			`INSERT INTO operation_logs (user_id, operation_type, record_id, old_value, new_value, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			entry.UserID,
			entry.OperationType,
			nullableString(entry.RecordID),
			nullableString(entry.OldValue),
			nullableString(entry.NewValue),
			formatTime(entry.CreatedAt),
		)
		return err
	})
}

// UpsertFrequencyRule creates or replaces the rule of rule.OperationType.
func (r *FrequencyRepository) UpsertFrequencyRule(ctx context.Context, rule persistence.FrequencyRule) error {
	if rule.OperationType == "" || rule.MaxOperations <= 0 || rule.WindowSeconds <= 0 || rule.CooldownSeconds < 0 {
		return fmt.Errorf("%w: invalid frequency rule", persistence.ErrConstraintViolation)
	}
	return r.retry.WithRetry(ctx, func() error {
		_, err := r.helper.Exec(ctx, nil, `
			INSERT INTO frequency_rules (operation_type, max_operations, window_seconds, cooldown_seconds, enabled)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(operation_type) DO UPDATE SET
				max_operations = excluded.max_operations,
				window_seconds = excluded.window_seconds,
				cooldown_seconds = excluded.cooldown_seconds,
				enabled = excluded.enabled
		`, rule.OperationType, rule.MaxOperations, rule.WindowSeconds, rule.CooldownSeconds, boolToInt(rule.Enabled))
		return err
	})
}

// OperationCount returns how many operations userID logged for operationType.
func (r *FrequencyRepository) OperationCount(ctx context.Context, userID, operationType string) (int, error) {
	var count int
	err := r.helper.QueryRow(ctx, nil,
		`SELECT COUNT(*) FROM operation_logs WHERE user_id = ? AND operation_type = ?`,
		userID, operationType,
	).Scan(&count)
	return count, r.mapper.MapError(err)
}
