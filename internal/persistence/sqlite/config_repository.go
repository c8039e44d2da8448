package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/session-booking/internal/persistence"
)

// RegistrationConfigRepository implements persistence.RegistrationConfigRepository.
// At most one revision is active; creating an active revision deactivates the
// previous one.
type RegistrationConfigRepository struct {
	repository
}

var _ persistence.RegistrationConfigRepository = (*RegistrationConfigRepository)(nil)

const configColumns = `id, normal_open_day, normal_close_day, normal_open_time, normal_close_time,
	privilege_open_day, privilege_close_day, privilege_open_time, privilege_close_time,
	weekly_limit_normal, weekly_limit_privilege, privilege_user_ids, is_active, is_emergency_closed,
	created_at, updated_at`

// CreateRegistrationConfig stores a new configuration revision.
func (r *RegistrationConfigRepository) CreateRegistrationConfig(ctx context.Context, cfg persistence.RegistrationConfig) (persistence.RegistrationConfig, error) {
	for _, day := range []int{cfg.NormalOpenDay, cfg.NormalCloseDay, cfg.PrivilegeOpenDay, cfg.PrivilegeCloseDay} {
		if day < 1 || day > 7 {
			return persistence.RegistrationConfig{}, fmt.Errorf("%w: day %d out of range", persistence.ErrConstraintViolation, day)
		}
	}
	if cfg.WeeklyLimitNormal < 0 || cfg.WeeklyLimitPrivilege < 0 {
		return persistence.RegistrationConfig{}, fmt.Errorf("%w: weekly limits must not be negative", persistence.ErrConstraintViolation)
	}
	if cfg.ID == "" {
		cfg.ID = r.newID()
	}
	if cfg.PrivilegeUserIDs == nil {
		cfg.PrivilegeUserIDs = []string{}
	}
	now := r.now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = cfg.CreatedAt
	}
	privileged, err := json.Marshal(cfg.PrivilegeUserIDs)
	if err != nil {
		return persistence.RegistrationConfig{}, fmt.Errorf("sqlite: encode privilege users: %w", err)
	}

	err = r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if cfg.IsActive {
				if _, err := r.helper.Exec(ctx, tx,
					`UPDATE registration_configs SET is_active = 0, updated_at = ? WHERE is_active = 1`,
					formatTime(now),
				); err != nil {
					return err
				}
			}
			_, err := r.helper.Exec(ctx, tx,
				`INSERT INTO registration_configs (`+configColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				cfg.ID,
				cfg.NormalOpenDay,
				cfg.NormalCloseDay,
				cfg.NormalOpenTime,
				cfg.NormalCloseTime,
				cfg.PrivilegeOpenDay,
				cfg.PrivilegeCloseDay,
				cfg.PrivilegeOpenTime,
				cfg.PrivilegeCloseTime,
				cfg.WeeklyLimitNormal,
				cfg.WeeklyLimitPrivilege,
				string(privileged),
				boolToInt(cfg.IsActive),
				boolToInt(cfg.IsEmergencyClosed),
				formatTime(cfg.CreatedAt),
				formatTime(cfg.UpdatedAt),
			)
			return err
		})
	})
	if err != nil {
		return persistence.RegistrationConfig{}, err
	}
	return cfg, nil
}

// ActiveRegistrationConfig returns the most recently updated active revision.
func (r *RegistrationConfigRepository) ActiveRegistrationConfig(ctx context.Context) (persistence.RegistrationConfig, error) {
	row := r.helper.QueryRow(ctx, nil,
		`SELECT `+configColumns+` FROM registration_configs WHERE is_active = 1 ORDER BY updated_at DESC LIMIT 1`)

	var (
		cfg                  persistence.RegistrationConfig
		privileged           string
		active, closed       int
		createdAt, updatedAt string
	)
	err := row.Scan(
		&cfg.ID,
		&cfg.NormalOpenDay,
		&cfg.NormalCloseDay,
		&cfg.NormalOpenTime,
		&cfg.NormalCloseTime,
		&cfg.PrivilegeOpenDay,
		&cfg.PrivilegeCloseDay,
		&cfg.PrivilegeOpenTime,
		&cfg.PrivilegeCloseTime,
		&cfg.WeeklyLimitNormal,
		&cfg.WeeklyLimitPrivilege,
		&privileged,
		&active,
		&closed,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.RegistrationConfig{}, persistence.ErrNotFound
		}
		return persistence.RegistrationConfig{}, r.mapper.MapError(err)
	}

	if err := json.Unmarshal([]byte(privileged), &cfg.PrivilegeUserIDs); err != nil {
		return persistence.RegistrationConfig{}, fmt.Errorf("sqlite: decode privilege users: %w", err)
	}
	cfg.IsActive = active != 0
	cfg.IsEmergencyClosed = closed != 0
	if cfg.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.RegistrationConfig{}, err
	}
	if cfg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.RegistrationConfig{}, err
	}
	return cfg, nil
}

// SetEmergencyClosed toggles the emergency stop of a revision.
func (r *RegistrationConfigRepository) SetEmergencyClosed(ctx context.Context, id string, closed bool) error {
	return r.retry.WithRetry(ctx, func() error {
		result, err := r.helper.Exec(ctx, nil,
			`UPDATE registration_configs SET is_emergency_closed = ?, updated_at = ? WHERE id = ?`,
			boolToInt(closed), formatTime(r.now()), id,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
