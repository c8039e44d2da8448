package migration

import (
	"context"
	"fmt"
	"log/slog"
)

// Manager applies pending migrations in version order.
type Manager struct {
	scanner  *Scanner
	executor *Executor
	logger   *slog.Logger
}

// NewManager constructs a Manager.
func NewManager(scanner *Scanner, executor *Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scanner: scanner, executor: executor, logger: logger.With("component", "migration")}
}

// Status reports applied and pending migrations. It fails when an applied
// migration's file no longer matches its recorded checksum.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.Init(ctx); err != nil {
		return Status{}, err
	}
	all, err := m.scanner.Scan()
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.Applied(ctx)
	if err != nil {
		return Status{}, err
	}

	checksums := make(map[int]string, len(applied))
	status := Status{Applied: applied}
	for _, a := range applied {
		checksums[a.Version] = a.Checksum
		if a.Version > status.CurrentVersion {
			status.CurrentVersion = a.Version
		}
	}
	for _, mig := range all {
		sum, ok := checksums[mig.Version]
		if !ok {
			status.Pending = append(status.Pending, mig)
			continue
		}
		if sum != mig.Checksum {
			return Status{}, wrap(mig, "verify checksum", fmt.Errorf("%w: recorded %s, file %s", ErrChecksumMismatch, sum, mig.Checksum))
		}
	}
	return status, nil
}

// Run applies every pending migration and returns how many ran.
func (m *Manager) Run(ctx context.Context) (int, error) {
	status, err := m.Status(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "migration status failed", "error", err)
		return 0, err
	}
	if len(status.Pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return 0, nil
	}

	m.logger.InfoContext(ctx, "applying migrations", "current_version", status.CurrentVersion, "pending", len(status.Pending))
	for i, mig := range status.Pending {
		if err := m.executor.Apply(ctx, mig); err != nil {
			m.logger.ErrorContext(ctx, "migration failed", "version", mig.Version, "name", mig.Name, "error", err)
			return i, err
		}
		m.logger.InfoContext(ctx, "migration applied", "version", mig.Version, "description", mig.Description)
	}
	return len(status.Pending), nil
}
