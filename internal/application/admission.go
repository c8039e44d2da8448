package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/session-booking/internal/slot"
	"github.com/example/session-booking/internal/window"
)

const (
	messageConfigUnavailable = "registration configuration unavailable"
	messageCanEdit           = "existing booking can be edited"
	messageEditClosed        = "registration window closed; existing booking can no longer be edited"
	messageWindowClosed      = "registration window is not open"
	messageQuotaUnverified   = "unable to verify weekly quota"
)

// ResolveTier applies tier precedence: privilege only grants earlier access and
// never stacks with the normal window.
func ResolveTier(status window.Status, isPrivilegeUser bool) Tier {
	switch {
	case isPrivilegeUser && status.InPrivilegeWindow && !status.InNormalWindow:
		return TierVIP
	case status.InNormalWindow:
		return TierNormal
	default:
		return TierNone
	}
}

// AdmissionOptions tunes AdmissionService.
type AdmissionOptions struct {
	// CancelMode selects the wrap interpretation for the release deadline.
	CancelMode    window.Mode
	BookableWeeks int
	ConfigTTL     time.Duration
}

// AdmissionService decides whether a user may book or edit right now.
type AdmissionService struct {
	configs        *ConfigCache
	quota          *QuotaTracker
	resolver       *window.Resolver
	cancelResolver *window.Resolver
	bookableWeeks  int
	now            func() time.Time
	logger         *slog.Logger
}

// NewAdmissionService wires the admission controller.
func NewAdmissionService(configs ConfigSource, slots SlotStore, resolver *window.Resolver, opts AdmissionOptions, now func() time.Time) *AdmissionService {
	return NewAdmissionServiceWithLogger(configs, slots, resolver, opts, now, nil)
}

// NewAdmissionServiceWithLogger wires the admission controller with a logger.
func NewAdmissionServiceWithLogger(configs ConfigSource, slots SlotStore, resolver *window.Resolver, opts AdmissionOptions, now func() time.Time, logger *slog.Logger) *AdmissionService {
	if now == nil {
		now = time.Now
	}
	if resolver == nil {
		resolver = window.NewResolver(nil, window.ModeDaily)
	}
	cancelMode := opts.CancelMode
	if cancelMode == "" {
		cancelMode = window.ModeContinuous
	}
	weeks := opts.BookableWeeks
	if weeks <= 0 {
		weeks = DefaultBookableWeeks
	}
	logger = defaultLogger(logger)
	return &AdmissionService{
		configs:        NewConfigCache(configs, opts.ConfigTTL, now, logger),
		quota:          NewQuotaTracker(slots, resolver.Location(), now),
		resolver:       resolver,
		cancelResolver: window.NewResolver(resolver.Location(), cancelMode),
		bookableWeeks:  weeks,
		now:            now,
		logger:         logger,
	}
}

// Quota exposes the tracker backing admission decisions.
func (s *AdmissionService) Quota() *QuotaTracker {
	return s.quota
}

// ClearConfigCache forces the next decision to refetch the registration config.
func (s *AdmissionService) ClearConfigCache() {
	s.configs.Clear()
}

// Config returns the currently usable registration config, or nil.
func (s *AdmissionService) Config(ctx context.Context) *RegistrationConfig {
	return s.configs.Get(ctx)
}

// CanRegister evaluates a new booking, or an edit of an existing one when
// editingExisting is set. It never returns an error; transport failures deny.
func (s *AdmissionService) CanRegister(ctx context.Context, userID string, editingExisting bool) (status RegistrationStatus) {
	logger := serviceLogger(ctx, s.logger, "AdmissionService", "CanRegister", "user_id", userID, "editing_existing", editingExisting)
	defer func() {
		if status.Allowed {
			logger.DebugContext(ctx, "registration allowed", "tier", status.Tier, "count", status.CurrentCount, "limit", status.Limit)
			return
		}
		logger.InfoContext(ctx, "registration denied", "tier", status.Tier, "error_kind", ErrorKind(status.Reason), "message", status.Message)
	}()

	now := s.now()
	status.WeekStart, status.WeekEnd = s.quota.Week(now)

	cfg := s.configs.Get(ctx)
	if cfg == nil {
		status.Reason = ErrConfigUnavailable
		status.Message = messageConfigUnavailable
		status.Tier = TierNone
		return status
	}

	status.IsPrivilegeUser = cfg.IsPrivilegeUser(userID)
	status.Window = s.resolver.Resolve(now, cfg.NormalWindow, cfg.PrivilegeWindow)
	status.Tier = ResolveTier(status.Window, status.IsPrivilegeUser)

	if editingExisting {
		if status.Window.InNormalWindow || (status.IsPrivilegeUser && status.Window.InPrivilegeWindow) {
			status.Allowed = true
			status.Message = messageCanEdit
			return status
		}
		status.Reason = ErrWindowClosed
		status.Message = messageEditClosed
		return status
	}

	status.Limit = LimitFor(status.Tier, cfg)
	if status.Tier == TierNone {
		status.Reason = ErrWindowClosed
		status.Message = messageWindowClosed
		return status
	}

	count, err := s.quota.Count(ctx, userID, status.WeekStart, status.WeekEnd)
	if err != nil {
		logger.WarnContext(ctx, "quota query failed", "error", err)
		status.Reason = fmt.Errorf("%w: %w", ErrTransportFailure, err)
		status.Message = messageQuotaUnverified
		return status
	}
	status.CurrentCount = count
	if count >= status.Limit {
		status.Reason = ErrQuotaExceeded
		status.Message = fmt.Sprintf("weekly limit reached (%d/%d)", count, status.Limit)
		return status
	}

	status.Allowed = true
	status.Message = fmt.Sprintf("registration open (%d/%d)", count, status.Limit)
	return status
}

// CanCancel reports whether userID may still release a booking this week. The
// deadline runs from Monday midnight until the close of the user's tier window.
func (s *AdmissionService) CanCancel(ctx context.Context, userID string) bool {
	cfg := s.configs.Get(ctx)
	if cfg == nil {
		return false
	}
	tierWindow := cfg.NormalWindow
	if cfg.IsPrivilegeUser(userID) {
		tierWindow = cfg.PrivilegeWindow
	}
	return s.cancelResolver.Contains(s.now(), window.CancellationWindow(tierWindow))
}

// CheckBookableDate rejects dates outside the bookable weeks.
func (s *AdmissionService) CheckBookableDate(date slot.Date) error {
	if _, err := slot.ParseDate(string(date)); err != nil {
		vErr := &ValidationError{}
		vErr.add("date", "date must be YYYY-MM-DD")
		return vErr
	}
	loc := s.resolver.Location()
	first, last := window.BookableRange(s.now(), loc, s.bookableWeeks)
	from, to := slot.DateOf(first, loc), slot.DateOf(last, loc)
	if !date.Within(from, to) {
		return deny(ErrDateOutOfRange, fmt.Sprintf("only dates from %s to %s can be booked", from, to))
	}
	return nil
}

// WindowSnapshot reports the current window state for display.
func (s *AdmissionService) WindowSnapshot(ctx context.Context, userID string) WindowSnapshot {
	now := s.now()
	snap := WindowSnapshot{Now: now}
	cfg := s.configs.Get(ctx)
	if cfg == nil {
		snap.Tier = TierNone
		return snap
	}
	snap.ConfigAvailable = true
	snap.IsPrivilegeUser = cfg.IsPrivilegeUser(userID)
	snap.Status = s.resolver.Resolve(now, cfg.NormalWindow, cfg.PrivilegeWindow)
	snap.Tier = ResolveTier(snap.Status, snap.IsPrivilegeUser)
	snap.NormalWindow = window.Describe(cfg.NormalWindow)
	snap.PrivilegeWindow = window.Describe(cfg.PrivilegeWindow)
	return snap
}

// Summary lists the user's confirmed bookings this week.
func (s *AdmissionService) Summary(ctx context.Context, userID string) (BookingSummary, error) {
	return s.quota.Summary(ctx, userID)
}
