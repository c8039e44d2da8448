package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/session-booking/internal/application"
)

type registrationService interface {
	CanRegister(ctx context.Context, userID string, editingExisting bool) application.RegistrationStatus
	CanCancel(ctx context.Context, userID string) bool
	WindowSnapshot(ctx context.Context, userID string) application.WindowSnapshot
	Summary(ctx context.Context, userID string) (application.BookingSummary, error)
}

type frequencyChecker interface {
	Check(ctx context.Context, userID, operationType string) application.FrequencyResult
}

// RegistrationHandler exposes admission decisions and quota usage.
type RegistrationHandler struct {
	service   registrationService
	frequency frequencyChecker
	responder responder
	logger    *slog.Logger
}

func NewRegistrationHandler(service registrationService, frequency frequencyChecker, logger *slog.Logger) *RegistrationHandler {
	base := defaultLogger(logger)
	return &RegistrationHandler{service: service, frequency: frequency, responder: newResponder(base), logger: base}
}

func (h *RegistrationHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "RegistrationHandler", operation, attrs...)
}

// Status serves GET /registration/status?editing=true|false.
func (h *RegistrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	editing := false
	if raw := strings.TrimSpace(r.URL.Query().Get("editing")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, fieldError("editing", "editing must be true or false"))
			return
		}
		editing = parsed
	}

	status := h.service.CanRegister(r.Context(), principal.UserID, editing)
	h.log(r.Context(), "Status", "allowed", status.Allowed).DebugContext(r.Context(), "registration status evaluated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, registrationStatusResponse{
		Allowed:         status.Allowed,
		Message:         status.Message,
		Reason:          application.ErrorKind(status.Reason),
		Tier:            string(status.Tier),
		IsPrivilegeUser: status.IsPrivilegeUser,
		CurrentCount:    status.CurrentCount,
		Limit:           status.Limit,
		WeekStart:       string(status.WeekStart),
		WeekEnd:         string(status.WeekEnd),
		CanCancel:       h.service.CanCancel(r.Context(), principal.UserID),
	})
}

// Windows serves GET /registration/windows.
func (h *RegistrationHandler) Windows(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	snap := h.service.WindowSnapshot(r.Context(), principal.UserID)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, windowsResponse{
		Now:               snap.Now.UTC().Format(time.RFC3339),
		ConfigAvailable:   snap.ConfigAvailable,
		Tier:              string(snap.Tier),
		IsPrivilegeUser:   snap.IsPrivilegeUser,
		InNormalWindow:    snap.Status.InNormalWindow,
		InPrivilegeWindow: snap.Status.InPrivilegeWindow,
		NormalWindow:      snap.NormalWindow,
		PrivilegeWindow:   snap.PrivilegeWindow,
	})
}

// Quota serves GET /registration/quota.
func (h *RegistrationHandler) Quota(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Quota")

	summary, err := h.service.Summary(r.Context(), principal.UserID)
	if err != nil {
		logger.ErrorContext(r.Context(), "quota summary failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, quotaResponse{
		UserID:         summary.UserID,
		WeekStart:      string(summary.WeekStart),
		WeekEnd:        string(summary.WeekEnd),
		ConfirmedCount: summary.ConfirmedCount,
		PrimaryCount:   summary.PrimaryCount,
		PartnerCount:   summary.PartnerCount,
		Slots:          toSlotDTOs(summary.Slots),
	})
}

// Frequency serves GET /frequency?operation=register.
func (h *RegistrationHandler) Frequency(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.frequency == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	operation := strings.TrimSpace(r.URL.Query().Get("operation"))
	if operation == "" {
		operation = application.OperationRegister
	}

	result := h.frequency.Check(r.Context(), principal.UserID, operation)
	resp := frequencyResponse{Operation: operation, Allowed: result.Allowed, Message: result.Message}
	if result.CooldownUntil != nil {
		resp.CooldownUntil = result.CooldownUntil.UTC().Format(time.RFC3339)
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

type registrationStatusResponse struct {
	Allowed         bool   `json:"allowed"`
	Message         string `json:"message"`
	Reason          string `json:"reason,omitempty"`
	Tier            string `json:"tier"`
	IsPrivilegeUser bool   `json:"is_privilege_user"`
	CurrentCount    int    `json:"current_count"`
	Limit           int    `json:"limit"`
	WeekStart       string `json:"week_start"`
	WeekEnd         string `json:"week_end"`
	CanCancel       bool   `json:"can_cancel"`
}

type windowsResponse struct {
	Now               string `json:"now"`
	ConfigAvailable   bool   `json:"config_available"`
	Tier              string `json:"tier"`
	IsPrivilegeUser   bool   `json:"is_privilege_user"`
	InNormalWindow    bool   `json:"in_normal_window"`
	InPrivilegeWindow bool   `json:"in_privilege_window"`
	NormalWindow      string `json:"normal_window,omitempty"`
	PrivilegeWindow   string `json:"privilege_window,omitempty"`
}

type quotaResponse struct {
	UserID         string    `json:"user_id"`
	WeekStart      string    `json:"week_start"`
	WeekEnd        string    `json:"week_end"`
	ConfirmedCount int       `json:"confirmed_count"`
	PrimaryCount   int       `json:"primary_count"`
	PartnerCount   int       `json:"partner_count"`
	Slots          []slotDTO `json:"slots"`
}

type frequencyResponse struct {
	Operation     string `json:"operation"`
	Allowed       bool   `json:"allowed"`
	Message       string `json:"message,omitempty"`
	CooldownUntil string `json:"cooldown_until,omitempty"`
}
