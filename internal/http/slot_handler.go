package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/session-booking/internal/application"
	"github.com/example/session-booking/internal/slot"
	"github.com/example/session-booking/internal/window"
)

type slotService interface {
	BeginEdit(ctx context.Context, params application.BeginEditParams) (slot.Slot, error)
	Confirm(ctx context.Context, params application.ConfirmParams) (slot.Slot, error)
	Cancel(ctx context.Context, principal application.Principal, slotID string) error
	Release(ctx context.Context, principal application.Principal, slotID string) (slot.Slot, error)
	Lock(ctx context.Context, params application.LockParams) (slot.Slot, error)
	Unlock(ctx context.Context, principal application.Principal, slotID string) (slot.Slot, error)
	ListWeek(ctx context.Context, weekOf time.Time) ([]slot.Slot, error)
	IsAvailable(ctx context.Context, date slot.Date, timeSlotID string) (bool, error)
	Stats(ctx context.Context, from, to slot.Date) (application.SlotStats, error)
	Search(ctx context.Context, principal application.Principal, filter application.SlotFilter) (application.SlotPage, error)
}

type SlotHandler struct {
	service   slotService
	location  *time.Location
	now       func() time.Time
	responder responder
	logger    *slog.Logger
}

func NewSlotHandler(service slotService, loc *time.Location, logger *slog.Logger) *SlotHandler {
	base := defaultLogger(logger)
	if loc == nil {
		loc = window.ReferenceLocation()
	}
	return &SlotHandler{service: service, location: loc, now: time.Now, responder: newResponder(base), logger: base}
}

func (h *SlotHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SlotHandler", operation, attrs...)
}

func (h *SlotHandler) ready(w http.ResponseWriter) bool {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *SlotHandler) slotID(w http.ResponseWriter, r *http.Request, operation string) (string, bool) {
	id, ok := SlotIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.log(r.Context(), operation, "error_kind", "bad_request").WarnContext(r.Context(), "missing slot id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSlotID)
		return "", false
	}
	return id, true
}

// List serves GET /slots?week=YYYY-MM-DD.
func (h *SlotHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	weekOf, err := parseWeek(r.URL.Query().Get("week"), h.location, h.now)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "List", "week", slot.DateOf(weekOf, h.location))
	slots, err := h.service.ListWeek(r.Context(), weekOf)
	if err != nil {
		logger.ErrorContext(r.Context(), "slot list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(slots)).DebugContext(r.Context(), "slots listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listSlotsResponse{Slots: toSlotDTOs(slots)})
}

// BeginEdit serves POST /slots.
func (h *SlotHandler) BeginEdit(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	var req beginEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "BeginEdit", "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode begin edit request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "BeginEdit", "date", req.Date, "time_slot_id", req.TimeSlotID)
	s, err := h.service.BeginEdit(r.Context(), application.BeginEditParams{
		Principal:  principal,
		Date:       slot.Date(strings.TrimSpace(req.Date)),
		TimeSlotID: strings.TrimSpace(req.TimeSlotID),
	})
	if err != nil {
		logger.InfoContext(r.Context(), "begin edit rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("slot_id", s.ID).InfoContext(r.Context(), "editing lock taken")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, slotResponse{Slot: toSlotDTO(s)})
}

// Confirm serves PUT /slots/{id}.
func (h *SlotHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	slotID, ok := h.slotID(w, r, "Confirm")
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Confirm", "slot_id", slotID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode confirm request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Confirm", "slot_id", slotID)
	s, err := h.service.Confirm(r.Context(), application.ConfirmParams{
		Principal:      principal,
		SlotID:         slotID,
		ParticipantIDs: trimAll(req.ParticipantIDs),
		Location:       strings.TrimSpace(req.Location),
		PropertyType:   strings.TrimSpace(req.PropertyType),
	})
	if err != nil {
		logger.InfoContext(r.Context(), "confirm rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "booking confirmed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, slotResponse{Slot: toSlotDTO(s)})
}

// Cancel serves DELETE /slots/{id}/editing.
func (h *SlotHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	slotID, ok := h.slotID(w, r, "Cancel")
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Cancel", "slot_id", slotID)
	if err := h.service.Cancel(r.Context(), principal, slotID); err != nil {
		logger.InfoContext(r.Context(), "cancel rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "edit cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Release serves POST /slots/{id}/release.
func (h *SlotHandler) Release(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	slotID, ok := h.slotID(w, r, "Release")
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Release", "slot_id", slotID)
	s, err := h.service.Release(r.Context(), principal, slotID)
	if err != nil {
		logger.InfoContext(r.Context(), "release rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "booking released")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, slotResponse{Slot: toSlotDTO(s)})
}

// Lock serves POST /slots/lock.
func (h *SlotHandler) Lock(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Lock", "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode lock request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	params, err := req.toParams(principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Lock", "date", params.Date, "time_slot_id", params.TimeSlotID)
	s, err := h.service.Lock(r.Context(), params)
	if err != nil {
		logger.InfoContext(r.Context(), "lock rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("slot_id", s.ID, "lock_type", s.LockType).InfoContext(r.Context(), "slot locked")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, slotResponse{Slot: toSlotDTO(s)})
}

// Unlock serves DELETE /slots/{id}/lock.
func (h *SlotHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	slotID, ok := h.slotID(w, r, "Unlock")
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Unlock", "slot_id", slotID)
	s, err := h.service.Unlock(r.Context(), principal, slotID)
	if err != nil {
		logger.InfoContext(r.Context(), "unlock rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "slot unlocked")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, slotResponse{Slot: toSlotDTO(s)})
}

// Availability serves GET /slots/availability?date=&time_slot_id=.
func (h *SlotHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	query := r.URL.Query()
	date, err := parseDateParam("date", query.Get("date"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	timeSlotID := strings.TrimSpace(query.Get("time_slot_id"))
	if timeSlotID == "" {
		h.responder.handleServiceError(r.Context(), w, fieldError("time_slot_id", "time slot is required"))
		return
	}

	available, err := h.service.IsAvailable(r.Context(), date, timeSlotID)
	if err != nil {
		h.log(r.Context(), "Availability", "date", date, "time_slot_id", timeSlotID).ErrorContext(r.Context(), "availability lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, availabilityResponse{Date: string(date), TimeSlotID: timeSlotID, Available: available})
}

// Stats serves GET /slots/stats?from=&to=.
func (h *SlotHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	query := r.URL.Query()
	from, err := parseDateParam("from", query.Get("from"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	to, err := parseDateParam("to", query.Get("to"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if to < from {
		h.responder.handleServiceError(r.Context(), w, fieldError("to", "to must not be before from"))
		return
	}

	stats, err := h.service.Stats(r.Context(), from, to)
	if err != nil {
		h.log(r.Context(), "Stats", "from", from, "to", to).ErrorContext(r.Context(), "stats failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, statsResponse{
		From:      string(from),
		To:        string(to),
		Total:     stats.Total,
		Available: stats.Available,
		Editing:   stats.Editing,
		Booked:    stats.Booked,
		Locked:    stats.Locked,
	})
}

// Search serves GET /slots/search. List parameters repeat or take comma
// separated values.
func (h *SlotHandler) Search(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	filter, err := parseSlotFilter(r.URL.Query())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Search", "from", filter.From, "to", filter.To, "page", filter.Page)
	page, err := h.service.Search(r.Context(), principal, filter)
	if err != nil {
		logger.InfoContext(r.Context(), "slot search rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(page.Slots), "total", page.Total).DebugContext(r.Context(), "slots searched")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, searchSlotsResponse{
		Slots:    toSlotDTOs(page.Slots),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

func parseSlotFilter(query url.Values) (application.SlotFilter, error) {
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	var filter application.SlotFilter
	for field, dst := range map[string]*slot.Date{"from": &filter.From, "to": &filter.To} {
		value := strings.TrimSpace(query.Get(field))
		if value == "" {
			continue
		}
		date, err := slot.ParseDate(value)
		if err != nil {
			vErr.FieldErrors[field] = "date must be YYYY-MM-DD"
			continue
		}
		*dst = date
	}
	for field, dst := range map[string]*int{"page": &filter.Page, "page_size": &filter.PageSize} {
		value := strings.TrimSpace(query.Get(field))
		if value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			vErr.FieldErrors[field] = field + " must be a positive integer"
			continue
		}
		*dst = n
	}
	if vErr.HasErrors() {
		return application.SlotFilter{}, vErr
	}

	for _, v := range listParam(query, "status") {
		filter.Statuses = append(filter.Statuses, slot.Status(v))
	}
	for _, v := range listParam(query, "lock_type") {
		filter.LockTypes = append(filter.LockTypes, slot.LockType(v))
	}
	filter.TimeSlotIDs = listParam(query, "time_slot_id")
	filter.ParticipantIDs = listParam(query, "participant_id")
	filter.CreatedBy = listParam(query, "created_by")
	filter.EditingBy = listParam(query, "editing_by")
	filter.Locations = listParam(query, "location")
	return filter, nil
}

func listParam(query url.Values, key string) []string {
	var out []string
	for _, raw := range query[key] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func fieldError(field, message string) error {
	return &application.ValidationError{FieldErrors: map[string]string{field: message}}
}

func parseDateParam(field, value string) (slot.Date, error) {
	date, err := slot.ParseDate(strings.TrimSpace(value))
	if err != nil {
		return "", fieldError(field, "date must be YYYY-MM-DD")
	}
	return date, nil
}

// parseWeek resolves the week query parameter to an instant within that week.
// An empty value selects the current week.
func parseWeek(value string, loc *time.Location, now func() time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now().In(loc), nil
	}
	date, err := parseDateParam("week", value)
	if err != nil {
		return time.Time{}, err
	}
	return date.Time(loc)
}

func trimAll(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

type beginEditRequest struct {
	Date       string `json:"date"`
	TimeSlotID string `json:"time_slot_id"`
}

type confirmRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
	Location       string   `json:"location"`
	PropertyType   string   `json:"property_type"`
}

type lockRequest struct {
	Date       string  `json:"date"`
	TimeSlotID string  `json:"time_slot_id"`
	LockType   string  `json:"lock_type"`
	Reason     string  `json:"reason"`
	EndTime    *string `json:"end_time"`
}

func (r lockRequest) toParams(principal application.Principal) (application.LockParams, error) {
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	lockType, err := slot.ParseLockType(strings.TrimSpace(r.LockType))
	if err != nil {
		vErr.FieldErrors["lock_type"] = "lock type must be manual, system or maintenance"
	}
	var endTime *time.Time
	if r.EndTime != nil && strings.TrimSpace(*r.EndTime) != "" {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*r.EndTime))
		if err != nil {
			vErr.FieldErrors["end_time"] = "end time must be RFC 3339"
		} else {
			endTime = &parsed
		}
	}
	if vErr.HasErrors() {
		return application.LockParams{}, vErr
	}
	return application.LockParams{
		Principal:  principal,
		Date:       slot.Date(strings.TrimSpace(r.Date)),
		TimeSlotID: strings.TrimSpace(r.TimeSlotID),
		LockType:   lockType,
		Reason:     r.Reason,
		EndTime:    endTime,
	}, nil
}

type slotResponse struct {
	Slot slotDTO `json:"slot"`
}

type listSlotsResponse struct {
	Slots []slotDTO `json:"slots"`
}

type searchSlotsResponse struct {
	Slots    []slotDTO `json:"slots"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

type availabilityResponse struct {
	Date       string `json:"date"`
	TimeSlotID string `json:"time_slot_id"`
	Available  bool   `json:"available"`
}

type statsResponse struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Editing   int    `json:"editing"`
	Booked    int    `json:"booked"`
	Locked    int    `json:"locked"`
}

type slotDTO struct {
	ID               string   `json:"id"`
	Date             string   `json:"date"`
	TimeSlotID       string   `json:"time_slot_id"`
	Status           string   `json:"status"`
	ParticipantIDs   []string `json:"participant_ids"`
	CreatedBy        string   `json:"created_by"`
	EditingBy        string   `json:"editing_by,omitempty"`
	EditingExpiresAt *string  `json:"editing_expires_at,omitempty"`
	LockType         string   `json:"lock_type"`
	LockReason       string   `json:"lock_reason,omitempty"`
	LockEndTime      *string  `json:"lock_end_time,omitempty"`
	Location         string   `json:"location,omitempty"`
	PropertyType     string   `json:"property_type,omitempty"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339Nano)
	return &v
}

func toSlotDTO(s slot.Slot) slotDTO {
	participants := s.ParticipantIDs
	if participants == nil {
		participants = []string{}
	}
	return slotDTO{
		ID:               s.ID,
		Date:             string(s.Date),
		TimeSlotID:       s.TimeSlotID,
		Status:           string(s.Status),
		ParticipantIDs:   participants,
		CreatedBy:        s.CreatedBy,
		EditingBy:        s.EditingBy,
		EditingExpiresAt: formatOptionalTime(s.EditingExpiresAt),
		LockType:         string(s.LockType),
		LockReason:       s.LockReason,
		LockEndTime:      formatOptionalTime(s.LockEndTime),
		Location:         s.Location,
		PropertyType:     s.PropertyType,
		CreatedAt:        s.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:        s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toSlotDTOs(slots []slot.Slot) []slotDTO {
	out := make([]slotDTO, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotDTO(s))
	}
	return out
}
