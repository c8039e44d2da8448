// Package http exposes the booking engine over HTTP.
//
// Identity is established upstream: every request carries an `X-User-ID`
// header and optionally `X-User-Role: admin`. The router exposes:
//   - GET /slots?week=YYYY-MM-DD: the slots of the Monday to Sunday week
//     containing the date, as {"slots":[slotDTO]}.
//   - POST /slots: starts editing a (date, time slot) cell. Body:
//     {"date","time_slot_id"}. Returns the editing slot.
//   - PUT /slots/{id}: confirms an edit. Body: {"participant_ids","location",
//     "property_type"}. Admission is re-checked before the booking is written.
//   - DELETE /slots/{id}/editing: abandons an edit. Returns 204.
//   - POST /slots/{id}/release: releases a booking back to available.
//   - POST /slots/lock, DELETE /slots/{id}/lock: operator locks. Lock body:
//     {"date","time_slot_id","lock_type","reason","end_time"}.
//   - GET /slots/availability?date=&time_slot_id=, GET /slots/stats?from=&to=.
//   - GET /slots/stream?week=: server-sent events carrying "snapshot",
//     "state" and "error" events for a live week view.
//   - GET /registration/status?editing=, GET /registration/windows,
//     GET /registration/quota, GET /frequency?operation=.
//
// Failures are returned as {"error_code","message","errors","cooldown_until"}.
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
