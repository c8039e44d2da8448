package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/session-booking/internal/application"
	"github.com/example/session-booking/internal/slot"
	"github.com/example/session-booking/internal/testfixtures"
	"github.com/example/session-booking/internal/window"
)

type slotHarness struct {
	factory   *testfixtures.ServiceFactory
	admission *application.AdmissionService
	throttle  *application.FrequencyThrottle
	service   *application.SlotService

	mu      sync.Mutex
	changes []application.SlotChange
}

func newSlotHarness(t *testing.T, cfg *application.RegistrationConfig) *slotHarness {
	t.Helper()
	if cfg == nil {
		cfg = testfixtures.NewRegistrationConfig()
	}
	h := &slotHarness{factory: testfixtures.NewServiceFactory(testfixtures.WithConfig(cfg))}
	h.admission = h.factory.NewAdmissionService(testfixtures.AdmissionServiceDeps{})
	h.throttle = h.factory.NewFrequencyThrottle(testfixtures.ThrottleDeps{})
	h.service = h.factory.NewSlotService(testfixtures.SlotServiceDeps{Admission: h.admission, Throttle: h.throttle})
	h.service.Observe(func(_ context.Context, change application.SlotChange) {
		h.mu.Lock()
		h.changes = append(h.changes, change)
		h.mu.Unlock()
	})
	t.Cleanup(h.throttle.Wait)
	return h
}

func (h *slotHarness) changeTypes() []application.ChangeType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]application.ChangeType, 0, len(h.changes))
	for _, c := range h.changes {
		out = append(out, c.Type)
	}
	return out
}

var (
	alice    = application.Principal{UserID: "alice"}
	bob      = application.Principal{UserID: "bob"}
	operator = application.Principal{UserID: "ops", IsAdmin: true}
)

func beginParams(p application.Principal, days int, timeSlotID string) application.BeginEditParams {
	return application.BeginEditParams{Principal: p, Date: testfixtures.ReferenceDate(days), TimeSlotID: timeSlotID}
}

func confirmParams(p application.Principal, slotID string, participants ...string) application.ConfirmParams {
	return application.ConfirmParams{Principal: p, SlotID: slotID, ParticipantIDs: participants, Location: "Room A", PropertyType: "review"}
}

func TestSlotService_BookingLifecycle(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()
	now := testfixtures.ReferenceTime()

	editing, err := h.service.BeginEdit(ctx, beginParams(alice, 1, "10:00"))
	if err != nil {
		t.Fatalf("expected begin edit to succeed, got %v", err)
	}
	if editing.Status != slot.StatusEditing || editing.EditingBy != "alice" {
		t.Fatalf("expected editing slot held by alice, got %+v", editing)
	}
	if editing.EditingExpiresAt == nil || !editing.EditingExpiresAt.Equal(now.Add(application.DefaultLockDuration)) {
		t.Fatalf("expected lock to expire after the default duration, got %v", editing.EditingExpiresAt)
	}

	booked, err := h.service.Confirm(ctx, confirmParams(alice, editing.ID, "alice", "bob"))
	if err != nil {
		t.Fatalf("expected confirm to succeed, got %v", err)
	}
	if booked.Status != slot.StatusBooked || booked.EditingBy != "" || booked.Location != "Room A" {
		t.Fatalf("expected booked slot with details, got %+v", booked)
	}

	amending, err := h.service.BeginEdit(ctx, beginParams(bob, 1, "10:00"))
	if err != nil {
		t.Fatalf("expected partner to amend the booking, got %v", err)
	}
	if amending.Status != slot.StatusBooked || amending.EditingBy != "bob" {
		t.Fatalf("expected booked slot locked by bob, got %+v", amending)
	}
	if err := h.service.Cancel(ctx, bob, amending.ID); err != nil {
		t.Fatalf("expected cancel to restore the booking, got %v", err)
	}
	restored, err := h.factory.Store.GetSlot(ctx, amending.ID)
	if err != nil {
		t.Fatalf("expected restored slot, got %v", err)
	}
	if restored.Status != slot.StatusBooked || restored.EditingBy != "" || len(restored.ParticipantIDs) != 2 {
		t.Fatalf("expected booking restored without lock, got %+v", restored)
	}

	if err := h.service.Cancel(ctx, alice, booked.ID); !errors.Is(err, application.ErrStaleWrite) {
		t.Fatalf("expected cancel without an edit to be stale, got %v", err)
	}

	released, err := h.service.Release(ctx, alice, booked.ID)
	if err != nil {
		t.Fatalf("expected release to succeed, got %v", err)
	}
	if released.Status != slot.StatusAvailable || len(released.ParticipantIDs) != 0 {
		t.Fatalf("expected available slot without participants, got %+v", released)
	}

	want := []application.ChangeType{
		application.ChangeInsert,
		application.ChangeUpdate,
		application.ChangeUpdate,
		application.ChangeUpdate,
		application.ChangeUpdate,
	}
	got := h.changeTypes()
	if len(got) != len(want) {
		t.Fatalf("expected %d observed changes, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected change %d to be %s, got %s", i, want[i], got[i])
		}
	}

	h.throttle.Wait()
	ops := make(map[string]int)
	for _, rec := range h.factory.Remote.Records() {
		ops[rec.OperationType]++
	}
	if ops[application.OperationRegister] != 2 || ops[application.OperationConfirm] != 1 || ops[application.OperationCancel] != 1 || ops[application.OperationRelease] != 1 {
		t.Fatalf("expected register x2, confirm, cancel and release records, got %v", ops)
	}
}

func TestSlotService_CancelNewEditRemovesRecord(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()

	editing, err := h.service.BeginEdit(ctx, beginParams(alice, 2, "14:00"))
	if err != nil {
		t.Fatalf("expected begin edit to succeed, got %v", err)
	}
	if err := h.service.Cancel(ctx, alice, editing.ID); err != nil {
		t.Fatalf("expected cancel to succeed, got %v", err)
	}
	if got := h.factory.Store.Len(); got != 0 {
		t.Fatalf("expected no records after cancelling a new edit, got %d", got)
	}
	if types := h.changeTypes(); len(types) != 2 || types[1] != application.ChangeDelete {
		t.Fatalf("expected insert then delete, got %v", types)
	}
	if err := h.service.Cancel(ctx, alice, editing.ID); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a removed slot, got %v", err)
	}
}

func TestSlotService_EditingConflicts(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()

	editing, err := h.service.BeginEdit(ctx, beginParams(alice, 1, "09:00"))
	if err != nil {
		t.Fatalf("expected begin edit to succeed, got %v", err)
	}
	if _, err := h.service.BeginEdit(ctx, beginParams(bob, 1, "09:00")); !errors.Is(err, application.ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict for a held slot, got %v", err)
	}
	if _, err := h.service.Confirm(ctx, confirmParams(bob, editing.ID, "bob", "carol")); !errors.Is(err, application.ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict confirming another user's edit, got %v", err)
	}
	if err := h.service.Cancel(ctx, bob, editing.ID); !errors.Is(err, application.ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict cancelling another user's edit, got %v", err)
	}

	reopened, err := h.service.BeginEdit(ctx, beginParams(alice, 1, "09:00"))
	if err != nil || reopened.ID != editing.ID {
		t.Fatalf("expected alice to reopen her edit, got %+v, %v", reopened, err)
	}

	h.factory.Clock.Advance(application.DefaultLockDuration + time.Second)
	if _, err := h.service.Confirm(ctx, confirmParams(bob, editing.ID, "bob", "carol")); !errors.Is(err, application.ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict confirming an unheld lock, got %v", err)
	}
	claimed, err := h.service.BeginEdit(ctx, beginParams(bob, 1, "09:00"))
	if err != nil {
		t.Fatalf("expected expired lock to be claimable, got %v", err)
	}
	if claimed.EditingBy != "bob" || len(claimed.ParticipantIDs) != 1 || claimed.ParticipantIDs[0] != "bob" {
		t.Fatalf("expected bob to hold the slot, got %+v", claimed)
	}
}

func TestSlotService_BookedByOthers(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()
	booked := testfixtures.NewSlot(testfixtures.WithSlotID("booked"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(1), "11:00"), testfixtures.Booked("alice", "bob"))
	h.factory.Store.Seed(booked)

	carol := application.Principal{UserID: "carol"}
	if _, err := h.service.BeginEdit(ctx, beginParams(carol, 1, "11:00")); !errors.Is(err, application.ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict for a foreign booking, got %v", err)
	}
	if _, err := h.service.Release(ctx, carol, "booked"); !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized releasing a foreign booking, got %v", err)
	}
}

func TestSlotService_ConfirmValidation(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()
	editing, err := h.service.BeginEdit(ctx, beginParams(alice, 1, "15:00"))
	if err != nil {
		t.Fatalf("expected begin edit to succeed, got %v", err)
	}

	cases := []struct {
		name         string
		participants []string
	}{
		{name: "single participant", participants: []string{"alice"}},
		{name: "three participants", participants: []string{"alice", "bob", "carol"}},
		{name: "duplicate participant", participants: []string{"alice", "alice"}},
		{name: "blank participant", participants: []string{"alice", " "}},
	}
	for _, tc := range cases {
		_, err := h.service.Confirm(ctx, confirmParams(alice, editing.ID, tc.participants...))
		var vErr *application.ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["participant_ids"] == "" {
			t.Fatalf("%s: expected participant validation error, got %v", tc.name, err)
		}
	}

	if _, err := h.service.Confirm(ctx, confirmParams(application.Principal{}, editing.ID, "alice", "bob")); !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without identity, got %v", err)
	}
	if _, err := h.service.Confirm(ctx, confirmParams(alice, "", "alice", "bob")); err == nil {
		t.Fatalf("expected missing slot id to fail")
	}
}

func TestSlotService_ConfirmRechecksAdmission(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()
	editing, err := h.service.BeginEdit(ctx, beginParams(alice, 1, "16:00"))
	if err != nil {
		t.Fatalf("expected begin edit to succeed, got %v", err)
	}

	h.factory.Store.SetConfig(testfixtures.NewRegistrationConfig(testfixtures.WithEmergencyClosed(true)))
	h.admission.ClearConfigCache()

	if _, err := h.service.Confirm(ctx, confirmParams(alice, editing.ID, "alice", "bob")); !errors.Is(err, application.ErrConfigUnavailable) {
		t.Fatalf("expected ErrConfigUnavailable after an emergency stop, got %v", err)
	}
}

func TestSlotService_BeginEditAdmission(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("frequency limited", func(t *testing.T) {
		t.Parallel()
		h := newSlotHarness(t, nil)
		until := testfixtures.ReferenceTime().Add(5 * time.Minute)
		h.factory.Remote.SetResult(application.FrequencyResult{Allowed: false, CooldownUntil: &until})

		_, err := h.service.BeginEdit(ctx, beginParams(alice, 1, "10:00"))
		var denied *application.DeniedError
		if !errors.As(err, &denied) || !errors.Is(err, application.ErrFrequencyLimited) {
			t.Fatalf("expected frequency denial, got %v", err)
		}
		if denied.CooldownUntil == nil || !denied.CooldownUntil.Equal(until) {
			t.Fatalf("expected cooldown to be reported, got %v", denied.CooldownUntil)
		}
		if h.factory.Store.Len() != 0 {
			t.Fatalf("expected no record to be created")
		}
	})

	t.Run("quota exceeded", func(t *testing.T) {
		t.Parallel()
		h := newSlotHarness(t, testfixtures.NewRegistrationConfig(testfixtures.WithWeeklyLimits(1, 1)))
		h.factory.Store.Seed(testfixtures.NewSlot(testfixtures.WithSlotKey(testfixtures.ReferenceDate(2), "10:00"), testfixtures.Booked("bob", "alice")))

		if _, err := h.service.BeginEdit(ctx, beginParams(alice, 1, "10:00")); !errors.Is(err, application.ErrQuotaExceeded) {
			t.Fatalf("expected ErrQuotaExceeded, got %v", err)
		}
		if h.factory.Store.Len() != 1 {
			t.Fatalf("expected no new record")
		}
	})

	t.Run("window closed", func(t *testing.T) {
		t.Parallel()
		h := newSlotHarness(t, testfixtures.NewRegistrationConfig(
			testfixtures.WithNormalWindow(testfixtures.Window(window.Friday, window.Friday, "09:00", "18:00")),
			testfixtures.WithPrivilegeWindow(testfixtures.Window(window.Friday, window.Friday, "09:00", "18:00")),
		))
		if _, err := h.service.BeginEdit(ctx, beginParams(alice, 1, "10:00")); !errors.Is(err, application.ErrWindowClosed) {
			t.Fatalf("expected ErrWindowClosed, got %v", err)
		}
	})

	t.Run("date out of range", func(t *testing.T) {
		t.Parallel()
		h := newSlotHarness(t, nil)
		if _, err := h.service.BeginEdit(ctx, beginParams(alice, 14, "10:00")); !errors.Is(err, application.ErrDateOutOfRange) {
			t.Fatalf("expected ErrDateOutOfRange, got %v", err)
		}
	})

	t.Run("missing identity and time slot", func(t *testing.T) {
		t.Parallel()
		h := newSlotHarness(t, nil)
		if _, err := h.service.BeginEdit(ctx, beginParams(application.Principal{}, 1, "10:00")); !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		var vErr *application.ValidationError
		if _, err := h.service.BeginEdit(ctx, beginParams(alice, 1, " ")); !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestSlotService_Locks(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()
	lock := application.LockParams{Principal: operator, Date: testfixtures.ReferenceDate(3), TimeSlotID: "10:00", LockType: slot.LockMaintenance, Reason: " projector repair "}

	denied := lock
	denied.Principal = alice
	if _, err := h.service.Lock(ctx, denied); !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for a non-operator lock, got %v", err)
	}

	locked, err := h.service.Lock(ctx, lock)
	if err != nil {
		t.Fatalf("expected lock to succeed, got %v", err)
	}
	if locked.Status != slot.StatusLocked || locked.LockType != slot.LockMaintenance || locked.LockReason != "projector repair" {
		t.Fatalf("expected maintenance lock, got %+v", locked)
	}
	if _, err := h.service.BeginEdit(ctx, beginParams(alice, 3, "10:00")); !errors.Is(err, application.ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict on a locked slot, got %v", err)
	}
	if _, err := h.service.Lock(ctx, lock); !errors.Is(err, application.ErrLockConflict) {
		t.Fatalf("expected relocking to conflict, got %v", err)
	}

	if _, err := h.service.Unlock(ctx, alice, locked.ID); !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for a non-operator unlock, got %v", err)
	}
	unlocked, err := h.service.Unlock(ctx, operator, locked.ID)
	if err != nil {
		t.Fatalf("expected unlock to succeed, got %v", err)
	}
	if unlocked.Status != slot.StatusAvailable || unlocked.LockType != slot.LockNone {
		t.Fatalf("expected available slot, got %+v", unlocked)
	}
	if _, err := h.service.Unlock(ctx, operator, locked.ID); !errors.Is(err, application.ErrStaleWrite) {
		t.Fatalf("expected unlocking an unlocked slot to be stale, got %v", err)
	}

	past := testfixtures.ReferenceTime().Add(-time.Minute)
	expired := lock
	expired.EndTime = &past
	var vErr *application.ValidationError
	if _, err := h.service.Lock(ctx, expired); !errors.As(err, &vErr) || vErr.FieldErrors["end_time"] == "" {
		t.Fatalf("expected end time validation error, got %v", err)
	}
}

func TestSlotService_UnlockClearsParticipants(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()
	h.factory.Store.Seed(testfixtures.NewSlot(testfixtures.WithSlotID("booked"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(4), "10:00"), testfixtures.Booked("alice", "bob")))

	locked, err := h.service.Lock(ctx, application.LockParams{Principal: operator, Date: testfixtures.ReferenceDate(4), TimeSlotID: "10:00"})
	if err != nil {
		t.Fatalf("expected lock to succeed, got %v", err)
	}
	if locked.LockType != slot.LockManual || len(locked.ParticipantIDs) != 2 {
		t.Fatalf("expected manual lock keeping the booking participants, got %+v", locked)
	}
	unlocked, err := h.service.Unlock(ctx, operator, "booked")
	if err != nil {
		t.Fatalf("expected unlock to succeed, got %v", err)
	}
	if len(unlocked.ParticipantIDs) != 0 {
		t.Fatalf("expected unlock to clear participants, got %v", unlocked.ParticipantIDs)
	}
}

func TestSlotService_ReleaseDeadline(t *testing.T) {
	t.Parallel()

	cfg := testfixtures.NewRegistrationConfig(
		testfixtures.WithNormalWindow(testfixtures.Window(window.Monday, window.Monday, "09:00", "09:30")),
	)
	h := newSlotHarness(t, cfg)
	ctx := context.Background()
	h.factory.Store.Seed(testfixtures.NewSlot(testfixtures.WithSlotID("booked"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(1), "10:00"), testfixtures.Booked("alice", "bob")))

	if _, err := h.service.Release(ctx, alice, "booked"); !errors.Is(err, application.ErrWindowClosed) {
		t.Fatalf("expected release after the deadline to be denied, got %v", err)
	}
	released, err := h.service.Release(ctx, operator, "booked")
	if err != nil {
		t.Fatalf("expected operator release to succeed, got %v", err)
	}
	if released.Status != slot.StatusAvailable {
		t.Fatalf("expected available slot, got %s", released.Status)
	}
}

func TestSlotService_SweepExpired(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()
	now := testfixtures.ReferenceTime()
	past, future := now.Add(-time.Minute), now.Add(time.Hour)

	amend := testfixtures.NewSlot(testfixtures.WithSlotID("amend"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(1), "11:00"), testfixtures.Booked("alice", "bob"))
	amendAt := past.Add(-application.DefaultLockDuration)
	amend.EditingBy, amend.EditingAt, amend.EditingExpiresAt = "alice", &amendAt, &past

	h.factory.Store.Seed(
		testfixtures.NewSlot(testfixtures.WithSlotID("stale-edit"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(1), "09:00"), testfixtures.Editing("alice", past)),
		testfixtures.NewSlot(testfixtures.WithSlotID("live-edit"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(1), "10:00"), testfixtures.Editing("bob", future)),
		amend,
		testfixtures.NewSlot(testfixtures.WithSlotID("lapsed-lock"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(2), "09:00"), testfixtures.Locked(slot.LockSystem, &past)),
		testfixtures.NewSlot(testfixtures.WithSlotID("open-lock"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(2), "10:00"), testfixtures.Locked(slot.LockManual, nil)),
	)

	result, err := h.service.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("expected sweep to succeed, got %v", err)
	}
	if result.ExpiredEdits != 1 || result.ExpiredAmends != 1 || result.ExpiredLocks != 1 {
		t.Fatalf("expected one of each expiry, got %+v", result)
	}

	expectStatus := func(id string, want slot.Status) slot.Slot {
		t.Helper()
		got, err := h.factory.Store.GetSlot(ctx, id)
		if err != nil {
			t.Fatalf("expected %s to exist, got %v", id, err)
		}
		if got.Status != want {
			t.Fatalf("expected %s to be %s, got %s", id, want, got.Status)
		}
		return got
	}
	if s := expectStatus("stale-edit", slot.StatusAvailable); len(s.ParticipantIDs) != 0 || s.EditingBy != "" {
		t.Fatalf("expected stale edit cleared, got %+v", s)
	}
	expectStatus("live-edit", slot.StatusEditing)
	if s := expectStatus("amend", slot.StatusBooked); s.EditingBy != "" || len(s.ParticipantIDs) != 2 {
		t.Fatalf("expected amend lock dropped with the booking kept, got %+v", s)
	}
	expectStatus("lapsed-lock", slot.StatusAvailable)
	expectStatus("open-lock", slot.StatusLocked)

	again, err := h.service.SweepExpired(ctx)
	if err != nil || again.Total() != 0 {
		t.Fatalf("expected second sweep to be a no-op, got %+v, %v", again, err)
	}
}

func TestSlotService_SweepCoversConfiguredWeeks(t *testing.T) {
	t.Parallel()

	factory := testfixtures.NewServiceFactory(testfixtures.WithConfig(testfixtures.NewRegistrationConfig()))
	admission := factory.NewAdmissionService(testfixtures.AdmissionServiceDeps{Options: application.AdmissionOptions{BookableWeeks: 4}})
	throttle := factory.NewFrequencyThrottle(testfixtures.ThrottleDeps{})
	t.Cleanup(throttle.Wait)
	service := factory.NewSlotService(testfixtures.SlotServiceDeps{
		Admission: admission,
		Throttle:  throttle,
		Options:   application.SlotServiceOptions{BookableWeeks: 4},
	})
	ctx := context.Background()

	editing, err := service.BeginEdit(ctx, beginParams(alice, 24, "10:00"))
	if err != nil {
		t.Fatalf("expected begin edit in the fourth week to succeed, got %v", err)
	}
	factory.Clock.Advance(application.DefaultLockDuration + time.Minute)

	result, err := service.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("expected sweep to succeed, got %v", err)
	}
	if result.ExpiredEdits != 1 {
		t.Fatalf("expected the lock in the fourth week to be reclaimed, got %+v", result)
	}
	got, err := factory.Store.GetSlot(ctx, editing.ID)
	if err != nil {
		t.Fatalf("expected slot to exist, got %v", err)
	}
	if got.Status != slot.StatusAvailable || got.EditingBy != "" {
		t.Fatalf("expected reclaimed slot to be available, got %+v", got)
	}
}

func TestSlotService_StaleWrites(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()
	editing, err := h.service.BeginEdit(ctx, beginParams(alice, 1, "12:00"))
	if err != nil {
		t.Fatalf("expected begin edit to succeed, got %v", err)
	}

	h.factory.Store.Fail("UpdateSlot", application.ErrNotFound)
	if _, err := h.service.Confirm(ctx, confirmParams(alice, editing.ID, "alice", "bob")); !errors.Is(err, application.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite when the row vanished, got %v", err)
	}

	h.factory.Store.Fail("UpdateSlot", nil)
	h.factory.Store.Fail("CreateSlot", application.ErrAlreadyExists)
	if _, err := h.service.BeginEdit(ctx, beginParams(bob, 1, "13:00")); !errors.Is(err, application.ErrLockConflict) {
		t.Fatalf("expected a lost create race to be a lock conflict, got %v", err)
	}
}

func TestSlotService_Queries(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()
	h.factory.Store.Seed(
		testfixtures.NewSlot(testfixtures.WithSlotID("a"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(0), "09:00")),
		testfixtures.NewSlot(testfixtures.WithSlotID("b"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(1), "09:00"), testfixtures.Booked("alice", "bob")),
		testfixtures.NewSlot(testfixtures.WithSlotID("c"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(2), "09:00"), testfixtures.Locked(slot.LockManual, nil)),
		testfixtures.NewSlot(testfixtures.WithSlotID("d"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(8), "09:00"), testfixtures.Editing("bob", testfixtures.ReferenceTime().Add(time.Minute))),
	)

	week, err := h.service.ListWeek(ctx, testfixtures.ReferenceTime())
	if err != nil || len(week) != 3 {
		t.Fatalf("expected 3 slots this week, got %d, %v", len(week), err)
	}

	stats, err := h.service.Stats(ctx, testfixtures.ReferenceDate(0), testfixtures.ReferenceDate(13))
	if err != nil {
		t.Fatalf("expected stats to succeed, got %v", err)
	}
	want := application.SlotStats{Total: 4, Available: 1, Editing: 1, Booked: 1, Locked: 1}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}

	for _, tc := range []struct {
		days int
		want bool
	}{{0, true}, {1, false}, {5, true}} {
		got, err := h.service.IsAvailable(ctx, testfixtures.ReferenceDate(tc.days), "09:00")
		if err != nil || got != tc.want {
			t.Fatalf("expected availability %v for day %d, got %v, %v", tc.want, tc.days, got, err)
		}
	}
}

func TestSlotService_Search(t *testing.T) {
	t.Parallel()

	h := newSlotHarness(t, nil)
	ctx := context.Background()
	h.factory.Store.Seed(
		testfixtures.NewSlot(testfixtures.WithSlotID("a"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(0), "09:00"), testfixtures.Booked("alice", "bob")),
		testfixtures.NewSlot(testfixtures.WithSlotID("b"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(1), "09:00"), testfixtures.Booked("carol", "alice")),
		testfixtures.NewSlot(testfixtures.WithSlotID("c"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(1), "10:00"), testfixtures.Locked(slot.LockMaintenance, nil)),
		testfixtures.NewSlot(testfixtures.WithSlotID("d"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(2), "09:00"), testfixtures.Booked("alice", "dave")),
		testfixtures.NewSlot(testfixtures.WithSlotID("e"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(9), "09:00"), testfixtures.Booked("alice", "bob")),
	)

	if _, err := h.service.Search(ctx, alice, application.SlotFilter{}); !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for a non-operator, got %v", err)
	}

	page, err := h.service.Search(ctx, operator, application.SlotFilter{
		From:           testfixtures.ReferenceDate(0),
		To:             testfixtures.ReferenceDate(6),
		Statuses:       []slot.Status{slot.StatusBooked},
		ParticipantIDs: []string{" alice ", ""},
		PageSize:       2,
		Page:           2,
	})
	if err != nil {
		t.Fatalf("expected search to succeed, got %v", err)
	}
	if page.Total != 3 || page.Page != 2 || page.PageSize != 2 {
		t.Fatalf("expected page 2 of 3 matches, got %+v", page)
	}
	if len(page.Slots) != 1 || page.Slots[0].ID != "d" {
		t.Fatalf("expected the last booking on page 2, got %+v", page.Slots)
	}

	defaults, err := h.service.Search(ctx, operator, application.SlotFilter{LockTypes: []slot.LockType{slot.LockMaintenance}})
	if err != nil {
		t.Fatalf("expected search to succeed, got %v", err)
	}
	if defaults.Page != 1 || defaults.PageSize != application.DefaultSearchPageSize || defaults.Total != 1 || defaults.Slots[0].ID != "c" {
		t.Fatalf("expected the maintenance lock on a default page, got %+v", defaults)
	}

	empty, err := h.service.Search(ctx, operator, application.SlotFilter{CreatedBy: []string{"nobody"}})
	if err != nil || empty.Slots == nil || len(empty.Slots) != 0 || empty.Total != 0 {
		t.Fatalf("expected an empty page, got %+v, %v", empty, err)
	}

	var vErr *application.ValidationError
	_, err = h.service.Search(ctx, operator, application.SlotFilter{
		From:      testfixtures.ReferenceDate(3),
		To:        testfixtures.ReferenceDate(1),
		Statuses:  []slot.Status{"archived"},
		LockTypes: []slot.LockType{"forever"},
		PageSize:  application.MaxSearchPageSize + 1,
	})
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"to", "status", "lock_type", "page_size"} {
		if vErr.FieldErrors[field] == "" {
			t.Fatalf("expected %s error, got %v", field, vErr.FieldErrors)
		}
	}

	h.factory.Store.Fail("SearchSlots", errors.New("disk full"))
	if _, err := h.service.Search(ctx, operator, application.SlotFilter{}); err == nil {
		t.Fatalf("expected store failure to surface")
	}
}
