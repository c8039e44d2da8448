package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/session-booking/internal/persistence"
	"github.com/example/session-booking/internal/testfixtures"
)

func newEditingRow(date, timeSlotID, userID string, now time.Time) persistence.Slot {
	expires := now.Add(5 * time.Minute)
	holder := userID
	return persistence.Slot{
		Date:             date,
		TimeSlotID:       timeSlotID,
		Status:           "editing",
		ParticipantIDs:   []string{userID},
		CreatedBy:        userID,
		EditingBy:        &holder,
		EditingAt:        &now,
		EditingExpiresAt: &expires,
		LockType:         "none",
	}
}

func TestSlotRepository(t *testing.T) {
	t.Parallel()

	t.Run("books a slot and publishes every write in order", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t, nil)
		now := harness.Clock.Now()

		sub, err := harness.Feed.SubscribeSlotChanges(ctx)
		if err != nil {
			t.Fatalf("SubscribeSlotChanges failed: %v", err)
		}
		defer sub.Close()

		created, err := harness.Slots.CreateSlot(ctx, newEditingRow("2026-10-13", "09:00", "alice", now))
		if err != nil {
			t.Fatalf("CreateSlot failed: %v", err)
		}

		booked := created
		booked.Status = "booked"
		booked.ParticipantIDs = []string{"alice", "bob"}
		booked.EditingBy, booked.EditingAt, booked.EditingExpiresAt = nil, nil, nil
		if _, err := harness.Slots.UpdateSlot(ctx, booked); err != nil {
			t.Fatalf("UpdateSlot failed: %v", err)
		}

		fetched, err := harness.Slots.FindSlot(ctx, "2026-10-13", "09:00")
		if err != nil {
			t.Fatalf("FindSlot failed: %v", err)
		}
		if fetched.Status != "booked" || len(fetched.ParticipantIDs) != 2 || fetched.ParticipantIDs[1] != "bob" {
			t.Fatalf("expected booked slot with bob, got %+v", fetched)
		}
		if fetched.EditingBy != nil {
			t.Fatalf("expected editing lock cleared, got %v", *fetched.EditingBy)
		}

		for _, want := range []persistence.ChangeType{persistence.ChangeInsert, persistence.ChangeUpdate} {
			change, err := sub.Next(ctx)
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if change.Type != want {
				t.Fatalf("expected %s, got %s", want, change.Type)
			}
		}
	})

	t.Run("rejects a second live record for the same key", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t, nil)
		now := harness.Clock.Now()

		if _, err := harness.Slots.CreateSlot(ctx, newEditingRow("2026-10-14", "10:00", "alice", now)); err != nil {
			t.Fatalf("CreateSlot failed: %v", err)
		}
		_, err := harness.Slots.CreateSlot(ctx, newEditingRow("2026-10-14", "10:00", "bob", now))
		if !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("deleting a cancelled edit leaves no row", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t, nil)
		now := harness.Clock.Now()

		created, err := harness.Slots.CreateSlot(ctx, newEditingRow("2026-10-15", "11:00", "alice", now))
		if err != nil {
			t.Fatalf("CreateSlot failed: %v", err)
		}
		if err := harness.Slots.DeleteSlot(ctx, created.ID); err != nil {
			t.Fatalf("DeleteSlot failed: %v", err)
		}
		rows, err := harness.Slots.ListSlotsInDateRange(ctx, "2026-10-12", "2026-10-18")
		if err != nil {
			t.Fatalf("ListSlotsInDateRange failed: %v", err)
		}
		if len(rows) != 0 {
			t.Fatalf("expected no rows, got %d", len(rows))
		}
		if _, err := harness.Slots.GetSlot(ctx, created.ID); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRegistrationConfigRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t, nil)

	if _, err := harness.Configs.ActiveRegistrationConfig(ctx); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any config, got %v", err)
	}

	base := persistence.RegistrationConfig{
		NormalOpenDay:        1,
		NormalCloseDay:       5,
		NormalOpenTime:       "12:00:00",
		NormalCloseTime:      "18:00:00",
		PrivilegeOpenDay:     1,
		PrivilegeCloseDay:    5,
		PrivilegeOpenTime:    "09:00:00",
		PrivilegeCloseTime:   "18:00:00",
		WeeklyLimitNormal:    2,
		WeeklyLimitPrivilege: 3,
		PrivilegeUserIDs:     []string{"vip"},
		IsActive:             true,
	}
	first, err := harness.Configs.CreateRegistrationConfig(ctx, base)
	if err != nil {
		t.Fatalf("CreateRegistrationConfig failed: %v", err)
	}

	harness.Clock.Advance(time.Minute)
	base.WeeklyLimitNormal = 4
	second, err := harness.Configs.CreateRegistrationConfig(ctx, base)
	if err != nil {
		t.Fatalf("CreateRegistrationConfig failed: %v", err)
	}

	active, err := harness.Configs.ActiveRegistrationConfig(ctx)
	if err != nil {
		t.Fatalf("ActiveRegistrationConfig failed: %v", err)
	}
	if active.ID != second.ID || active.WeeklyLimitNormal != 4 {
		t.Fatalf("expected newest revision %s, got %+v (first %s)", second.ID, active, first.ID)
	}
	if len(active.PrivilegeUserIDs) != 1 || active.PrivilegeUserIDs[0] != "vip" {
		t.Fatalf("expected privilege users [vip], got %v", active.PrivilegeUserIDs)
	}

	if err := harness.Configs.SetEmergencyClosed(ctx, second.ID, true); err != nil {
		t.Fatalf("SetEmergencyClosed failed: %v", err)
	}
	active, err = harness.Configs.ActiveRegistrationConfig(ctx)
	if err != nil {
		t.Fatalf("ActiveRegistrationConfig failed: %v", err)
	}
	if !active.IsEmergencyClosed {
		t.Fatalf("expected emergency closed flag")
	}
}

func TestFrequencyRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t, nil)

	for i := 0; i < 2; i++ {
		decision, err := harness.Frequency.CheckFrequency(ctx, "alice", "register", harness.Clock.Now())
		if err != nil {
			t.Fatalf("CheckFrequency failed: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("expected attempt %d allowed", i+1)
		}
		if err := harness.Frequency.RecordOperation(ctx, persistence.OperationLog{UserID: "alice", OperationType: "register"}); err != nil {
			t.Fatalf("RecordOperation failed: %v", err)
		}
		harness.Clock.Advance(time.Second)
	}

	decision, err := harness.Frequency.CheckFrequency(ctx, "alice", "register", harness.Clock.Now())
	if err != nil {
		t.Fatalf("CheckFrequency failed: %v", err)
	}
	if decision.Allowed || decision.CooldownUntil == nil {
		t.Fatalf("expected cooldown after two registrations, got %+v", decision)
	}

	other, err := harness.Frequency.CheckFrequency(ctx, "bob", "register", harness.Clock.Now())
	if err != nil {
		t.Fatalf("CheckFrequency failed: %v", err)
	}
	if !other.Allowed {
		t.Fatalf("expected other users unaffected")
	}

	after := decision.CooldownUntil.Add(10 * time.Minute)
	decision, err = harness.Frequency.CheckFrequency(ctx, "alice", "register", after)
	if err != nil {
		t.Fatalf("CheckFrequency failed: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected check allowed once cooldown and window passed, got %+v", decision)
	}
}
