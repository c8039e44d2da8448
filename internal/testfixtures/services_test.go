package testfixtures

import (
	"context"
	"testing"

	"github.com/example/session-booking/internal/application"
	"github.com/example/session-booking/internal/slot"
)

func TestServiceFactorySlotServiceLifecycle(t *testing.T) {
	factory := NewServiceFactory()
	throttle := factory.NewFrequencyThrottle(ThrottleDeps{})
	service := factory.NewSlotService(SlotServiceDeps{Throttle: throttle})
	ctx := context.Background()
	alice := application.Principal{UserID: "alice"}

	editing, err := service.BeginEdit(ctx, application.BeginEditParams{Principal: alice, Date: ReferenceDate(1), TimeSlotID: "09:00"})
	if err != nil {
		t.Fatalf("expected begin edit to succeed, got %v", err)
	}
	if editing.ID != "slot-1" || editing.Status != slot.StatusEditing {
		t.Fatalf("expected slot-1 editing, got %+v", editing)
	}

	booked, err := service.Confirm(ctx, application.ConfirmParams{Principal: alice, SlotID: editing.ID, ParticipantIDs: []string{"alice", "bob"}})
	if err != nil {
		t.Fatalf("expected confirm to succeed, got %v", err)
	}
	if booked.Status != slot.StatusBooked {
		t.Fatalf("expected booked, got %s", booked.Status)
	}

	throttle.Wait()
	if got := len(factory.Remote.Records()); got != 2 {
		t.Fatalf("expected 2 operation records, got %d", got)
	}
}

func TestMemoryStoreEnforcesKeyUniqueness(t *testing.T) {
	store := NewMemoryStore(nil, nil)
	ctx := context.Background()
	first := NewSlot(WithSlotID(""), WithSlotKey(ReferenceDate(0), "10:00"))

	if _, err := store.CreateSlot(ctx, first); err != nil {
		t.Fatalf("expected first create to succeed, got %v", err)
	}
	if _, err := store.CreateSlot(ctx, first); err != application.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryStoreStreamsChanges(t *testing.T) {
	store := NewMemoryStore(nil, nil)
	ctx := context.Background()
	stream, err := store.Subscribe(ctx)
	if err != nil {
		t.Fatalf("expected subscribe to succeed, got %v", err)
	}
	defer stream.Close()

	created, err := store.CreateSlot(ctx, NewSlot(WithSlotID("")))
	if err != nil {
		t.Fatalf("expected create to succeed, got %v", err)
	}
	if err := store.DeleteSlot(ctx, created.ID); err != nil {
		t.Fatalf("expected delete to succeed, got %v", err)
	}

	for _, want := range []application.ChangeType{application.ChangeInsert, application.ChangeDelete} {
		change, err := stream.Next(ctx)
		if err != nil {
			t.Fatalf("expected change, got %v", err)
		}
		if change.Type != want || change.SlotID() != created.ID {
			t.Fatalf("expected %s of %s, got %s of %s", want, created.ID, change.Type, change.SlotID())
		}
	}

	store.Disconnect(nil)
	if _, err := stream.Next(ctx); err != ErrStreamClosed {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}
