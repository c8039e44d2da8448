package application

import (
	"sort"
	"sync"
	"time"

	"github.com/example/session-booking/internal/slot"
)

// ViewEventKind labels what changed a WeekView.
type ViewEventKind string

const (
	ViewLocal   ViewEventKind = "local"
	ViewRemote  ViewEventKind = "remote"
	ViewRefresh ViewEventKind = "refresh"
)

// ViewEvent is pushed to WeekView observers after every change.
type ViewEvent struct {
	Kind   ViewEventKind
	SlotID string
	Slots  []slot.Slot
}

type pendingChange struct {
	change SlotChange
	seq    uint64
	stamp  time.Time
}

// WeekView keeps the slots of one displayed week as last-confirmed remote
// state plus an overlay of optimistic local changes. Pending entries are
// discarded once a fresher remote read for the same slot arrives.
type WeekView struct {
	from, to slot.Date

	mu        sync.Mutex
	confirmed map[string]slot.Slot
	pending   map[string]pendingChange
	seq       uint64
	observers map[int]func(ViewEvent)
	nextObs   int
}

// NewWeekView constructs an empty view over [from, to].
func NewWeekView(from, to slot.Date) *WeekView {
	return &WeekView{
		from:      from,
		to:        to,
		confirmed: make(map[string]slot.Slot),
		pending:   make(map[string]pendingChange),
		observers: make(map[int]func(ViewEvent)),
	}
}

// Range returns the displayed dates.
func (v *WeekView) Range() (slot.Date, slot.Date) {
	return v.from, v.to
}

// mergeChange applies change to state. Local and remote paths share it so
// their field mapping cannot diverge.
func mergeChange(state map[string]slot.Slot, change SlotChange, from, to slot.Date) {
	id := change.SlotID()
	if id == "" {
		return
	}
	switch change.Type {
	case ChangeDelete:
		delete(state, id)
	case ChangeInsert, ChangeUpdate:
		if change.After == nil {
			return
		}
		if !change.After.Date.Within(from, to) {
			delete(state, id)
			return
		}
		state[id] = change.After.Clone()
	}
}

func changeStamp(change SlotChange) time.Time {
	if change.After != nil {
		return change.After.UpdatedAt
	}
	if change.Before != nil {
		return change.Before.UpdatedAt
	}
	return time.Time{}
}

// ApplyLocal records an optimistic change and returns its sequence number.
func (v *WeekView) ApplyLocal(change SlotChange) uint64 {
	v.mu.Lock()
	v.seq++
	seq := v.seq
	if id := change.SlotID(); id != "" {
		v.pending[id] = pendingChange{change: change, seq: seq, stamp: changeStamp(change)}
	}
	event, observers := v.eventLocked(ViewLocal, change.SlotID())
	v.mu.Unlock()
	notify(observers, event)
	return seq
}

// ApplyRemote merges a change feed event into the confirmed state.
func (v *WeekView) ApplyRemote(change SlotChange) {
	v.mu.Lock()
	id := change.SlotID()
	mergeChange(v.confirmed, change, v.from, v.to)
	if p, ok := v.pending[id]; ok {
		if change.Type == ChangeDelete || !changeStamp(change).Before(p.stamp) {
			delete(v.pending, id)
		}
	}
	event, observers := v.eventLocked(ViewRemote, id)
	v.mu.Unlock()
	notify(observers, event)
}

// Mark returns the sequence number to pass to ReplaceConfirmed for a refetch
// started now.
func (v *WeekView) Mark() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.seq
}

// ReplaceConfirmed installs an authoritative read and drops pending changes
// applied at or before mark.
func (v *WeekView) ReplaceConfirmed(slots []slot.Slot, mark uint64) {
	v.mu.Lock()
	v.confirmed = make(map[string]slot.Slot, len(slots))
	for _, s := range slots {
		if s.ID == "" || !s.Date.Within(v.from, v.to) {
			continue
		}
		v.confirmed[s.ID] = s.Clone()
	}
	for id, p := range v.pending {
		if p.seq <= mark {
			delete(v.pending, id)
		}
	}
	event, observers := v.eventLocked(ViewRefresh, "")
	v.mu.Unlock()
	notify(observers, event)
}

// Pending returns the number of optimistic changes not yet confirmed.
func (v *WeekView) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Snapshot returns the merged view ordered by date and time slot.
func (v *WeekView) Snapshot() []slot.Slot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Subscribe registers fn for view events and returns its cancel function.
func (v *WeekView) Subscribe(fn func(ViewEvent)) func() {
	v.mu.Lock()
	id := v.nextObs
	v.nextObs++
	v.observers[id] = fn
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		delete(v.observers, id)
		v.mu.Unlock()
	}
}

func (v *WeekView) snapshotLocked() []slot.Slot {
	merged := make(map[string]slot.Slot, len(v.confirmed)+len(v.pending))
	for id, s := range v.confirmed {
		merged[id] = s
	}
	ordered := make([]pendingChange, 0, len(v.pending))
	for _, p := range v.pending {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	for _, p := range ordered {
		mergeChange(merged, p.change, v.from, v.to)
	}

	out := make([]slot.Slot, 0, len(merged))
	for _, s := range merged {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].TimeSlotID != out[j].TimeSlotID {
			return out[i].TimeSlotID < out[j].TimeSlotID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *WeekView) eventLocked(kind ViewEventKind, slotID string) (ViewEvent, []func(ViewEvent)) {
	if len(v.observers) == 0 {
		return ViewEvent{}, nil
	}
	observers := make([]func(ViewEvent), 0, len(v.observers))
	for _, fn := range v.observers {
		observers = append(observers, fn)
	}
	return ViewEvent{Kind: kind, SlotID: slotID, Slots: v.snapshotLocked()}, observers
}

func notify(observers []func(ViewEvent), event ViewEvent) {
	for _, fn := range observers {
		fn(event)
	}
}
