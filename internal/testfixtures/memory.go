package testfixtures

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/example/session-booking/internal/application"
	"github.com/example/session-booking/internal/slot"
)

// ErrStreamClosed is returned by MemoryStore streams after Close or Disconnect.
var ErrStreamClosed = errors.New("testfixtures: stream closed")

// MemoryStore is an in-memory slot store, config source and change feed. It
// enforces one record per (date, time slot) and publishes every write to its
// subscribers in commit order.
type MemoryStore struct {
	mu      sync.Mutex
	slots   map[string]slot.Slot
	config  *application.RegistrationConfig
	newID   func() string
	clock   *Clock
	failing map[string]error
	calls   map[string]int

	streams      map[int]*memoryStream
	nextStream   int
	subscribeErr []error
}

// NewMemoryStore constructs an empty store. Rows are stamped with clock.
func NewMemoryStore(clock *Clock, ids *IDGenerator) *MemoryStore {
	if clock == nil {
		clock = NewClock(ReferenceTime())
	}
	if ids == nil {
		ids = NewIDGenerator("slot")
	}
	return &MemoryStore{
		slots:   make(map[string]slot.Slot),
		newID:   ids.NextFunc(),
		clock:   clock,
		failing: make(map[string]error),
		calls:   make(map[string]int),
		streams: make(map[int]*memoryStream),
	}
}

// SetConfig installs cfg as the active registration config; nil removes it.
func (m *MemoryStore) SetConfig(cfg *application.RegistrationConfig) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// Fail makes every call of method return err until Fail(method, nil).
func (m *MemoryStore) Fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, method)
		return
	}
	m.failing[method] = err
}

// Calls reports how often method was invoked.
func (m *MemoryStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Seed stores records directly without publishing changes.
func (m *MemoryStore) Seed(records ...slot.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range records {
		m.slots[s.ID] = s.Clone()
	}
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *MemoryStore) enter(method string) error {
	m.calls[method]++
	return m.failing[method]
}

// CreateSlot stores a new record and assigns its ID.
func (m *MemoryStore) CreateSlot(_ context.Context, s slot.Slot) (slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateSlot"); err != nil {
		return slot.Slot{}, err
	}
	for _, existing := range m.slots {
		if existing.Key() == s.Key() {
			return slot.Slot{}, application.ErrAlreadyExists
		}
	}
	created := s.Clone()
	if created.ID == "" {
		created.ID = m.newID()
	}
	now := m.clock.Now()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	created.UpdatedAt = now
	m.slots[created.ID] = created
	m.publishLocked(application.SlotChange{Type: application.ChangeInsert, After: ptr(created.Clone())})
	return created.Clone(), nil
}

// UpdateSlot replaces an existing record.
func (m *MemoryStore) UpdateSlot(_ context.Context, s slot.Slot) (slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateSlot"); err != nil {
		return slot.Slot{}, err
	}
	before, ok := m.slots[s.ID]
	if !ok {
		return slot.Slot{}, application.ErrNotFound
	}
	updated := s.Clone()
	updated.CreatedAt = before.CreatedAt
	updated.UpdatedAt = m.clock.Now()
	m.slots[updated.ID] = updated
	m.publishLocked(application.SlotChange{Type: application.ChangeUpdate, Before: ptr(before.Clone()), After: ptr(updated.Clone())})
	return updated.Clone(), nil
}

// DeleteSlot removes a record.
func (m *MemoryStore) DeleteSlot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteSlot"); err != nil {
		return err
	}
	before, ok := m.slots[id]
	if !ok {
		return application.ErrNotFound
	}
	delete(m.slots, id)
	m.publishLocked(application.SlotChange{Type: application.ChangeDelete, Before: ptr(before.Clone())})
	return nil
}

// GetSlot returns a record by ID.
func (m *MemoryStore) GetSlot(_ context.Context, id string) (slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetSlot"); err != nil {
		return slot.Slot{}, err
	}
	s, ok := m.slots[id]
	if !ok {
		return slot.Slot{}, application.ErrNotFound
	}
	return s.Clone(), nil
}

// FindSlot returns the record for key.
func (m *MemoryStore) FindSlot(_ context.Context, key slot.Key) (slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindSlot"); err != nil {
		return slot.Slot{}, err
	}
	for _, s := range m.slots {
		if s.Key() == key {
			return s.Clone(), nil
		}
	}
	return slot.Slot{}, application.ErrNotFound
}

// ListSlots returns records dated within [from, to] ordered by date and time slot.
func (m *MemoryStore) ListSlots(_ context.Context, from, to slot.Date) ([]slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListSlots"); err != nil {
		return nil, err
	}
	out := make([]slot.Slot, 0, len(m.slots))
	for _, s := range m.slots {
		if s.Date.Within(from, to) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].TimeSlotID < out[j].TimeSlotID
	})
	return out, nil
}

// SearchSlots returns the page of records matching filter and the number of matches.
func (m *MemoryStore) SearchSlots(_ context.Context, filter application.SlotFilter) ([]slot.Slot, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SearchSlots"); err != nil {
		return nil, 0, err
	}
	var matches []slot.Slot
	for _, s := range m.slots {
		if matchesFilter(s, filter) {
			matches = append(matches, s.Clone())
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Date != matches[j].Date {
			return matches[i].Date < matches[j].Date
		}
		return matches[i].TimeSlotID < matches[j].TimeSlotID
	})

	total := len(matches)
	start := min(filter.Offset(), total)
	end := total
	if filter.PageSize > 0 {
		end = min(start+filter.PageSize, total)
	}
	return append([]slot.Slot{}, matches[start:end]...), total, nil
}

func matchesFilter(s slot.Slot, f application.SlotFilter) bool {
	oneOf := func(values []string, v string) bool {
		return len(values) == 0 || slices.Contains(values, v)
	}
	switch {
	case f.From != "" && s.Date < f.From,
		f.To != "" && s.Date > f.To,
		!oneOf(f.TimeSlotIDs, s.TimeSlotID),
		len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status),
		len(f.LockTypes) > 0 && !slices.Contains(f.LockTypes, s.LockType),
		!oneOf(f.CreatedBy, s.CreatedBy),
		!oneOf(f.EditingBy, s.EditingBy),
		!oneOf(f.Locations, s.Location):
		return false
	}
	if len(f.ParticipantIDs) == 0 {
		return true
	}
	for _, id := range s.ParticipantIDs {
		if slices.Contains(f.ParticipantIDs, id) {
			return true
		}
	}
	return false
}

// ActiveRegistrationConfig returns a copy of the installed config.
func (m *MemoryStore) ActiveRegistrationConfig(context.Context) (*application.RegistrationConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ActiveRegistrationConfig"); err != nil {
		return nil, err
	}
	if m.config == nil {
		return nil, nil
	}
	cfg := *m.config
	cfg.PrivilegeUserIDs = append([]string(nil), m.config.PrivilegeUserIDs...)
	return &cfg, nil
}

// FailSubscribe queues errors returned by the next Subscribe calls, in order.
func (m *MemoryStore) FailSubscribe(errs ...error) {
	m.mu.Lock()
	m.subscribeErr = append(m.subscribeErr, errs...)
	m.mu.Unlock()
}

// Subscribe opens a change stream.
func (m *MemoryStore) Subscribe(context.Context) (application.ChangeStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Subscribe"]++
	if len(m.subscribeErr) > 0 {
		err := m.subscribeErr[0]
		m.subscribeErr = m.subscribeErr[1:]
		if err != nil {
			return nil, err
		}
	}
	id := m.nextStream
	m.nextStream++
	stream := &memoryStream{
		store:   m,
		id:      id,
		changes: make(chan application.SlotChange, 64),
		done:    make(chan struct{}),
	}
	m.streams[id] = stream
	return stream, nil
}

// Subscribers returns the number of open streams.
func (m *MemoryStore) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Disconnect fails every open stream with err, simulating a dropped feed.
func (m *MemoryStore) Disconnect(err error) {
	m.mu.Lock()
	streams := make([]*memoryStream, 0, len(m.streams))
	for id, s := range m.streams {
		streams = append(streams, s)
		delete(m.streams, id)
	}
	m.mu.Unlock()
	for _, s := range streams {
		s.fail(err)
	}
}

// Publish delivers change to subscribers without touching stored records.
func (m *MemoryStore) Publish(change application.SlotChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishLocked(change)
}

func (m *MemoryStore) publishLocked(change application.SlotChange) {
	for _, s := range m.streams {
		select {
		case s.changes <- change:
		default:
		}
	}
}

type memoryStream struct {
	store   *MemoryStore
	id      int
	changes chan application.SlotChange
	done    chan struct{}

	once sync.Once
	err  error
}

func (s *memoryStream) fail(err error) {
	if err == nil {
		err = ErrStreamClosed
	}
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *memoryStream) Next(ctx context.Context) (application.SlotChange, error) {
	select {
	case change := <-s.changes:
		return change, nil
	default:
	}
	select {
	case change := <-s.changes:
		return change, nil
	case <-s.done:
		return application.SlotChange{}, s.err
	case <-ctx.Done():
		return application.SlotChange{}, ctx.Err()
	}
}

func (s *memoryStream) Close() error {
	s.store.mu.Lock()
	delete(s.store.streams, s.id)
	s.store.mu.Unlock()
	s.fail(ErrStreamClosed)
	return nil
}

func ptr(s slot.Slot) *slot.Slot {
	return &s
}
