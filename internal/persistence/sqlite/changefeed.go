package sqlite

import (
	"context"
	"sync"

	"github.com/example/session-booking/internal/persistence"
)

// DefaultFeedBuffer is how many undelivered changes a subscriber may hold
// before it is dropped with persistence.ErrFeedOverflow.
const DefaultFeedBuffer = 256

// changeFeed fans committed slot changes out to subscribers in commit order.
type changeFeed struct {
	buffer int

	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
	closed bool
}

func newChangeFeed(buffer int) *changeFeed {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	return &changeFeed{buffer: buffer, subs: make(map[int]*subscription)}
}

func (f *changeFeed) subscribe(ctx context.Context) (*subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, persistence.ErrFeedClosed
	}
	sub := &subscription{
		feed:    f,
		id:      f.nextID,
		changes: make(chan persistence.SlotChange, f.buffer),
		done:    make(chan struct{}),
	}
	f.nextID++
	f.subs[sub.id] = sub
	return sub, nil
}

func (f *changeFeed) publish(change persistence.SlotChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sub := range f.subs {
		select {
		case sub.changes <- change:
		default:
			delete(f.subs, id)
			sub.terminate(persistence.ErrFeedOverflow)
		}
	}
}

func (f *changeFeed) remove(id int) {
	f.mu.Lock()
	delete(f.subs, id)
	f.mu.Unlock()
}

func (f *changeFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, sub := range f.subs {
		delete(f.subs, id)
		sub.terminate(persistence.ErrFeedClosed)
	}
}

func (f *changeFeed) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type subscription struct {
	feed    *changeFeed
	id      int
	changes chan persistence.SlotChange
	done    chan struct{}
	once    sync.Once
	err     error
}

func (s *subscription) terminate(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Next returns the next committed change. After termination buffered changes
// are discarded and the termination error is returned.
func (s *subscription) Next(ctx context.Context) (persistence.SlotChange, error) {
	select {
	case <-s.done:
		return persistence.SlotChange{}, s.err
	default:
	}
	select {
	case change := <-s.changes:
		return change, nil
	case <-s.done:
		return persistence.SlotChange{}, s.err
	case <-ctx.Done():
		return persistence.SlotChange{}, ctx.Err()
	}
}

// Close ends the subscription.
func (s *subscription) Close() error {
	s.feed.remove(s.id)
	s.terminate(persistence.ErrFeedClosed)
	return nil
}
