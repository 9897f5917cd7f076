package voice

import (
	"context"
	"sync"
)

// Tracker keeps the live voice sessions of this process, keyed by meeting.
// A meeting holds at most one session; registering a second one closes the
// first.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	cancel func()
	once   sync.Once
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*trackedSession)}
}

// Register tracks cancel under meetingID. The returned func removes the
// entry and is safe to call more than once.
func (t *Tracker) Register(meetingID string, cancel func()) (unregister func()) {
	entry := &trackedSession{cancel: cancel}

	t.mu.Lock()
	old := t.sessions[meetingID]
	t.sessions[meetingID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		if old.cancel != nil {
			old.cancel()
		}
		t.unregister(meetingID, old)
	}
	return func() { t.unregister(meetingID, entry) }
}

func (t *Tracker) unregister(meetingID string, entry *trackedSession) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[meetingID] == entry {
			delete(t.sessions, meetingID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Close cancels the session of meetingID. It reports whether one was live.
func (t *Tracker) Close(meetingID string) bool {
	t.mu.Lock()
	entry := t.sessions[meetingID]
	t.mu.Unlock()
	if entry == nil {
		return false
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	t.unregister(meetingID, entry)
	return true
}

// Has reports whether meetingID has a live session.
func (t *Tracker) Has(meetingID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[meetingID]
	return ok
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CancelAll cancels every live session and returns how many there were.
func (t *Tracker) CancelAll() (canceled int) {
	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.cancel != nil {
			cancels = append(cancels, entry.cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or ctx ends.
func (t *Tracker) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
