package device

import (
	"fmt"
	"slices"
	"sync"
)

// Base holds the status and position shared by every Device implementation.
// The zero value is a disconnected device with unknown position.
type Base struct {
	mu       sync.Mutex
	status   Status
	position *Point

	// events queued under mu, delivered by a single drainer outside of it
	pending  []Event
	draining bool

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int
}

func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Base) Position() *Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyPoint(b.position)
}

func (b *Base) Subscribe(l Listener) func() {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()

	if b.listeners == nil {
		b.listeners = make(map[int]Listener)
	}
	id := b.nextID
	b.nextID++
	b.listeners[id] = l

	return func() {
		b.listenersMu.Lock()
		defer b.listenersMu.Unlock()
		delete(b.listeners, id)
	}
}

// SetStatus forces the status, bypassing transition checks.
// Used when the connection is lost underneath a running operation.
func (b *Base) SetStatus(s Status) {
	b.mu.Lock()
	b.setStatusLocked(s)
	b.mu.Unlock()
	b.flush()
}

// SetPosition stores p (nil = unknown) and notifies if it differs.
func (b *Base) SetPosition(p *Point) {
	b.mu.Lock()
	b.setPositionLocked(p)
	b.mu.Unlock()
	b.flush()
}

func (b *Base) setStatusLocked(s Status) {
	if b.status == s {
		return
	}
	prev := b.status
	b.status = s
	b.pending = append(b.pending, Event{
		Type:           EventStatusChanged,
		Status:         s,
		PreviousStatus: prev,
		Position:       copyPoint(b.position),
	})
}

func (b *Base) setPositionLocked(p *Point) {
	if samePoint(b.position, p) {
		return
	}
	prev := b.position
	b.position = copyPoint(p)
	b.pending = append(b.pending, Event{
		Type:             EventPositionChanged,
		Status:           b.status,
		PreviousStatus:   b.status,
		Position:         copyPoint(p),
		PreviousPosition: prev,
	})
}

// flush delivers queued events. A listener mutating the device from inside
// its callback only enqueues; the outer drainer picks the new event up.
func (b *Base) flush() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	for len(b.pending) > 0 {
		ev := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()

		b.deliver(ev)

		b.mu.Lock()
	}
	b.pending = nil
	b.draining = false
	b.mu.Unlock()
}

func (b *Base) deliver(ev Event) {
	b.listenersMu.RLock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	listeners := make([]Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, b.listeners[id])
	}
	b.listenersMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Transition is a status change in progress. Close reverts it unless committed.
type Transition struct {
	base         *Base
	source       Status
	intermediate Status
	closed       bool
}

// OpenTransition moves the device from source to intermediate, failing with
// ErrInvalidState if the device is not in source.
func (b *Base) OpenTransition(source, intermediate Status) (*Transition, error) {
	b.mu.Lock()
	if b.status != source {
		current := b.status
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: requires %s, device is %s", ErrInvalidState, source, current)
	}
	b.setStatusLocked(intermediate)
	b.mu.Unlock()
	b.flush()

	return &Transition{base: b, source: source, intermediate: intermediate}, nil
}

// OpenIntermediate opens a transition from source into Executing that always
// ends back in source.
func (b *Base) OpenIntermediate(source Status) (*Transition, error) {
	return b.OpenTransition(source, StatusExecuting)
}

// Commit ends the transition in target. It is a no-op if the status was
// changed underneath the transition, e.g. by a lost connection.
func (t *Transition) Commit(target Status) {
	if t.closed {
		return
	}
	t.closed = true
	t.base.swapStatus(t.intermediate, target)
}

// Close reverts to the source status unless the transition was committed.
func (t *Transition) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.base.swapStatus(t.intermediate, t.source)
}

func (b *Base) swapStatus(expected, s Status) {
	b.mu.Lock()
	if b.status == expected {
		b.setStatusLocked(s)
	}
	b.mu.Unlock()
	b.flush()
}

func copyPoint(p *Point) *Point {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func samePoint(a, b *Point) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
