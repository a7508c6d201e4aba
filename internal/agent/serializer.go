package agent

import (
	"context"
	"sync"
)

// Serializer is the single execution slot shared by user-driven and
// background loops. A user acquire always succeeds eventually and preempts a
// background holder; a scheduled acquire fails fast when anything is running.
type Serializer struct {
	mu   sync.Mutex
	cond *sync.Cond

	held    bool
	preempt context.CancelFunc // non-nil while a background slot holds
}

func NewSerializer() *Serializer {
	s := &Serializer{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Handle is a held user slot.
type Handle struct {
	s        *Serializer
	released sync.Once
}

// Release frees the slot. Safe to call more than once.
func (h *Handle) Release() {
	h.released.Do(func() { h.s.release() })
}

// Slot is a held background slot. Its context fires on user preemption or on
// cancellation of the parent context passed to TryAcquireForScheduled.
type Slot struct {
	s        *Serializer
	ctx      context.Context
	cancel   context.CancelFunc
	released sync.Once
}

// Context returns the slot's preemption-aware context. Loop runners take it
// so a user message cancels background work mid-flight.
func (sl *Slot) Context() context.Context { return sl.ctx }

// Release frees the slot. Safe to call more than once.
func (sl *Slot) Release() {
	sl.released.Do(func() {
		sl.cancel()
		sl.s.release()
	})
}

// AcquireForUser blocks until the slot is free, firing any background
// holder's preemption token first. Returns an error only when ctx is
// cancelled while waiting.
func (s *Serializer) AcquireForUser(ctx context.Context) (*Handle, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.preempt != nil {
		s.preempt()
		s.preempt = nil
	}
	for s.held {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.cond.Wait()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.held = true
	return &Handle{s: s}, nil
}

// TryAcquireForScheduled returns a background slot, or nil immediately when
// any slot is held. The slot's context derives from parent, so host shutdown
// cancels it too.
func (s *Serializer) TryAcquireForScheduled(parent context.Context) *Slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held {
		return nil
	}
	s.held = true
	ctx, cancel := context.WithCancel(parent)
	s.preempt = cancel
	return &Slot{s: s, ctx: ctx, cancel: cancel}
}

func (s *Serializer) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = false
	s.preempt = nil
	s.cond.Broadcast()
}
