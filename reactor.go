package rtcore

import (
	"sync"
	"time"
)

// Interest is a bitmask of I/O readiness directions a registration cares
// about.
type Interest uint32

const (
	// InterestRead requests notification when the source is ready to read.
	InterestRead Interest = 1 << iota
	// InterestWrite requests notification when the source is ready to write.
	InterestWrite
	// InterestError is reported alongside Read/Write on error conditions;
	// it cannot be requested on its own.
	InterestError
	// InterestHangup is reported when the peer closed its end.
	InterestHangup
)

// Token identifies one registration with the reactor's backend.
type Token uint64

// registration is the reactor's per-source bookkeeping: the requested
// interest mask plus a read/write Waker pair. The resultAny/resultErr
// fields give a completion-based backend a place for an operation's
// result, but no backend writes them: the IOCP backend reports the
// registered interest through dispatch, as the readiness backends do.
type registration struct {
	interest    Interest
	readWaker   *Waker
	writeWaker  *Waker
	readyRead   bool
	readyWrite  bool
	readyErr    error
	resultErr   error
	resultAny   any
	active      bool
}

// fdInterest is the per-fd bookkeeping shared by the Unix backends
// (epoll/kqueue): the last interest mask registered and whether the slot
// is currently in use. Direct-indexed by fd instead of keyed by map for
// O(1) lookup on the dispatch hot path.
type fdInterest struct {
	interest Interest
	active   bool
}

// pollBackend is the platform-specific polling mechanism a Reactor drives.
// Exactly one implementation is compiled in per target (epoll on Linux,
// kqueue on Darwin, IOCP on Windows), selected via build tags.
type pollBackend interface {
	init() error
	registerFD(fd int, interest Interest) error
	modifyFD(fd int, interest Interest) error
	deregisterFD(fd int) error
	// poll blocks for up to timeout (negative means no timeout/block
	// forever, zero means don't block) and reports ready (fd, Interest)
	// pairs via the callback. Returns the number of events processed.
	poll(timeout time.Duration, ready func(fd int, got Interest)) (int, error)
	wake() error // unblock a concurrent poll() call, e.g. for shutdown
	close() error
}

// Reactor owns exactly one pollBackend instance and the token->registration
// mapping the rest of the core consults. Register/Modify/Deregister may be
// called concurrently from any worker; Poll must only ever be called from
// one goroutine at a time (typically whichever worker most recently went
// looking for work and found none).
type Reactor struct {
	mu      sync.Mutex
	regs    map[int]*registration // keyed by fd, which doubles as Token
	backend pollBackend
	logger  Logger
	closed  bool
}

// newReactor constructs a Reactor over the platform-selected backend.
func newReactor(logger Logger) (*Reactor, error) {
	backend := newPlatformBackend()
	if err := backend.init(); err != nil {
		return nil, WrapError("reactor init", err)
	}
	return &Reactor{
		regs:    make(map[int]*registration),
		backend: backend,
		logger:  logger,
	}, nil
}

// Register adds fd to the backend with the given interest and returns its
// Token (simply the fd itself — the reactor never recycles a token while
// the source stays registered).
func (r *Reactor) Register(fd int, interest Interest) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrReactorClosed
	}
	if _, exists := r.regs[fd]; exists {
		return 0, ErrAlreadyRegistered
	}
	if err := r.backend.registerFD(fd, interest); err != nil {
		return 0, WrapError("reactor register", err)
	}
	r.regs[fd] = &registration{interest: interest, active: true}
	return Token(fd), nil
}

// Modify replaces the stored interest and/or wakers for an existing
// registration. A nil waker argument leaves that direction's waker
// unchanged; passing a waker when one is already stored drops the old one
// (releasing its reference) in favor of the new one.
func (r *Reactor) Modify(tok Token, interest Interest, readWaker, writeWaker *Waker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrReactorClosed
	}
	fd := int(tok)
	reg, ok := r.regs[fd]
	if !ok || !reg.active {
		return ErrNotRegistered
	}
	if interest != reg.interest {
		if err := r.backend.modifyFD(fd, interest); err != nil {
			return WrapError("reactor modify", err)
		}
		reg.interest = interest
	}
	if readWaker != nil {
		if reg.readWaker != nil {
			reg.readWaker.Drop()
		}
		reg.readWaker = readWaker
	}
	if writeWaker != nil {
		if reg.writeWaker != nil {
			reg.writeWaker.Drop()
		}
		reg.writeWaker = writeWaker
	}
	return nil
}

// Deregister removes fd from the backend and drops any stored wakers.
func (r *Reactor) Deregister(tok Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fd := int(tok)
	reg, ok := r.regs[fd]
	if !ok {
		return ErrNotRegistered
	}
	delete(r.regs, fd)
	if reg.readWaker != nil {
		reg.readWaker.Drop()
	}
	if reg.writeWaker != nil {
		reg.writeWaker.Drop()
	}
	if r.closed {
		return nil
	}
	return r.backend.deregisterFD(fd)
}

// Poll blocks on the backend for up to timeout, waking and clearing the
// matching direction's waker for every ready source. Must only be called
// from one goroutine at a time. Returns the number of sources serviced.
func (r *Reactor) Poll(timeout time.Duration) (int, error) {
	n, err := r.backend.poll(timeout, r.dispatch)
	if err != nil {
		logEvent(r.logger, LevelError, "reactor", "poll failed", 0, 0, 0, err)
		return n, WrapError("reactor poll", err)
	}
	return n, nil
}

// dispatch is the backend's readiness callback: look up the token, invoke
// and clear the matching direction's waker(s). Readiness-based backends
// present a level/edge-triggered contract upward: a task woken here must
// attempt its I/O and be prepared for a spurious wake (re-arm and return
// Pending again).
func (r *Reactor) dispatch(fd int, got Interest) {
	r.mu.Lock()
	reg, ok := r.regs[fd]
	if !ok || !reg.active {
		r.mu.Unlock()
		return
	}
	var rw, ww *Waker
	if got&(InterestRead|InterestError|InterestHangup) != 0 {
		reg.readyRead = true
		if reg.readWaker != nil {
			rw = reg.readWaker
			reg.readWaker = nil
		}
	}
	if got&(InterestWrite|InterestError|InterestHangup) != 0 {
		reg.readyWrite = true
		if reg.writeWaker != nil {
			ww = reg.writeWaker
			reg.writeWaker = nil
		}
	}
	r.mu.Unlock()

	if rw != nil {
		rw.Wake()
	}
	if ww != nil {
		ww.Wake()
	}
}

// pollDirection services one direction (read or write) of a registration
// for Registration.PollReadable/PollWritable: if readiness was already
// observed by a prior dispatch it is consumed and Ready is returned
// immediately; otherwise waker is armed for the next matching dispatch and
// Pending is returned.
func (r *Reactor) pollDirection(fd int, wantWrite bool, waker *Waker) (PollState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regs[fd]
	if !ok || !reg.active {
		return Ready, ErrNotRegistered
	}

	if !wantWrite {
		if reg.readyRead {
			reg.readyRead = false
			return Ready, reg.readyErr
		}
		if reg.readWaker != nil {
			reg.readWaker.Drop()
		}
		reg.readWaker = waker
		return Pending, nil
	}
	if reg.readyWrite {
		reg.readyWrite = false
		return Ready, reg.readyErr
	}
	if reg.writeWaker != nil {
		reg.writeWaker.Drop()
	}
	reg.writeWaker = waker
	return Pending, nil
}

// WakeUp interrupts a concurrent Poll call, used by Runtime shutdown and by
// workers that need the poller to reconsider its timeout (e.g. a new,
// earlier timer was just inserted).
func (r *Reactor) WakeUp() error {
	return r.backend.wake()
}

// Close shuts the backend down. Further Register/Modify calls fail with
// ErrReactorClosed; Deregister remains a no-op success so cleanup code
// doesn't need special-casing.
func (r *Reactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.backend.close()
}
