//go:build darwin

package rtcore

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// maxFDLimit bounds the dynamic growth of the fd-indexed interest slice;
// generous enough for any realistic ulimit -n.
const maxFDLimit = 100_000_000

type kqueueBackend struct {
	_        [cacheLineSize]byte
	kq       int32
	_        [cacheLineSize - 4]byte
	eventBuf [256]unix.Kevent_t
	fds      []fdInterest // grown on demand, unlike the Linux fixed array
	fdMu     sync.RWMutex
	wakeFD   int
	wakeWr   int
	closed   atomic.Bool
}

func newPlatformBackend() pollBackend {
	return &kqueueBackend{}
}

func (p *kqueueBackend) init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = int32(kq)
	p.fds = make([]fdInterest, 4096)

	wakeFD, wakeWr, err := createWakeFd()
	if err != nil {
		_ = unix.Close(kq)
		return err
	}
	p.wakeFD, p.wakeWr = wakeFD, wakeWr

	_, err = unix.Kevent(int(p.kq), []unix.Kevent_t{{
		Ident: uint64(wakeFD), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE,
	}}, nil, nil)
	if err != nil {
		_ = unix.Close(wakeFD)
		_ = unix.Close(kq)
		return err
	}
	return nil
}

func (p *kqueueBackend) ensureCap(fd int) {
	if fd < len(p.fds) {
		return
	}
	newSize := fd*2 + 1
	if newSize > maxFDLimit {
		newSize = maxFDLimit + 1
	}
	grown := make([]fdInterest, newSize)
	copy(grown, p.fds)
	p.fds = grown
}

func (p *kqueueBackend) changeList(fd int, interest Interest, flags uint16) []unix.Kevent_t {
	var kevs []unix.Kevent_t
	if interest&InterestRead != 0 {
		kevs = append(kevs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if interest&InterestWrite != 0 {
		kevs = append(kevs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevs
}

func (p *kqueueBackend) registerFD(fd int, interest Interest) error {
	if fd < 0 || fd >= maxFDLimit {
		return ErrConfigInvalid
	}
	p.fdMu.Lock()
	p.ensureCap(fd)
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrAlreadyRegistered
	}
	p.fds[fd] = fdInterest{interest: interest, active: true}
	p.fdMu.Unlock()

	kevs := p.changeList(fd, interest, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevs) > 0 {
		if _, err := unix.Kevent(int(p.kq), kevs, nil, nil); err != nil {
			p.fdMu.Lock()
			p.fds[fd] = fdInterest{}
			p.fdMu.Unlock()
			return err
		}
	}
	return nil
}

func (p *kqueueBackend) modifyFD(fd int, interest Interest) error {
	if fd < 0 || fd >= maxFDLimit {
		return ErrConfigInvalid
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrNotRegistered
	}
	old := p.fds[fd].interest
	p.fds[fd].interest = interest
	p.fdMu.Unlock()

	if old&^interest != 0 {
		if kevs := p.changeList(fd, old&^interest, unix.EV_DELETE); len(kevs) > 0 {
			_, _ = unix.Kevent(int(p.kq), kevs, nil, nil)
		}
	}
	if interest&^old != 0 {
		if kevs := p.changeList(fd, interest&^old, unix.EV_ADD|unix.EV_ENABLE); len(kevs) > 0 {
			if _, err := unix.Kevent(int(p.kq), kevs, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *kqueueBackend) deregisterFD(fd int) error {
	if fd < 0 {
		return ErrConfigInvalid
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrNotRegistered
	}
	interest := p.fds[fd].interest
	p.fds[fd] = fdInterest{}
	p.fdMu.Unlock()

	if kevs := p.changeList(fd, interest, unix.EV_DELETE); len(kevs) > 0 {
		_, _ = unix.Kevent(int(p.kq), kevs, nil, nil)
	}
	return nil
}

func (p *kqueueBackend) poll(timeout time.Duration, ready func(fd int, got Interest)) (int, error) {
	if p.closed.Load() {
		return 0, ErrReactorClosed
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		ts = &unix.Timespec{Sec: int64(timeout / time.Second), Nsec: int64(timeout % time.Second)}
	}

	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n; i++ {
		kev := &p.eventBuf[i]
		fd := int(kev.Ident)
		if fd == p.wakeFD {
			drainWake(p.wakeFD)
			continue
		}
		if fd < 0 {
			continue
		}
		var got Interest
		switch kev.Filter {
		case unix.EVFILT_READ:
			got |= InterestRead
		case unix.EVFILT_WRITE:
			got |= InterestWrite
		}
		if kev.Flags&unix.EV_ERROR != 0 {
			got |= InterestError
		}
		if kev.Flags&unix.EV_EOF != 0 {
			got |= InterestHangup
		}
		ready(fd, got)
		count++
	}
	return count, nil
}

func (p *kqueueBackend) wake() error {
	return writeWake(p.wakeWr)
}

func (p *kqueueBackend) close() error {
	p.closed.Store(true)
	_ = unix.Close(p.wakeFD)
	if p.wakeWr != p.wakeFD {
		_ = unix.Close(p.wakeWr)
	}
	return unix.Close(int(p.kq))
}
