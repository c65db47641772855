//go:build linux

package rtcore

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// maxDirectFDs is the highest fd supported with direct array indexing
// before falling back would be required; in practice RLIMIT_NOFILE rarely
// exceeds this on the platforms this runtime targets.
const maxDirectFDs = 65536

// epollBackend implements pollBackend using epoll. Direct-indexed array of
// per-fd interest instead of a map for O(1) lookup, RWMutex-guarded, with a
// version counter guarding against acting on stale results from a poll
// call that raced a concurrent registration change.
type epollBackend struct {
	_        [cacheLineSize]byte
	epfd     int32
	_        [cacheLineSize - 4]byte
	version  atomic.Uint64
	_        [cacheLineSize - 8]byte
	eventBuf [256]unix.EpollEvent
	fds      [maxDirectFDs]fdInterest
	fdMu     sync.RWMutex
	wakeFD   int
	wakeWr   int
	closed   atomic.Bool
}

func newPlatformBackend() pollBackend {
	return &epollBackend{}
}

func (p *epollBackend) init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = int32(epfd)

	wakeFD, wakeWr, err := createWakeFd()
	if err != nil {
		_ = unix.Close(epfd)
		return err
	}
	p.wakeFD, p.wakeWr = wakeFD, wakeWr

	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, ev); err != nil {
		_ = unix.Close(wakeFD)
		_ = unix.Close(epfd)
		return err
	}
	return nil
}

func interestToEpoll(i Interest) uint32 {
	var e uint32
	if i&InterestRead != 0 {
		e |= unix.EPOLLIN
	}
	if i&InterestWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToInterest(e uint32) Interest {
	var i Interest
	if e&unix.EPOLLIN != 0 {
		i |= InterestRead
	}
	if e&unix.EPOLLOUT != 0 {
		i |= InterestWrite
	}
	if e&unix.EPOLLERR != 0 {
		i |= InterestError
	}
	if e&unix.EPOLLHUP != 0 {
		i |= InterestHangup
	}
	return i
}

func (p *epollBackend) registerFD(fd int, interest Interest) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrConfigInvalid
	}
	p.fdMu.Lock()
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrAlreadyRegistered
	}
	p.fds[fd] = fdInterest{interest: interest, active: true}
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdInterest{}
		p.fdMu.Unlock()
		return err
	}
	return nil
}

func (p *epollBackend) modifyFD(fd int, interest Interest) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrConfigInvalid
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrNotRegistered
	}
	p.fds[fd].interest = interest
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollBackend) deregisterFD(fd int) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrConfigInvalid
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrNotRegistered
	}
	p.fds[fd] = fdInterest{}
	p.version.Add(1)
	p.fdMu.Unlock()
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollBackend) poll(timeout time.Duration, ready func(fd int, got Interest)) (int, error) {
	if p.closed.Load() {
		return 0, ErrReactorClosed
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
		if ms == 0 && timeout > 0 {
			ms = 1
		}
	}

	v := p.version.Load()
	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if p.version.Load() != v {
		// A registration changed mid-wait; results may reference stale
		// interest, discard rather than risk dispatching to a fd that was
		// deregistered concurrently.
		return 0, nil
	}

	count := 0
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd == p.wakeFD {
			drainWake(p.wakeFD)
			continue
		}
		if fd < 0 || fd >= maxDirectFDs {
			continue
		}
		got := epollToInterest(p.eventBuf[i].Events)
		ready(fd, got)
		count++
	}
	return count, nil
}

func (p *epollBackend) wake() error {
	return writeWake(p.wakeWr)
}

func (p *epollBackend) close() error {
	p.closed.Store(true)
	_ = unix.Close(p.wakeFD)
	if p.wakeWr != p.wakeFD {
		_ = unix.Close(p.wakeWr)
	}
	return unix.Close(int(p.epfd))
}
