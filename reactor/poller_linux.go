//go:build linux

package reactor

import (
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux Poller, grounded on the teacher's epollReactor
// (reactor/epoll_reactor.go) but built on golang.org/x/sys/unix rather than
// the standard library's deprecated syscall.Epoll* wrappers, and extended
// with an eventfd-backed Wake() for the cross-thread async waker of
// spec.md §3/§5.
type epollPoller struct {
	epfd    int
	wakeFd  int
	mu      sync.Mutex // guards writers and closed; epoll_ctl calls are not made under it
	closed  bool
	writers map[uintptr]bool
}

func newPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	p := &epollPoller{epfd: epfd, wakeFd: wakeFd, writers: make(map[uintptr]bool)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

func (p *epollPoller) Register(fd uintptr) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, int(fd), &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	})
}

func (p *epollPoller) EnableWrite(fd uintptr) error {
	p.mu.Lock()
	p.writers[fd] = true
	p.mu.Unlock()
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, int(fd), &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT,
		Fd:     int32(fd),
	})
}

func (p *epollPoller) DisableWrite(fd uintptr) error {
	p.mu.Lock()
	delete(p.writers, fd)
	p.mu.Unlock()
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, int(fd), &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	})
}

func (p *epollPoller) Unregister(fd uintptr) error {
	p.mu.Lock()
	delete(p.writers, fd)
	p.mu.Unlock()
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
}

func (p *epollPoller) Wait(timeout time.Duration) ([]Event, error) {
	const maxEvents = 256
	var raw [maxEvents]unix.EpollEvent
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	n, err := unix.EpollWait(p.epfd, raw[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := raw[i]
		if int(ev.Fd) == p.wakeFd {
			var buf [8]byte
			unix.Read(p.wakeFd, buf[:])
			continue
		}
		events = append(events, Event{
			Fd:       uintptr(ev.Fd),
			Readable: ev.Events&unix.EPOLLIN != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Err:      ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return events, nil
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakeFd, buf[:])
	if err == unix.EAGAIN {
		// An un-drained wakeup is already pending; nothing more to do.
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}
