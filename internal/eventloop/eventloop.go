// Package eventloop wraps epoll for the per-worker dispatch loops.
//
// Registrations are always edge-triggered and one-shot: after a socket fires
// it is dormant until the owner re-arms it with the next interest. That keeps
// per-connection state explicit and avoids spurious wakeups for sockets that
// are mid-request.
package eventloop

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Interest names the readiness condition a connection wants to be woken for.
type Interest int

const (
	InterestWritable Interest = iota
	InterestReadable
)

func (i Interest) String() string {
	if i == InterestReadable {
		return "readable"
	}
	return "writable"
}

// wakeToken is the slot value reserved for the internal wake eventfd.
const wakeToken = int32(-1)

// Event is one readiness notification delivered by Wait.
type Event struct {
	Slot     int
	Readable bool
	Writable bool
	// Closed reports a hangup or error condition on the socket. The owner
	// should tear the connection down rather than retry I/O indefinitely.
	Closed bool
}

// Poller multiplexes socket readiness for a single worker.
type Poller struct {
	epfd   int
	wakefd int
	buf    []unix.EpollEvent
}

// New creates a Poller able to deliver up to maxEvents notifications per Wait.
func New(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 64
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	// The wake fd is level-triggered and never re-armed; it only has to
	// break a blocking wait.
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: wakeToken}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("register wake fd: %w", err)
	}

	return &Poller{
		epfd:   epfd,
		wakefd: wakefd,
		buf:    make([]unix.EpollEvent, maxEvents),
	}, nil
}

func interestBits(interest Interest) uint32 {
	bits := uint32(unix.EPOLLET | unix.EPOLLONESHOT | unix.EPOLLRDHUP)
	if interest == InterestReadable {
		bits |= unix.EPOLLIN
	} else {
		bits |= unix.EPOLLOUT
	}
	return bits
}

// Register adds fd under the given slot, armed for a single notification.
func (p *Poller) Register(fd, slot int, interest Interest) error {
	ev := unix.EpollEvent{Events: interestBits(interest), Fd: int32(slot)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll add fd %d: %w", fd, err)
	}
	return nil
}

// Rearm re-registers a previously fired fd for exactly one more notification.
func (p *Poller) Rearm(fd, slot int, interest Interest) error {
	ev := unix.EpollEvent{Events: interestBits(interest), Fd: int32(slot)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll mod fd %d: %w", fd, err)
	}
	return nil
}

// Remove deletes fd from the interest set.
func (p *Poller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one notification arrives, appending Events to
// out and returning it. woken reports that Wake was called; callers treat it
// as a shutdown check, not an I/O event.
func (p *Poller) Wait(out []Event) (events []Event, woken bool, err error) {
	events = out
	for {
		n, werr := unix.EpollWait(p.epfd, p.buf, -1)
		if werr == unix.EINTR {
			continue
		}
		if werr != nil {
			return events, false, fmt.Errorf("epoll_wait: %w", werr)
		}

		for _, raw := range p.buf[:n] {
			if raw.Fd == wakeToken {
				p.drainWake()
				woken = true
				continue
			}
			events = append(events, Event{
				Slot:     int(raw.Fd),
				Readable: raw.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
				Writable: raw.Events&unix.EPOLLOUT != 0,
				Closed:   raw.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
			})
		}
		if len(events) > 0 || woken {
			return events, woken, nil
		}
	}
}

// Wake interrupts a concurrent Wait. Safe to call from any goroutine.
func (p *Poller) Wake() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(p.wakefd, one[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("wake: %w", err)
	}
	return nil
}

func (p *Poller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the poller's descriptors. Registered sockets are not closed.
func (p *Poller) Close() error {
	unix.Close(p.wakefd)
	return unix.Close(p.epfd)
}
