// Package netx opens the non-blocking TCP sockets driven by the event loop.
//
// Resolution uses only the first endpoint returned for a server name. That
// matches the tool's historical behavior and keeps per-connection targets
// deterministic; it is a documented limitation, not an oversight.
package netx

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Family restricts which address families a connect may use.
type Family int

const (
	FamilyAny Family = iota
	FamilyV4
	FamilyV6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "IPv4"
	case FamilyV6:
		return "IPv6"
	default:
		return "Any"
	}
}

// network returns the net package network string enforcing the restriction.
func (f Family) network() string {
	switch f {
	case FamilyV4:
		return "tcp4"
	case FamilyV6:
		return "tcp6"
	default:
		return "tcp"
	}
}

// ErrFamilyConflict is returned when both IPv4-only and IPv6-only are requested.
var ErrFamilyConflict = errors.New("use only one of --ipv4 or --ipv6")

// ChooseFamily resolves the two family restriction flags into a policy,
// rejecting the conflicting combination before any network activity.
func ChooseFamily(v4, v6 bool) (Family, error) {
	switch {
	case v4 && v6:
		return FamilyAny, ErrFamilyConflict
	case v4:
		return FamilyV4, nil
	case v6:
		return FamilyV6, nil
	default:
		return FamilyAny, nil
	}
}

// ConnectError wraps a failed connection attempt with its target address.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// DefaultConnectTimeout bounds how long Connect waits for an in-progress
// connect to resolve to established or refused.
const DefaultConnectTimeout = time.Second

// Connect resolves address, filters by the family restriction, and opens a
// non-blocking connect to the first endpoint only. The connect itself is
// awaited (bounded by timeout, zero meaning DefaultConnectTimeout) so that
// refused and unreachable targets are reported to the caller's failure
// tally; the returned descriptor stays non-blocking for the event loop.
func Connect(address string, family Family, nodelay bool, timeout time.Duration) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr(family.network(), address)
	if err != nil {
		return -1, &ConnectError{Addr: address, Err: err}
	}

	ip4 := tcpAddr.IP.To4()
	if family == FamilyV6 && ip4 != nil {
		return -1, &ConnectError{Addr: address, Err: errors.New("no IPv6 endpoint")}
	}

	domain := unix.AF_INET6
	if ip4 != nil {
		domain = unix.AF_INET
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, &ConnectError{Addr: address, Err: err}
	}

	if nodelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			unix.Close(fd)
			return -1, &ConnectError{Addr: address, Err: err}
		}
	}

	var sa unix.Sockaddr
	if ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		sa = sa6
	}

	err = unix.Connect(fd, sa)
	if err == unix.EINPROGRESS {
		err = awaitConnect(fd, timeout)
	}
	if err != nil {
		unix.Close(fd)
		return -1, &ConnectError{Addr: address, Err: err}
	}

	return fd, nil
}

// awaitConnect polls for the in-progress connect to finish.
func awaitConnect(fd int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return unix.ETIMEDOUT
		}

		pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(pfds, int(remaining.Milliseconds())+1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return unix.ETIMEDOUT
		}
		return FinishConnect(fd)
	}
}

// FinishConnect checks whether an in-progress non-blocking connect succeeded.
// Call it on the first writable readiness after Connect.
func FinishConnect(fd int) error {
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}
