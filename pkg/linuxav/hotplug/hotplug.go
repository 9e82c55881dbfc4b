//go:build linux

package hotplug

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

const (
	netlinkKobjectUEvent = 15
	kernelGroup          = 1
	recvBuffer           = 8192
)

// Monitor receives kernel uevents for one subsystem.
type Monitor struct {
	fd        int
	subsystem string
}

// Open binds a netlink socket to the kernel uevent broadcast group. An empty
// subsystem passes every event.
func Open(subsystem string) (*Monitor, error) {
	fd, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_DGRAM|syscall.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, fmt.Errorf("netlink socket: %w", err)
	}
	if err := syscall.Bind(fd, &syscall.SockaddrNetlink{Family: syscall.AF_NETLINK, Groups: kernelGroup}); err != nil {
		_ = syscall.Close(fd)
		return nil, fmt.Errorf("netlink bind: %w", err)
	}
	// Bounded reads let Run notice cancellation.
	tv := syscall.Timeval{Sec: 1}
	if err := syscall.SetsockoptTimeval(fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv); err != nil {
		_ = syscall.Close(fd)
		return nil, fmt.Errorf("netlink timeout: %w", err)
	}
	return &Monitor{fd: fd, subsystem: subsystem}, nil
}

// Close releases the socket. Call it after Run has returned.
func (m *Monitor) Close() error {
	return syscall.Close(m.fd)
}

// Run calls fn for every matching event until ctx is done or fn returns
// false. It returns nil in both cases.
func (m *Monitor) Run(ctx context.Context, fn func(Event) bool) error {
	buf := make([]byte, recvBuffer)
	for ctx.Err() == nil {
		n, _, err := syscall.Recvfrom(m.fd, buf, 0)
		switch {
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			continue
		case err != nil:
			return fmt.Errorf("netlink receive: %w", err)
		}

		ev, ok := ParseUEvent(buf[:n])
		if !ok || (m.subsystem != "" && ev.Subsystem != m.subsystem) {
			continue
		}
		if !fn(ev) {
			return nil
		}
	}
	return nil
}
