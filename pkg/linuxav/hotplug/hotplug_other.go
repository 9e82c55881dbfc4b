//go:build !linux

package hotplug

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by Open on platforms without netlink.
var ErrUnsupported = errors.New("hotplug: netlink uevents are only available on linux")

// Monitor is unavailable on this platform.
type Monitor struct{}

// Open always fails with ErrUnsupported.
func Open(string) (*Monitor, error) {
	return nil, ErrUnsupported
}

// Close is a no-op.
func (*Monitor) Close() error { return nil }

// Run returns immediately.
func (*Monitor) Run(context.Context, func(Event) bool) error { return nil }
