package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/smazurov/edgerelay/pkg/linuxav/hotplug"
)

// ErrDeviceRemoved is returned by WatchRemoval when the kernel removes the
// capture device node.
var ErrDeviceRemoved = errors.New("capture device removed")

// uevents delivers kernel events to fn until ctx is done or fn returns false.
type uevents func(ctx context.Context, fn func(hotplug.Event) bool) error

// DeviceNode resolves a capture device setting to the /dev node the kernel
// names in uevents. Symlinks such as /dev/v4l/by-id entries are followed.
// It returns "" for devices without a node (test, lavfi).
func DeviceNode(device string) string {
	if !strings.HasPrefix(device, "/dev/") {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(device); err == nil {
		return resolved
	}
	return filepath.Clean(device)
}

// WatchRemoval blocks until ctx is done or node disappears, in which case it
// returns ErrDeviceRemoved. onEvent sees every add and remove of node.
func WatchRemoval(ctx context.Context, node string, onEvent func(hotplug.Event)) error {
	m, err := hotplug.Open(hotplug.SubsystemVideo4Linux)
	if err != nil {
		return fmt.Errorf("hotplug monitor: %w", err)
	}
	defer func() { _ = m.Close() }()
	return watchNode(ctx, node, m.Run, onEvent)
}

func watchNode(ctx context.Context, node string, run uevents, onEvent func(hotplug.Event)) error {
	removed := false
	err := run(ctx, func(ev hotplug.Event) bool {
		if ev.Node() != node || (ev.Action != hotplug.ActionAdd && ev.Action != hotplug.ActionRemove) {
			return true
		}
		if onEvent != nil {
			onEvent(ev)
		}
		removed = ev.Action == hotplug.ActionRemove
		return !removed
	})
	if err != nil {
		return err
	}
	if removed {
		return fmt.Errorf("%w: %s", ErrDeviceRemoved, node)
	}
	return nil
}
