package hotplug

import (
	"bytes"
	"path"
)

// Kernel actions the capture path reacts to.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// SubsystemVideo4Linux is the uevent subsystem of V4L2 device nodes.
const SubsystemVideo4Linux = "video4linux"

// Event is one kernel uevent.
type Event struct {
	Action    string
	KObj      string // sysfs path, e.g. /devices/pci0000:00/.../video4linux/video0
	Subsystem string
	DevName   string // node name relative to /dev, e.g. video0
	Props     map[string]string
}

// Node returns the /dev path of the event's device, or "" when the event
// names no device node.
func (e Event) Node() string {
	if e.DevName == "" {
		return ""
	}
	return path.Join("/dev", e.DevName)
}

// ParseUEvent decodes a kernel uevent datagram of the form
// "ACTION@KOBJ\0KEY=VALUE\0...". Messages from udevd, which carry a
// binary "libudev" header, are rejected.
func ParseUEvent(data []byte) (Event, bool) {
	header, rest, _ := bytes.Cut(data, []byte{0})
	action, kobj, ok := bytes.Cut(header, []byte("@"))
	if !ok || len(action) == 0 || len(kobj) == 0 {
		return Event{}, false
	}

	ev := Event{
		Action: string(action),
		KObj:   string(kobj),
		Props:  make(map[string]string),
	}
	for len(rest) > 0 {
		var field []byte
		field, rest, _ = bytes.Cut(rest, []byte{0})
		key, value, ok := bytes.Cut(field, []byte("="))
		if !ok || len(key) == 0 {
			continue
		}
		ev.Props[string(key)] = string(value)
	}
	ev.Subsystem = ev.Props["SUBSYSTEM"]
	ev.DevName = ev.Props["DEVNAME"]
	return ev, true
}
