// Package hotplug reports kernel device add and remove events without cgo by
// reading NETLINK_KOBJECT_UEVENT broadcasts.
package hotplug
