//go:build !linux

package capture

import (
	"context"
	"errors"
	"log/slog"

	"github.com/smazurov/edgerelay/internal/ffmpeg"
)

var errV4L2Unsupported = errors.New("v4l2 capture is only supported on linux")

// V4L2Device is unavailable on this platform.
type V4L2Device struct {
	path string
}

// NewV4L2Device returns a device whose operations fail.
func NewV4L2Device(path string, _ int, _ string, _ *slog.Logger) *V4L2Device {
	return &V4L2Device{path: path}
}

// WithInputOptions is a no-op on this platform.
func (d *V4L2Device) WithInputOptions([]ffmpeg.OptionType) *V4L2Device {
	return d
}

// Name implements Device.
func (d *V4L2Device) Name() string { return d.path }

// OutputSizes implements Device.
func (d *V4L2Device) OutputSizes(context.Context) ([]Size, error) {
	return nil, errV4L2Unsupported
}

// NewReader implements Device.
func (d *V4L2Device) NewReader(Size) (SampleReader, error) {
	return nil, errV4L2Unsupported
}

// Open implements Device.
func (d *V4L2Device) Open(context.Context) (Camera, error) {
	return nil, errV4L2Unsupported
}

// ListDevices returns no devices on this platform.
func ListDevices() ([]DeviceSummary, error) {
	return nil, nil
}
