// Package capture owns the capture device lifecycle: it chooses a preview
// size, opens the device, starts a continuous preview and converts every
// delivered sample before handing it to a single frame callback.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/smazurov/edgerelay/internal/ffmpeg"
	"github.com/smazurov/edgerelay/internal/yuv"
)

// SampleListener receives samples on the device's delivery goroutine. The
// sample is only valid for the duration of the call.
type SampleListener func(sample *yuv.RawSample)

// Device is a capture device before it is opened.
type Device interface {
	Name() string
	// OutputSizes lists the preview sizes the device can deliver.
	OutputSizes(ctx context.Context) ([]Size, error)
	// NewReader creates the sample source for a preview of the given size.
	NewReader(size Size) (SampleReader, error)
	Open(ctx context.Context) (Camera, error)
}

// SampleReader is the sample source a preview delivers into.
type SampleReader interface {
	SetListener(listener SampleListener)
	Close() error
}

// Camera is an opened device.
type Camera interface {
	StartPreview(ctx context.Context, reader SampleReader) (Session, error)
	Close() error
}

// Session is a running preview.
type Session interface {
	Close() error
}

// DeviceOptions selects and configures a device by name.
type DeviceOptions struct {
	// Device is "test", "lavfi" or a V4L2 device path.
	Device      string
	FPS         int
	InputFormat string
	Layout      Layout

	// FFmpegOptions replace ffmpeg.DefaultOptions for V4L2 devices.
	FFmpegOptions []ffmpeg.OptionType
	Logger        *slog.Logger
}

// NewDevice resolves a device name to an implementation.
func NewDevice(opts DeviceOptions) (Device, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case opts.Device == "" || opts.Device == "test":
		src := NewTestSource(opts.FPS)
		src.Layout = opts.Layout
		return src, nil
	case opts.Device == "lavfi":
		return NewLavfiDevice(opts.FPS, logger), nil
	case strings.HasPrefix(opts.Device, "/dev/"):
		return NewV4L2Device(opts.Device, opts.FPS, opts.InputFormat, logger).WithInputOptions(opts.FFmpegOptions), nil
	default:
		return nil, fmt.Errorf("unknown capture device %q", opts.Device)
	}
}

// DeviceSummary describes a discovered capture device.
type DeviceSummary struct {
	Path string `json:"path"`
	Name string `json:"name"`
	ID   string `json:"id"`
}

// DeviceReport is a discovered device with the sizes it offers and the
// preview size a session would pick.
type DeviceReport struct {
	DeviceSummary
	Sizes  []Size `json:"sizes,omitempty"`
	Chosen *Size  `json:"chosen,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Probe queries a device for its sizes and the preview size the controller
// would choose.
func Probe(ctx context.Context, dev Device) DeviceReport {
	report := DeviceReport{DeviceSummary: DeviceSummary{Path: dev.Name(), Name: dev.Name()}}
	sizes, err := dev.OutputSizes(ctx)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Sizes = sizes
	if len(sizes) > 0 {
		chosen := ChooseOptimalSize(sizes)
		report.Chosen = &chosen
	}
	return report
}

// ProbeDevices lists the host's V4L2 devices and probes each one. A device
// that cannot be queried is still reported, with its error.
func ProbeDevices(ctx context.Context, logger *slog.Logger) ([]DeviceReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	devices, err := ListDevices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	reports := make([]DeviceReport, 0, len(devices))
	for _, d := range devices {
		report := Probe(ctx, NewV4L2Device(d.Path, 0, "", logger))
		report.DeviceSummary = d
		reports = append(reports, report)
	}
	return reports, nil
}
