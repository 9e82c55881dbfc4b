//go:build linux

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/smazurov/edgerelay/internal/ffmpeg"
	"github.com/smazurov/edgerelay/pkg/linuxav/v4l2"
)

// V4L2Device is a Video4Linux2 capture device. Sizes come from the driver,
// frames from an ffmpeg process decoding the device to NV21.
type V4L2Device struct {
	path        string
	fps         int
	inputFormat string
	options     []ffmpeg.OptionType
	logger      *slog.Logger

	mu     sync.Mutex
	format string // input format the sizes were queried for
}

// NewV4L2Device creates a device for path. An empty inputFormat picks the
// first format ffmpeg can decode.
func NewV4L2Device(path string, fps int, inputFormat string, logger *slog.Logger) *V4L2Device {
	return &V4L2Device{path: path, fps: fps, inputFormat: inputFormat, logger: logger}
}

// WithInputOptions replaces the default ffmpeg input options.
func (d *V4L2Device) WithInputOptions(opts []ffmpeg.OptionType) *V4L2Device {
	d.options = opts
	return d
}

// Name implements Device.
func (d *V4L2Device) Name() string { return d.path }

// OutputSizes implements Device.
func (d *V4L2Device) OutputSizes(context.Context) ([]Size, error) {
	formats, err := v4l2.GetFormats(d.path)
	if err != nil {
		return nil, err
	}

	format, ok := d.pickFormat(formats)
	if !ok {
		return nil, fmt.Errorf("%s offers no format ffmpeg can decode", d.path)
	}

	resolutions, err := v4l2.GetResolutions(d.path, format.PixelFormat)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.format = v4l2.InputFormatName(format.PixelFormat)
	d.mu.Unlock()

	sizes := make([]Size, 0, len(resolutions))
	for _, r := range resolutions {
		sizes = append(sizes, Size{Width: int(r.Width), Height: int(r.Height)})
	}
	d.logger.Debug("Queried device sizes", "device", d.path, "format", v4l2.FormatFourCC(format.PixelFormat), "sizes", len(sizes))
	return sizes, nil
}

func (d *V4L2Device) pickFormat(formats []v4l2.FormatInfo) (v4l2.FormatInfo, bool) {
	var fallback *v4l2.FormatInfo
	for i, f := range formats {
		name := v4l2.InputFormatName(f.PixelFormat)
		if name == "" {
			continue
		}
		if d.inputFormat != "" {
			if name == d.inputFormat {
				return f, true
			}
			continue
		}
		if !f.Emulated {
			return f, true
		}
		if fallback == nil {
			fallback = &formats[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return v4l2.FormatInfo{}, false
}

// NewReader implements Device.
func (d *V4L2Device) NewReader(size Size) (SampleReader, error) {
	return NewRawReader(size), nil
}

// Open implements Device.
func (d *V4L2Device) Open(context.Context) (Camera, error) {
	if _, err := os.Stat(d.path); err != nil {
		return nil, fmt.Errorf("device unavailable: %w", err)
	}

	d.mu.Lock()
	format := d.format
	d.mu.Unlock()

	options := d.options
	if len(options) == 0 {
		options = ffmpeg.DefaultOptions()
	}

	return &ffmpegCamera{
		id: "capture-" + filepath.Base(d.path),
		params: ffmpeg.RawCaptureParams{
			DevicePath:  d.path,
			InputFormat: format,
			FPS:         d.fps,
			Options:     options,
		},
		logger: d.logger,
	}, nil
}

// ListDevices returns the V4L2 capture devices on this host.
func ListDevices() ([]DeviceSummary, error) {
	devices, err := v4l2.FindDevices()
	if err != nil {
		return nil, err
	}
	out := make([]DeviceSummary, 0, len(devices))
	for _, dev := range devices {
		out = append(out, DeviceSummary{Path: dev.DevicePath, Name: dev.DeviceName, ID: dev.DeviceID})
	}
	return out, nil
}
