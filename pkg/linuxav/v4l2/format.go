//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"
)

// GetFormats returns all supported pixel formats for a device.
func GetFormats(devicePath string) ([]FormatInfo, error) {
	var formats []FormatInfo

	err := withDevice(devicePath, func(fd int) error {
		for i := uint32(0); ; i++ {
			desc := fmtdesc{index: i, typ: bufTypeVideoCapture}
			if err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
				if errors.Is(err, syscall.EINVAL) {
					return nil // end of enumeration
				}
				return fmt.Errorf("failed to enumerate format %d: %w", i, err)
			}
			formats = append(formats, FormatInfo{
				PixelFormat: desc.pixelformat,
				FormatName:  cstr(desc.description[:]),
				Emulated:    desc.flags&fmtFlagEmulated != 0,
			})
		}
	})
	return formats, err
}

// GetResolutions returns all supported resolutions for a device and pixel format.
func GetResolutions(devicePath string, pixelFormat uint32) ([]Resolution, error) {
	var resolutions []Resolution

	err := withDevice(devicePath, func(fd int) error {
		for i := uint32(0); ; i++ {
			size := frmsizeenum{index: i, pixelFormat: pixelFormat}
			if err := ioctl(fd, vidiocEnumFramesizes, unsafe.Pointer(&size)); err != nil {
				switch {
				case errors.Is(err, syscall.EINVAL):
					return nil
				case errors.Is(err, syscall.ENOTTY):
					// driver does not enumerate sizes
					return nil
				}
				return fmt.Errorf("failed to enumerate frame size %d: %w", i, err)
			}

			switch size.typ {
			case frmsizeTypeDiscrete:
				resolutions = append(resolutions, Resolution{Width: size.discrete.width, Height: size.discrete.height})
			case frmsizeTypeContinuous, frmsizeTypeStepwise:
				// Only one stepwise entry is reported.
				resolutions = append(resolutions, stepwiseResolutions(*size.stepwise())...)
				return nil
			}
		}
	})
	return resolutions, err
}

// GetFramerates returns all supported framerates for a device, format, and resolution.
func GetFramerates(devicePath string, pixelFormat, width, height uint32) ([]Framerate, error) {
	var framerates []Framerate

	err := withDevice(devicePath, func(fd int) error {
		for i := uint32(0); ; i++ {
			ival := frmivalenum{index: i, pixelFormat: pixelFormat, width: width, height: height}
			if err := ioctl(fd, vidiocEnumFrameintervals, unsafe.Pointer(&ival)); err != nil {
				if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
					return nil
				}
				return fmt.Errorf("failed to enumerate frame interval %d: %w", i, err)
			}

			switch ival.typ {
			case frmivalTypeDiscrete:
				framerates = append(framerates, Framerate{
					Numerator:   ival.discrete.numerator,
					Denominator: ival.discrete.denominator,
				})
			case frmivalTypeContinuous, frmivalTypeStepwise:
				framerates = append(framerates, commonFramerates()...)
				return nil
			}
		}
	})
	return framerates, err
}

// commonResolutions are offered for stepwise and continuous devices. Portrait
// sizes are included for rotated sensors.
var commonResolutions = []Resolution{
	{320, 240},
	{640, 480},
	{480, 640},
	{800, 600},
	{1280, 720},
	{720, 1280},
	{1080, 1920},
	{1920, 1080},
	{2560, 1440},
	{3840, 2160},
}

// stepwiseResolutions returns the common resolutions inside a stepwise range.
func stepwiseResolutions(sw frmsizeStepwise) []Resolution {
	var resolutions []Resolution
	for _, r := range commonResolutions {
		if r.Width < sw.minWidth || r.Width > sw.maxWidth || r.Height < sw.minHeight || r.Height > sw.maxHeight {
			continue
		}
		if !onStep(r.Width, sw.minWidth, sw.stepWidth) || !onStep(r.Height, sw.minHeight, sw.stepHeight) {
			continue
		}
		resolutions = append(resolutions, r)
	}
	return resolutions
}

func onStep(v, minimum, step uint32) bool {
	if step <= 1 {
		return true
	}
	return (v-minimum)%step == 0
}

func commonFramerates() []Framerate {
	return []Framerate{{1, 60}, {1, 30}, {1, 25}, {1, 15}, {1, 10}}
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	return string([]byte{
		byte(format),
		byte(format >> 8),
		byte(format >> 16),
		byte(format >> 24),
	})
}
