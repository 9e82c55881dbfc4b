//go:build linux

package v4l2

// DeviceInfo contains information about a V4L2 capture device.
type DeviceInfo struct {
	DevicePath string `json:"device_path"`
	DeviceName string `json:"device_name"`
	DeviceID   string `json:"device_id"` // from /dev/v4l/by-id/ or synthetic
	Caps       uint32 `json:"caps"`
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32 `json:"pixel_format"`
	FormatName  string `json:"format_name"`
	Emulated    bool   `json:"emulated"`
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// Framerate represents a supported frame interval as a fraction.
type Framerate struct {
	Numerator   uint32 `json:"numerator"`
	Denominator uint32 `json:"denominator"`
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// Common pixel formats.
const (
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
	PixFmtNV12  = 0x3231564E // 'NV12'
	PixFmtNV21  = 0x3132564E // 'NV21'
	PixFmtYU12  = 0x32315559 // 'YU12'
	PixFmtH264  = 0x34363248 // 'H264'
)

// InputFormatName returns the ffmpeg -input_format name for a pixel format,
// or "" if ffmpeg cannot decode it into raw frames.
func InputFormatName(pixelFormat uint32) string {
	switch pixelFormat {
	case PixFmtYUYV:
		return "yuyv422"
	case PixFmtMJPEG:
		return "mjpeg"
	case PixFmtNV12:
		return "nv12"
	case PixFmtNV21:
		return "nv21"
	case PixFmtYU12:
		return "yuv420p"
	default:
		return ""
	}
}
