package ffmpeg

import (
	"fmt"
	"strings"
)

// RawCaptureParams describes an ffmpeg process that decodes a capture device
// (or a generated test pattern) to raw frames on stdout.
type RawCaptureParams struct {
	DevicePath  string // /dev/video0, ignored for test patterns
	InputFormat string // yuyv422, mjpeg, etc. (empty = device default)
	Width       int
	Height      int
	FPS         int
	PixelFormat string // output pix_fmt, nv21 if empty
	TestPattern bool   // lavfi testsrc2 instead of a device
	LogLevel    string // ffmpeg log level, warning if empty
	Options     []OptionType
}

// BuildRawCapture builds the ffmpeg command for a raw frame pipe.
func BuildRawCapture(p RawCaptureParams) (string, error) {
	if !p.TestPattern && p.DevicePath == "" {
		return "", fmt.Errorf("device path is required")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return "", fmt.Errorf("invalid frame size %dx%d", p.Width, p.Height)
	}

	pixFmt := p.PixelFormat
	if pixFmt == "" {
		pixFmt = "nv21"
	}
	logLevel := p.LogLevel
	if logLevel == "" {
		logLevel = "warning"
	}
	size := fmt.Sprintf("%dx%d", p.Width, p.Height)

	var cmd strings.Builder
	cmd.WriteString(Base())
	// level+ prefixes every line with [level] for ParseLogLevel
	cmd.WriteString(" -loglevel level+" + logLevel)
	cmd.WriteString(" -nostdin")

	if p.TestPattern {
		// -re keeps the generator at native frame rate
		cmd.WriteString(" -re -f lavfi")
		testSrc := "testsrc2=size=" + size
		if p.FPS > 0 {
			testSrc += fmt.Sprintf(":rate=%d", p.FPS)
		}
		cmd.WriteString(" -i \"" + testSrc + "\"")
	} else {
		cmd.WriteString(" -f v4l2")
		applyOptions(p.Options, &cmd)
		if p.InputFormat != "" {
			cmd.WriteString(" -input_format " + p.InputFormat)
		}
		cmd.WriteString(" -video_size " + size)
		if p.FPS > 0 {
			cmd.WriteString(fmt.Sprintf(" -framerate %d", p.FPS))
		}
		cmd.WriteString(" -i " + p.DevicePath)
		// Devices may round the requested size; force the negotiated one.
		cmd.WriteString(fmt.Sprintf(" -vf scale=%d:%d", p.Width, p.Height))
	}

	cmd.WriteString(" -an -f rawvideo -pix_fmt " + pixFmt)
	cmd.WriteString(" pipe:1")

	return cmd.String(), nil
}
