//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for capture device enumeration and output size queries.
//
// This package does not use cgo. Frames are not read here; the capture
// package hands the device to ffmpeg once a size has been chosen.
//
//	devices, _ := v4l2.FindDevices()
//	for _, dev := range devices {
//	    formats, _ := v4l2.GetFormats(dev.DevicePath)
//	    for _, f := range formats {
//	        sizes, _ := v4l2.GetResolutions(dev.DevicePath, f.PixelFormat)
//	        fmt.Println(dev.DeviceName, v4l2.FormatFourCC(f.PixelFormat), sizes)
//	    }
//	}
package v4l2
