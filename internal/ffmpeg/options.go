package ffmpeg

import (
	"fmt"
	"strings"
)

// OptionType represents a strongly typed FFmpeg input option
type OptionType string

// FFmpeg input option constants
const (
	OptionWallclockTimestamp OptionType = "wallclock_ts"
	OptionThreadQueue1024    OptionType = "thread_queue_1024"
	OptionThreadQueue4096    OptionType = "thread_queue_4096"
	OptionLowLatency         OptionType = "low_latency"
	OptionIgnoreErrors       OptionType = "ignore_err"
)

// Base returns the ffmpeg command with standard flags
func Base() string {
	return "ffmpeg -hide_banner"
}

// DefaultOptions are applied to device captures when none are configured.
func DefaultOptions() []OptionType {
	return []OptionType{OptionThreadQueue1024, OptionLowLatency}
}

// ParseOptions converts configured option names, rejecting unknown ones and
// more than one thread queue size.
func ParseOptions(names []string) ([]OptionType, error) {
	var opts []OptionType
	queues := 0
	for _, name := range names {
		opt := OptionType(strings.TrimSpace(name))
		switch opt {
		case OptionThreadQueue1024, OptionThreadQueue4096:
			queues++
		case OptionWallclockTimestamp, OptionLowLatency, OptionIgnoreErrors:
		case "":
			continue
		default:
			return nil, fmt.Errorf("unknown ffmpeg option %q", name)
		}
		opts = append(opts, opt)
	}
	if queues > 1 {
		return nil, fmt.Errorf("only one thread queue size may be set")
	}
	return opts, nil
}

// applyOptions writes input options to a command string builder
func applyOptions(options []OptionType, cmd *strings.Builder) {
	for _, option := range options {
		switch option {
		case OptionIgnoreErrors:
			cmd.WriteString(" -err_detect ignore_err")
		case OptionWallclockTimestamp:
			cmd.WriteString(" -use_wallclock_as_timestamps 1")
		case OptionThreadQueue1024:
			cmd.WriteString(" -thread_queue_size 1024")
		case OptionThreadQueue4096:
			cmd.WriteString(" -thread_queue_size 4096")
		case OptionLowLatency:
			cmd.WriteString(" -fflags nobuffer")
			cmd.WriteString(" -flags low_delay")
		}
	}
}
