package ffmpeg

import (
	"log/slog"
	"strings"
)

// ParseLogLevel maps a line printed with -loglevel level+<x> to a slog level.
// Lines look like "[warning] message" or "[v4l2 @ 0x55d0] [error] message";
// the level tag is stripped and a component prefix is kept. Progress lines
// ("frame=  120 fps= 30 ...") are demoted to debug.
func ParseLogLevel(line string) (slog.Level, string) {
	if strings.HasPrefix(line, "frame=") || strings.HasPrefix(line, "size=") {
		return slog.LevelDebug, line
	}
	if len(line) < 3 || line[0] != '[' {
		return slog.LevelInfo, line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return slog.LevelInfo, line
	}

	if level, ok := levelOf(line[1:end]); ok {
		return level, line[end+2:]
	}

	component, rest := line[:end+2], line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if next := strings.Index(rest, "] "); next != -1 {
			if level, ok := levelOf(rest[1:next]); ok {
				return level, component + rest[next+2:]
			}
		}
	}

	return slog.LevelInfo, line
}

func levelOf(tag string) (slog.Level, bool) {
	switch tag {
	case "quiet", "panic", "fatal", "error":
		return slog.LevelError, true
	case "warning":
		return slog.LevelWarn, true
	case "info":
		return slog.LevelInfo, true
	case "verbose", "debug", "trace":
		return slog.LevelDebug, true
	}
	return 0, false
}
