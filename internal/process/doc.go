// Package process runs one subprocess until it exits or its context ends.
//
// Stopping sends SIGINT and, after a grace period, SIGKILL to the whole
// process group. Stdout can be forwarded raw with WithStdout, which is how
// capture pipes frames; otherwise both streams are logged line by line at
// the level a LogParser picks (see ffmpeg.ParseLogLevel).
//
//	p := process.NewProcess("capture", cmd, logger,
//	    process.WithStdout(reader),
//	    process.WithLogParser(ffmpegLogger, ffmpeg.ParseLogLevel),
//	)
//	code, err := p.Run(ctx)
package process
