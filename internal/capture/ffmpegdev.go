package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/smazurov/edgerelay/internal/ffmpeg"
	"github.com/smazurov/edgerelay/internal/logging"
	"github.com/smazurov/edgerelay/internal/process"
)

// ffmpegCamera previews by running ffmpeg with raw NV21 frames on stdout.
type ffmpegCamera struct {
	id     string
	params ffmpeg.RawCaptureParams
	logger *slog.Logger
}

func (c *ffmpegCamera) StartPreview(_ context.Context, reader SampleReader) (Session, error) {
	raw, ok := reader.(*RawReader)
	if !ok {
		return nil, errForeignReader
	}

	params := c.params
	params.Width, params.Height = raw.size.Width, raw.size.Height
	command, err := ffmpeg.BuildRawCapture(params)
	if err != nil {
		return nil, fmt.Errorf("build ffmpeg command: %w", err)
	}

	return startProcessSession(c.id, command, raw, c.logger), nil
}

func (c *ffmpegCamera) Close() error { return nil }

// processSession is a preview backed by a subprocess.
type processSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startProcessSession(id, command string, stdout io.Writer, logger *slog.Logger) *processSession {
	proc := process.NewProcess(id, command, logger,
		process.WithStdout(stdout),
		process.WithLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &processSession{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		code, err := proc.Run(ctx)
		switch {
		case err != nil:
			logger.Error("Capture process failed to start", "id", id, "error", err)
		case code != 0 && ctx.Err() == nil:
			logger.Warn("Capture process exited", "id", id, "exit_code", code)
		}
	}()
	return s
}

func (s *processSession) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// LavfiDevice renders ffmpeg's testsrc2 pattern through the same raw pipe a
// V4L2 device uses.
type LavfiDevice struct {
	fps    int
	logger *slog.Logger
}

// NewLavfiDevice creates an ffmpeg test pattern device.
func NewLavfiDevice(fps int, logger *slog.Logger) *LavfiDevice {
	if fps <= 0 {
		fps = defaultTestFPS
	}
	return &LavfiDevice{fps: fps, logger: logger}
}

// Name implements Device.
func (d *LavfiDevice) Name() string { return "lavfi" }

// OutputSizes implements Device.
func (d *LavfiDevice) OutputSizes(context.Context) ([]Size, error) {
	return append([]Size(nil), DefaultTestSizes...), nil
}

// NewReader implements Device.
func (d *LavfiDevice) NewReader(size Size) (SampleReader, error) {
	return NewRawReader(size), nil
}

// Open implements Device.
func (d *LavfiDevice) Open(context.Context) (Camera, error) {
	return &ffmpegCamera{
		id:     "capture-lavfi",
		params: ffmpeg.RawCaptureParams{TestPattern: true, FPS: d.fps},
		logger: d.logger,
	}, nil
}
