package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/edgerelay/internal/api"
	"github.com/smazurov/edgerelay/internal/capture"
	"github.com/smazurov/edgerelay/internal/config"
	"github.com/smazurov/edgerelay/internal/events"
	"github.com/smazurov/edgerelay/internal/ffmpeg"
	"github.com/smazurov/edgerelay/internal/logging"
	"github.com/smazurov/edgerelay/internal/metrics"
	"github.com/smazurov/edgerelay/internal/pipeline"
	"github.com/smazurov/edgerelay/internal/systemd"
	"github.com/smazurov/edgerelay/internal/upload"
	"github.com/smazurov/edgerelay/internal/yuv"
	"github.com/smazurov/edgerelay/pkg/linuxav/hotplug"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// CaptureOptions configures the capture command. Field names map to flags
// (CaptureDevice -> --capture-device) so config.LoadConfig can tell which
// values were set on the command line.
type CaptureOptions struct {
	Config string

	Listen string `toml:"capture.listen" env:"CAPTURE_LISTEN"`

	CaptureDevice      string `toml:"capture.device" env:"CAPTURE_DEVICE"`
	CaptureFps         int    `toml:"capture.fps" env:"CAPTURE_FPS"`
	CaptureInputFormat string `toml:"capture.input_format" env:"CAPTURE_INPUT_FORMAT"`
	CaptureChromaOrder string `toml:"capture.chroma_order" env:"CAPTURE_CHROMA_ORDER"`
	CaptureTestLayout  string `toml:"capture.test_layout" env:"CAPTURE_TEST_LAYOUT"`

	// ffmpeg.OptionType names; comma separated in the environment.
	CaptureFfmpegOptions []string `toml:"capture.ffmpeg_options" env:"CAPTURE_FFMPEG_OPTIONS"`

	PipelineEdgeDetection bool `toml:"pipeline.edge_detection" env:"PIPELINE_EDGE_DETECTION"`
	PipelineOutputWidth   int  `toml:"pipeline.output_width" env:"PIPELINE_OUTPUT_WIDTH"`

	UploadEnabled      bool          `toml:"upload.enabled" env:"UPLOAD_ENABLED"`
	UploadURL          string        `toml:"upload.url" env:"UPLOAD_URL"`
	UploadEveryN       int           `toml:"upload.every_n" env:"UPLOAD_EVERY_N"`
	UploadMaxDimension int           `toml:"upload.max_dimension" env:"UPLOAD_MAX_DIMENSION"`
	UploadJpegQuality  int           `toml:"upload.jpeg_quality" env:"UPLOAD_JPEG_QUALITY"`
	UploadTimeout      time.Duration `toml:"upload.timeout" env:"UPLOAD_TIMEOUT"`

	ObsPrometheusEnabled bool `toml:"obs.prometheus_enabled" env:"OBS_PROMETHEUS_ENABLED"`

	LoggingLevel  string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `toml:"logging.format" env:"LOGGING_FORMAT"`
}

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	opts := &CaptureOptions{}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run the capture and edge detection pipeline",
		Long: `Opens a capture device, converts every sample to NV21, runs edge detection on a single worker ` +
			`and shows the result on a preview endpoint. Every Nth processed frame is uploaded to a relay when enabled. ` +
			`Edge detection and upload settings are reloaded from the config file without restarting capture.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if err := config.LoadConfig(opts, c); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCapture(ctx, c, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Config, "config", "c", "config.toml", "Path to configuration file")
	f.StringVar(&opts.Listen, "listen", ":9100", "Address for the metrics, preview and pipeline API listener (empty disables)")
	f.StringVar(&opts.CaptureDevice, "capture-device", "test", `Capture device: "test", "lavfi" or a /dev/videoN path`)
	f.IntVar(&opts.CaptureFps, "capture-fps", 30, "Capture frame rate")
	f.StringVar(&opts.CaptureInputFormat, "capture-input-format", "", "V4L2 input format (empty picks the first decodable one)")
	f.StringVar(&opts.CaptureChromaOrder, "capture-chroma-order", "vu", "Chroma order of converted frames (vu or uv)")
	f.StringVar(&opts.CaptureTestLayout, "capture-test-layout", "vu", "Plane layout of the test device (vu, uv, planar, padded)")
	f.StringSliceVar(&opts.CaptureFfmpegOptions, "capture-ffmpeg-options", nil,
		"ffmpeg input options for V4L2 devices (wallclock_ts, thread_queue_1024, thread_queue_4096, low_latency, ignore_err)")
	f.BoolVar(&opts.PipelineEdgeDetection, "pipeline-edge-detection", true, "Apply edge detection")
	f.IntVar(&opts.PipelineOutputWidth, "pipeline-output-width", 480, "Width of processed frames")
	f.BoolVar(&opts.UploadEnabled, "upload-enabled", false, "Upload every Nth frame to the relay")
	f.StringVar(&opts.UploadURL, "upload-url", "", "Relay upload URL, e.g. http://relay:9000/upload")
	f.IntVar(&opts.UploadEveryN, "upload-every-n", upload.DefaultEveryN, "Upload one frame out of N")
	f.IntVar(&opts.UploadMaxDimension, "upload-max-dimension", upload.DefaultMaxDimension, "Longest side of uploaded frames")
	f.IntVar(&opts.UploadJpegQuality, "upload-jpeg-quality", upload.DefaultQuality, "JPEG quality of uploaded frames")
	f.DurationVar(&opts.UploadTimeout, "upload-timeout", upload.DefaultTimeout, "Connect, write and read timeout of an upload")
	f.BoolVar(&opts.ObsPrometheusEnabled, "obs-prometheus-enabled", true, "Serve Prometheus metrics on the listener")
	f.StringVar(&opts.LoggingLevel, "logging-level", "info", "Global logging level (debug, info, warn, error)")
	f.StringVar(&opts.LoggingFormat, "logging-format", "text", "Logging format (text, json)")

	return cmd
}

func runCapture(ctx context.Context, c *cobra.Command, opts *CaptureOptions) error {
	loggingConfig := config.LoadLoggingConfig(opts.Config)
	loggingConfig.Level = opts.LoggingLevel
	loggingConfig.Format = opts.LoggingFormat
	logging.Initialize(loggingConfig)
	logger := logging.GetLogger("main")

	order, err := yuv.ParseChromaOrder(opts.CaptureChromaOrder)
	if err != nil {
		return err
	}

	ffmpegOptions, err := ffmpeg.ParseOptions(opts.CaptureFfmpegOptions)
	if err != nil {
		return err
	}

	device, err := capture.NewDevice(capture.DeviceOptions{
		Device:        opts.CaptureDevice,
		FPS:           opts.CaptureFps,
		InputFormat:   opts.CaptureInputFormat,
		Layout:        capture.ParseLayout(opts.CaptureTestLayout),
		FFmpegOptions: ffmpegOptions,
		Logger:        logging.GetLogger("capture"),
	})
	if err != nil {
		return err
	}

	bus := events.New()
	api.ForwardLogs(bus)
	uploader := upload.New(upload.Options{
		URL:          opts.UploadURL,
		Enabled:      opts.UploadEnabled && opts.UploadURL != "",
		EveryN:       opts.UploadEveryN,
		MaxDimension: opts.UploadMaxDimension,
		Quality:      opts.UploadJpegQuality,
		Timeout:      opts.UploadTimeout,
		Device:       device.Name(),
		Bus:          bus,
	})
	if opts.UploadEnabled && opts.UploadURL == "" {
		logger.Warn("Upload enabled without upload.url, uploads stay off")
	}

	p := pipeline.New(pipeline.Options{
		Device:        device,
		ChromaOrder:   order,
		OutputWidth:   opts.PipelineOutputWidth,
		EdgeDetection: opts.PipelineEdgeDetection,
		Uploader:      uploader,
		Bus:           bus,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.Run(gctx)
	})

	if node := capture.DeviceNode(opts.CaptureDevice); node != "" {
		g.Go(func() error {
			return watchDeviceRemoval(gctx, node, bus)
		})
	}

	if opts.Listen != "" {
		apiOpts := &api.Options{Pipeline: p, EventBus: bus}
		if opts.ObsPrometheusEnabled {
			apiOpts.PrometheusHandler = metrics.Handler()
		}
		server := api.NewServer(apiOpts)

		g.Go(func() error {
			if err := server.Start(opts.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})
	}

	watcher := newCaptureWatcher(c, opts, p)
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			logger.Warn("Config watcher failed, hot-reload disabled", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return reloadOnHangup(gctx, watcher)
	})

	g.Go(func() error {
		systemd.Watchdog(gctx, logger)
		return nil
	})
	systemd.Ready(logger)
	systemd.Status(logger, "capturing from "+device.Name())

	logger.Info("Capture started",
		"device", device.Name(),
		"chroma_order", order.String(),
		"edge_detection", opts.PipelineEdgeDetection,
		"upload_url", opts.UploadURL)

	err = g.Wait()
	systemd.Stopping(logger)
	logger.Info("Capture stopped", "error", err)
	return err
}

// newCaptureWatcher reloads the config file on change and applies the
// settings that can change without reopening the device. Flags set on the
// command line keep precedence over the file.
func newCaptureWatcher(c *cobra.Command, opts *CaptureOptions, p *pipeline.Pipeline) *config.Watcher[CaptureOptions] {
	base := *opts
	loader := func(path string) (CaptureOptions, error) {
		fresh := base
		fresh.Config = path
		err := config.LoadConfig(&fresh, c)
		return fresh, err
	}

	logger := logging.GetLogger("config")
	watcher := config.NewConfigWatcher(opts.Config, loader, logger,
		config.WithDebounce[CaptureOptions](config.DefaultDebounce))

	watcher.OnReload(func(fresh CaptureOptions) {
		p.SetEdgeDetection(fresh.PipelineEdgeDetection)

		enabled := fresh.UploadEnabled
		if enabled && fresh.UploadURL == "" {
			logger.Warn("Upload enabled without upload.url, uploads stay off")
			enabled = false
		}
		p.SetUploadTarget(enabled, fresh.UploadURL)

		for module, level := range config.LoadLoggingConfig(fresh.Config).Modules {
			if err := logging.SetModuleLevel(module, level); err != nil {
				logger.Warn("Ignoring module log level", "module", module, "error", err)
			}
		}
		logger.Debug("Applied reloaded capture settings",
			"edge_detection", fresh.PipelineEdgeDetection,
			"upload_enabled", enabled)
	})

	return watcher
}

// watchDeviceRemoval ends the capture run when the kernel removes the device
// node. Without a hotplug monitor the run continues unwatched.
func watchDeviceRemoval(ctx context.Context, node string, bus *events.Bus) error {
	logger := logging.GetLogger("capture")
	err := capture.WatchRemoval(ctx, node, func(ev hotplug.Event) {
		logger.Info("Capture device hotplug", "device", node, "action", ev.Action)
		bus.Publish(events.DeviceEvent{
			Device:    node,
			Action:    ev.Action,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	})
	if err != nil && !errors.Is(err, capture.ErrDeviceRemoved) {
		logger.Warn("Hotplug monitor unavailable", "device", node, "error", err)
		return nil
	}
	return err
}

// reloadOnHangup reloads the config file on SIGHUP.
func reloadOnHangup(ctx context.Context, watcher *config.Watcher[CaptureOptions]) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			logger := logging.GetLogger("config")
			systemd.Reloading(logger)
			if err := watcher.Reload(); err != nil {
				logger.Warn("SIGHUP reload failed", "error", err)
			}
			systemd.Ready(logger)
		}
	}
}
