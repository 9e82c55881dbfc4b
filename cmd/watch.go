package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/smazurov/edgerelay/internal/logging"
	"github.com/smazurov/edgerelay/internal/relay"
	"github.com/spf13/cobra"
)

// CreateWatchCmd creates the watch command.
func CreateWatchCmd() *cobra.Command {
	var (
		outDir       string
		maxFrames    int
		pingInterval time.Duration
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "watch [ws-url]",
		Short: "Subscribe to a relay push channel",
		Long: `Connects to a relay push channel as a subscriber, sends a ping, prints hello and pong messages ` +
			`and writes every received frame to the output directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			url := "ws://localhost:9000/ws"
			if len(args) == 1 {
				url = args[0]
			}

			logging.Initialize(logging.Config{Level: logLevel, Format: "text"})
			logger := logging.GetLogger("watch")

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			frames := 0
			onMessage := func(msg relay.Message) {
				switch msg.Type {
				case relay.TypeHello:
					fmt.Printf("hello: %s\n", msg.Message)
				case relay.TypePong:
					fmt.Printf("pong: ts=%d (%s)\n", msg.TS, time.UnixMilli(msg.TS).Format(time.RFC3339Nano))
				case relay.TypeFrame:
					frames++
					path, n, err := saveFrame(outDir, frames, msg.Image)
					if err != nil {
						logger.Warn("Failed to save frame", "frame", frames, "error", err)
					} else {
						fmt.Printf("frame %d: %d bytes%s\n", frames, n, path)
					}
					if maxFrames > 0 && frames >= maxFrames {
						cancel()
					}
				default:
					logger.Debug("Unknown message", "type", msg.Type)
				}
			}

			return relay.Watch(ctx, relay.WatchOptions{
				URL:          url,
				PingInterval: pingInterval,
				OnMessage:    onMessage,
				Logger:       logger,
			})
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory for received frames (empty only prints)")
	cmd.Flags().IntVarP(&maxFrames, "frames", "n", 0, "Exit after this many frames (0 runs until interrupted)")
	cmd.Flags().DurationVar(&pingInterval, "ping-interval", 0, "Ping repeatedly at this interval (0 pings once)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Logging level")

	return cmd
}

// saveFrame decodes a frame and writes it to dir. Without dir it only
// decodes; the returned path suffix is empty.
func saveFrame(dir string, n int, image string) (string, int, error) {
	mediaType, data, err := relay.DecodeDataURL(image)
	if err != nil {
		return "", 0, err
	}
	if dir == "" {
		return "", len(data), nil
	}

	ext := ".bin"
	switch mediaType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	}
	path := filepath.Join(dir, fmt.Sprintf("frame-%05d%s", n, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", 0, err
	}
	return " -> " + path, len(data), nil
}
