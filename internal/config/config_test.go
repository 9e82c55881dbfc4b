package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// captureConfig mirrors the shape of the capture command options.
type captureConfig struct {
	Config string

	CaptureDevice         string        `toml:"capture.device" env:"CAPTURE_DEVICE"`
	CaptureFps            int           `toml:"capture.fps" env:"CAPTURE_FPS"`
	CaptureFfmpegOptions  []string      `toml:"capture.ffmpeg_options" env:"CAPTURE_FFMPEG_OPTIONS"`
	PipelineEdgeDetection bool          `toml:"pipeline.edge_detection" env:"PIPELINE_EDGE_DETECTION"`
	UploadURL             string        `toml:"upload.url" env:"UPLOAD_URL"`
	UploadTimeout         time.Duration `toml:"upload.timeout" env:"UPLOAD_TIMEOUT"`
	RelayMaxBodyBytes     int64         `toml:"relay.max_body_bytes" env:"RELAY_MAX_BODY_BYTES"`
	Ratio                 float64       `toml:"capture.ratio" env:"CAPTURE_RATIO"`
}

func defaultCaptureConfig(path string) *captureConfig {
	return &captureConfig{
		Config:                path,
		CaptureDevice:         "test",
		CaptureFps:            30,
		PipelineEdgeDetection: true,
		UploadTimeout:         5 * time.Second,
		RelayMaxBodyBytes:     10 << 20,
		Ratio:                 0.5625,
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

const captureTOML = `
[capture]
device = "/dev/video2"
fps = 15
ffmpeg_options = ["thread_queue_4096", "low_latency"]
ratio = 0.75

[pipeline]
edge_detection = false

[upload]
url = "http://relay:9000/upload"
timeout = "2s"

[relay]
max_body_bytes = 1024
`

func TestLoadConfigFromTOML(t *testing.T) {
	cfg := defaultCaptureConfig(writeConfig(t, captureTOML))
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := captureConfig{
		Config:                cfg.Config,
		CaptureDevice:         "/dev/video2",
		CaptureFps:            15,
		CaptureFfmpegOptions:  []string{"thread_queue_4096", "low_latency"},
		PipelineEdgeDetection: false,
		UploadURL:             "http://relay:9000/upload",
		UploadTimeout:         2 * time.Second,
		RelayMaxBodyBytes:     1024,
		Ratio:                 0.75,
	}
	if !reflect.DeepEqual(*cfg, want) {
		t.Errorf("Expected %+v, got %+v", want, *cfg)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("EDGERELAY_CAPTURE_DEVICE", "lavfi")
	t.Setenv("EDGERELAY_CAPTURE_FPS", "60")
	t.Setenv("EDGERELAY_CAPTURE_FFMPEG_OPTIONS", " wallclock_ts , ignore_err ")
	t.Setenv("EDGERELAY_PIPELINE_EDGE_DETECTION", "false")
	t.Setenv("EDGERELAY_UPLOAD_TIMEOUT", "250ms")
	t.Setenv("EDGERELAY_RELAY_MAX_BODY_BYTES", "2048")
	t.Setenv("EDGERELAY_CAPTURE_RATIO", "1.5")

	cfg := defaultCaptureConfig("")
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.CaptureDevice != "lavfi" || cfg.CaptureFps != 60 {
		t.Errorf("Expected lavfi at 60fps, got %s at %d", cfg.CaptureDevice, cfg.CaptureFps)
	}
	if want := []string{"wallclock_ts", "ignore_err"}; !reflect.DeepEqual(cfg.CaptureFfmpegOptions, want) {
		t.Errorf("Expected options %v, got %v", want, cfg.CaptureFfmpegOptions)
	}
	if cfg.PipelineEdgeDetection {
		t.Error("Expected edge detection disabled from env")
	}
	if cfg.UploadTimeout != 250*time.Millisecond {
		t.Errorf("Expected timeout 250ms, got %v", cfg.UploadTimeout)
	}
	if cfg.RelayMaxBodyBytes != 2048 {
		t.Errorf("Expected max body 2048, got %d", cfg.RelayMaxBodyBytes)
	}
	if cfg.Ratio != 1.5 {
		t.Errorf("Expected ratio 1.5, got %v", cfg.Ratio)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, captureTOML)
	t.Setenv("EDGERELAY_CAPTURE_FPS", "24")
	t.Setenv("EDGERELAY_UPLOAD_URL", "http://env-relay/upload")

	cmd := &cobra.Command{Use: "capture"}
	cfg := defaultCaptureConfig(path)
	cmd.Flags().StringVar(&cfg.UploadURL, "upload-url", "", "")
	cmd.Flags().IntVar(&cfg.CaptureFps, "capture-fps", 30, "")
	cmd.Flags().StringVar(&cfg.CaptureDevice, "capture-device", "test", "")
	if err := cmd.Flags().Parse([]string{"--upload-url", "http://cli-relay/upload"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if err := LoadConfig(cfg, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"flag beats env and file", cfg.UploadURL, "http://cli-relay/upload"},
		{"env beats file", cfg.CaptureFps, 24},
		{"file beats default", cfg.CaptureDevice, "/dev/video2"},
		{"default kept when unset", cfg.Config, path},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, tt.got)
		}
	}
}

func TestLoadConfigIgnoresBadValues(t *testing.T) {
	path := writeConfig(t, "[upload]\ntimeout = \"soon\"\n[capture]\nfps = \"fast\"\n")
	t.Setenv("EDGERELAY_RELAY_MAX_BODY_BYTES", "lots")

	cfg := defaultCaptureConfig(path)
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.UploadTimeout != 5*time.Second || cfg.CaptureFps != 30 || cfg.RelayMaxBodyBytes != 10<<20 {
		t.Errorf("Expected defaults kept for unparsable values, got %+v", *cfg)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := defaultCaptureConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatalf("Expected missing file to be ignored, got %v", err)
	}
	if cfg.CaptureDevice != "test" {
		t.Errorf("Expected default device, got %q", cfg.CaptureDevice)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	cfg := defaultCaptureConfig(writeConfig(t, "[capture\ndevice = "))
	if err := LoadConfig(cfg, nil); err == nil {
		t.Fatal("Expected an error for invalid TOML")
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"upload": map[string]any{
			"url":  "http://relay/upload",
			"opts": map[string]any{"every_n": int64(30)},
		},
		"port": ":9000",
	}

	tests := []struct {
		path string
		want any
	}{
		{"port", ":9000"},
		{"upload.url", "http://relay/upload"},
		{"upload.opts.every_n", int64(30)},
		{"upload.missing", nil},
		{"port.nested", nil},
		{"absent", nil},
	}
	for _, tt := range tests {
		if got := getNestedValue(data, tt.path); got != tt.want {
			t.Errorf("getNestedValue(%q): expected %v, got %v", tt.path, tt.want, got)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "warn"
format = "json"
capture = "debug"
dispatch = "debug"
upload = "error"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("Expected warn/json, got %s/%s", cfg.Level, cfg.Format)
	}
	want := map[string]string{"capture": "debug", "dispatch": "debug", "upload": "error"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("Expected modules %v, got %v", want, cfg.Modules)
	}

	if def := LoadLoggingConfig(""); def.Level != "info" || def.Format != "text" || len(def.Modules) != 0 {
		t.Errorf("Expected info/text defaults, got %+v", def)
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Port", "port"},
		{"LoggingLevel", "logging-level"},
		{"UploadURL", "upload-url"},
		{"UploadEveryN", "upload-every-n"},
		{"CaptureFps", "capture-fps"},
		{"CaptureFfmpegOptions", "capture-ffmpeg-options"},
		{"HTTPServerAddr", "http-server-addr"},
	}
	for _, tt := range tests {
		if got := fieldNameToFlag(tt.in); got != tt.want {
			t.Errorf("fieldNameToFlag(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
