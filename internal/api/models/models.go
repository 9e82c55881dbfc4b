package models

import (
	"github.com/smazurov/edgerelay/internal/capture"
	"github.com/smazurov/edgerelay/internal/logging"
	"github.com/smazurov/edgerelay/internal/pipeline"
	"github.com/smazurov/edgerelay/internal/relay"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.21.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// UploadResult is the body of every POST /upload response.
type UploadResult struct {
	Success bool   `json:"success" example:"false" doc:"Whether the frame was accepted"`
	Error   string `json:"error,omitempty" example:"missing image (base64) in body" doc:"Reason the upload was rejected"`
}

// Relay models
type RelayStatsResponse struct {
	Body relay.Stats
}

// Pipeline models
type PipelineResponse struct {
	Body pipeline.Snapshot
}

// PipelinePatch changes pipeline settings at runtime. Omitted fields keep
// their current value.
type PipelinePatch struct {
	EdgeDetection *bool   `json:"edge_detection,omitempty" doc:"Apply the edge detection step"`
	UploadEnabled *bool   `json:"upload_enabled,omitempty" doc:"Enable periodic uploads"`
	UploadURL     *string `json:"upload_url,omitempty" example:"http://relay:9000/upload" doc:"Relay upload URL"`
}

type PipelinePatchRequest struct {
	Body PipelinePatch
}

// Device models
type DevicesData struct {
	Devices []capture.DeviceReport `json:"devices" doc:"Capture devices with their output sizes"`
	Count   int                    `json:"count" example:"1" doc:"Number of devices"`
}

type DevicesResponse struct {
	Body DevicesData
}

// Log models
type LogsInput struct {
	Limit int `query:"limit" minimum:"0" maximum:"1000" default:"100" doc:"Most recent entries to return, 0 for all"`
}

type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Log entries, oldest first"`
	Count   int                `json:"count" example:"100" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}

// StreamConnected is the first event on every SSE stream.
type StreamConnected struct {
	Message   string `json:"message" example:"SSE connection established" doc:"Connection message"`
	Timestamp string `json:"timestamp" example:"2025-01-09T10:30:00Z" doc:"Connection time"`
}
