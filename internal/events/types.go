package events

// Event type constants for kelindar/event.
const (
	TypeCaptureState uint32 = iota + 1
	TypePipelineStats
	TypeUploadResult
	TypeFrameRelayed
	TypeSubscriber
	TypeLogEntry
	TypeDevice
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CaptureStateEvent is published on every capture controller transition.
type CaptureStateEvent struct {
	Device    string `json:"device" example:"/dev/video0" doc:"Capture device"`
	From      string `json:"from" example:"opened" doc:"Previous state"`
	To        string `json:"to" example:"previewing" doc:"New state"`
	Error     string `json:"error,omitempty" doc:"Error that caused the transition"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureStateEvent.
func (e CaptureStateEvent) Type() uint32 { return TypeCaptureState }

// PipelineStatsEvent carries the once-per-second pipeline window.
type PipelineStatsEvent struct {
	Device    string  `json:"device" example:"/dev/video0" doc:"Capture device"`
	FPS       float64 `json:"fps" example:"24.5" doc:"Frames processed in the last window"`
	LatencyMs float64 `json:"latency_ms" example:"12.3" doc:"Mean processing latency in the last window"`
	Accepted  uint64  `json:"accepted" doc:"Frames accepted by the dispatcher since start"`
	Dropped   uint64  `json:"dropped" doc:"Frames dropped because the processor was busy"`
	Failed    uint64  `json:"failed" doc:"Frames whose processing failed"`
	Timestamp string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineStatsEvent.
func (e PipelineStatsEvent) Type() uint32 { return TypePipelineStats }

// UploadResultEvent is published after every upload attempt.
type UploadResultEvent struct {
	Device     string  `json:"device" example:"/dev/video0" doc:"Capture device"`
	Success    bool    `json:"success" doc:"Whether the relay accepted the frame"`
	Error      string  `json:"error,omitempty" doc:"Failure reason"`
	DurationMs float64 `json:"duration_ms" example:"48.2" doc:"Round trip duration"`
	Succeeded  uint64  `json:"succeeded" doc:"Successful uploads since start"`
	Failed     uint64  `json:"failed" doc:"Failed uploads since start"`
	Timestamp  string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for UploadResultEvent.
func (e UploadResultEvent) Type() uint32 { return TypeUploadResult }

// FrameRelayedEvent is published when the relay fans out a new frame.
type FrameRelayedEvent struct {
	Bytes       int    `json:"bytes" example:"24576" doc:"Size of the data URL"`
	Subscribers int    `json:"subscribers" example:"2" doc:"Viewers the frame was queued for"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrameRelayedEvent.
func (e FrameRelayedEvent) Type() uint32 { return TypeFrameRelayed }

// SubscriberEvent is published when a viewer joins or leaves the relay.
type SubscriberEvent struct {
	ID          string `json:"id" doc:"Subscriber identifier"`
	Action      string `json:"action" example:"joined" doc:"Action type: joined, left"`
	Remote      string `json:"remote,omitempty" example:"10.0.0.7:51234" doc:"Remote address"`
	Subscribers int    `json:"subscribers" example:"1" doc:"Subscribers after the change"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SubscriberEvent.
func (e SubscriberEvent) Type() uint32 { return TypeSubscriber }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// DeviceEvent is published when the kernel reports the capture device
// appearing or disappearing.
type DeviceEvent struct {
	Device    string `json:"device" example:"/dev/video0" doc:"Device node"`
	Action    string `json:"action" example:"remove" doc:"Kernel action: add, remove"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceEvent.
func (e DeviceEvent) Type() uint32 { return TypeDevice }
