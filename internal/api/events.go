package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/edgerelay/internal/api/models"
	"github.com/smazurov/edgerelay/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of capture state, pipeline stats, upload results, device hotplug and relay activity",
		Tags:        []string{"events"},
	}, map[string]any{
		"capture-state":  events.CaptureStateEvent{},
		"pipeline-stats": events.PipelineStatsEvent{},
		"upload-result":  events.UploadResultEvent{},
		"frame-relayed":  events.FrameRelayedEvent{},
		"subscriber":     events.SubscriberEvent{},
		"device":         events.DeviceEvent{},
		"connected":      models.StreamConnected{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		stream := events.NewStream(32)
		events.Listen[events.CaptureStateEvent](s.eventBus, stream)
		events.Listen[events.PipelineStatsEvent](s.eventBus, stream)
		events.Listen[events.UploadResultEvent](s.eventBus, stream)
		events.Listen[events.FrameRelayedEvent](s.eventBus, stream)
		events.Listen[events.SubscriberEvent](s.eventBus, stream)
		events.Listen[events.DeviceEvent](s.eventBus, stream)
		defer s.closeStream("events", stream)

		if err := send.Data(models.StreamConnected{
			Message:   "SSE connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-stream.C():
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

func (s *Server) closeStream(name string, stream *events.Stream) {
	stream.Close()
	if dropped := stream.Dropped(); dropped > 0 {
		s.logger.Debug("SSE client fell behind", "stream", name, "dropped", dropped)
	}
}
