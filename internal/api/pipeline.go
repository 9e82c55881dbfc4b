package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/edgerelay/internal/api/models"
)

// registerPipelineRoutes exposes the running capture pipeline.
func (s *Server) registerPipelineRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/api/pipeline",
		Summary:     "Pipeline status",
		Description: "Capture state, frame rate, latency, dispatcher and upload counters",
		Tags:        []string{"pipeline"},
	}, func(ctx context.Context, input *struct{}) (*models.PipelineResponse, error) {
		return &models.PipelineResponse{Body: s.pipeline.Snapshot()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "patch-pipeline",
		Method:      http.MethodPatch,
		Path:        "/api/pipeline",
		Summary:     "Update pipeline",
		Description: "Toggle edge detection and uploads without restarting capture",
		Tags:        []string{"pipeline"},
		Errors:      []int{400},
	}, func(ctx context.Context, input *models.PipelinePatchRequest) (*models.PipelineResponse, error) {
		patch := input.Body
		if patch.EdgeDetection != nil {
			s.pipeline.SetEdgeDetection(*patch.EdgeDetection)
		}
		if patch.UploadEnabled != nil || patch.UploadURL != nil {
			current := s.pipeline.Snapshot().Upload
			if current == nil {
				return nil, huma.Error400BadRequest("pipeline has no uploader")
			}
			enabled, url := current.Enabled, current.URL
			if patch.UploadEnabled != nil {
				enabled = *patch.UploadEnabled
			}
			if patch.UploadURL != nil {
				url = *patch.UploadURL
			}
			if enabled && url == "" {
				return nil, huma.Error400BadRequest("upload_url is required to enable uploads")
			}
			s.pipeline.SetUploadTarget(enabled, url)
		}
		return &models.PipelineResponse{Body: s.pipeline.Snapshot()}, nil
	})

	s.mux.Handle("GET /preview.jpg", WithCORS(DefaultCORSConfig(), http.HandlerFunc(s.handlePreview)))
}

func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	data, ok, err := s.pipeline.PreviewJPEG(s.options.PreviewQuality)
	switch {
	case err != nil:
		s.logger.Warn("Failed to encode preview", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case !ok:
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
	default:
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(data)
	}
}
