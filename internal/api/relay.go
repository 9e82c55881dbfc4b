package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/edgerelay/internal/api/models"
	"github.com/smazurov/edgerelay/internal/relay"
)

// registerRelayRoutes mounts the upload endpoint, the push channel and the
// relay stats. The first two are raw handlers: the upload response shape is
// fixed by the uploader and the push channel hijacks the connection.
func (s *Server) registerRelayRoutes() {
	s.mux.Handle("POST /upload", WithCORS(DefaultCORSConfig(), LoggingHandler(http.HandlerFunc(s.handleUpload))))
	s.mux.Handle("GET /ws", s.relay)

	huma.Register(s.api, huma.Operation{
		OperationID: "relay-stats",
		Method:      http.MethodGet,
		Path:        "/api/stats",
		Summary:     "Relay stats",
		Description: "Subscriber count, accepted and rejected uploads, and whether a frame is cached",
		Tags:        []string{"relay"},
	}, func(ctx context.Context, input *struct{}) (*models.RelayStatsResponse, error) {
		return &models.RelayStatsResponse{Body: s.relay.Stats()}, nil
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Upload handler panic", "panic", rec)
			writeUploadResult(w, http.StatusInternalServerError, fmt.Sprint(rec))
		}
	}()

	r.Body = http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes)

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.relay.Reject()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeUploadResult(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeUploadResult(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	image, ok := imageField(body)
	if !ok {
		s.relay.Reject()
		writeUploadResult(w, http.StatusBadRequest, relay.ErrEmptyImage.Error())
		return
	}

	if err := s.relay.Publish(image); err != nil {
		if errors.Is(err, relay.ErrEmptyImage) {
			s.relay.Reject()
			writeUploadResult(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Failed to relay frame", "error", err)
		writeUploadResult(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeUploadResult(w, http.StatusOK, "")
}

// imageField extracts a non-empty string "image" member.
func imageField(body map[string]json.RawMessage) (string, bool) {
	raw, ok := body["image"]
	if !ok {
		return "", false
	}
	var image string
	if err := json.Unmarshal(raw, &image); err != nil {
		return "", false
	}
	if strings.TrimSpace(image) == "" {
		return "", false
	}
	return image, true
}

func writeUploadResult(w http.ResponseWriter, status int, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.UploadResult{
		Success: errMsg == "",
		Error:   errMsg,
	})
}
