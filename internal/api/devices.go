package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/edgerelay/internal/api/models"
	"github.com/smazurov/edgerelay/internal/capture"
	"github.com/smazurov/edgerelay/internal/logging"
)

// registerDeviceRoutes lists capture devices on this host.
func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List V4L2 capture devices, their output sizes and the preview size a session would choose",
		Tags:        []string{"devices"},
		Errors:      []int{500},
	}, func(ctx context.Context, input *struct{}) (*models.DevicesResponse, error) {
		reports, err := capture.ProbeDevices(ctx, logging.GetLogger("capture"))
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to list devices", err)
		}
		return &models.DevicesResponse{
			Body: models.DevicesData{Devices: reports, Count: len(reports)},
		}, nil
	})
}
