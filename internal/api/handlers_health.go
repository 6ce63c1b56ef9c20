// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	mode    string
	files   FileTracker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, mode string, files FileTracker) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		mode:    mode,
		files:   files,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"mode":    h.mode,
	}
	if h.files != nil {
		total := 0
		for _, n := range h.files.Counts() {
			total += n
		}
		resp["files"] = total
	}
	return c.JSON(http.StatusOK, resp)
}
