// handlers_stats.go - Aggregate view handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/filedeck/backend/internal/models"
)

// StatsHandlerImpl implements the StatsHandler interface
type StatsHandlerImpl struct {
	types TypeSource
	files FileTracker
}

// NewStatsHandler creates a new stats handler. types is the remote client
// in remote mode and the journal otherwise.
func NewStatsHandler(types TypeSource, files FileTracker) StatsHandler {
	return &StatsHandlerImpl{types: types, files: files}
}

// HandleTypeBreakdown returns file counts grouped by type.
func (h *StatsHandlerImpl) HandleTypeBreakdown(c echo.Context) error {
	if h.types == nil {
		return NewServiceUnavailableError("type breakdown unavailable")
	}
	counts, err := h.types.TypeBreakdown(c.Request().Context())
	if err != nil {
		return FromDomain(err, "")
	}
	if counts == nil {
		counts = []models.TypeCount{}
	}
	return c.JSON(http.StatusOK, counts)
}

// HandleStatusCounts returns the number of tracked files per status.
// Every status is present, zero included.
func (h *StatsHandlerImpl) HandleStatusCounts(c echo.Context) error {
	counts := h.files.Counts()
	out := make(map[models.FileStatus]int, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		out[s] = counts[s]
	}
	return c.JSON(http.StatusOK, out)
}
