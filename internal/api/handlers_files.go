// handlers_files.go - Tracked file handlers
package api

import (
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/filedeck/backend/internal/extract"
	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/tracker"
)

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	files   FileTracker
	blobs   BlobStore
	history HistorySource
	log     zerolog.Logger
}

// NewFileHandler creates a new file handler. history may be nil.
func NewFileHandler(files FileTracker, blobs BlobStore, history HistorySource, log zerolog.Logger) FileHandler {
	return &FileHandlerImpl{
		files:   files,
		blobs:   blobs,
		history: history,
		log:     log.With().Str("component", "api.files").Logger(),
	}
}

// fileListResponse is the snapshot returned by the list endpoints.
type fileListResponse struct {
	Files  []models.FileEntryView    `json:"files" msgpack:"files"`
	Total  int                       `json:"total" msgpack:"total"`
	Counts map[models.FileStatus]int `json:"counts" msgpack:"counts"`
	Sort   string                    `json:"sort" msgpack:"sort"`
}

func (h *FileHandlerImpl) list(c echo.Context) (*fileListResponse, error) {
	q, err := tracker.ParseQuery(c.QueryParam("search"), c.QueryParam("status"), c.QueryParam("sort"))
	if err != nil {
		return nil, NewBadRequestError("invalid query", err)
	}
	entries := h.files.Query(q)
	return &fileListResponse{
		Files:  models.Views(entries),
		Total:  len(entries),
		Counts: h.files.Counts(),
		Sort:   q.Sort.String(),
	}, nil
}

// HandleListFiles returns a filtered, sorted snapshot.
// Query: search, status (or "all"), sort ("name-asc", "size-desc", "uploadedAt-desc"...)
func (h *FileHandlerImpl) HandleListFiles(c echo.Context) error {
	resp, err := h.list(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleListFilesMsgpack returns the same snapshot encoded as MessagePack.
func (h *FileHandlerImpl) HandleListFilesMsgpack(c echo.Context) error {
	resp, err := h.list(c)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleUploadFiles accepts one or more multipart "file" parts and starts
// tracking them.
func (h *FileHandlerImpl) HandleUploadFiles(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("expected multipart form", err)
	}
	parts := form.File["file"]
	if len(parts) == 0 {
		return NewValidationError("file")
	}

	var (
		files   []tracker.NewFile
		blobIDs []string
	)
	cleanup := func() {
		for _, id := range blobIDs {
			if err := h.blobs.Delete(id); err != nil {
				h.log.Warn().Err(err).Str("blob", id).Msg("failed to drop blob")
			}
		}
	}

	for _, part := range parts {
		if part.Filename == "" {
			cleanup()
			return NewValidationError("file")
		}
		nf, err := h.store(part)
		if err != nil {
			cleanup()
			return NewInternalError("failed to save file", err)
		}
		blobIDs = append(blobIDs, nf.BlobID)
		files = append(files, nf)
	}

	entries, err := h.files.AddFiles(files)
	if err != nil {
		cleanup()
		return FromDomain(err, "")
	}

	h.log.Info().Int("count", len(entries)).Msg("files added")
	return c.JSON(http.StatusCreated, models.Views(entries))
}

func (h *FileHandlerImpl) store(part *multipart.FileHeader) (tracker.NewFile, error) {
	src, err := part.Open()
	if err != nil {
		return tracker.NewFile{}, err
	}
	defer src.Close()

	mime, r, err := extract.DetectReader(src)
	if err != nil {
		return tracker.NewFile{}, err
	}
	blob, err := h.blobs.Save(part.Filename, r)
	if err != nil {
		return tracker.NewFile{}, err
	}
	return tracker.NewFile{
		Name:      part.Filename,
		SizeBytes: blob.Size,
		MimeType:  mime,
		BlobID:    blob.ID,
	}, nil
}

// HandleGetFile returns one entry.
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	entry, err := h.files.Get(id)
	if err != nil {
		return FromDomain(err, id)
	}
	return c.JSON(http.StatusOK, entry.View())
}

// HandleFileHistory returns the recorded status transitions of a file.
func (h *FileHandlerImpl) HandleFileHistory(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("history is not recorded")
	}
	id := c.Param("id")
	transitions, err := h.history.History(c.Request().Context(), id)
	if err != nil {
		return NewInternalError("failed to load history", err)
	}
	if len(transitions) == 0 {
		if _, err := h.files.Get(id); err != nil {
			return NewNotFoundError("file", id)
		}
	}
	return c.JSON(http.StatusOK, transitions)
}

// HandleAdvanceFile starts processing a pending file. Needed when the tracker
// does not advance uploads on its own.
func (h *FileHandlerImpl) HandleAdvanceFile(c echo.Context) error {
	id := c.Param("id")
	if err := h.files.Start(id); err != nil {
		return FromDomain(err, id)
	}
	entry, err := h.files.Get(id)
	if err != nil {
		return FromDomain(err, id)
	}
	return c.JSON(http.StatusAccepted, entry.View())
}

// HandleRetryFile resets a failed file and processes it again.
func (h *FileHandlerImpl) HandleRetryFile(c echo.Context) error {
	id := c.Param("id")
	if err := h.files.Retry(c.Request().Context(), id); err != nil {
		return FromDomain(err, id)
	}
	entry, err := h.files.Get(id)
	if err != nil {
		// gone again, or a local no-op for an unknown id
		return c.NoContent(http.StatusAccepted)
	}
	return c.JSON(http.StatusAccepted, entry.View())
}

// HandleDeleteFile removes a file.
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if err := h.files.Delete(c.Request().Context(), id); err != nil {
		return FromDomain(err, id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSyncFiles reconciles with the remote service.
// Query: hydrate=true also adopts files only the server knows about.
func (h *FileHandlerImpl) HandleSyncFiles(c echo.Context) error {
	hydrate, _ := strconv.ParseBool(c.QueryParam("hydrate"))
	changed, err := h.files.Sync(c.Request().Context(), hydrate)
	if err != nil {
		return FromDomain(err, "")
	}
	return c.JSON(http.StatusOK, map[string]int{"changed": changed})
}
