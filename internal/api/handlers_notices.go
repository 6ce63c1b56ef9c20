// handlers_notices.go - Notification handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// NoticeHandlerImpl implements the NoticeHandler interface
type NoticeHandlerImpl struct {
	notices NoticeCenter
}

// NewNoticeHandler creates a new notice handler
func NewNoticeHandler(notices NoticeCenter) NoticeHandler {
	return &NoticeHandlerImpl{notices: notices}
}

// HandleListNotices returns the notices that have not expired or been dismissed.
func (h *NoticeHandlerImpl) HandleListNotices(c echo.Context) error {
	return c.JSON(http.StatusOK, h.notices.Active())
}

// HandleDismissNotice removes a notice.
func (h *NoticeHandlerImpl) HandleDismissNotice(c echo.Context) error {
	id := c.Param("id")
	if !h.notices.Dismiss(id) {
		return NewNotFoundError("notice", id)
	}
	return c.NoContent(http.StatusNoContent)
}
