// interfaces.go - Handler and dependency interfaces
package api

import (
	"context"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/filedeck/backend/internal/accounts"
	"github.com/filedeck/backend/internal/journal"
	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/notify"
	"github.com/filedeck/backend/internal/storage"
	"github.com/filedeck/backend/internal/tracker"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// AuthHandler handles sign-in and the current user's profile
type AuthHandler interface {
	HandleLogin(c echo.Context) error
	HandleRegister(c echo.Context) error
	HandleLogout(c echo.Context) error
	HandleProfile(c echo.Context) error
}

// FileHandler handles tracked file operations
type FileHandler interface {
	HandleListFiles(c echo.Context) error
	HandleListFilesMsgpack(c echo.Context) error
	HandleUploadFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleFileHistory(c echo.Context) error
	HandleAdvanceFile(c echo.Context) error
	HandleRetryFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleSyncFiles(c echo.Context) error
}

// StatsHandler handles aggregate views
type StatsHandler interface {
	HandleTypeBreakdown(c echo.Context) error
	HandleStatusCounts(c echo.Context) error
}

// NoticeHandler handles transient notifications
type NoticeHandler interface {
	HandleListNotices(c echo.Context) error
	HandleDismissNotice(c echo.Context) error
}

// AdminHandler handles user account administration
type AdminHandler interface {
	HandleListUsers(c echo.Context) error
	HandleGetUser(c echo.Context) error
	HandleCreateUser(c echo.Context) error
	HandleUpdateUser(c echo.Context) error
	HandleRequestDelete(c echo.Context) error
	HandleConfirmDelete(c echo.Context) error
	HandleCancelDelete(c echo.Context) error
}

// FileTracker is the part of the tracker the API drives.
type FileTracker interface {
	AddFiles(files []tracker.NewFile) ([]models.FileEntry, error)
	Get(id string) (models.FileEntry, error)
	Snapshot() []models.FileEntry
	Query(q tracker.Query) []models.FileEntry
	Start(id string) error
	Retry(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Sync(ctx context.Context, hydrate bool) (int, error)
	Counts() map[models.FileStatus]int
	Subscribe() (<-chan tracker.Event, func())
}

// BlobStore keeps uploaded bytes.
type BlobStore interface {
	Save(name string, r io.Reader) (*storage.Blob, error)
	Delete(id string) error
}

// TypeSource answers the file type breakdown, either from the remote
// service or from the local journal.
type TypeSource interface {
	TypeBreakdown(ctx context.Context) ([]models.TypeCount, error)
}

// HistorySource returns the recorded transitions of a file.
type HistorySource interface {
	History(ctx context.Context, fileID string) ([]journal.Transition, error)
}

// NoticeCenter is the notification feed.
type NoticeCenter interface {
	Active() []notify.Notice
	Dismiss(id string) bool
	Subscribe() (<-chan notify.Notice, func())
}

// AccountService manages user accounts.
type AccountService interface {
	List(ctx context.Context) ([]models.UserAccount, error)
	Get(ctx context.Context, id string) (models.UserAccount, error)
	Create(ctx context.Context, in accounts.NewAccount) (models.UserAccount, error)
	Update(ctx context.Context, id string, p accounts.Patch) (models.UserAccount, error)
	RequestDelete(ctx context.Context, id string) (accounts.DeleteIntent, error)
	ConfirmDelete(ctx context.Context, token string) error
	CancelDelete(token string) error
	Authenticate(ctx context.Context, email, password string) (models.UserAccount, error)
}

// TokenIssuer mints access tokens.
type TokenIssuer interface {
	GenerateAccessToken(user models.UserAccount) (string, error)
	AccessTokenDuration() int64
}
