// routes.go - Route registration helpers
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/filedeck/backend/internal/auth"
	"github.com/filedeck/backend/internal/models"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Files    FileTracker
	Blobs    BlobStore
	Types    TypeSource
	History  HistorySource
	Notices  NoticeCenter
	Accounts AccountService
	JWT      *auth.JWTManager
	Hub      *Hub
	Mode     string
	Version  string
	Logger   zerolog.Logger

	// DisableSignup turns off self-service registration.
	DisableSignup bool
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Auth    AuthHandler
	Files   FileHandler
	Stats   StatsHandler
	Notices NoticeHandler
	Admin   AdminHandler
	Hub     *Hub
	JWT     *auth.JWTManager
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.Mode, deps.Files),
		Auth:    NewAuthHandler(deps.Accounts, deps.JWT, !deps.DisableSignup, deps.Logger),
		Files:   NewFileHandler(deps.Files, deps.Blobs, deps.History, deps.Logger),
		Stats:   NewStatsHandler(deps.Types, deps.Files),
		Notices: NewNoticeHandler(deps.Notices),
		Admin:   NewAdminHandler(deps.Accounts, deps.Logger),
		Hub:     deps.Hub,
		JWT:     deps.JWT,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Public
	apiGroup.GET("/health", handlers.Health.HandleHealth)
	apiGroup.POST("/auth/login", handlers.Auth.HandleLogin)
	apiGroup.POST("/auth/register", handlers.Auth.HandleRegister)
	apiGroup.POST("/auth/logout", handlers.Auth.HandleLogout)

	// Everything below needs a valid access token
	secured := apiGroup.Group("", auth.Middleware(handlers.JWT))
	secured.GET("/auth/profile", handlers.Auth.HandleProfile)

	if handlers.Hub != nil {
		secured.GET("/ws", handlers.Hub.HandleWebSocket)
	}

	files := secured.Group("/files")
	files.GET("", handlers.Files.HandleListFiles)
	files.GET("/msgpack", handlers.Files.HandleListFilesMsgpack)
	files.POST("", handlers.Files.HandleUploadFiles)
	files.POST("/sync", handlers.Files.HandleSyncFiles)
	files.GET("/:id", handlers.Files.HandleGetFile)
	files.GET("/:id/history", handlers.Files.HandleFileHistory)
	files.POST("/:id/advance", handlers.Files.HandleAdvanceFile)
	files.POST("/:id/retry", handlers.Files.HandleRetryFile)
	files.DELETE("/:id", handlers.Files.HandleDeleteFile)

	stats := secured.Group("/stats")
	stats.GET("/types", handlers.Stats.HandleTypeBreakdown)
	stats.GET("/status", handlers.Stats.HandleStatusCounts)

	notices := secured.Group("/notices")
	notices.GET("", handlers.Notices.HandleListNotices)
	notices.DELETE("/:id", handlers.Notices.HandleDismissNotice)

	admin := secured.Group("/admin/users", auth.RequireRole(models.RoleAdmin))
	admin.GET("", handlers.Admin.HandleListUsers)
	admin.POST("", handlers.Admin.HandleCreateUser)
	admin.POST("/delete-confirm", handlers.Admin.HandleConfirmDelete)
	admin.POST("/delete-cancel", handlers.Admin.HandleCancelDelete)
	admin.GET("/:id", handlers.Admin.HandleGetUser)
	admin.PATCH("/:id", handlers.Admin.HandleUpdateUser)
	admin.POST("/:id/delete-request", handlers.Admin.HandleRequestDelete)
}

// MiddlewareConfig tunes SetupMiddleware.
type MiddlewareConfig struct {
	RequestLogging bool
	CORS           bool
	AllowOrigins   []string
	BodyLimit      string
	Timeout        time.Duration
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig, log zerolog.Logger) {
	e.HTTPErrorHandler = ErrorHandler
	e.Validator = NewValidator()

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error().Err(err).Bytes("stack", stack).Msg("panic recovered")
			return err
		},
	}))

	if cfg.RequestLogging {
		reqLog := log.With().Str("component", "http").Logger()
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return path == "/api/health" || path == "/api/ws"
			},
			LogMethod:   true,
			LogURI:      true,
			LogStatus:   true,
			LogLatency:  true,
			LogError:    true,
			HandleError: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				ev := reqLog.Info()
				if v.Error != nil || v.Status >= http.StatusInternalServerError {
					ev = reqLog.Error().Err(v.Error)
				}
				ev.Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
				return nil
			},
		}))
	}

	if cfg.Timeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: cfg.Timeout,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return path == "/api/ws" || strings.HasPrefix(path, "/api/files") && c.Request().Method == http.MethodPost
			},
			ErrorMessage: "Request timeout",
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.CORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     origins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
			AllowCredentials: !(len(origins) == 1 && origins[0] == "*"),
		}))
	}
}
