package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/filedeck/backend/internal/accounts"
	"github.com/filedeck/backend/internal/api"
	"github.com/filedeck/backend/internal/auth"
	"github.com/filedeck/backend/internal/channel"
	"github.com/filedeck/backend/internal/config"
	"github.com/filedeck/backend/internal/extract"
	"github.com/filedeck/backend/internal/journal"
	"github.com/filedeck/backend/internal/notify"
	"github.com/filedeck/backend/internal/remote"
	"github.com/filedeck/backend/internal/storage"
	"github.com/filedeck/backend/internal/summarize"
	"github.com/filedeck/backend/internal/tracker"
	"github.com/filedeck/backend/internal/watch"
	"github.com/filedeck/backend/internal/web"
)

// app holds every long-lived component of the server.
type app struct {
	cfg *config.AppConfig
	log zerolog.Logger

	blobs    *storage.LocalStore
	notices  *notify.Center
	client   *remote.Client
	tracker  *tracker.Tracker
	journal  *journal.Journal
	accounts *accounts.Service
	hub      *api.Hub
	channel  channel.Channel
	redis    *redis.Client
	inbox    *watch.Inbox

	echo     *echo.Echo
	server   *http.Server
	embedded bool

	closeOnce sync.Once
}

func newApp(cfg *config.AppConfig, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	if err := a.init(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	cfg, log := a.cfg, a.log
	var err error

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	a.blobs, err = storage.NewLocalStore(cfg.Storage.UploadsDirectory)
	if err != nil {
		return errors.Errorf("initializing storage: %w", err)
	}
	a.notices = notify.NewCenter(cfg.Notices.Capacity, config.Seconds(cfg.Notices.TTLSeconds))

	strategy, err := a.newStrategy()
	if err != nil {
		return err
	}
	a.tracker = tracker.New(strategy, tracker.Options{
		Placement:   tracker.Placement(cfg.Tracker.Placement),
		AutoAdvance: cfg.Tracker.AutoAdvance,
		Notifier:    a.notices,
		Blobs:       a.blobs,
		Logger:      log,
	})

	a.journal, err = journal.OpenTuned(cfg.Storage.JournalPath, cfg.Advanced.DuckDBThreads, cfg.Advanced.DuckDBMemoryLimit, log)
	if err != nil {
		return err
	}

	if err := a.openAccounts(); err != nil {
		return err
	}

	if a.channel, err = a.newChannel(); err != nil {
		return err
	}

	if cfg.Watch.Enabled {
		a.inbox, err = watch.NewInbox(cfg.Watch.Directory, cfg.Watch.Include, a.blobs, a.tracker, log)
		if err != nil {
			return err
		}
	}

	a.hub = api.NewHub(a.tracker, a.notices, cfg.Advanced.WebSocketMaxMessageSizeKB, log)
	a.setupHTTP()
	return nil
}

// newStrategy picks the lifecycle strategy for the configured mode.
func (a *app) newStrategy() (tracker.Strategy, error) {
	cfg := a.cfg
	switch cfg.Tracker.Mode {
	case config.ModeRemote:
		a.client = remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token, config.Seconds(cfg.Remote.TimeoutSeconds))
		return tracker.NewRemotePipeline(a.client, a.blobs, cfg.Tracker.SyncPageSize), nil
	case config.ModeLocal:
		var s summarize.Summarizer
		if cfg.Summarizer.Endpoint != "" {
			s = summarize.NewHTTPSummarizer(cfg.Summarizer.Endpoint, cfg.Summarizer.Token, config.Seconds(cfg.Summarizer.TimeoutSeconds))
		} else {
			leading := summarize.NewLeading()
			if cfg.Summarizer.Sentences > 0 {
				leading.Sentences = cfg.Summarizer.Sentences
			}
			if cfg.Summarizer.MaxChars > 0 {
				leading.MaxChars = cfg.Summarizer.MaxChars
			}
			s = leading
		}
		registry := extract.NewRegistry(int64(cfg.Summarizer.MaxTextKB) * 1024)
		delay := time.Duration(cfg.Tracker.StageDelayMillis) * time.Millisecond
		return tracker.NewLocalPipeline(a.blobs, registry, summarize.Checked(s), delay), nil
	default:
		return nil, errors.Errorf("unknown tracker mode %q", cfg.Tracker.Mode)
	}
}

func (a *app) openAccounts() error {
	cfg := a.cfg.Auth
	svc, err := accounts.Open(a.cfg.Storage.AccountsPath, auth.NewPasswordHasherWithCost(cfg.BcryptCost), a.log)
	if err != nil {
		return err
	}
	a.accounts = svc
	if cfg.DeleteConfirmTTLSeconds > 0 {
		svc.SetDeleteTTL(config.Seconds(cfg.DeleteConfirmTTLSeconds))
	}

	if cfg.BootstrapAdminEmail == "" || cfg.BootstrapAdminPassword == "" {
		return nil
	}
	created, err := svc.EnsureAdmin(context.Background(), accounts.NewAccount{
		Name:     cfg.BootstrapAdminName,
		Email:    cfg.BootstrapAdminEmail,
		Password: cfg.BootstrapAdminPassword,
		Role:     "admin",
	})
	if err != nil {
		return errors.Errorf("creating bootstrap admin: %w", err)
	}
	if created {
		a.log.Info().Str("email", cfg.BootstrapAdminEmail).Msg("bootstrap admin created")
	}
	return nil
}

// newChannel builds the status update source. Nil means none is configured.
func (a *app) newChannel() (channel.Channel, error) {
	cfg := a.cfg.Channel
	reconnect := config.Seconds(cfg.ReconnectSeconds)

	switch cfg.Kind {
	case config.ChannelNone, "":
		return nil, nil
	case config.ChannelWebSocket:
		token := func() string { return a.cfg.Remote.Token }
		if a.client != nil {
			token = a.client.Token
		}
		return channel.NewWebSocket(cfg.URL, token, reconnect, a.log), nil
	case config.ChannelRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		return channel.NewRedis(a.redis, cfg.RedisChannel, a.log), nil
	case config.ChannelPoll:
		if a.client == nil {
			return nil, errors.New("polling needs remote mode")
		}
		return channel.NewPoller(a.client, config.Seconds(cfg.PollIntervalSeconds), a.cfg.Tracker.SyncPageSize, a.log), nil
	default:
		return nil, errors.Errorf("unknown channel kind %q", cfg.Kind)
	}
}

func (a *app) setupHTTP() {
	cfg := a.cfg

	jwtCfg := auth.DefaultJWTConfig()
	jwtCfg.SecretKey = cfg.Auth.JWTSecret
	if cfg.Auth.Issuer != "" {
		jwtCfg.Issuer = cfg.Auth.Issuer
	}
	if cfg.Auth.TokenTTLMinutes > 0 {
		jwtCfg.AccessTokenDuration = config.Minutes(cfg.Auth.TokenTTLMinutes)
	}

	var types api.TypeSource = a.journal
	if a.client != nil {
		types = a.client
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareConfig{
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		CORS:           cfg.Server.EnableCORS,
		AllowOrigins:   cfg.Server.AllowOrigins,
		BodyLimit:      cfg.Server.BodyLimit,
		Timeout:        config.Seconds(cfg.Server.ReadTimeoutSeconds),
	}, a.log)

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Files:         a.tracker,
		Blobs:         a.blobs,
		Types:         types,
		History:       a.journal,
		Notices:       a.notices,
		Accounts:      a.accounts,
		JWT:           auth.NewJWTManager(jwtCfg),
		Hub:           a.hub,
		DisableSignup: cfg.Auth.DisableSignup,
		Mode:          cfg.Tracker.Mode,
		Version:       Version,
		Logger:        a.log,
	}))

	a.embedded = web.Register(e, web.Bundle())
	a.echo = e
	a.server = &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      e,
		ReadTimeout:  config.Seconds(cfg.Server.ReadTimeoutSeconds),
		WriteTimeout: config.Seconds(cfg.Server.WriteTimeoutSeconds),
		IdleTimeout:  config.Seconds(cfg.Server.IdleTimeoutSeconds),
	}
}

// Run starts the background workers and the HTTP server and blocks until
// ctx is cancelled or one of them fails.
func (a *app) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	events, stopEvents := a.tracker.Subscribe()
	g.Go(func() error {
		defer stopEvents()
		return a.journal.Follow(ctx, events)
	})

	g.Go(func() error { return a.hub.Run(ctx) })

	if a.cfg.Tracker.CleanupIntervalMinutes > 0 {
		g.Go(func() error {
			a.tracker.RunCleanup(ctx, config.Minutes(a.cfg.Tracker.CleanupIntervalMinutes), config.Minutes(a.cfg.Tracker.TerminalMaxAgeMinutes))
			return nil
		})
	}

	if a.channel != nil {
		g.Go(func() error { return a.followChannel(ctx) })
	}

	if a.inbox != nil {
		g.Go(func() error { return a.inbox.Run(ctx) })
	}

	if a.cfg.Tracker.SyncOnStart && a.client != nil {
		g.Go(func() error {
			n, err := a.tracker.Sync(ctx, true)
			if err != nil {
				a.log.Warn().Err(err).Msg("initial sync failed")
				return nil
			}
			a.log.Info().Int("changed", n).Msg("initial sync done")
			return nil
		})
	}

	g.Go(func() error {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// followChannel connects the status channel and feeds it to the tracker,
// reconnecting while ctx lives.
func (a *app) followChannel(ctx context.Context) error {
	log := a.log.With().Str("component", "channel").Str("kind", a.cfg.Channel.Kind).Logger()
	retry := config.Seconds(a.cfg.Channel.ReconnectSeconds)
	if retry <= 0 {
		retry = 5 * time.Second
	}

	for {
		if err := a.channel.Connect(ctx); err != nil {
			log.Warn().Err(err).Dur("retry", retry).Msg("connect failed")
		} else {
			log.Info().Msg("connected")
			if err := a.tracker.Follow(ctx, a.channel.Updates()); err != nil {
				log.Warn().Err(err).Msg("follow ended")
			}
			_ = a.channel.Disconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
	}
}

// close releases everything newApp opened. Safe on a partial app and
// safe to call more than once.
func (a *app) close() {
	a.closeOnce.Do(a.release)
}

func (a *app) release() {
	if a.tracker != nil {
		a.tracker.Close()
	}
	if a.channel != nil {
		_ = a.channel.Disconnect()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing journal")
		}
	}
	if a.accounts != nil {
		if err := a.accounts.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing accounts")
		}
	}
}
