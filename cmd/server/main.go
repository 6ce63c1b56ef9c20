package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/accounts"
	"github.com/filedeck/backend/internal/api"
	"github.com/filedeck/backend/internal/auth"
	"github.com/filedeck/backend/internal/config"
	"github.com/filedeck/backend/internal/models"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:           "filedeck",
		Short:         "File processing dashboard server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging and error details")

	root.AddCommand(
		newServeCmd(&configPath, &debug),
		newUserCmd(&configPath, &debug),
	)
	return root
}

func newServeCmd(configPath *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.Advanced.LogLevel, cfg.Advanced.LogFormat, *debug)
			api.ShowErrorDetails = *debug

			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			printBanner(cmd.OutOrStdout(), cfg, *configPath, a.embedded)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan struct{})
			var runErr error
			go func() {
				runErr = a.Run(ctx)
				close(done)
			}()

			wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
				"filedeck": func(sctx context.Context) error {
					log.Info().Msg("shutting down")
					cancel()
					select {
					case <-done:
					case <-sctx.Done():
						return sctx.Err()
					}
					a.close()
					return runErr
				},
			})

			select {
			case code := <-wait:
				os.Exit(code)
			case <-done:
				if runErr != nil {
					a.close()
					return runErr
				}
				os.Exit(<-wait)
			}
			return nil
		},
	}
}

func newUserCmd(configPath *string, debug *bool) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage dashboard accounts",
	}

	var in accounts.NewAccount
	var role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.Advanced.LogLevel, cfg.Advanced.LogFormat, *debug)

			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			svc, err := accounts.Open(cfg.Storage.AccountsPath, auth.NewPasswordHasherWithCost(cfg.Auth.BcryptCost), log)
			if err != nil {
				return err
			}
			defer svc.Close()

			in.Role = models.Role(role)
			user, err := svc.Create(cmd.Context(), in)
			if err != nil {
				return errors.Errorf("creating %s: %w", in.Email, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) id=%s\n",
				color.GreenString("created"), user.Email, user.Role, user.ID)
			return nil
		},
	}
	create.Flags().StringVar(&in.Email, "email", "", "account email")
	create.Flags().StringVar(&in.Name, "name", "", "display name")
	create.Flags().StringVar(&in.Password, "password", "", "initial password")
	create.Flags().StringVar(&role, "role", string(models.RoleUser), "admin or user")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("password")

	userCmd.AddCommand(create)
	return userCmd
}

func printBanner(w io.Writer, cfg *config.AppConfig, configPath string, embedded bool) {
	frame := color.New(color.FgCyan).SprintFunc()
	title := color.New(color.Bold).SprintFunc()

	ui := "API only"
	if embedded {
		ui = "Embedded dashboard"
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, frame("╔═══════════════════════════════════════════════════════════╗"))
	name := "FileDeck Server"
	fmt.Fprintf(w, "%s  %s%s%s\n", frame("║"), title(name), strings.Repeat(" ", 57-len(name)), frame("║"))
	fmt.Fprintln(w, frame("╠═══════════════════════════════════════════════════════════╣"))
	fmt.Fprintf(w, "%s  Version:    %-45s%s\n", frame("║"), Version, frame("║"))
	fmt.Fprintf(w, "%s  Build Time: %-45s%s\n", frame("║"), BuildTime, frame("║"))
	fmt.Fprintf(w, "%s  Mode:       %-45s%s\n", frame("║"), cfg.Tracker.Mode+" / "+cfg.Channel.Kind, frame("║"))
	fmt.Fprintf(w, "%s  UI:         %-45s%s\n", frame("║"), ui, frame("║"))
	fmt.Fprintln(w, frame("╠═══════════════════════════════════════════════════════════╣"))
	fmt.Fprintf(w, "%s  Config:    %-46s%s\n", frame("║"), configPath, frame("║"))
	fmt.Fprintf(w, "%s  Listen:    http://%-38s%s\n", frame("║"), cfg.GetServerAddr(), frame("║"))
	fmt.Fprintf(w, "%s  Data Dir:  %-46s%s\n", frame("║"), cfg.Storage.DataDirectory, frame("║"))
	fmt.Fprintln(w, frame("╚═══════════════════════════════════════════════════════════╝"))
	fmt.Fprintln(w)
}
