package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"issuehub/internal/app"
	"issuehub/internal/config"
	"issuehub/internal/db"
	"issuehub/internal/engine"
	"issuehub/internal/logger"
	"issuehub/internal/migrate"
	"issuehub/internal/notify"
	"issuehub/internal/repo"
	"issuehub/internal/server"
	"issuehub/internal/telemetry"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "ih",
	Short: "IssueHub CLI",
	Long: `IssueHub tracks facility issues from report to closure.
Core concepts:
- Organization: the tenant named in issuehub.yml; every actor, space and issue belongs to one.
- Spaces: physical areas inside the organization; space admins manage the issues filed in theirs.
- Roles: central_admin, space_admin, supervisor, maintainer, reviewer and general_user.
- Issues: move open -> assigned -> in_progress -> resolved -> closed; escalated and cancelled are side exits.
- Single focus: a maintainer has at most one issue in_progress at a time.
- Work tasks: sub-steps of an issue; all must be completed before it can be resolved.
- Focus mode: timed work sessions with breaks on the in_progress issue.
- Activity log: immutable trail of every change, view with 'ih log activity'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("IH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting actor id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(spaceCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(workTaskCmd())
	rootCmd.AddCommand(focusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func initCmd() *cobra.Command {
	var orgID, orgName, adminID, adminName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create issuehub.yml and bootstrap the organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(orgID)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			} else if err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if orgName != "" {
				cfg.Organization.Name = orgName
			}
			return withConn(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				admin, err := app.Bootstrap(ctx, cfg, r, adminID, adminName)
				if err != nil {
					return err
				}
				return printJSONOrTable(admin)
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org-id", "default", "organization id written to a new config")
	cmd.Flags().StringVar(&orgName, "org-name", "", "organization display name")
	cmd.Flags().StringVar(&adminID, "admin-id", "", "central admin actor id")
	cmd.Flags().StringVar(&adminName, "admin-name", "", "central admin display name")
	_ = cmd.MarkFlagRequired("admin-id")
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect issuehub.yml"}
	var orgID string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config, or the defaults before ih init",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"), orgID)
			if err != nil {
				return err
			}
			cfg.Server.JWTSecret = redact(cfg.Server.JWTSecret)
			for i := range cfg.Webhooks {
				cfg.Webhooks[i].Secret = redact(cfg.Webhooks[i].Secret)
			}
			return printJSON(cfg)
		},
	}
	show.Flags().StringVar(&orgID, "org-id", "default", "organization id shown when no config exists")
	var file string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate issuehub.yml or the file given with --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	validate.Flags().StringVar(&file, "file", "", "config file to validate instead of the workspace one")
	cfgCmd.AddCommand(show, validate)
	return cfgCmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with notification and webhook workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			log := logger.New(cfg)
			if _, err := app.ResolveOrganization(ctx, cfg, repo.Repo{DB: conn}); err != nil {
				return err
			}

			if err := telemetry.Init(ctx, telemetry.Options{Enabled: cfg.Telemetry.Enabled, Stdout: cfg.Telemetry.Stdout}, "issuehub", version); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				telemetry.Shutdown(shutdownCtx)
			}()
			metrics := telemetry.NewWorkflow(telemetry.Meter("issuehub"))

			e := engine.New(conn, cfg)
			e.Log = log
			e.Metrics = metrics
			sender, err := newSender(ctx, cfg, log)
			if err != nil {
				return err
			}
			dispatcher := notify.NewDispatcher(sender, e.Repo, log, notify.DispatcherOptions{
				QueueSize:   cfg.Notifications.QueueSize,
				Workers:     cfg.Notifications.Workers,
				MaxAttempts: cfg.Notifications.MaxAttempts,
				Metrics:     metrics,
			})
			e.Notifier = dispatcher

			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Server.JWTSecret,
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
				EnableDevLogin:         cfg.Server.EnableDevLogin,
				Logger:                 log,
			}
			if secret := viper.GetString("jwt-secret"); secret != "" {
				authCfg.JWTSecret = secret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("IH_JWT_SECRET or server.jwt_secret is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: log})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return dispatcher.Run(gctx) })
			if hooks := server.NewWebhookDispatcher(e, log); hooks != nil {
				g.Go(func() error { return hooks.Run(gctx) })
			}
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving IssueHub API (OpenAPI at /openapi.json, Swagger UI at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

// newSender picks FCM when notifications are enabled with credentials and
// falls back to logging otherwise.
func newSender(ctx context.Context, cfg *config.Config, log zerolog.Logger) (notify.Sender, error) {
	n := cfg.Notifications
	if !n.Enabled || strings.TrimSpace(n.CredentialsFile) == "" {
		return notify.LogSender{Log: log.With().Str("component", "notify").Logger()}, nil
	}
	return notify.NewFCMSender(ctx, n.CredentialsFile)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// --- helpers ---

// withEngine opens the workspace database for one command. Notifications
// raised by CLI commands are logged; push delivery runs in 'ih serve'.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return withConn(ctx, func(ctx context.Context, r repo.Repo) error {
		if _, err := app.ResolveOrganization(ctx, cfg, r); err != nil {
			return err
		}
		e := engine.New(r.DB, cfg)
		e.Log = logger.New(cfg)
		e.Notifier = logNotifier{log: e.Log}
		return fn(ctx, e)
	})
}

func withConn(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

type logNotifier struct {
	log zerolog.Logger
}

func (n logNotifier) Enqueue(msg notify.Notification) bool {
	n.log.Debug().Str("title", msg.Message.Title).Int("tokens", len(msg.Tokens)).Msg("notification not sent from cli")
	return true
}

func actorID() (string, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return "", fmt.Errorf("--actor-id or IH_ACTOR_ID required")
	}
	return id, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
