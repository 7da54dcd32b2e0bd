package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/courtroom/internal/adapters/server"
	servercommon "github.com/hylla/courtroom/internal/adapters/server/common"
	"github.com/hylla/courtroom/internal/adapters/storage/sqlite"
	"github.com/hylla/courtroom/internal/app"
	"github.com/hylla/courtroom/internal/config"
	"github.com/hylla/courtroom/internal/platform"
)

// appName names config/data directories and log prefixes.
const appName = "courtroom"

// version stores a package-level helper value.
var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// main handles main.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := fang.Execute(ctx, newRootCommand(os.Stdout, os.Stderr), fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds persistent flag values.
type rootOptions struct {
	configPath string
	dbPath     string
	devMode    bool
}

// runtimeState is the resolved configuration for one command.
type runtimeState struct {
	paths      platform.Paths
	configPath string
	cfg        config.Config
}

// newRootCommand builds the command tree.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           appName,
		Short:         "Mock-trial case gateway",
		Long:          "courtroom serves the case API and MCP tools behind role-ranked access checks and idempotent mutations.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config TOML")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	root.PersistentFlags().BoolVar(&opts.devMode, "dev", false, "use dev mode paths (courtroom-dev) and development problem details")

	root.AddCommand(
		newServeCommand(opts, stderr),
		newPathsCommand(opts, stdout),
		newPolicyCommand(stdout),
	)
	return root
}

// newServeCommand builds `courtroom serve`.
func newServeCommand(opts *rootOptions, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the case API and MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := resolveRuntime(opts, os.LookupEnv)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), state, stderr)
		},
	}
}

// newPathsCommand builds `courtroom paths`.
func newPathsCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data and database paths",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			state, err := resolveRuntime(opts, os.LookupEnv)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "app: %s\n", appName)
			_, _ = fmt.Fprintf(stdout, "dev_mode: %t\n", state.cfg.Mode.Development)
			_, _ = fmt.Fprintf(stdout, "config: %s\n", state.configPath)
			_, _ = fmt.Fprintf(stdout, "data_dir: %s\n", state.paths.DataDir)
			_, _ = fmt.Fprintf(stdout, "db: %s\n", state.cfg.Database.Path)
			_, _ = fmt.Fprintf(stdout, "log_dir: %s\n", state.paths.LogDir)
			return nil
		},
	}
}

// newPolicyCommand builds `courtroom policy`.
func newPolicyCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the operation access table",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(stdout, renderPolicy(app.DefaultPolicy()))
			return err
		},
	}
}

// renderPolicy formats one policy as a bordered table in registration order.
func renderPolicy(policy *app.Policy) string {
	rows := make([][]string, 0, len(policy.Operations()))
	for _, op := range policy.Operations() {
		req, _ := policy.Requirement(op)
		roles := make([]string, 0, len(req.Roles()))
		for _, role := range req.Roles() {
			roles = append(roles, string(role))
		}
		rows = append(rows, []string{string(op), strings.Join(roles, ", "), strconv.Itoa(req.MinRank())})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("OPERATION", "ROLES", "MIN RANK").
		Rows(rows...).
		String()
}

// resolveRuntime applies defaults, the config file, env overrides and flags,
// in that order.
func resolveRuntime(opts *rootOptions, lookup func(string) (string, bool)) (runtimeState, error) {
	devMode := opts.devMode
	if !devMode {
		if raw, ok := lookup(config.EnvDevelopmentMode); ok && strings.TrimSpace(raw) != "" {
			parsed, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return runtimeState{}, fmt.Errorf("parse %s: %w", config.EnvDevelopmentMode, err)
			}
			devMode = parsed
		}
	}

	paths, err := platform.DefaultPathsWithOptions(platform.Options{AppName: appName, DevMode: devMode})
	if err != nil {
		return runtimeState{}, err
	}
	configPath := strings.TrimSpace(opts.configPath)
	if configPath == "" {
		if envPath, ok := lookup(config.EnvConfigPath); ok {
			configPath = strings.TrimSpace(envPath)
		}
	}
	paths = paths.WithOverrides(platform.Overrides{ConfigPath: configPath})

	cfg, err := config.Load(paths.ConfigPath, config.Default(paths.DBPath))
	if err != nil {
		return runtimeState{}, fmt.Errorf("load config %q: %w", paths.ConfigPath, err)
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return runtimeState{}, fmt.Errorf("apply environment: %w", err)
	}
	if dbPath := strings.TrimSpace(opts.dbPath); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if devMode {
		cfg.Mode.Development = true
	}
	paths = paths.WithOverrides(platform.Overrides{DBPath: cfg.Database.Path})
	return runtimeState{paths: paths, configPath: paths.ConfigPath, cfg: cfg}, nil
}

// runServe opens storage, wires the transports and blocks until ctx ends.
func runServe(ctx context.Context, state runtimeState, stderr io.Writer) error {
	cfg := state.cfg
	logger, err := newRuntimeLogger(stderr, appName, cfg.Mode.Development, cfg.Logging, state.paths.LogDir, time.Now)
	if err != nil {
		return fmt.Errorf("configure runtime logger: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			_, _ = fmt.Fprintf(stderr, "warning: close runtime log sink: %v\n", closeErr)
		}
	}()

	logger.Info("startup configuration resolved", "app", appName, "dev_mode", cfg.Mode.Development, "command", "serve")
	logger.Info("configuration loaded", "config_path", state.configPath, "db_path", cfg.Database.Path, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	logger.Info("opening sqlite repository", "db_path", cfg.Database.Path)
	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		return fmt.Errorf("open sqlite repository: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Warn("sqlite close failed", "db_path", cfg.Database.Path, "err", closeErr)
		}
	}()
	logger.Info("sqlite repository ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	backend, err := openIdempotencyStore(ctx, cfg.Idempotency, repo)
	if err != nil {
		logger.Error("idempotency backend failed", "url", redactURL(cfg.Idempotency.URL), "err", err)
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Warn("idempotency backend close failed", "err", closeErr)
		}
	}()
	logger.Info("idempotency backend ready", "backend", backend.Name, "ttl", cfg.Idempotency.TTL.Std())
	if backend.Purger != nil {
		go runPurgeLoop(ctx, backend.Purger, purgeInterval(cfg.Idempotency.TTL.Std()), logger)
	}

	policy := app.DefaultPolicy()
	svc := app.NewService(repo, uuid.NewString, time.Now, app.ServiceConfig{})
	logger.Debug("application service initialized", "operations", len(policy.Operations()))

	logger.Info("command flow start", "command", "serve", "http_bind", cfg.Server.HTTPBind)
	err = serveCommandRunner(ctx, serveradapter.Config{
		HTTPBind:          cfg.Server.HTTPBind,
		APIEndpoint:       cfg.Server.APIEndpoint,
		MCPEndpoint:       cfg.Server.MCPEndpoint,
		ServerName:        appName,
		ServerVersion:     version,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Std(),
		Development:       cfg.Mode.Development,
	}, serveradapter.Dependencies{
		Cases:              servercommon.NewAppServiceAdapter(svc, policy),
		Policy:             policy,
		Idempotency:        backend.Store,
		IdempotencyTimeout: cfg.Idempotency.BackendTimeout.Std(),
		Logger:             logger,
		Ready:              repo.Ping,
	})
	if err != nil {
		logger.Error("command flow failed", "command", "serve", "err", err)
		return fmt.Errorf("run serve command: %w", err)
	}
	logger.Info("command flow complete", "command", "serve")
	return nil
}
