package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/convoy/pkg/assist"
	"github.com/ravi-parthasarathy/convoy/pkg/config"
	"github.com/ravi-parthasarathy/convoy/pkg/llm"
	"github.com/ravi-parthasarathy/convoy/pkg/runner"
	"github.com/ravi-parthasarathy/convoy/pkg/server"
	"github.com/ravi-parthasarathy/convoy/pkg/store"
	"github.com/ravi-parthasarathy/convoy/pkg/store/postgres"

	// Register all LLM providers via their init() functions.
	_ "github.com/ravi-parthasarathy/convoy/pkg/llm/providers"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	model      string
	logLevel   string
	logFormat  string
}

func rootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "convoy",
		Short: "Convoy: visual data pipelines that compile to pandas",
		Long: `Convoy turns a graph of data steps (load, filter, group, sort, chart…)
into a runnable pandas script, runs it step by step, and keeps the graph and
the generated code in sync in both directions.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to a convoy.yaml config file")
	root.PersistentFlags().StringVar(&g.model, "model", "", "LLM model (provider:model-id), overrides the config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(lintCmd())
	root.AddCommand(graphCmd())
	root.AddCommand(cellsCmd())
	root.AddCommand(scriptCmd())
	root.AddCommand(notebookCmd())
	root.AddCommand(runCmd(g))
	root.AddCommand(importCmd(g))
	root.AddCommand(generateCmd(g))
	root.AddCommand(explainCmd(g))
	root.AddCommand(serveCmd(g))
	return root
}

// load reads the config file and applies flag overrides, then installs the
// default logger.
func (g *globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.model != "" {
		cfg.Model = g.model
	}
	if g.logLevel != "" {
		cfg.Log.Level = strings.ToLower(g.logLevel)
	}
	if g.logFormat != "" {
		cfg.Log.Format = strings.ToLower(g.logFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := initLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

// assistant builds the LLM-backed assist service for cfg.Model.
func assistant(cfg *config.Config) (*assist.Service, error) {
	client, err := llm.NewClient(cfg.Model)
	if err != nil {
		return nil, err
	}
	svc := assist.NewService(client)
	svc.Logger = slog.Default()
	return svc, nil
}

func localRunner(cfg *config.Config) *runner.LocalRunner {
	return &runner.LocalRunner{Python: cfg.Python, Timeout: cfg.RunTimeout}
}

// ─── serve ────────────────────────────────────────────────────────────────────

func serveCmd(g *globals) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			ctx := signalContext(cmd.Context())

			st, pool, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			sessions := server.NewSessions(st, localRunner(cfg))
			sessions.Logger = slog.Default()
			sessions.Debounce = cfg.Chart.Debounce
			if len(cfg.Chart.Command) > 0 {
				sessions.Charts = &assist.CommandChartRenderer{Command: cfg.Chart.Command, Timeout: cfg.RunTimeout}
			}

			opts := server.Options{Sessions: sessions, Logger: slog.Default()}
			svc, err := assistant(cfg)
			if err != nil {
				slog.Warn("assistant disabled", "model", cfg.Model, "error", err)
			} else {
				opts.Generator = svc
				opts.Importer = svc
				opts.Explainer = assist.NewExplanationCache(svc)
				opts.Editor = svc
			}

			err = server.New(opts).Listen(ctx, cfg.Server.Listen)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides server.listen")
	return cmd
}

// openStore connects to postgres when a database URL is configured and
// falls back to an in-memory store otherwise. The pool is nil for memory.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		slog.Info("using in-memory pipeline store")
		return store.NewMemory(), nil, nil
	}
	st, pool, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	if err := st.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	slog.Info("using postgres pipeline store")
	return st, pool, nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// initLogger installs the default slog logger.
func initLogger(w io.Writer, level, format string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text", "":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[convoy] interrupted, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
