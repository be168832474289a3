package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/knowledge-engine/siteqa/internal/api"
	"github.com/knowledge-engine/siteqa/internal/config"
	"github.com/knowledge-engine/siteqa/internal/engine"
	"github.com/knowledge-engine/siteqa/internal/observability"
	"github.com/knowledge-engine/siteqa/internal/tui"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signalContext()
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app holds what every subcommand needs
type app struct {
	cfg     *config.Config
	logger  *logrus.Entry
	metrics *observability.Metrics
	tracer  *observability.TracerProvider
	engine  *engine.Engine
}

func newRootCmd() *cobra.Command {
	var (
		baseURL  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:          "siteqa",
		Short:        "Answer questions from the posts of a WordPress site",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&baseURL, "site", "", "Site base URL (overrides SOURCE_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	setup := func(ctx context.Context, logOut io.Writer) (*app, error) {
		cfg := config.Load()
		if baseURL != "" {
			cfg.Source.BaseURL = baseURL
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		return newApp(ctx, cfg, logOut)
	}

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question and print it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			resp := a.engine.ProcessQuery(cmd.Context(), strings.Join(args, " "))
			fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
			for _, src := range resp.Sources {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s <%s> %s\n", src.Title, src.Link, src.Date)
			}
			return nil
		},
	}

	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			if err := a.engine.Start(); err != nil {
				return err
			}
			defer a.engine.Stop()

			server := api.NewServer(a.engine, a.metrics, a.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- server.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				a.logger.Info("Shutting down API server")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(ctx)
			}
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides SERVER_ADDR)")

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			// logs would corrupt the alt screen
			a, err := setup(cmd.Context(), io.Discard)
			if err != nil {
				return err
			}
			defer a.close()

			model := tui.New(a.engine, a.cfg.Source.BaseURL, a.cfg.Source.Timeout*2)
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}

	var (
		inputPath string
		workers   int
	)
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Answer a file of questions, one per line, printing JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			in := cmd.InOrStdin()
			if inputPath != "" && inputPath != "-" {
				f, err := os.Open(inputPath)
				if err != nil {
					return fmt.Errorf("open questions: %w", err)
				}
				defer f.Close()
				in = f
			}
			questions, err := readQuestions(in)
			if err != nil {
				return err
			}

			results, err := runBatch(cmd.Context(), a.engine, questions, workers)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range results {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	batchCmd.Flags().StringVar(&inputPath, "input", "-", "Questions file, - for stdin")
	batchCmd.Flags().IntVar(&workers, "workers", 4, "Concurrent questions")

	rootCmd.AddCommand(askCmd, serveCmd, tuiCmd, batchCmd)
	return rootCmd
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger := newLogger(cfg.Log.Level, logOut)

	tracer, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	metrics := observability.NewMetrics()
	logger.WithField("site", cfg.Source.BaseURL).Info("Starting site question answering")

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		engine:  engine.NewEngine(cfg, logger, metrics),
	}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to flush traces")
	}
}

func newLogger(level string, out io.Writer) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger.WithField("service", "siteqa")
}

// signalContext is cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
