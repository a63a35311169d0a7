// Package main provides the doccontrol binary: the controlled-document
// lifecycle service and its reference data tooling.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/yourorg/doccontrol/internal/api"
	"github.com/yourorg/doccontrol/internal/lifecycle"
	"github.com/yourorg/doccontrol/internal/refdata"
	"github.com/yourorg/doccontrol/internal/report"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "doccontrol"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Controlled-document lifecycle service",
		Long: `doccontrol tracks controlled documents through configurable approval
workflows, captures stage signatures and keeps a hash-chained audit trail.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file (.env is tried when empty)")

	cmd.AddCommand(serveCmd(), seedCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		logLevel    string
		refdataPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, logLevel, refdataPath)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&refdataPath, "refdata", "", "Reference data YAML (defaults to DMS_REFDATA_PATH, then the embedded set)")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Reference data tooling",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a reference data file and print what it would seed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := os.Getenv("DMS_REFDATA_PATH")
			if len(args) == 1 {
				path = args[0]
			}
			dir, err := refdata.LoadFromFile(path)
			if err != nil {
				return err
			}
			eng := lifecycle.NewEngine(lifecycle.LoadConfig(),
				lifecycle.WithLogger(slog.New(slog.DiscardHandler)))
			if err := dir.Seed(cmd.Context(), eng, slog.New(slog.DiscardHandler)); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "users:          %d\n", len(dir.Users))
			fmt.Fprintf(out, "document types: %d\n", len(dir.DocumentTypes))
			fmt.Fprintf(out, "workflows:      %d\n", len(dir.WorkflowTemplates))
			fmt.Fprintf(out, "documents:      %d\n", len(dir.Documents))
			fmt.Fprintf(out, "audit entries:  %d\n", len(eng.AuditTrail(0)))
			return nil
		},
	})
	return cmd
}

func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func serve(ctx context.Context, logLevel, refdataPath string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng := lifecycle.NewEngine(lifecycle.LoadConfig(),
		lifecycle.WithLogger(logger.With("component", "lifecycle")),
		lifecycle.WithMetrics(lifecycle.NewMetrics(reg)),
	)

	if refdataPath == "" {
		refdataPath = os.Getenv("DMS_REFDATA_PATH")
	}
	dir, err := refdata.LoadFromFile(refdataPath)
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}
	if err := dir.Seed(ctx, eng, logger); err != nil {
		return fmt.Errorf("seed reference data: %w", err)
	}

	repCfg := report.LoadConfig()
	var renderer report.Renderer = report.NewHTMLRenderer(repCfg)
	if repCfg.PDFEnabled {
		renderer = report.NewPDFRenderer(repCfg)
	}
	exports := report.NewExportQueue(eng, renderer, report.NewInMemoryStorage(), repCfg,
		logger.With("component", "export"))

	apiCfg := api.LoadConfig()
	svc := api.NewService(apiCfg, eng, dir, exports, reg, logger.With("component", "api"))
	srv := &http.Server{
		Addr:              apiCfg.Addr,
		Handler:           api.NewRouter(svc),
		ReadHeaderTimeout: apiCfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("doccontrol api listening", "addr", apiCfg.Addr, "pdf", repCfg.PDFEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), apiCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := exports.Wait(shutdownCtx); err != nil {
		logger.Warn("export jobs still running at shutdown", "error", err)
	}
	return nil
}
