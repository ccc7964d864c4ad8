// Command taper is the entry point for the Taper pick service. It loads
// configuration, validates it, wires dependencies, sets up signal handling and
// runs the selected mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/taper/internal/app"
	"github.com/alanyoungcy/taper/internal/config"
	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/scoring"
)

// Set via -ldflags at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "taper",
		Short:         "Swim-meet over/under pick service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file (empty to use defaults and env only)")

	cmd.AddCommand(
		modeCmd("serve", "Run the HTTP and WebSocket API", &configPath),
		modeCmd("seed", "Load the catalog dataset into Postgres", &configPath),
		scoreCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "taper version %s (build: %s)\n", Version, BuildTime)
			},
		},
	)
	return cmd
}

// modeCmd builds a subcommand that runs the application in mode.
func modeCmd(mode, short string, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   mode,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *configPath, mode)
		},
	}
}

func run(parent context.Context, configPath, mode string) error {
	if parent == nil {
		parent = context.Background()
	}

	// Bootstrap logger until the configured level is known.
	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	cfg.Mode = mode

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("taper starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
		slog.String("version", Version),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
			return nil
		}
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("taper stopped")
	return nil
}

// newLogger builds the JSON logger at the named level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// scoreCmd classifies a single pick offline.
func scoreCmd() *cobra.Command {
	var label, result, side string

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Classify a pick against a result",
		Example: `  taper score --label "Dressel's 42.80" --result 42.61 --side under
  taper score --label "4:02.50 Line" --result 4:01.95 --side over`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, ok := domain.ParseSide(side)
			if side != "" && !ok {
				return fmt.Errorf("side must be over or under, got %q", side)
			}
			out := cmd.OutOrStdout()
			target, ok := scoring.ParseTargetTime(label)
			if !ok {
				fmt.Fprintf(out, "target:  none in %q\n", label)
			} else {
				fmt.Fprintf(out, "target:  %s\n", target)
			}
			if result != "" {
				if _, err := scoring.TimeToSeconds(result); err != nil {
					return fmt.Errorf("result: %w", err)
				}
				fmt.Fprintf(out, "result:  %s\n", result)
			}
			fmt.Fprintf(out, "outcome: %s\n", scoring.Classify(label, result, s))
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "market time label, e.g. \"1:34.00 Barrier\"")
	cmd.Flags().StringVar(&result, "result", "", "official swim time")
	cmd.Flags().StringVar(&side, "side", "", "over or under")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}
