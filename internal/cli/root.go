package cli

import (
	"context"
	"fmt"
	"time"

	"dmrelay/internal/config"
	"dmrelay/internal/repository"
	"dmrelay/internal/service/tracking"
	pkgconfig "dmrelay/pkg/config"
	"dmrelay/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds the command line flags.
type RootOptions struct {
	ConfigDir       string
	ConfigEnv       string
	Stats           bool
	IgnoreDuration  int
	EnableTracking  bool
	DisableTracking bool
}

// NewRootCommand creates the dmrelay command. Without flags it runs the relay
// until the context is cancelled.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "dmrelay",
		Short: "Relay the first qualifying private message per sender per day",
		Long: `dmrelay listens for private messages and forwards the first qualifying
message from each sender per calendar day to a fixed recipient.

A sender qualifies when their display name contains a 3-4 digit run or when
both a first and a last name are present. Senders handled within the
tracking window are skipped without another record.

Example:
  dmrelay --ignore-duration 7200
  dmrelay --stats`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "directory holding base.yaml, <env>.yaml and secrets.env")
	cmd.Flags().StringVar(&opts.ConfigEnv, "config-env", pkgconfig.GetConfigEnv(), "config environment overlay")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "print tracking statistics and exit")
	cmd.Flags().IntVar(&opts.IgnoreDuration, "ignore-duration", 0, "tracking window in seconds for this run")
	cmd.Flags().BoolVar(&opts.EnableTracking, "enable-tracking", false, "enable duplicate tracking for this run")
	cmd.Flags().BoolVar(&opts.DisableTracking, "disable-tracking", false, "disable duplicate tracking for this run")
	cmd.MarkFlagsMutuallyExclusive("enable-tracking", "disable-tracking")

	return cmd
}

func run(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := config.LoadFrom(opts.ConfigEnv, opts.ConfigDir)
	if err != nil {
		return err
	}
	overrides := applyOverrides(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logger.Config{Level: cfg.Log.Level, File: cfg.Log.File}
	if opts.Stats {
		// 报告写 stdout，日志改走 stderr
		logCfg.Console = "stderr"
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	for _, o := range overrides {
		log.Info("Command line override", zap.String("setting", o))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	repo, closeRepo, err := repository.NewStateRepository(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open tracking state", zap.String("backend", cfg.Tracking.Backend), zap.Error(err))
		return err
	}
	defer closeRepo()

	store := tracking.NewStore(repo, tracking.Options{
		Window:  cfg.IgnoreDuration(),
		Enabled: cfg.Tracking.Enabled,
	}, log)

	if opts.Stats {
		store.LoadSnapshot(ctx, time.Now())
		return tracking.WriteStats(cmd.OutOrStdout(), store.Stats(time.Now()))
	}
	store.Load(ctx, time.Now())

	return runRelay(ctx, cfg, store, log)
}

// applyOverrides folds the per-run flags into cfg and describes each change.
func applyOverrides(cfg *config.Config, opts *RootOptions) []string {
	var applied []string
	if opts.IgnoreDuration > 0 {
		cfg.Tracking.IgnoreDurationSeconds = opts.IgnoreDuration
		applied = append(applied, fmt.Sprintf("ignore duration set to %d seconds", opts.IgnoreDuration))
	}
	if opts.EnableTracking {
		cfg.Tracking.Enabled = true
		applied = append(applied, "message tracking enabled")
	}
	if opts.DisableTracking {
		cfg.Tracking.Enabled = false
		applied = append(applied, "message tracking disabled")
	}
	return applied
}
