package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Lockstep/internal/config"
	"github.com/BioHazard786/Lockstep/internal/logging"
	"github.com/BioHazard786/Lockstep/internal/ui"
	"github.com/BioHazard786/Lockstep/internal/version"
)

var (
	flagConfigFile string
	flagLogLevel   string
	flagLogFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lockstep",
	Short: "Watch a video in lock-step with a friend over WebRTC",
	Long: `Lockstep pairs two viewers through a small rendezvous server and keeps their
playback in lock-step over a direct WebRTC data channel. One side (the master)
drives playback; the other follows, corrected for network latency.

Run "lockstep serve" for the rendezvous server and "lockstep watch" on each viewer.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

// loadConfig merges the persistent flags into opts and loads the configuration.
func loadConfig(opts config.Options) (*config.Config, error) {
	opts.ConfigFile = flagConfigFile
	opts.LogLevel = flagLogLevel
	opts.LogFile = flagLogFile

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// initLogging configures the default logger, using fallbackLevel when neither
// flags, environment nor config file set one.
func initLogging(cfg *config.Config, fallbackLevel string) (func() error, error) {
	level := cfg.LogLevel
	if level == "" {
		level = fallbackLevel
	}
	closeLog, err := logging.Init(level, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return closeLog, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error or none")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Write JSON logs to this file")
}
