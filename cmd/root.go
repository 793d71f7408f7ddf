package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/ui"
	"github.com/BioHazard786/huddle/internal/version"
)

var (
	flagConfig   string
	flagLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Multi-party video calls through a WebRTC SFU",
	Long: `huddle runs a selective forwarding unit for small video calls and joins calls from the terminal.

Every participant sends its audio and video to the server once; the server forwards each
stream to everyone else in the room. Browsers join through the web client served at /,
terminals through 'huddle join'.`,
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

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML config file (default $HUDDLE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// LoadConfig loads the configuration with the global flags applied and
// re-initialises logging at the configured level.
func LoadConfig(opts config.Options) (*config.Config, error) {
	opts.File = flagConfig
	opts.LogLevel = flagLogLevel

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Logging.Level)
	return cfg, nil
}
