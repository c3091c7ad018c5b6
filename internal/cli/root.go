// Package cli implements the dialtask command tree.
package cli

import (
	"github.com/soyeahso/dialtask/internal/config"
	"github.com/soyeahso/dialtask/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// resolved in PersistentPreRunE
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dialtask",
		Short: "Phone-call to-do assistant",
		Long: "dialtask answers Twilio calls, reads out your tasks on keypad presses " +
			"and lets an OpenAI realtime agent manage them by voice.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotenv(); err != nil {
				return err
			}
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			log = logging.New(nil, levelOr("info"))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.dialtask/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCallCmd())
	cmd.AddCommand(newTasksCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// levelOr returns the --log-level flag, or fallback when it is unset.
func levelOr(fallback string) string {
	if logLevel != "" {
		return logLevel
	}
	return fallback
}

// loadConfig reads the config file and re-creates the logger at the
// configured level unless --log-level was given.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	log = logging.New(nil, levelOr(cfg.Logging.Level))
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
