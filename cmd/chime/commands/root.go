package commands

import (
	"github.com/spf13/cobra"

	"github.com/quenby/chime/config"
	"github.com/quenby/chime/errors"
	"github.com/quenby/chime/logger"
)

var (
	configFile string
	jsonLogs   bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "chime",
	Short: "Chime - recurring job scheduler",
	Long: `Chime schedules recurring jobs and delivers their payloads.

Jobs carry an interval, daily, or weekly schedule. Due occurrences are
handed to a rate-gated run queue and executed by a worker pool; a job
whose dispatch fails is disabled until an operator re-enables it.

Examples:
  chime start                    # Run the daemon in the foreground
  chime jobs ls                  # List configured jobs
  chime jobs import seeds.yaml   # Import job definitions from YAML
  chime config show              # Print the resolved configuration`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		if err := logger.Initialize(jsonLogs || cfg.Log.JSON, level); err != nil {
			return errors.Wrap(err, "initialize logger")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// loadConfig resolves configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.Load()
}

// Execute runs the CLI.
func Execute() error {
	defer logger.Cleanup()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: chime.toml discovery)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON logs instead of console output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
