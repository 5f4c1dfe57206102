package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/threadsage/server/internal/core"
	logx "github.com/threadsage/server/pkg/logger"
)

// Execute runs the command line.
func Execute() {
	var envFile string
	var cfg AppConfig

	root := &cobra.Command{
		Use:           "threadsage",
		Short:         "Question answering over a thread's documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = LoadConfig(envFile)
			if err != nil {
				return err
			}
			logx.Init(logx.LoggerOpts{Environment: cfg.Environment})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file to load before reading the environment")

	config := func() AppConfig { return cfg }
	root.AddCommand(askCMD(config), serveCMD(config))

	if err := root.Execute(); err != nil {
		logx.Init(logx.LoggerOpts{Environment: core.Development})
		logx.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
