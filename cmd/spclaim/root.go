package main

import (
	"github.com/spf13/cobra"

	"spclaim/internal/config"
	logx "spclaim/pkg/logx"
)

const (
	flagConfig  = "config"
	flagEnvFile = "env-file"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "spclaim",
		Short: "claims staking rewards on a cron schedule",
		Long: "spclaim calls claimRewards for every configured owner on its cron schedule.\n" +
			"Running it without a subcommand is the same as `spclaim run`.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.LoadEnvFile(opts.envFile)
			if err != nil {
				return err
			}
			if loaded {
				logx.NewConsole("info").Info("env file loaded", logx.String("path", opts.envFile))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, flagConfig, "./config.yaml", "path to the config file (yaml or json)")
	root.PersistentFlags().StringVar(&opts.envFile, flagEnvFile, ".env", "dotenv file read before the config; missing is fine")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newScheduleCmd(opts),
	)
	return root
}
