package main

import (
	"log/slog"

	"github.com/ashureev/catalyze/internal/app"
	"github.com/ashureev/catalyze/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// cli carries state shared by every subcommand once the root pre-run has
// loaded configuration.
type cli struct {
	cfg     *config.Config
	logger  *slog.Logger
	verbose bool
	jsonOut bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "catalyzectl",
		Short:         "Classify lab queries and generate validated Opentrons protocols",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at the configured LOG_LEVEL instead of warn")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newClassifyCmd(c),
		newPrecheckCmd(c),
		newValidateCmd(c),
		newGenerateCmd(c),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.LogFormat = "text"
	if !c.verbose {
		cfg.LogLevel = slog.LevelWarn
	}
	c.cfg = cfg
	c.logger = app.NewLogger(cfg, cmd.ErrOrStderr())
	return nil
}
