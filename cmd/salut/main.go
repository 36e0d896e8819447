package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/antoniostano/salut/internal/config"
	"github.com/antoniostano/salut/internal/logging"
)

type globals struct {
	envFile   string
	logLevel  string
	logFormat string

	cfg    config.Config
	logger zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "salut: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "salut",
		Short:         "Real-time voice language tutor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load()
		},
	}
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override APP_LOG_LEVEL")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "override APP_LOG_FORMAT (json|console)")

	root.AddCommand(newServeCmd(g), newTalkCmd(g), newProgressCmd(g), newProbeCmd())
	return root
}

func (g *globals) load() error {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	g.cfg = cfg
	g.logger = logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	return nil
}
