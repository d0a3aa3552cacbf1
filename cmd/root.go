package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	service "github.com/okian/rollcall/internal/app"
	"github.com/okian/rollcall/internal/config"
	"github.com/okian/rollcall/pkg/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "rollcall",
		Short: "Face-match attendance for small teams",
		Long: `rollcall enrolls employees from photos and records attendance when a
camera frame matches an enrolled face. Each employee is recorded at most
once per cooldown window.

Configuration is read from an optional YAML file (--config or
ROLLCALL_CONFIG) and ROLLCALL_* environment variables. A .env file in the
working directory is loaded first when present.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	cmd.AddCommand(
		newServeCmd(opts),
		newCompanyCmd(opts),
		newEnrollCmd(opts),
		newExportCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) init() error {
	// A missing .env is normal.
	if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", o.envFile, err)
	}
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

// load resolves the configuration and applies the log level.
func (o *rootOptions) load(ctx context.Context) (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	cfg, err := config.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

// openService starts a service for one-shot commands. The configured
// company is cleared so the polling loop never autostarts.
func (o *rootOptions) openService(ctx context.Context) (*service.Service, error) {
	cfg, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	cfg.CompanyID = ""
	svc := service.New(service.WithConfig(cfg))
	if err := svc.Start(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "rollcall", version)
		},
	}
}
