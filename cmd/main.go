package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crosspost/config"
	"crosspost/internal/delivery/cron"
	"crosspost/internal/delivery/httpapi"
	"crosspost/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the loaded configuration from the root command to its subcommands
type cli struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "crosspost",
		Short:         "Publish posts to several social platforms at once",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if err := logger.Close(); err != nil {
				log.Printf("Failed to close log files: %v", err)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config.yaml")

	rootCmd.AddCommand(
		newServeCmd(c),
		newPublishCmd(c),
		newRefreshTokensCmd(c),
		newAccountsCmd(c),
	)
	return rootCmd
}

func (c *cli) load() error {
	config.LoadEnv(nil)
	if c.configPath != "" {
		config.SetConfigPath(c.configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if _, err := logger.Initialize(cfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	c.cfg = cfg
	return nil
}

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := wireApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Error("Failed to release resources")
		}
	}()

	scheduler := cron.NewScheduler(c.cfg, a.monitor, a.cleanup)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	apiServer := httpapi.NewServer(c.cfg, httpapi.Deps{
		Posts:     a.posts,
		Publisher: a.orchestrator,
		Accounts:  a.accounts,
		Monitor:   a.monitor,
		Limiter:   a.limiter,
		Cleanup:   a.cleanup,
		Proxy:     a.proxy,
		Store:     a.store,
		Metrics:   a.metrics,
	})
	if err := apiServer.Start(); err != nil {
		scheduler.Stop()
		return fmt.Errorf("failed to start HTTP API server: %w", err)
	}

	logger.Info("Application started. Press Ctrl+C to stop.")
	<-ctx.Done()

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP API shutdown error")
	}
	scheduler.Stop()
	logger.Info("Application stopped.")
	return nil
}
