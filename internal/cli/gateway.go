package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/logging"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the chatbridge webhook server",
	}

	cmd.AddCommand(newGatewayRunCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port       int
		bind       string
		noRegister bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the webhook server and relay events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			svcLog, logCloser, err := logging.NewFromConfig(cfg.Logging.Level, cfg.Logging.ConsoleStyle, cfg.Logging.File)
			if err != nil {
				return err
			}
			defer logCloser.Close()

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := buildBridge(ctx, cfg, paths, svcLog)
			if err != nil {
				return err
			}
			defer b.Close()

			if !noRegister {
				b.register(ctx, svcLog)
			}

			svcLog.Info().
				Bool("auto_create_chats", cfg.Routing.CreateChats()).
				Str("store", cfg.Store.Backend).
				Str("dedup", cfg.Dedup.Backend).
				Bool("media_relay", cfg.Gateway.PublicURL != "").
				Msg("message routing active")

			return b.server.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&noRegister, "no-register", false, "skip registering callbacks with edna and amoCRM at startup")

	return cmd
}
