package cli

import (
	"github.com/spf13/cobra"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/logging"
)

var (
	cfgFile  string
	homeDir  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatbridge",
		Short: "chatbridge relays chats between edna and amoCRM",
		Long:  "chatbridge receives edna and amoCRM webhooks and relays messages and delivery statuses between client messengers and CRM agents.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if homeDir != "" {
				paths = config.PathsAt(homeDir)
			} else {
				var err error
				if paths, err = config.ResolvePaths(); err != nil {
					return err
				}
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.chatbridge/config.yaml)")
	cmd.PersistentFlags().StringVar(&homeDir, "home", "", "base directory for config and data (default $CHATBRIDGE_HOME or ~/.chatbridge)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newGatewayCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReportsCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
