package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"notetalk/internal/app"
	"notetalk/internal/config"
	"notetalk/internal/log"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "notetalk",
		Short:         "Local presence and call agent for notebook collaboration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the presence channel and serve the local API",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLogger := log.New("info")

			cfg, source, err := config.Load(bootLogger, configPath)
			if err != nil {
				return err
			}
			applyOverrides(&cfg, cmd, overrides)

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", source).Str("username", cfg.Username).Msg("starting notetalk agent")

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := application.Run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("agent stopped")
			return nil
		},
	}

	defaults := config.Default()
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&overrides.Addr, "addr", defaults.Addr, "local API listen address")
	cmd.Flags().StringVar(&overrides.LogLevel, "log-level", defaults.LogLevel, "log level (trace..error)")
	cmd.Flags().StringVar(&overrides.Username, "username", "", "display name announced to peers")
	cmd.Flags().StringVar(&overrides.SignalingURL, "signaling-url", "", "comma-separated SFU signaling websocket URLs")
	cmd.Flags().StringVar(&overrides.TokenURL, "token-url", "", "access token issuer endpoint")
	cmd.Flags().StringVar(&overrides.APIKey, "api-key", "", "API key passed to the token issuer")
	cmd.Flags().StringVar(&overrides.APISecret, "api-secret", "", "API secret for minting tokens locally")
	cmd.Flags().StringVar(&overrides.ChannelIDPrefix, "channel-id-prefix", defaults.ChannelIDPrefix, "prefix prepended to channel names")
	cmd.Flags().StringVar(&overrides.ChannelIDSuffix, "channel-id-suffix", "", "suffix appended to channel names")

	return cmd
}

// applyOverrides copies flag values the user set on the command line over the
// loaded configuration. Unset flags keep the file/env values.
func applyOverrides(cfg *config.Config, cmd *cobra.Command, overrides config.Config) {
	if cmd.Flags().Changed("addr") {
		cfg.Addr = overrides.Addr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = overrides.LogLevel
	}
	if cmd.Flags().Changed("username") {
		cfg.Username = overrides.Username
	}
	if cmd.Flags().Changed("signaling-url") {
		cfg.SignalingURL = overrides.SignalingURL
	}
	if cmd.Flags().Changed("token-url") {
		cfg.TokenURL = overrides.TokenURL
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = overrides.APIKey
	}
	if cmd.Flags().Changed("api-secret") {
		cfg.APISecret = overrides.APISecret
	}
	if cmd.Flags().Changed("channel-id-prefix") {
		cfg.ChannelIDPrefix = overrides.ChannelIDPrefix
	}
	if cmd.Flags().Changed("channel-id-suffix") {
		cfg.ChannelIDSuffix = overrides.ChannelIDSuffix
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
