package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// withApp loads the configuration, builds the app for one command and
// releases it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, lg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			lg.Warn().Err(err).Msg("close resources")
		}
	}()
	return fn(cmd.Context(), a)
}

func newDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Retry every spooled message once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rep, err := a.drainer.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
}

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the bot webhook subscription",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Subscribe MAX_WEBHOOK_URL, generating the secret when none is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.hooks.Register(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "webhook registered: %s\n", a.cfg.Bot.WebhookURL)
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove",
		Short: "Remove the webhook subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.hooks.Remove(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "webhook removed")
				return err
			})
		},
	})
	return cmd
}

func newBotInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "botinfo",
		Short: "Print the bot profile reported by MAX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				info, err := a.hooks.BotInfo(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), info)
			})
		},
	}
}
