package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voicesafe/internal/config"
	"github.com/skypro1111/voicesafe/internal/moderation"
	"github.com/skypro1111/voicesafe/internal/policy"
)

func newClient(cmd *cobra.Command, flags *globalFlags) (*config.Config, *moderation.Client, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, nil, err
	}
	if err := requireAppKey(cfg); err != nil {
		return nil, nil, err
	}
	client, err := moderation.NewClient(cfg.ModerationConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create moderation client: %w", err)
	}
	return cfg, client, nil
}

func withTimeout(cmd *cobra.Command, cfg *config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), cfg.API.GetTimeoutDuration())
}

func newReportCmd(flags *globalFlags) *cobra.Command {
	var eventType, reporter string

	cmd := &cobra.Command{
		Use:   "report TARGET_USER_ID",
		Short: "Report another player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := newClient(cmd, flags)
			if err != nil {
				return err
			}
			defer client.Close()

			if reporter == "" {
				reporter = cfg.Player.UserID
			}
			if reporter == "" {
				return fmt.Errorf("no reporter, set player.user_id or --reporter")
			}

			ctx, cancel := withTimeout(cmd, cfg)
			defer cancel()

			event, err := client.ReportUser(ctx, reporter, args[0], eventType)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), event)
		},
	}

	cmd.Flags().StringVarP(&eventType, "type", "t", "harassment", "Report event type")
	cmd.Flags().StringVar(&reporter, "reporter", "", "Reporting player (defaults to player.user_id)")

	return cmd
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [USER_ID]",
		Short: "Show a player's enforcement status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := newClient(cmd, flags)
			if err != nil {
				return err
			}
			defer client.Close()

			userID := cfg.Player.UserID
			if len(args) == 1 {
				userID = args[0]
			}

			ctx, cancel := withTimeout(cmd, cfg)
			defer cancel()

			status, err := client.PlayerStatus(ctx, userID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newRemoteConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remote-config",
		Short: "Fetch the remote policy and show the parameters it yields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := newClient(cmd, flags)
			if err != nil {
				return err
			}
			defer client.Close()

			defaults, err := cfg.PolicyParameters()
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(cmd, cfg)
			defer cancel()

			remote, err := client.FetchRemoteConfig(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"remote":     remote,
				"parameters": policy.FromRemote(defaults, *remote),
			})
		},
	}
}
