package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatvault/logger"
	"chatvault/notify"
)

var (
	statsUser string
	statsPost bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show rolling-window counts, balances and the leaderboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(cfg)
		if err != nil {
			return err
		}
		defer d.Close()
		ctx := cmd.Context()

		if statsUser != "" {
			count, err := d.aggregator.RollingCount(statsUser)
			if err != nil {
				logger.Logger.Error().Err(err).Msg("count query failed")
				return fmt.Errorf("could not fetch the count right now, please try again later")
			}
			points, err := d.aggregator.Balance(statsUser)
			if err != nil {
				logger.Logger.Error().Err(err).Msg("balance query failed")
				return fmt.Errorf("could not fetch the balance right now, please try again later")
			}
			fmt.Printf("%s: %d posts in the last %d days, %.1f points\n",
				statsUser, count, cfg.Options.WindowDays, points)
			return nil
		}

		rows, err := d.aggregator.Leaderboard()
		if err != nil {
			logger.Logger.Error().Err(err).Msg("leaderboard query failed")
			return fmt.Errorf("could not fetch the leaderboard right now, please try again later")
		}

		resolve := memberResolver(cmd, d)
		text := notify.FormatLeaderboard(cfg.Options.WindowDays, rows, resolve)
		fmt.Println(text)

		if statsPost {
			if cfg.Points.LeaderboardChannel == "" {
				return fmt.Errorf("points.leaderboard_channel is not configured")
			}
			svc := notify.NewService(d.client)
			return svc.PostLeaderboard(ctx, cfg.Points.LeaderboardChannel,
				cfg.Options.WindowDays, rows, resolve)
		}
		return nil
	},
}

// memberResolver maps user ids to display names via the guild member list,
// filtering bot accounts out of anything user-facing.
func memberResolver(cmd *cobra.Command, d *deps) notify.Resolver {
	if cfg.Platform.GuildID == "" {
		return nil
	}
	members, err := d.client.Members(cmd.Context(), cfg.Platform.GuildID)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("member listing failed, showing raw ids")
		return nil
	}
	names := make(map[string]string, len(members))
	for _, m := range members {
		if m.User.Bot {
			continue
		}
		names[m.User.ID] = m.DisplayName()
	}
	return func(userID string) string { return names[userID] }
}

func init() {
	statsCmd.Flags().StringVar(&statsUser, "user", "", "show stats for one user id")
	statsCmd.Flags().BoolVar(&statsPost, "post", false, "post the leaderboard to the configured channel")
}
