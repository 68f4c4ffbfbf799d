package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatvault/logger"
	"chatvault/notify"
	"chatvault/platform"
)

var leaderboardEvery time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon: live earn path, decay engine, scheduled leaderboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d.decay.Start(ctx)
		defer d.decay.Stop()

		if cfg.Points.LeaderboardChannel != "" {
			go leaderboardLoop(ctx, d)
		}

		gateway := platform.NewGateway(cfg, func(msg platform.Message) {
			if msg.Author.Bot {
				return
			}
			if len(d.crawler.MediaAttachments(msg)) == 0 {
				return
			}
			applied, err := d.aggregator.Award(ctx, msg.Author.ID)
			if err != nil {
				logger.Logger.Error().Err(err).Str("user", msg.Author.ID).Msg("award failed")
				return
			}
			if applied {
				logger.Logger.Info().Str("user", msg.Author.ID).Msg("earned points for a media post")
			}
		})

		logger.Logger.Info().Str("version", version).Msg("chatvault daemon starting")
		err = gateway.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func leaderboardLoop(ctx context.Context, d *deps) {
	svc := notify.NewService(d.client)
	ticker := time.NewTicker(leaderboardEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows, err := d.aggregator.Leaderboard()
			if err != nil {
				logger.Logger.Error().Err(err).Msg("scheduled leaderboard query failed")
				svc.PostFailure(ctx, cfg.Points.LeaderboardChannel)
				continue
			}
			if err := svc.PostLeaderboard(ctx, cfg.Points.LeaderboardChannel,
				cfg.Options.WindowDays, rows, nil); err != nil {
				logger.Logger.Error().Err(err).Msg("scheduled leaderboard post failed")
			}
		}
	}
}

func init() {
	runCmd.Flags().DurationVar(&leaderboardEvery, "leaderboard-every", 24*time.Hour, "how often to post the leaderboard")
}
