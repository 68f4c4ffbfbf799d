package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatvault/logger"
)

var (
	archiveChannels []string
	archiveSince    time.Duration
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Crawl channel history and archive media attachments",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		channels := archiveChannels
		if len(channels) == 0 {
			channels = cfg.Options.Channels
		}
		if len(channels) == 0 {
			return fmt.Errorf("no channels configured; set options.channels or pass --channel")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		since := time.Now().UTC().Add(-archiveSince)
		for _, channelID := range channels {
			summary, err := d.archiver.ArchiveChannel(ctx, channelID, since)
			if err != nil {
				logger.Logger.Error().Err(err).Str("channel", channelID).Msg("archive run failed")
				return err
			}
			fmt.Printf("channel %s: %s\n", channelID, summary)
		}
		return nil
	},
}

func init() {
	archiveCmd.Flags().StringArrayVar(&archiveChannels, "channel", nil, "channel id to archive (repeatable)")
	archiveCmd.Flags().DurationVar(&archiveSince, "since", 7*24*time.Hour, "how far back to crawl")
}
