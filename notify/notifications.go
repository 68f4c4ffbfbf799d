package notify

import (
	"context"
	"fmt"
	"strings"

	"chatvault/db/repository"
	"chatvault/logger"
)

// Sink delivers formatted notification text to a destination channel. The
// platform client implements it; delivery is the collaborator's problem.
type Sink interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

// Resolver maps a user id to a display name. Unknown users fall back to
// the raw id.
type Resolver func(userID string) string

// Service formats accounting results and pushes them through the sink.
type Service struct {
	sink Sink
}

// NewService creates a notification service over sink.
func NewService(sink Sink) *Service {
	return &Service{sink: sink}
}

// FormatLeaderboard renders the rolling-window media counts the way the
// scheduled channel post expects them.
func FormatLeaderboard(windowDays int, rows []repository.UserCount, resolve Resolver) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Media post counts for the last %d days:**\n", windowDays)
	if len(rows) == 0 {
		b.WriteString("No media posts in this window.")
		return b.String()
	}
	for _, row := range rows {
		noun := "images"
		if row.Count == 1 {
			noun = "image"
		}
		fmt.Fprintf(&b, "%s: %d %s\n", displayName(row.UserID, resolve), row.Count, noun)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatBalances renders the point leaderboard.
func FormatBalances(rows []BalanceRow) string {
	var b strings.Builder
	b.WriteString("```\n[Points Leaderboard]\n\n")
	for i, row := range rows {
		fmt.Fprintf(&b, "%d. %s: %.1f points\n", i+1, row.Name, row.Points)
	}
	b.WriteString("```")
	return b.String()
}

// BalanceRow is one rendered point-leaderboard line.
type BalanceRow struct {
	Name   string
	Points float64
}

// PostLeaderboard sends the media-count leaderboard to channelID. A sink
// failure is logged and replaced with a friendly failure message where
// possible; the raw error never reaches the channel.
func (s *Service) PostLeaderboard(ctx context.Context, channelID string, windowDays int, rows []repository.UserCount, resolve Resolver) error {
	return s.send(ctx, channelID, FormatLeaderboard(windowDays, rows, resolve))
}

// PostFailure reports that a stats query could not be answered.
func (s *Service) PostFailure(ctx context.Context, channelID string) error {
	return s.send(ctx, channelID, "Sorry, the stats are unavailable right now. Please try again later.")
}

func (s *Service) send(ctx context.Context, channelID, content string) error {
	if err := s.sink.SendMessage(ctx, channelID, content); err != nil {
		logger.Logger.Error().Err(err).Str("channel", channelID).Msg("notification delivery failed")
		return err
	}
	return nil
}

func displayName(userID string, resolve Resolver) string {
	if resolve == nil {
		return userID
	}
	if name := resolve(userID); name != "" {
		return name
	}
	return userID
}
