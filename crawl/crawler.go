package crawl

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"chatvault/logger"
	"chatvault/platform"
	"chatvault/retry"
)

// Source is the paginated history accessor the crawler walks. The platform
// client implements it.
type Source interface {
	MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]platform.Message, error)
}

// Crawler walks a channel's message history oldest to newest, hiding page
// boundaries from the consumer. Posts are delivered at least once: a page
// fetch that fails mid-crawl is retried from the last fully delivered post,
// so downstream consumers must be idempotent.
type Crawler struct {
	source   Source
	limiter  *rate.Limiter
	pageSize int
	policy   retry.Policy
	exts     map[string]struct{}
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithPageSize overrides the history page size.
func WithPageSize(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRetryPolicy overrides the page-fetch retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Crawler) { c.policy = p }
}

// WithPageLimiter overrides the pacing between history pages.
func WithPageLimiter(l *rate.Limiter) Option {
	return func(c *Crawler) { c.limiter = l }
}

// NewCrawler creates a crawler over source recognizing the given media
// extensions (no leading dot, lower case).
func NewCrawler(source Source, mediaExtensions []string, opts ...Option) *Crawler {
	exts := make(map[string]struct{}, len(mediaExtensions))
	for _, ext := range mediaExtensions {
		exts[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	c := &Crawler{
		source:   source,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 2),
		pageSize: 100,
		policy: retry.Policy{
			MaxAttempts: 3,
			BackoffBase: time.Second,
			BackoffCap:  16 * time.Second,
			Retryable: func(err error) bool {
				return !platform.IsPermanent(err)
			},
		},
		exts: exts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Media is one recognized attachment together with its ordinal, the
// position in the post's full attachment list. Keying on the full list
// keeps identities stable when the extension allow-list changes.
type Media struct {
	platform.Attachment
	Ordinal int
}

// MediaAttachments returns the attachments of msg whose filename carries a
// recognized media extension, in their original ordinal order.
func (c *Crawler) MediaAttachments(msg platform.Message) []Media {
	var media []Media
	for i, att := range msg.Attachments {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(att.Filename), "."))
		if _, ok := c.exts[ext]; ok {
			media = append(media, Media{Attachment: att, Ordinal: i})
		}
	}
	return media
}

// Walk delivers every media post of a channel newer than since to fn,
// oldest first. Posts without recognized media attachments and posts by bot
// accounts are dropped silently. An error from fn stops the walk;
// cancellation is honored between posts.
func (c *Crawler) Walk(ctx context.Context, channelID string, since time.Time, fn func(platform.Message) error) error {
	cursor := platform.SnowflakeFromTime(since.UTC())

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait error: %w", err)
		}

		var page []platform.Message
		err := retry.Do(ctx, c.policy, func() error {
			var fetchErr error
			page, fetchErr = c.source.MessagesAfter(ctx, channelID, cursor, c.pageSize)
			return fetchErr
		})
		if err != nil {
			return fmt.Errorf("history fetch for channel %s: %w", channelID, err)
		}

		for _, msg := range page {
			if err := ctx.Err(); err != nil {
				return err
			}

			// Advance the cursor per message so a failed page fetch
			// resumes from the last fully delivered post.
			cursor = msg.ID

			if msg.Author.Bot {
				continue
			}
			if len(c.MediaAttachments(msg)) == 0 {
				continue
			}
			if err := fn(msg); err != nil {
				return err
			}
		}

		if len(page) < c.pageSize {
			logger.Logger.Debug().Str("channel", channelID).Msg("history exhausted")
			return nil
		}
	}
}
