package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/semaphore"

	"chatvault/config"
	"chatvault/crawl"
	"chatvault/db/models"
	"chatvault/db/service"
	"chatvault/logger"
	"chatvault/platform"
	"chatvault/retry"
)

// Fetcher fetches attachment bytes. The platform client implements it.
type Fetcher interface {
	Download(ctx context.Context, remoteURL string) (*http.Response, error)
}

// Summary reports the outcome of one archive run.
type Summary struct {
	Posts    int
	Archived int64
	Skipped  int64
	Failed   int64
	Bytes    int64
}

func (s Summary) String() string {
	return fmt.Sprintf("%d posts, %d archived (%s), %d skipped, %d failed",
		s.Posts, s.Archived, humanize.Bytes(uint64(s.Bytes)), s.Skipped, s.Failed)
}

// Archiver runs the crawl-and-download pipeline for channels. Attachments
// of a post are fetched by a bounded worker pool shared across channels;
// activity facts are appended per post, in observation order within each
// channel.
type Archiver struct {
	store   *Store
	dedupe  *Deduplicator
	crawler *crawl.Crawler
	archive *service.ArchiveService
	ledger  *service.LedgerService
	fetcher Fetcher
	sem     *semaphore.Weighted
	policy  retry.Policy
	bar     *progressbar.ProgressBar
}

// NewArchiver wires the pipeline from config and the persistence services.
func NewArchiver(cfg *config.Config, crawler *crawl.Crawler, store *Store, dedupe *Deduplicator,
	archiveSvc *service.ArchiveService, ledger *service.LedgerService, fetcher Fetcher) *Archiver {

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Archiving"),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
	)

	return &Archiver{
		store:   store,
		dedupe:  dedupe,
		crawler: crawler,
		archive: archiveSvc,
		ledger:  ledger,
		fetcher: fetcher,
		sem:     semaphore.NewWeighted(int64(cfg.Options.DownloadConcurrency)),
		policy: retry.Policy{
			MaxAttempts: cfg.Options.MaxRetries,
			BackoffBase: cfg.BackoffBase(),
			BackoffCap:  cfg.BackoffCap(),
			Retryable: func(err error) bool {
				return !platform.IsPermanent(err)
			},
		},
		bar: bar,
	}
}

// ArchiveChannel crawls one channel from since to now and archives every
// attachment it has not seen before. Per-attachment failures are isolated;
// a ledger append failure aborts the run because dropping facts silently is
// worse than stopping.
func (a *Archiver) ArchiveChannel(ctx context.Context, channelID string, since time.Time) (Summary, error) {
	var summary Summary

	err := a.crawler.Walk(ctx, channelID, since, func(msg platform.Message) error {
		summary.Posts++
		newlyArchived, err := a.processPost(ctx, msg)
		summary.Archived += newlyArchived.archived
		summary.Skipped += newlyArchived.skipped
		summary.Failed += newlyArchived.failed
		summary.Bytes += newlyArchived.bytes
		if err != nil {
			return err
		}

		if newlyArchived.archived > 0 {
			if err := a.ledger.Append(ctx, msg.Author.ID, msg.Timestamp, int(newlyArchived.archived)); err != nil {
				return fmt.Errorf("ledger append for post %s: %w", msg.ID, err)
			}
		}
		return nil
	})

	a.bar.Finish()
	a.bar.Clear()
	return summary, err
}

type postResult struct {
	archived int64
	skipped  int64
	failed   int64
	bytes    int64
}

// processPost downloads the media attachments of one post concurrently and
// waits for all of them, so facts for later posts cannot overtake this one.
func (a *Archiver) processPost(ctx context.Context, msg platform.Message) (postResult, error) {
	media := a.crawler.MediaAttachments(msg)
	subdir := config.SubdirForContent(msg.Content)

	var result postResult
	var wg sync.WaitGroup

	for _, item := range media {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return result, err
		}

		wg.Add(1)
		go func(att platform.Attachment, ordinal int) {
			defer wg.Done()
			defer a.sem.Release(1)
			defer a.bar.Add(1)

			stored, size, err := a.archiveAttachment(ctx, msg, att, ordinal, subdir)
			switch {
			case err != nil:
				atomic.AddInt64(&result.failed, 1)
				logger.Logger.Error().Err(err).
					Str("message", msg.ID).
					Str("filename", att.Filename).
					Msg("attachment permanently failed")
			case stored:
				atomic.AddInt64(&result.archived, 1)
				atomic.AddInt64(&result.bytes, size)
			default:
				atomic.AddInt64(&result.skipped, 1)
			}
		}(item.Attachment, item.Ordinal)
	}

	wg.Wait()
	return result, ctx.Err()
}

// archiveAttachment runs one download job: dedup check, staged fetch with
// retry, atomic publish, metadata record. Returns whether this call newly
// archived the attachment and how many bytes it stored.
func (a *Archiver) archiveAttachment(ctx context.Context, msg platform.Message, att platform.Attachment, ordinal int, subdir string) (bool, int64, error) {
	id := IdentityOf(msg, att, ordinal)
	if a.dedupe.Exists(id) {
		return false, 0, nil
	}

	relPath := a.store.EntryPath(msg.ChannelID, subdir, att.Filename, ordinal)

	var stagedPath, hashString string
	var size int64
	err := retry.Do(ctx, a.policy, func() error {
		var fetchErr error
		stagedPath, hashString, size, fetchErr = a.fetchToStaging(ctx, att.URL)
		return fetchErr
	})
	if err != nil {
		return false, 0, err
	}

	finalPath, err := a.store.Publish(stagedPath, relPath)
	if errors.Is(err, ErrExists) {
		// Someone published this identity before us. The metadata row
		// still has to exist: a crash between publish and record would
		// otherwise orphan the file forever, since every later run
		// lands here. RecordEntry reports false for the usual case of
		// a row written by the winner.
		finalPath = a.store.AbsPath(relPath)
	} else if err != nil {
		return false, 0, err
	}

	created, err := a.archive.RecordEntry(ctx, &models.ArchiveEntry{
		IdentityKey: id.Key(),
		UserID:      msg.Author.ID,
		MessageID:   msg.ID,
		ChannelID:   msg.ChannelID,
		FilePath:    finalPath,
		Sha256:      hashString,
		PostedAt:    msg.Timestamp.UTC(),
	})
	if err != nil {
		return false, 0, err
	}
	a.dedupe.Remember(id)
	if !created {
		return false, 0, nil
	}

	logger.Logger.Info().
		Str("path", finalPath).
		Str("size", humanize.Bytes(uint64(size))).
		Msg("archived attachment")
	return true, size, nil
}

// fetchToStaging downloads one attachment into the staging area, hashing
// the bytes on the way through. The staged file is cleaned up on failure.
func (a *Archiver) fetchToStaging(ctx context.Context, remoteURL string) (string, string, int64, error) {
	resp, err := a.fetcher.Download(ctx, remoteURL)
	if err != nil {
		return "", "", 0, err
	}
	defer resp.Body.Close()

	staged, err := a.store.Stage()
	if err != nil {
		return "", "", 0, err
	}
	stagedPath := staged.Name()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(staged, hash), resp.Body)
	closeErr := staged.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		a.store.Discard(stagedPath)
		return "", "", 0, err
	}

	return stagedPath, hex.EncodeToString(hash.Sum(nil)), size, nil
}
