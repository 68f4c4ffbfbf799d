package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"chatvault/config"
	"chatvault/crawl"
	"chatvault/db/dbtest"
	"chatvault/db/models"
	"chatvault/db/repository"
	"chatvault/db/service"
	"chatvault/platform"
	"chatvault/retry"
)

// fakeSource serves a fixed message history with snowflake-ordered ids and
// can fail a configurable number of page fetches.
type fakeSource struct {
	mu       sync.Mutex
	msgs     []platform.Message
	failures int
	fetches  int
}

func (s *fakeSource) MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]platform.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetches++
	if s.failures > 0 {
		s.failures--
		return nil, fmt.Errorf("upstream hiccup")
	}

	after := int64(0)
	if afterID != "" {
		var err error
		after, err = strconv.ParseInt(afterID, 10, 64)
		if err != nil {
			return nil, err
		}
	}

	var page []platform.Message
	for _, msg := range s.msgs {
		id, _ := strconv.ParseInt(msg.ID, 10, 64)
		if id > after {
			page = append(page, msg)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	if len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

// fakeFetcher serves attachment bytes keyed by URL.
type fakeFetcher struct {
	mu      sync.Mutex
	content map[string]string
	calls   map[string]int
}

func (f *fakeFetcher) Download(ctx context.Context, remoteURL string) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[remoteURL]++

	body, ok := f.content[remoteURL]
	if !ok {
		return nil, &platform.StatusError{Code: http.StatusNotFound, URL: remoteURL}
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func unlimited() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

func snowflakeAt(base time.Time, offset int) string {
	id, _ := strconv.ParseInt(platform.SnowflakeFromTime(base), 10, 64)
	return strconv.FormatInt(id+int64(offset), 10)
}

func mediaMessage(id string, user string, ts time.Time, filenames ...string) platform.Message {
	msg := platform.Message{
		ID:        id,
		ChannelID: "chan1",
		Author:    platform.Author{ID: user, Username: user},
		Content:   "test post content",
		Timestamp: ts,
	}
	for _, name := range filenames {
		msg.Attachments = append(msg.Attachments, platform.Attachment{
			Filename: name,
			URL:      "https://cdn.example/" + id + "/" + name,
		})
	}
	return msg
}

type pipeline struct {
	gdb      *gorm.DB
	archiver *Archiver
	ledger   *service.LedgerService
	root     string
}

func buildPipeline(t *testing.T, source crawl.Source, fetcher Fetcher) *pipeline {
	return buildPipelineRepo(t, source, fetcher, nil)
}

// buildPipelineRepo lets a test interpose on the archive metadata writes.
func buildPipelineRepo(t *testing.T, source crawl.Source, fetcher Fetcher,
	wrap func(repository.ArchiveRepository) repository.ArchiveRepository) *pipeline {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Options.SaveLocation = t.TempDir()
	cfg.Options.DownloadConcurrency = 4
	cfg.Options.MaxRetries = 3
	cfg.Options.BackoffBaseSeconds = 1

	gdb := dbtest.Open(t)
	fastPolicy := retry.Policy{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}
	repo := repository.NewArchiveRepository(gdb)
	if wrap != nil {
		repo = wrap(repo)
	}
	archiveSvc := service.NewArchiveService(repo, fastPolicy)
	ledger := service.NewLedgerService(repository.NewFactRepository(gdb), fastPolicy)

	store, err := NewStore(cfg.Options.SaveLocation)
	require.NoError(t, err)
	dedupe, err := NewDeduplicator(archiveSvc, 0)
	require.NoError(t, err)

	crawler := crawl.NewCrawler(source, cfg.Options.MediaExtensions,
		crawl.WithPageSize(2),
		crawl.WithRetryPolicy(fastPolicy),
		crawl.WithPageLimiter(unlimited()),
	)

	archiver := NewArchiver(cfg, crawler, store, dedupe, archiveSvc, ledger, fetcher)
	archiver.policy.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	archiver.policy.Retryable = func(err error) bool { return !platform.IsPermanent(err) }

	return &pipeline{gdb: gdb, archiver: archiver, ledger: ledger, root: store.Root()}
}

func (p *pipeline) archivedFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(p.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.Contains(path, ".staging") || strings.Contains(path, ".logs") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestArchiveChannelScenario(t *testing.T) {
	now := time.Now().UTC()
	base := now.Add(-3 * 24 * time.Hour)

	// Three posts by one user within the window, one of them delivered
	// twice by a retried crawl.
	msgs := []platform.Message{
		mediaMessage(snowflakeAt(base, 1), "u1", base, "a.png"),
		mediaMessage(snowflakeAt(base, 2), "u1", base.Add(time.Hour), "b.png"),
		mediaMessage(snowflakeAt(base, 3), "u1", base.Add(2*time.Hour), "c.png"),
	}
	source := &fakeSource{msgs: msgs}
	fetcher := &fakeFetcher{content: map[string]string{}}
	for _, msg := range msgs {
		for _, att := range msg.Attachments {
			fetcher.content[att.URL] = "bytes of " + att.Filename
		}
	}

	p := buildPipeline(t, source, fetcher)
	ctx := context.Background()
	since := now.Add(-7 * 24 * time.Hour)

	summary, err := p.archiver.ArchiveChannel(ctx, "chan1", since)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Posts)
	assert.EqualValues(t, 3, summary.Archived)
	assert.EqualValues(t, 0, summary.Failed)

	// Re-crawl the same history: nothing new, no duplicate files, no
	// double-counted activity.
	summary, err = p.archiver.ArchiveChannel(ctx, "chan1", since)
	require.NoError(t, err)
	assert.EqualValues(t, 0, summary.Archived)
	assert.EqualValues(t, 3, summary.Skipped)

	assert.Len(t, p.archivedFiles(t), 3)

	count, err := p.ledger.CountInWindow("u1", now.Add(-7*24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestArchiveChannelResumesAfterTransientFailure(t *testing.T) {
	now := time.Now().UTC()
	base := now.Add(-24 * time.Hour)

	msgs := []platform.Message{
		mediaMessage(snowflakeAt(base, 1), "u1", base, "a.png"),
		mediaMessage(snowflakeAt(base, 2), "u2", base.Add(time.Minute), "b.png"),
		mediaMessage(snowflakeAt(base, 3), "u1", base.Add(2*time.Minute), "c.png"),
	}
	source := &fakeSource{msgs: msgs, failures: 2}
	fetcher := &fakeFetcher{content: map[string]string{}}
	for _, msg := range msgs {
		for _, att := range msg.Attachments {
			fetcher.content[att.URL] = att.Filename
		}
	}

	p := buildPipeline(t, source, fetcher)
	summary, err := p.archiver.ArchiveChannel(context.Background(), "chan1", now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, summary.Archived)
}

func TestArchiveChannelIsolatesPermanentFailures(t *testing.T) {
	now := time.Now().UTC()
	base := now.Add(-time.Hour)

	msgs := []platform.Message{
		mediaMessage(snowflakeAt(base, 1), "u1", base, "gone.png", "ok.png"),
	}
	source := &fakeSource{msgs: msgs}
	fetcher := &fakeFetcher{content: map[string]string{
		msgs[0].Attachments[1].URL: "still here",
	}}

	p := buildPipeline(t, source, fetcher)
	summary, err := p.archiver.ArchiveChannel(context.Background(), "chan1", now.Add(-2*time.Hour))
	require.NoError(t, err)

	assert.EqualValues(t, 1, summary.Archived)
	assert.EqualValues(t, 1, summary.Failed)
	// The 404 is permanent: one request, no retries.
	assert.Equal(t, 1, fetcher.calls[msgs[0].Attachments[0].URL])

	// The sibling's fact still landed.
	count, err := p.ledger.CountInWindow("u1", now.Add(-2*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConcurrentJobsForSameIdentityStoreOnce(t *testing.T) {
	now := time.Now().UTC()
	msg := mediaMessage(snowflakeAt(now, 1), "u1", now, "pic.png")
	fetcher := &fakeFetcher{content: map[string]string{
		msg.Attachments[0].URL: "payload",
	}}

	p := buildPipeline(t, &fakeSource{}, fetcher)

	const jobs = 6
	var wg sync.WaitGroup
	stored := make([]bool, jobs)
	errs := make([]error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored[i], _, errs[i] = p.archiver.archiveAttachment(
				context.Background(), msg, msg.Attachments[0], 0, "sub")
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := range errs {
		require.NoError(t, errs[i])
		if stored[i] {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent job may archive the identity")
	assert.Len(t, p.archivedFiles(t), 1)

	var entries int64
	require.NoError(t, p.gdb.Model(&models.ArchiveEntry{}).Count(&entries).Error)
	assert.EqualValues(t, 1, entries)
}

// brokenArchiveRepo fails Create outright a fixed number of times, the way
// a crash between publish and record looks to the next run.
type brokenArchiveRepo struct {
	repository.ArchiveRepository
	mu       sync.Mutex
	failures int
}

func (r *brokenArchiveRepo) Create(entry *models.ArchiveEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return fmt.Errorf("disk I/O error")
	}
	return r.ArchiveRepository.Create(entry)
}

func TestRecordFailureAfterPublishIsRepairedOnRecrawl(t *testing.T) {
	now := time.Now().UTC()
	base := now.Add(-time.Hour)

	msg := mediaMessage(snowflakeAt(base, 1), "u1", base, "pic.png")
	source := &fakeSource{msgs: []platform.Message{msg}}
	fetcher := &fakeFetcher{content: map[string]string{
		msg.Attachments[0].URL: "payload",
	}}

	broken := &brokenArchiveRepo{failures: 1}
	p := buildPipelineRepo(t, source, fetcher,
		func(repo repository.ArchiveRepository) repository.ArchiveRepository {
			broken.ArchiveRepository = repo
			return broken
		})
	ctx := context.Background()
	since := now.Add(-2 * time.Hour)

	// First run publishes the file but loses the metadata write.
	summary, err := p.archiver.ArchiveChannel(ctx, "chan1", since)
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Failed)
	assert.EqualValues(t, 0, summary.Archived)
	assert.Len(t, p.archivedFiles(t), 1, "the file was published before the write failed")

	var entries int64
	require.NoError(t, p.gdb.Model(&models.ArchiveEntry{}).Count(&entries).Error)
	assert.EqualValues(t, 0, entries)

	// The re-crawl finds the published file and repairs the row, so the
	// attachment is counted exactly once instead of being orphaned.
	summary, err = p.archiver.ArchiveChannel(ctx, "chan1", since)
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Archived)
	assert.EqualValues(t, 0, summary.Failed)
	assert.Len(t, p.archivedFiles(t), 1)

	require.NoError(t, p.gdb.Model(&models.ArchiveEntry{}).Count(&entries).Error)
	assert.EqualValues(t, 1, entries)

	count, err := p.ledger.CountInWindow("u1", since, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOrdinalsCountFilteredAttachments(t *testing.T) {
	now := time.Now().UTC()
	base := now.Add(-time.Hour)

	// The text file is not media, but it still occupies ordinal 0: the
	// picture's identity must not shift when the allow-list changes.
	msg := mediaMessage(snowflakeAt(base, 1), "u1", base, "notes.txt", "pic.png")
	source := &fakeSource{msgs: []platform.Message{msg}}
	fetcher := &fakeFetcher{content: map[string]string{
		msg.Attachments[1].URL: "payload",
	}}

	p := buildPipeline(t, source, fetcher)
	summary, err := p.archiver.ArchiveChannel(context.Background(), "chan1", now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Archived)

	var entry models.ArchiveEntry
	require.NoError(t, p.gdb.First(&entry).Error)
	assert.Equal(t, msg.ID+"/pic.png/1", entry.IdentityKey)
	assert.True(t, strings.HasSuffix(entry.FilePath, "pic_1.png"), entry.FilePath)
}
