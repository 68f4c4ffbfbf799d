package crawl

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"chatvault/platform"
	"chatvault/retry"
)

type fakeSource struct {
	mu       sync.Mutex
	msgs     []platform.Message
	failAt   int // fail the Nth fetch once (1-based), 0 disables
	fetches  int
	permFail bool
}

func (s *fakeSource) MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]platform.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetches++
	if s.permFail {
		return nil, &platform.StatusError{Code: http.StatusForbidden, URL: "history"}
	}
	if s.failAt > 0 && s.fetches == s.failAt {
		s.failAt = 0
		return nil, fmt.Errorf("connection reset")
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

func fastCrawler(source Source, pageSize int) *Crawler {
	return NewCrawler(source, []string{"png", "mp4"},
		WithPageSize(pageSize),
		WithPageLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithRetryPolicy(retry.Policy{
			MaxAttempts: 3,
			BackoffBase: time.Second,
			Retryable:   func(err error) bool { return !platform.IsPermanent(err) },
			Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
		}),
	)
}

func msgAt(base time.Time, offset int, user, filename string, bot bool) platform.Message {
	id, _ := strconv.ParseInt(platform.SnowflakeFromTime(base), 10, 64)
	msg := platform.Message{
		ID:        strconv.FormatInt(id+int64(offset), 10),
		ChannelID: "chan1",
		Author:    platform.Author{ID: user, Username: user, Bot: bot},
		Timestamp: base.Add(time.Duration(offset) * time.Minute),
	}
	if filename != "" {
		msg.Attachments = []platform.Attachment{{Filename: filename, URL: "https://cdn/" + filename}}
	}
	return msg
}

func TestWalkHidesPageBoundaries(t *testing.T) {
	base := time.Now().UTC().Add(-time.Hour)
	source := &fakeSource{}
	for i := 1; i <= 7; i++ {
		source.msgs = append(source.msgs, msgAt(base, i, "u1", fmt.Sprintf("f%d.png", i), false))
	}

	var got []string
	crawler := fastCrawler(source, 3)
	err := crawler.Walk(context.Background(), "chan1", base.Add(-time.Minute), func(msg platform.Message) error {
		got = append(got, msg.Attachments[0].Filename)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"f1.png", "f2.png", "f3.png", "f4.png", "f5.png", "f6.png", "f7.png"}, got)
}

func TestWalkFiltersNonMediaAndBots(t *testing.T) {
	base := time.Now().UTC().Add(-time.Hour)
	source := &fakeSource{msgs: []platform.Message{
		msgAt(base, 1, "u1", "keep.png", false),
		msgAt(base, 2, "u1", "notes.txt", false),
		msgAt(base, 3, "u1", "", false),
		msgAt(base, 4, "bot1", "drop.png", true),
		msgAt(base, 5, "u2", "keep.mp4", false),
	}}

	var got []string
	crawler := fastCrawler(source, 100)
	err := crawler.Walk(context.Background(), "chan1", base.Add(-time.Minute), func(msg platform.Message) error {
		got = append(got, msg.Attachments[0].Filename)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"keep.png", "keep.mp4"}, got)
}

func TestWalkResumesFromLastDeliveredPost(t *testing.T) {
	base := time.Now().UTC().Add(-time.Hour)
	source := &fakeSource{failAt: 2}
	for i := 1; i <= 4; i++ {
		source.msgs = append(source.msgs, msgAt(base, i, "u1", fmt.Sprintf("f%d.png", i), false))
	}

	var got []string
	crawler := fastCrawler(source, 2)
	err := crawler.Walk(context.Background(), "chan1", base.Add(-time.Minute), func(msg platform.Message) error {
		got = append(got, msg.Attachments[0].Filename)
		return nil
	})

	require.NoError(t, err)
	// The second page fetch failed once and was retried from the last
	// delivered post; no post is lost and none replayed.
	assert.Equal(t, []string{"f1.png", "f2.png", "f3.png", "f4.png"}, got)
}

func TestWalkSurfacesPermanentErrors(t *testing.T) {
	source := &fakeSource{permFail: true}
	crawler := fastCrawler(source, 10)

	err := crawler.Walk(context.Background(), "chan1", time.Now().UTC(), func(platform.Message) error {
		t.Fatal("no post should be delivered")
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 1, source.fetches, "a 4xx history response must not be retried")
}

func TestWalkStopsOnConsumerError(t *testing.T) {
	base := time.Now().UTC().Add(-time.Hour)
	source := &fakeSource{msgs: []platform.Message{
		msgAt(base, 1, "u1", "a.png", false),
		msgAt(base, 2, "u1", "b.png", false),
	}}

	wantErr := fmt.Errorf("downstream full")
	crawler := fastCrawler(source, 10)
	seen := 0
	err := crawler.Walk(context.Background(), "chan1", base.Add(-time.Minute), func(platform.Message) error {
		seen++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, seen)
}

func TestMediaAttachmentsKeepsOrdinalOrder(t *testing.T) {
	crawler := fastCrawler(&fakeSource{}, 10)
	msg := platform.Message{Attachments: []platform.Attachment{
		{Filename: "a.png"},
		{Filename: "skip.pdf"},
		{Filename: "b.PNG"},
	}}

	media := crawler.MediaAttachments(msg)
	require.Len(t, media, 2)
	assert.Equal(t, "a.png", media[0].Filename)
	assert.Equal(t, "b.PNG", media[1].Filename)

	// Ordinals index the full attachment list, so skipped attachments
	// still count and identities survive allow-list changes.
	assert.Equal(t, 0, media[0].Ordinal)
	assert.Equal(t, 2, media[1].Ordinal)
}
