package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"chatvault/config"
)

// snowflakeEpoch is the platform's millisecond epoch offset for message ids.
const snowflakeEpoch = 1420070400000

// StatusError is a non-success HTTP response from the platform API.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform api returned status %d for %s", e.Code, e.URL)
}

// IsPermanent reports whether err is a 4xx-class response that retrying
// cannot fix. Rate limiting (429) stays retryable.
func IsPermanent(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 400 && statusErr.Code < 500 && statusErr.Code != http.StatusTooManyRequests
	}
	return false
}

// Client talks to the chat platform's REST API.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a platform client from the account and platform config.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:   cfg.Platform.APIBase,
		token:     cfg.Account.Token,
		userAgent: cfg.Account.UserAgent,
		http:      &http.Client{Timeout: 60 * time.Second},
		limiter:   rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	c.addHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, URL: req.URL.String()}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SnowflakeFromTime converts a timestamp into the smallest message id that
// can have been created at t, for use as a history cursor.
func SnowflakeFromTime(t time.Time) string {
	ms := t.UnixMilli() - snowflakeEpoch
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms<<22, 10)
}

// MessagesAfter fetches up to limit messages of a channel strictly newer
// than the afterID cursor, ordered oldest to newest.
func (c *Client) MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if afterID != "" {
		q.Set("after", afterID)
	}

	var messages []Message
	path := fmt.Sprintf("/channels/%s/messages?%s", channelID, q.Encode())
	if err := c.getJSON(ctx, path, &messages); err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

// Channels lists the text channels of a guild.
func (c *Client) Channels(ctx context.Context, guildID string) ([]Channel, error) {
	var channels []Channel
	path := fmt.Sprintf("/guilds/%s/channels", guildID)
	if err := c.getJSON(ctx, path, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// Members pages through the guild member list.
func (c *Client) Members(ctx context.Context, guildID string) ([]Member, error) {
	var all []Member
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", "1000")
		if after != "" {
			q.Set("after", after)
		}

		var page []Member
		path := fmt.Sprintf("/guilds/%s/members?%s", guildID, q.Encode())
		if err := c.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		if len(page) < 1000 {
			return all, nil
		}
		after = page[len(page)-1].User.ID
	}
}

// SendMessage posts plain text to a channel. This is the outbound
// notification sink.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait error: %w", err)
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}

	path := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	c.addHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, URL: req.URL.String()}
	}
	return nil
}

// Download streams attachment bytes. The caller owns the response body.
func (c *Client) Download(ctx context.Context, remoteURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, URL: remoteURL}
	}
	return resp, nil
}
