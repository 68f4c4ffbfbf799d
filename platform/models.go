package platform

import (
	"time"
)

// Author identifies who wrote a message. Bot accounts are excluded from
// accounting.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// Attachment is one file attached to a message. Size may be zero when the
// platform does not report it up front.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

// Message is one post as delivered by the platform's history or gateway.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	Author      Author       `json:"author"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments"`
}

// Channel is a text channel the archiver can crawl.
type Channel struct {
	ID      string `json:"id"`
	GuildID string `json:"guild_id"`
	Name    string `json:"name"`
	Type    int    `json:"type"`
}

// Member is a guild member as returned by the member listing.
type Member struct {
	User     Author `json:"user"`
	Nickname string `json:"nick"`
}

// DisplayName prefers the guild nickname over the account username.
func (m Member) DisplayName() string {
	if m.Nickname != "" {
		return m.Nickname
	}
	return m.User.Username
}
