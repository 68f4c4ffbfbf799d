package archive

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"chatvault/db/service"
	"chatvault/platform"
)

// Identity is the stable key of one attachment across re-crawls. Two
// attachments sharing a filename within the same post are told apart by
// their ordinal.
type Identity struct {
	MessageID string
	Filename  string
	Ordinal   int
}

// IdentityOf derives the identity of the ordinal-th media attachment of msg.
func IdentityOf(msg platform.Message, att platform.Attachment, ordinal int) Identity {
	return Identity{
		MessageID: msg.ID,
		Filename:  att.Filename,
		Ordinal:   ordinal,
	}
}

// Key renders the identity as the unique string stored in the metadata
// table.
func (id Identity) Key() string {
	return fmt.Sprintf("%s/%s/%d", id.MessageID, id.Filename, id.Ordinal)
}

// Deduplicator answers "was this identity archived already" before a
// transfer is scheduled. A positive LRU cache sits in front of the metadata
// table; negatives always hit the table, so concurrent callers can at worst
// both schedule a job, and the store's atomic publish keeps that safe.
type Deduplicator struct {
	archive *service.ArchiveService
	seen    *lru.Cache[string, struct{}]
}

// NewDeduplicator creates a deduplicator backed by the archive metadata.
func NewDeduplicator(archive *service.ArchiveService, cacheSize int) (*Deduplicator, error) {
	if cacheSize <= 0 {
		cacheSize = 8192
	}
	cache, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Deduplicator{archive: archive, seen: cache}, nil
}

// Exists reports whether the identity has been archived.
func (d *Deduplicator) Exists(id Identity) bool {
	key := id.Key()
	if _, ok := d.seen.Get(key); ok {
		return true
	}
	if d.archive.EntryExists(key) {
		d.seen.Add(key, struct{}{})
		return true
	}
	return false
}

// Remember marks an identity as archived.
func (d *Deduplicator) Remember(id Identity) {
	d.seen.Add(id.Key(), struct{}{})
}
