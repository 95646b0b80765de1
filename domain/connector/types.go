// Package connector holds the shared types for external document
// sources: stored registrations, sync cursors, queue messages, and the
// Source contract every provider implements.
package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider names understood by the registry.
const (
	ProviderS3    = "s3"
	ProviderGCS   = "gcs"
	ProviderDrive = "drive"
)

// Operations carried on queue messages. Anything a provider cannot
// classify is treated as an upsert; deletions tombstone.
const (
	OpUpsert  = "upsert"
	OpDeleted = "deleted"
)

// Config is a stored connector registration. Settings carries the
// provider config as persisted, with secret fields encrypted at rest;
// KeyVersion names the KEK that sealed them.
type Config struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Provider   string         `json:"provider"`
	Settings   map[string]any `json:"config"`
	Enabled    bool           `json:"enabled"`
	KeyVersion int            `json:"key_version"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Cursor checkpoints incremental sync per (tenant, provider). State is
// provider-specific: a timestamp for bucket listings, a page token for
// Drive changes.
type Cursor struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Provider  string         `json:"provider"`
	State     map[string]any `json:"cursor"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Stats describes a remote resource without its content.
type Stats struct {
	Exists     bool       `json:"exists"`
	ETag       string     `json:"etag,omitempty"`
	Generation string     `json:"generation,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
	Size       int64      `json:"size,omitempty"`
	MimeType   string     `json:"mime_type,omitempty"`
	Owner      string     `json:"owner,omitempty"`
}

// FetchResult is the text content of a fetched resource.
type FetchResult struct {
	Text     string         `json:"text"`
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChangeItem is one unit of ingestion work. Webhooks and incremental
// listings both produce it; workers consume it from the tenant queue.
type ChangeItem struct {
	URI        string `json:"uri"`
	Operation  string `json:"operation"`
	ETag       string `json:"etag,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
	TenantID   string `json:"tenant_id"`
}

// Source is the contract every provider implements: metadata lookup,
// content fetch, and incremental change listing. Implementations
// classify failures as transient or permanent connector errors so the
// worker can decide between retry and dead-letter.
type Source interface {
	// Stat returns resource metadata without downloading content.
	Stat(ctx context.Context, uri string) (Stats, error)
	// FetchText downloads and extracts the text content of uri.
	FetchText(ctx context.Context, uri string) (FetchResult, error)
	// ListChanges returns changes since cursor; empty cursor means a
	// full backfill. The returned cursor resumes the listing.
	ListChanges(ctx context.Context, cursor string) ([]ChangeItem, string, error)
	// Provider reports the registry name of this source.
	Provider() string
}

// ExternalID renders the stable upsert key for a resource:
// "{provider}:{tenant}:{resource_id}". The resource id is the URI with
// its scheme stripped.
func ExternalID(provider, tenantID, uri string) string {
	resource := uri
	if i := strings.Index(uri, "://"); i >= 0 {
		resource = uri[i+len("://"):]
	} else if i := strings.Index(uri, ":"); i >= 0 {
		resource = uri[i+1:]
	}
	return fmt.Sprintf("%s:%s:%s", provider, tenantID, resource)
}

// ContentHash is the dedup fingerprint for fetched text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NeedsRefresh reports whether a resource must be re-fetched given its
// current remote stats and the etag recorded on the existing node. The
// etag comparison is the fast path; callers without a match fall back
// to comparing content hashes after fetching.
func NeedsRefresh(stats Stats, existingETag string) bool {
	if existingETag == "" {
		return true
	}
	if stats.ETag != "" && stats.ETag == existingETag {
		return false
	}
	return true
}
