package catalog

import (
	"net/http"
	"time"
)

// SyncState is the completion flag carried by a ParentCollection.
type SyncState string

// Sync states accepted by ListCollections.
const (
	SyncAny      SyncState = ""
	SyncSynced   SyncState = "synced"
	SyncUnsynced SyncState = "unsynced"
)

// ParseSyncState maps a user supplied value onto a SyncState.
func ParseSyncState(v string) (SyncState, bool) {
	switch SyncState(v) {
	case SyncAny, SyncSynced, SyncUnsynced:
		return SyncState(v), true
	case "all":
		return SyncAny, true
	default:
		return SyncAny, false
	}
}

// Matches reports whether a collection with the given flag belongs to the state.
func (s SyncState) Matches(synced bool) bool {
	switch s {
	case SyncSynced:
		return synced
	case SyncUnsynced:
		return !synced
	default:
		return true
	}
}

// ParentCollection is a named grouping published by a source (a set or expansion).
type ParentCollection struct {
	Source       string            `json:"source"`
	Key          string            `json:"key"`
	Name         string            `json:"name"`
	Series       string            `json:"series,omitempty"`
	URL          string            `json:"url,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
	IsSynced     bool              `json:"is_synced"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// WorkItem is one unit of child-fetch work owned by a ParentCollection.
type WorkItem struct {
	Source     string    `json:"source"`
	Key        string    `json:"key"`
	ParentKey  string    `json:"parent_key"`
	Fetched    bool      `json:"fetched"`
	InsertedAt time.Time `json:"inserted_at"`
}

// ItemCounts summarizes the frontier for one source or parent.
type ItemCounts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
}

// Done reports whether every counted item has been fetched.
func (c ItemCounts) Done() bool {
	return c.Pending == 0
}

// DetailRecord is the normalized entity produced from one detail page.
type DetailRecord struct {
	Source      string            `json:"source"`
	Key         string            `json:"key"`
	ParentKey   string            `json:"parent_key"`
	Name        string            `json:"name"`
	Fields      map[string]string `json:"fields,omitempty"`
	URL         string            `json:"url,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	BlobURI     string            `json:"blob_uri,omitempty"`
	FetchedAt   time.Time         `json:"fetched_at"`
}

// Field returns a named descriptive field or "".
func (r DetailRecord) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// ClaimFilter scopes a WorkItem claim. Rows are handed out in key order
// strictly after AfterKey so one drain pass visits each pending item once.
type ClaimFilter struct {
	Source    string
	ParentKey string
	AfterKey  string
}

// RecordFilter scopes record reads for export.
type RecordFilter struct {
	Source    string
	ParentKey string
}

// Page is the raw content returned by a PageFetcher.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}
