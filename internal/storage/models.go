// Package storage provides the local sqlite store for catalog, config
// history, snapshots, the transfer queue and run logs.
package storage

import (
	"encoding/json"
	"time"
)

// Transfer statuses.
const (
	StatusPending     = "pending"
	StatusReady       = "ready"
	StatusFailed      = "failed"
	StatusTransferred = "transferred"
)

// Run statuses.
const (
	RunRunning  = "running"
	RunFinished = "finished"
)

// Log levels for run_logs.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Domain holds sitemap bookkeeping for one shop.
type Domain struct {
	ID               int64     `json:"id"`
	Domain           string    `json:"domain"`
	SitemapURL       string    `json:"sitemap_url"`
	KnownSitemaps    []string  `json:"known_sitemaps"`
	ManualSitemaps   []string  `json:"manual_sitemaps"`
	SelectedSitemaps []string  `json:"selected_sitemaps"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CatalogURL is one discovered page.
type CatalogURL struct {
	ID                int64      `json:"id"`
	Domain            string     `json:"domain"`
	URL               string     `json:"url"`
	URLKey            string     `json:"-"`
	PageType          string     `json:"page_type"`
	TypeReason        string     `json:"type_reason"`
	Title             string     `json:"title"`
	HTTPStatus        int        `json:"http_status"`
	SourceSitemap     string     `json:"source_sitemap"`
	LastMod           *time.Time `json:"lastmod,omitempty"`
	DiscoveredAt      *time.Time `json:"discovered_at,omitempty"`
	ExploredAt        *time.Time `json:"explored_at,omitempty"`
	ConfigVersionUsed *int       `json:"config_version_used,omitempty"`
}

// IsExplored returns true if an extraction result exists for the URL.
func (c *CatalogURL) IsExplored() bool {
	return c.ExploredAt != nil
}

// Snapshot is the current extraction result for one URL.
type Snapshot struct {
	ID               int64           `json:"id"`
	Domain           string          `json:"domain"`
	URL              string          `json:"url"`
	URLKey           string          `json:"-"`
	PageType         string          `json:"page_type"`
	Result           json.RawMessage `json:"result"`
	ExploredAt       time.Time       `json:"explored_at"`
	ConfigVersion    *int            `json:"config_version,omitempty"`
	ConfigOverridden bool            `json:"config_overridden"`
}

// ConfigVersion is one immutable entry of a config history.
type ConfigVersion struct {
	ID       int64           `json:"id"`
	Domain   string          `json:"domain"`
	Kind     string          `json:"kind"`
	PageType string          `json:"page_type"`
	Version  int             `json:"version"`
	Config   json.RawMessage `json:"config"`
	Note     string          `json:"note,omitempty"`
	SavedAt  time.Time       `json:"saved_at"`
}

// ConfigKeySummary describes one (kind, page_type) history of a domain.
type ConfigKeySummary struct {
	Domain         string    `json:"domain"`
	Kind           string    `json:"kind"`
	PageType       string    `json:"page_type"`
	CurrentVersion int       `json:"current_version"`
	Versions       int       `json:"versions"`
	LastSavedAt    time.Time `json:"last_saved_at"`
}

// ReadyTransfer is one row of the transfer queue.
type ReadyTransfer struct {
	ID         int64           `json:"id"`
	Domain     string          `json:"domain"`
	URL        string          `json:"url"`
	URLKey     string          `json:"-"`
	PreparedAt time.Time       `json:"prepared_at"`
	PageType   string          `json:"page_type"`
	Title      string          `json:"title"`
	ProductRaw json.RawMessage `json:"product_raw"`
	Mapped     json.RawMessage `json:"mapped"`
	Status     string          `json:"status"`
	IDProduct  *int64          `json:"id_product,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	DebugLog   json.RawMessage `json:"debug_log,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Run is a batch operation tracked in the run log.
type Run struct {
	RunID      string     `json:"run_id"`
	Kind       string     `json:"kind"`
	Domain     string     `json:"domain"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	OK         int        `json:"ok"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunLogEntry is one log line of a run.
type RunLogEntry struct {
	ID      int64     `json:"id"`
	RunID   string    `json:"run_id"`
	TS      time.Time `json:"ts"`
	Level   string    `json:"level"`
	URL     string    `json:"url,omitempty"`
	Message string    `json:"message"`
}
