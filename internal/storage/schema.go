package storage

// Schema contains all table definitions for the local store.
const Schema = `
-- Per-domain sitemap bookkeeping
CREATE TABLE IF NOT EXISTS domains (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    domain TEXT NOT NULL UNIQUE,
    sitemap_url TEXT NOT NULL DEFAULT '',
    known_sitemaps TEXT NOT NULL DEFAULT '[]',
    manual_sitemaps TEXT NOT NULL DEFAULT '[]',
    selected_sitemaps TEXT NOT NULL DEFAULT '[]',
    updated_at DATETIME NOT NULL
);

-- Discovered URLs; url keeps its original spelling, url_key is lower(trim(url))
CREATE TABLE IF NOT EXISTS catalog_urls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    domain TEXT NOT NULL,
    url TEXT NOT NULL,
    url_key TEXT NOT NULL,
    page_type TEXT NOT NULL DEFAULT 'unknown',
    type_reason TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    http_status INTEGER NOT NULL DEFAULT 0,
    source_sitemap TEXT NOT NULL DEFAULT '',
    lastmod DATETIME,
    discovered_at DATETIME,
    explored_at DATETIME,
    config_version_used INTEGER,
    UNIQUE(domain, url_key)
);

CREATE INDEX IF NOT EXISTS idx_catalog_domain_type ON catalog_urls(domain, page_type);
CREATE INDEX IF NOT EXISTS idx_catalog_domain_explored ON catalog_urls(domain, explored_at);

-- Current extraction result per URL, overwritten on re-explore
CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    domain TEXT NOT NULL,
    url TEXT NOT NULL,
    url_key TEXT NOT NULL,
    page_type TEXT NOT NULL DEFAULT '',
    result_json TEXT NOT NULL,
    explored_at DATETIME NOT NULL,
    config_version INTEGER,
    config_overridden INTEGER NOT NULL DEFAULT 0,
    UNIQUE(domain, url_key)
);

-- Append-only config history
CREATE TABLE IF NOT EXISTS config_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    domain TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('extraction', 'mapping')),
    page_type TEXT NOT NULL,
    version INTEGER NOT NULL CHECK(version > 0),
    config_json TEXT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    saved_at DATETIME NOT NULL,
    UNIQUE(domain, kind, page_type, version)
);

CREATE INDEX IF NOT EXISTS idx_config_current ON config_versions(domain, kind, page_type, version DESC);

-- Transfer queue
CREATE TABLE IF NOT EXISTS ready_transfers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    domain TEXT NOT NULL,
    url TEXT NOT NULL,
    url_key TEXT NOT NULL,
    prepared_at DATETIME NOT NULL,
    page_type TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    product_raw TEXT NOT NULL DEFAULT '{}',
    mapped TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'ready', 'failed', 'transferred')),
    id_product INTEGER,
    notes TEXT NOT NULL DEFAULT '',
    debug_log TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL,
    UNIQUE(domain, url_key)
);

CREATE INDEX IF NOT EXISTS idx_transfers_domain_status ON ready_transfers(domain, status);

-- Batch runs and their log lines
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    domain TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'running',
    total INTEGER NOT NULL DEFAULT 0,
    ok INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    ts DATETIME NOT NULL,
    level TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id, id);
`
