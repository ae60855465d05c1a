package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// catalogColumns is the SELECT list matching scanCatalogURL.
const catalogColumns = `id, domain, url, url_key, page_type, type_reason, title, http_status, source_sitemap,
	lastmod, discovered_at, explored_at, config_version_used`

// CatalogSortColumns whitelists sortable columns.
var CatalogSortColumns = map[string]string{
	"url":         "url_key",
	"type":        "page_type",
	"title":       "title",
	"http_status": "http_status",
	"explored_at": "explored_at",
}

// CatalogFilter selects and orders catalog rows.
type CatalogFilter struct {
	PageType string // empty = any
	Search   string // substring of url or title
	Explored *bool  // nil = any

	SortBy   string // key of CatalogSortColumns
	SortDesc bool

	Limit  int
	Offset int
}

// ExplorationUpdate carries what an extraction run learned about a URL.
type ExplorationUpdate struct {
	PageType      string
	TypeReason    string
	Title         string
	HTTPStatus    int
	ConfigVersion *int
}

// ResetCounts is returned by ResetExplored.
type ResetCounts struct {
	AffectedRows     int64
	DeletedSnapshots int64
	DeletedURLs      int64
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCatalogURL(s rowScanner) (*CatalogURL, error) {
	var (
		c                             CatalogURL
		lastmod, discovered, explored sql.NullTime
		version                       sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.Domain, &c.URL, &c.URLKey, &c.PageType, &c.TypeReason, &c.Title,
		&c.HTTPStatus, &c.SourceSitemap, &lastmod, &discovered, &explored, &version); err != nil {
		return nil, err
	}
	c.LastMod = timePtr(lastmod)
	c.DiscoveredAt = timePtr(discovered)
	c.ExploredAt = timePtr(explored)
	c.ConfigVersionUsed = intPtr(version)
	return &c, nil
}

// --- Catalog Operations ---

// InsertCatalogURLs inserts previously unseen URLs and returns how many rows
// were actually added. Rows whose (domain, url_key) already exists are left
// untouched.
func (d *Database) InsertCatalogURLs(ctx context.Context, urls []*CatalogURL) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	inserted := 0
	for start := 0; start < len(urls); start += d.batchSize {
		end := start + d.batchSize
		if end > len(urls) {
			end = len(urls)
		}
		batch := urls[start:end]

		err := d.withTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO catalog_urls (domain, url, url_key, page_type, type_reason, source_sitemap, lastmod, discovered_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(domain, url_key) DO NOTHING
			`)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for _, u := range batch {
				pageType := u.PageType
				if pageType == "" {
					pageType = "unknown"
				}
				res, err := stmt.ExecContext(ctx, u.Domain, u.URL, u.URLKey, pageType, u.TypeReason,
					u.SourceSitemap, nullTime(u.LastMod), now)
				if err != nil {
					return fmt.Errorf("insert %s: %w", u.URL, err)
				}
				n, _ := res.RowsAffected()
				inserted += int(n)
			}
			return nil
		})
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// GetCatalogURL retrieves one catalog row; nil if absent.
func (d *Database) GetCatalogURL(ctx context.Context, domain, urlKey string) (*CatalogURL, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	row := d.db.QueryRowContext(ctx, `SELECT `+catalogColumns+` FROM catalog_urls WHERE domain = ? AND url_key = ?`,
		domain, urlKey)
	c, err := scanCatalogURL(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListCatalogURLs returns one page of catalog rows and the total matching count.
func (d *Database) ListCatalogURLs(ctx context.Context, domain string, f CatalogFilter) ([]*CatalogURL, int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	where := []string{"domain = ?"}
	args := []any{domain}
	if f.PageType != "" {
		where = append(where, "page_type = ?")
		args = append(args, f.PageType)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, "(url_key LIKE ? ESCAPE '\\' OR LOWER(title) LIKE ? ESCAPE '\\')")
		pattern := "%" + escapeLike(strings.ToLower(s)) + "%"
		args = append(args, pattern, pattern)
	}
	if f.Explored != nil {
		if *f.Explored {
			where = append(where, "explored_at IS NOT NULL")
		} else {
			where = append(where, "explored_at IS NULL")
		}
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_urls WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderCol, ok := CatalogSortColumns[f.SortBy]
	if !ok {
		orderCol = "id"
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}

	query := fmt.Sprintf(`SELECT %s FROM catalog_urls WHERE %s ORDER BY %s %s, id ASC`, catalogColumns, whereSQL, orderCol, dir)
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*CatalogURL, 0)
	for rows.Next() {
		c, err := scanCatalogURL(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// SaveExploration stores the snapshot and updates the catalog row in one
// transaction. A URL not yet in the catalog is added.
func (d *Database) SaveExploration(ctx context.Context, snap *Snapshot, upd ExplorationUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (domain, url, url_key, page_type, result_json, explored_at, config_version, config_overridden)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(domain, url_key) DO UPDATE SET
				url = excluded.url,
				page_type = excluded.page_type,
				result_json = excluded.result_json,
				explored_at = excluded.explored_at,
				config_version = excluded.config_version,
				config_overridden = excluded.config_overridden
		`, snap.Domain, snap.URL, snap.URLKey, snap.PageType, rawOrEmpty(snap.Result, "{}"), snap.ExploredAt,
			nullInt(snap.ConfigVersion), snap.ConfigOverridden); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_urls (domain, url, url_key, page_type, type_reason, title, http_status,
				discovered_at, explored_at, config_version_used)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(domain, url_key) DO UPDATE SET
				page_type = excluded.page_type,
				type_reason = excluded.type_reason,
				title = excluded.title,
				http_status = excluded.http_status,
				explored_at = excluded.explored_at,
				config_version_used = excluded.config_version_used
		`, snap.Domain, snap.URL, snap.URLKey, upd.PageType, upd.TypeReason, upd.Title, upd.HTTPStatus,
			snap.ExploredAt, snap.ExploredAt, nullInt(upd.ConfigVersion)); err != nil {
			return fmt.Errorf("update catalog: %w", err)
		}
		return nil
	})
}

// SetPageTypes records classifier output for rows still typed unknown.
func (d *Database) SetPageTypes(ctx context.Context, domain string, types map[string][2]string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var affected int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for key, tr := range types {
			res, err := tx.ExecContext(ctx, `
				UPDATE catalog_urls SET page_type = ?, type_reason = ?
				WHERE domain = ? AND url_key = ? AND page_type = 'unknown'
			`, tr[0], tr[1], domain, key)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			affected += n
		}
		return nil
	})
	return affected, err
}

// ResetExplored clears explored state and deletes snapshots for the given
// keys; with deleteURLs the catalog rows are removed as well.
func (d *Database) ResetExplored(ctx context.Context, domain string, keys []string, deleteURLs bool) (ResetCounts, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var counts ResetCounts
	if len(keys) == 0 {
		return counts, nil
	}

	in := placeholders(len(keys))
	args := append([]any{domain}, stringArgs(keys)...)

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE domain = ? AND url_key IN (`+in+`)`, args...)
		if err != nil {
			return err
		}
		counts.DeletedSnapshots, _ = res.RowsAffected()

		if deleteURLs {
			res, err = tx.ExecContext(ctx, `DELETE FROM catalog_urls WHERE domain = ? AND url_key IN (`+in+`)`, args...)
			if err != nil {
				return err
			}
			counts.DeletedURLs, _ = res.RowsAffected()
			counts.AffectedRows = counts.DeletedURLs
			return nil
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE catalog_urls SET explored_at = NULL, config_version_used = NULL
			WHERE domain = ? AND url_key IN (`+in+`)
		`, args...)
		if err != nil {
			return err
		}
		counts.AffectedRows, _ = res.RowsAffected()
		return nil
	})
	return counts, err
}

// ClearCatalogFields blanks derived classification fields. Discovery
// provenance is kept unless resetDiscoveredAt, which restamps discovered_at.
func (d *Database) ClearCatalogFields(ctx context.Context, domain string, keys []string, resetDiscoveredAt bool) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(keys) == 0 {
		return 0, nil
	}

	set := `page_type = 'unknown', type_reason = '', title = '', http_status = 0`
	args := []any{}
	if resetDiscoveredAt {
		set += `, discovered_at = ?`
		args = append(args, d.now())
	}
	args = append(args, domain)
	args = append(args, stringArgs(keys)...)

	res, err := d.db.ExecContext(ctx, `UPDATE catalog_urls SET `+set+` WHERE domain = ? AND url_key IN (`+placeholders(len(keys))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteCatalogURLs removes catalog rows and their snapshots.
func (d *Database) DeleteCatalogURLs(ctx context.Context, domain string, keys []string) (ResetCounts, error) {
	return d.ResetExplored(ctx, domain, keys, true)
}

// GetSnapshot retrieves the current snapshot for a URL; nil if absent.
func (d *Database) GetSnapshot(ctx context.Context, domain, urlKey string) (*Snapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		s       Snapshot
		result  string
		version sql.NullInt64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, domain, url, url_key, page_type, result_json, explored_at, config_version, config_overridden
		FROM snapshots WHERE domain = ? AND url_key = ?
	`, domain, urlKey).Scan(&s.ID, &s.Domain, &s.URL, &s.URLKey, &s.PageType, &result, &s.ExploredAt,
		&version, &s.ConfigOverridden)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Result = []byte(result)
	s.ConfigVersion = intPtr(version)
	return &s, nil
}

// CountSnapshots returns the number of snapshots stored for a domain.
func (d *Database) CountSnapshots(ctx context.Context, domain string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE domain = ?`, domain).Scan(&n)
	return n, err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
