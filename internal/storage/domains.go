package storage

import (
	"context"
	"database/sql"
	"errors"
)

// --- Domain Operations ---

// GetDomain retrieves a domain record; nil if it does not exist.
func (d *Database) GetDomain(ctx context.Context, domain string) (*Domain, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		rec                     Domain
		known, manual, selected string
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, domain, sitemap_url, known_sitemaps, manual_sitemaps, selected_sitemaps, updated_at
		FROM domains WHERE domain = ?
	`, domain).Scan(&rec.ID, &rec.Domain, &rec.SitemapURL, &known, &manual, &selected, &rec.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.KnownSitemaps = decodeList(known)
	rec.ManualSitemaps = decodeList(manual)
	rec.SelectedSitemaps = decodeList(selected)
	return &rec, nil
}

// SaveDomain inserts or replaces a domain record.
func (d *Database) SaveDomain(ctx context.Context, rec *Domain) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec.UpdatedAt = d.now()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO domains (domain, sitemap_url, known_sitemaps, manual_sitemaps, selected_sitemaps, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			sitemap_url = excluded.sitemap_url,
			known_sitemaps = excluded.known_sitemaps,
			manual_sitemaps = excluded.manual_sitemaps,
			selected_sitemaps = excluded.selected_sitemaps,
			updated_at = excluded.updated_at
	`, rec.Domain, rec.SitemapURL, encodeList(rec.KnownSitemaps), encodeList(rec.ManualSitemaps),
		encodeList(rec.SelectedSitemaps), rec.UpdatedAt)
	return err
}

// ListDomains returns every domain record ordered by name.
func (d *Database) ListDomains(ctx context.Context) ([]*Domain, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, domain, sitemap_url, known_sitemaps, manual_sitemaps, selected_sitemaps, updated_at
		FROM domains ORDER BY domain
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Domain
	for rows.Next() {
		var (
			rec                     Domain
			known, manual, selected string
		)
		if err := rows.Scan(&rec.ID, &rec.Domain, &rec.SitemapURL, &known, &manual, &selected, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.KnownSitemaps = decodeList(known)
		rec.ManualSitemaps = decodeList(manual)
		rec.SelectedSitemaps = decodeList(selected)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
