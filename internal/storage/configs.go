package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const configColumns = `id, domain, kind, page_type, version, config_json, note, saved_at`

func scanConfigVersion(s rowScanner) (*ConfigVersion, error) {
	var (
		cv  ConfigVersion
		raw string
	)
	if err := s.Scan(&cv.ID, &cv.Domain, &cv.Kind, &cv.PageType, &cv.Version, &raw, &cv.Note, &cv.SavedAt); err != nil {
		return nil, err
	}
	cv.Config = []byte(raw)
	return &cv, nil
}

// --- Config Version Operations ---

// AppendConfigVersion stores cv as version max+1 of its key and fills in
// ID, Version and SavedAt. The read of max and the insert share one
// transaction; the unique index rejects any concurrent duplicate.
func (d *Database) AppendConfigVersion(ctx context.Context, cv *ConfigVersion) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.withTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(version), 0) + 1 FROM config_versions
			WHERE domain = ? AND kind = ? AND page_type = ?
		`, cv.Domain, cv.Kind, cv.PageType).Scan(&next); err != nil {
			return fmt.Errorf("next version: %w", err)
		}

		savedAt := d.now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO config_versions (domain, kind, page_type, version, config_json, note, saved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, cv.Domain, cv.Kind, cv.PageType, next, string(cv.Config), cv.Note, savedAt)
		if err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		cv.ID = id
		cv.Version = next
		cv.SavedAt = savedAt
		return nil
	})
}

// GetConfigVersion returns a specific version of a key, or the current one
// when version is 0. nil if absent.
func (d *Database) GetConfigVersion(ctx context.Context, domain, kind, pageType string, version int) (*ConfigVersion, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var row *sql.Row
	if version > 0 {
		row = d.db.QueryRowContext(ctx, `
			SELECT `+configColumns+` FROM config_versions
			WHERE domain = ? AND kind = ? AND page_type = ? AND version = ?
		`, domain, kind, pageType, version)
	} else {
		row = d.db.QueryRowContext(ctx, `
			SELECT `+configColumns+` FROM config_versions
			WHERE domain = ? AND kind = ? AND page_type = ?
			ORDER BY version DESC LIMIT 1
		`, domain, kind, pageType)
	}

	cv, err := scanConfigVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cv, err
}

// GetConfigVersionByID returns a history entry by row id; nil if absent.
func (d *Database) GetConfigVersionByID(ctx context.Context, id int64) (*ConfigVersion, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cv, err := scanConfigVersion(d.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM config_versions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cv, err
}

// ListConfigVersions returns a key's history, newest first.
func (d *Database) ListConfigVersions(ctx context.Context, domain, kind, pageType string) ([]*ConfigVersion, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+configColumns+` FROM config_versions
		WHERE domain = ? AND kind = ? AND page_type = ?
		ORDER BY version DESC
	`, domain, kind, pageType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*ConfigVersion, 0)
	for rows.Next() {
		cv, err := scanConfigVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

// DeleteConfigVersions deletes history entries of one key by id.
func (d *Database) DeleteConfigVersions(ctx context.Context, domain, kind, pageType string, ids []int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{domain, kind, pageType}, int64Args(ids)...)
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM config_versions
		WHERE domain = ? AND kind = ? AND page_type = ? AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListConfigKeys summarises every config history of a domain.
func (d *Database) ListConfigKeys(ctx context.Context, domain string) ([]*ConfigKeySummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `
		SELECT kind, page_type, MAX(version), COUNT(*), MAX(id)
		FROM config_versions WHERE domain = ?
		GROUP BY kind, page_type
		ORDER BY kind, page_type
	`, domain)
	if err != nil {
		return nil, err
	}

	var (
		out    []*ConfigKeySummary
		lastID []int64
	)
	for rows.Next() {
		s := &ConfigKeySummary{Domain: domain}
		var id int64
		if err := rows.Scan(&s.Kind, &s.PageType, &s.CurrentVersion, &s.Versions, &id); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, s)
		lastID = append(lastID, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Aggregate columns lose their declared type, so saved_at is read per key.
	for i, s := range out {
		if err := d.db.QueryRowContext(ctx, `SELECT saved_at FROM config_versions WHERE id = ?`, lastID[i]).
			Scan(&s.LastSavedAt); err != nil {
			return nil, err
		}
	}
	return out, nil
}
