package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

const transferColumns = `id, domain, url, url_key, prepared_at, page_type, title, product_raw, mapped,
	status, id_product, notes, debug_log, updated_at`

func scanReadyTransfer(s rowScanner) (*ReadyTransfer, error) {
	var (
		rt                         ReadyTransfer
		productRaw, mapped, dbgLog string
		idProduct                  sql.NullInt64
	)
	if err := s.Scan(&rt.ID, &rt.Domain, &rt.URL, &rt.URLKey, &rt.PreparedAt, &rt.PageType, &rt.Title,
		&productRaw, &mapped, &rt.Status, &idProduct, &rt.Notes, &dbgLog, &rt.UpdatedAt); err != nil {
		return nil, err
	}
	rt.ProductRaw = json.RawMessage(productRaw)
	rt.Mapped = json.RawMessage(mapped)
	if dbgLog != "" {
		rt.DebugLog = json.RawMessage(dbgLog)
	}
	rt.IDProduct = int64Ptr(idProduct)
	return &rt, nil
}

// TransferUpdate is applied by UpdateTransfer. Nil fields are left alone.
type TransferUpdate struct {
	Status    *string
	IDProduct *int64
	Notes     *string
	DebugLog  json.RawMessage
}

// --- Transfer Queue Operations ---

// UpsertReadyTransfer stages a mapped payload keyed by (domain, url_key).
// New rows start as ready; a pending row is promoted to ready; rows in any
// other status only get their payload refreshed. id_product and notes are
// never touched here.
func (d *Database) UpsertReadyTransfer(ctx context.Context, rt *ReadyTransfer) (*ReadyTransfer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO ready_transfers (domain, url, url_key, prepared_at, page_type, title, product_raw, mapped, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'ready', ?)
		ON CONFLICT(domain, url_key) DO UPDATE SET
			prepared_at = excluded.prepared_at,
			page_type = excluded.page_type,
			title = excluded.title,
			product_raw = excluded.product_raw,
			mapped = excluded.mapped,
			status = CASE WHEN ready_transfers.status = 'pending' THEN 'ready' ELSE ready_transfers.status END,
			updated_at = excluded.updated_at
	`, rt.Domain, rt.URL, rt.URLKey, now, rt.PageType, rt.Title,
		rawOrEmpty(rt.ProductRaw, "{}"), rawOrEmpty(rt.Mapped, "{}"), now)
	if err != nil {
		return nil, err
	}

	out, err := scanReadyTransfer(d.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM ready_transfers WHERE domain = ? AND url_key = ?`, rt.Domain, rt.URLKey))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetReadyTransfer retrieves a queue row by id; nil if absent.
func (d *Database) GetReadyTransfer(ctx context.Context, id int64) (*ReadyTransfer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rt, err := scanReadyTransfer(d.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM ready_transfers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rt, err
}

// GetReadyTransferByKey retrieves a queue row by its dedup key; nil if absent.
func (d *Database) GetReadyTransferByKey(ctx context.Context, domain, urlKey string) (*ReadyTransfer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rt, err := scanReadyTransfer(d.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM ready_transfers WHERE domain = ? AND url_key = ?`, domain, urlKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rt, err
}

// ListReadyTransfers lists a domain's queue, optionally by status.
func (d *Database) ListReadyTransfers(ctx context.Context, domain, status string) ([]*ReadyTransfer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := `SELECT ` + transferColumns + ` FROM ready_transfers WHERE domain = ?`
	args := []any{domain}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*ReadyTransfer, 0)
	for rows.Next() {
		rt, err := scanReadyTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// UpdateTransfer applies upd to row id if its status is one of fromStatus
// (any status when fromStatus is empty). It reports whether a row changed.
func (d *Database) UpdateTransfer(ctx context.Context, id int64, fromStatus []string, upd TransferUpdate) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set := "updated_at = ?"
	args := []any{d.now()}
	if upd.Status != nil {
		set += ", status = ?"
		args = append(args, *upd.Status)
	}
	if upd.IDProduct != nil {
		set += ", id_product = ?"
		args = append(args, *upd.IDProduct)
	}
	if upd.Notes != nil {
		set += ", notes = ?"
		args = append(args, *upd.Notes)
	}
	if upd.DebugLog != nil {
		set += ", debug_log = ?"
		args = append(args, string(upd.DebugLog))
	}

	query := `UPDATE ready_transfers SET ` + set + ` WHERE id = ?`
	args = append(args, id)
	if len(fromStatus) > 0 {
		query += ` AND status IN (` + placeholders(len(fromStatus)) + `)`
		args = append(args, stringArgs(fromStatus)...)
	}

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountTransfersByStatus returns queue sizes per status for a domain.
func (d *Database) CountTransfersByStatus(ctx context.Context, domain string) (map[string]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM ready_transfers WHERE domain = ? GROUP BY status`, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{StatusPending: 0, StatusReady: 0, StatusFailed: 0, StatusTransferred: 0}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
