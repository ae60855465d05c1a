// Package transfer stages mapped snapshots in the ready-transfer queue and
// writes them to the shop database.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/configstore"
	"github.com/spider-crawler/shopsync/internal/mapper"
	"github.com/spider-crawler/shopsync/internal/runlog"
	"github.com/spider-crawler/shopsync/internal/storage"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

// SendResult reports a strict create.
type SendResult struct {
	ID        int64           `json:"id"`
	IDProduct int64           `json:"id_product"`
	DebugLog  json.RawMessage `json:"debug_log"`
}

// ResendResult reports an upsert.
type ResendResult struct {
	ID        int64           `json:"id"`
	IDProduct int64           `json:"id_product"`
	Action    string          `json:"action"`
	DebugLog  json.RawMessage `json:"debug_log"`
}

// BatchItem is the outcome for one URL or row of a batch.
type BatchItem struct {
	ID    int64  `json:"id,omitempty"`
	URL   string `json:"url"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	// Conflict is set when the product already existed at the target.
	Conflict bool `json:"conflict,omitempty"`
}

// BatchResult tallies a batch. Conflicts are counted in Failed too.
type BatchResult struct {
	RunID     string      `json:"run_id,omitempty"`
	OK        int         `json:"ok"`
	Failed    int         `json:"failed"`
	Conflicts int         `json:"conflicts,omitempty"`
	Items     []BatchItem `json:"items"`
}

// Pipeline drives the ready-transfer state machine:
//
//	pending --prepare--> ready --send--> transferred
//	ready --send error--> failed
//	transferred --resend--> transferred
//	failed --retry--> pending
//	any --reset--> pending
type Pipeline struct {
	db        *storage.Database
	configs   *configstore.Store
	target    Target
	runs      *runlog.Log
	imagesDir string
	logger    *zap.Logger
}

// NewPipeline creates a pipeline. target may be nil for commands that
// never write to the shop.
func NewPipeline(db *storage.Database, configs *configstore.Store, target Target, runs *runlog.Log,
	imagesDir string, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:        db,
		configs:   configs,
		target:    target,
		runs:      runs,
		imagesDir: imagesDir,
		logger:    logger.Named("transfer"),
	}
}

// Prepare maps the current snapshot of url with the current mapping config
// and stages it. Re-preparing refreshes the payload only.
func (p *Pipeline) Prepare(ctx context.Context, domain, url string) (*storage.ReadyTransfer, error) {
	domain = urlutil.NormalizeDomain(domain)
	key := urlutil.Key(url)
	snap, err := p.db.GetSnapshot(ctx, domain, key)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	if snap == nil {
		return nil, apperr.Ef(apperr.ErrNotFound, "prepare", "no snapshot for %s", url)
	}

	cfg, err := p.configs.Get(ctx, configstore.Key{Domain: domain, Kind: configstore.KindMapping, PageType: snap.PageType}, nil)
	if err != nil {
		return nil, err
	}

	payload, err := mapper.Map(snap, cfg.Config)
	if err != nil {
		return nil, err
	}
	mapped, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("prepare: encode payload: %w", err)
	}

	var result struct {
		Product json.RawMessage `json:"product"`
	}
	_ = json.Unmarshal(snap.Result, &result)
	productRaw := result.Product
	if len(productRaw) == 0 {
		productRaw = json.RawMessage(`{}`)
	}

	rt, err := p.db.UpsertReadyTransfer(ctx, &storage.ReadyTransfer{
		Domain:     domain,
		URL:        snap.URL,
		URLKey:     snap.URLKey,
		PageType:   snap.PageType,
		Title:      payload.Product.Name,
		ProductRaw: productRaw,
		Mapped:     mapped,
	})
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}

	p.logger.Debug("prepared",
		zap.String("url", rt.URL),
		zap.Int64("id", rt.ID),
		zap.String("status", rt.Status),
		zap.Int("mapping_version", cfg.Version))
	return rt, nil
}

// PrepareAll prepares urls one by one, or every explored product page of
// the domain when urls is empty.
func (p *Pipeline) PrepareAll(ctx context.Context, domain string, urls []string) (*BatchResult, error) {
	domain = urlutil.NormalizeDomain(domain)
	if len(urls) == 0 {
		explored := true
		rows, _, err := p.db.ListCatalogURLs(ctx, domain, storage.CatalogFilter{PageType: "product", Explored: &explored})
		if err != nil {
			return nil, fmt.Errorf("prepare all: %w", err)
		}
		for _, row := range rows {
			urls = append(urls, row.URL)
		}
	}

	return p.batch(ctx, runlog.KindPrepare, domain, len(urls), func(i int) BatchItem {
		item := BatchItem{URL: urls[i]}
		rt, err := p.Prepare(ctx, domain, urls[i])
		if err != nil {
			item.Error = err.Error()
			return item
		}
		item.ID = rt.ID
		item.OK = true
		return item
	})
}

// batch runs n steps sequentially under one run log entry. A failing step
// is recorded and the batch continues.
func (p *Pipeline) batch(ctx context.Context, kind, domain string, n int, step func(i int) BatchItem) (*BatchResult, error) {
	res := &BatchResult{Items: make([]BatchItem, 0, n)}
	if p.runs != nil {
		runID, err := p.runs.Start(ctx, kind, domain, n)
		if err != nil {
			return nil, err
		}
		res.RunID = runID
	}

	finish := func() {
		if res.RunID == "" {
			return
		}
		if err := p.runs.Finish(context.WithoutCancel(ctx), res.RunID, res.OK, res.Failed); err != nil {
			p.logger.Warn("failed to finish run", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			finish()
			return res, err
		}
		item := step(i)
		switch {
		case item.OK:
			res.OK++
		case item.Conflict:
			res.Conflicts++
			res.Failed++
		default:
			res.Failed++
		}
		res.Items = append(res.Items, item)
		if res.RunID != "" {
			switch {
			case item.OK && item.ID != 0:
				p.runs.Infof(ctx, res.RunID, item.URL, "%s ok (transfer %d)", kind, item.ID)
			case item.OK:
				p.runs.Infof(ctx, res.RunID, item.URL, "%s ok", kind)
			case item.Conflict:
				p.runs.Errorf(ctx, res.RunID, item.URL, "conflict: %s", item.Error)
			default:
				p.runs.Errorf(ctx, res.RunID, item.URL, "%s", item.Error)
			}
			p.runs.Progress(ctx, res.RunID, res.OK, res.Failed)
		}
	}

	finish()
	p.logger.Info("batch finished",
		zap.String("kind", kind),
		zap.String("domain", domain),
		zap.Int("ok", res.OK),
		zap.Int("failed", res.Failed),
		zap.Int("conflicts", res.Conflicts))
	return res, nil
}

// Get returns one queue row.
func (p *Pipeline) Get(ctx context.Context, id int64) (*storage.ReadyTransfer, error) {
	rt, err := p.db.GetReadyTransfer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	if rt == nil {
		return nil, apperr.Ef(apperr.ErrNotFound, "get transfer", "no transfer %d", id)
	}
	return rt, nil
}

// List returns the queue of a domain, optionally filtered by status.
func (p *Pipeline) List(ctx context.Context, domain, status string) ([]*storage.ReadyTransfer, error) {
	if status != "" && !validStatus(status) {
		return nil, apperr.Ef(apperr.ErrInvalidFilter, "list transfers", "unknown status %q", status)
	}
	return p.db.ListReadyTransfers(ctx, urlutil.NormalizeDomain(domain), status)
}

func validStatus(s string) bool {
	switch s {
	case storage.StatusPending, storage.StatusReady, storage.StatusFailed, storage.StatusTransferred:
		return true
	}
	return false
}

func (p *Pipeline) requireTarget(op string) error {
	if p.target == nil {
		return apperr.Ef(apperr.ErrInvalidConfig, op, "no target store configured")
	}
	return nil
}

func decodePayload(rt *storage.ReadyTransfer) (*mapper.Payload, error) {
	var payload mapper.Payload
	if len(rt.Mapped) == 0 {
		return nil, apperr.Ef(apperr.ErrInvalidState, "decode payload", "transfer %d has no payload", rt.ID)
	}
	if err := json.Unmarshal(rt.Mapped, &payload); err != nil {
		return nil, apperr.E(apperr.ErrInvalidState, "decode payload", err)
	}
	return &payload, nil
}

func sourceKey(rt *storage.ReadyTransfer) SourceKey {
	return SourceKey{Domain: rt.Domain, URLKey: rt.URLKey, URL: rt.URL}
}

// Send creates the product of a ready row. A row that already has a
// product is a conflict; use Resend for it.
func (p *Pipeline) Send(ctx context.Context, id int64) (*SendResult, error) {
	if err := p.requireTarget("send"); err != nil {
		return nil, err
	}
	rt, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rt.IDProduct != nil {
		return nil, apperr.Ef(apperr.ErrConflictExists, "send", "transfer %d already created product %d", id, *rt.IDProduct)
	}
	if rt.Status != storage.StatusReady {
		return nil, apperr.Ef(apperr.ErrInvalidState, "send", "transfer %d is %s, not ready", id, rt.Status)
	}
	payload, err := decodePayload(rt)
	if err != nil {
		return nil, err
	}

	wr, sendErr := p.target.Create(ctx, sourceKey(rt), payload)
	var dbg json.RawMessage
	if wr != nil {
		dbg = wr.Debug.JSON()
	}
	if sendErr != nil {
		p.markFailed(ctx, rt, sendErr, dbg)
		return nil, sendErr
	}

	transferred := storage.StatusTransferred
	notes := ""
	ok, err := p.db.UpdateTransfer(ctx, id, []string{storage.StatusReady}, storage.TransferUpdate{
		Status:    &transferred,
		IDProduct: &wr.IDProduct,
		Notes:     &notes,
		DebugLog:  dbg,
	})
	if err != nil {
		return nil, fmt.Errorf("send: record result: %w", err)
	}
	if !ok {
		return nil, apperr.Ef(apperr.ErrInvalidState, "send", "transfer %d changed while sending", id)
	}

	p.logger.Info("product created",
		zap.Int64("id", id),
		zap.Int64("id_product", wr.IDProduct),
		zap.String("url", rt.URL))
	return &SendResult{ID: id, IDProduct: wr.IDProduct, DebugLog: dbg}, nil
}

func (p *Pipeline) markFailed(ctx context.Context, rt *storage.ReadyTransfer, cause error, dbg json.RawMessage) {
	failed := storage.StatusFailed
	notes := cause.Error()
	if _, err := p.db.UpdateTransfer(context.WithoutCancel(ctx), rt.ID, []string{storage.StatusReady}, storage.TransferUpdate{
		Status:   &failed,
		Notes:    &notes,
		DebugLog: dbg,
	}); err != nil {
		p.logger.Error("failed to record send failure", zap.Int64("id", rt.ID), zap.Error(err))
	}
	p.logger.Warn("send failed", zap.Int64("id", rt.ID), zap.String("url", rt.URL), zap.Error(cause))
}

// SendAll sends every ready row of a domain.
func (p *Pipeline) SendAll(ctx context.Context, domain string) (*BatchResult, error) {
	if err := p.requireTarget("send all"); err != nil {
		return nil, err
	}
	domain = urlutil.NormalizeDomain(domain)
	rows, err := p.db.ListReadyTransfers(ctx, domain, storage.StatusReady)
	if err != nil {
		return nil, fmt.Errorf("send all: %w", err)
	}
	return p.batch(ctx, runlog.KindTransfer, domain, len(rows), func(i int) BatchItem {
		item := BatchItem{ID: rows[i].ID, URL: rows[i].URL}
		if _, err := p.Send(ctx, rows[i].ID); err != nil {
			item.Error = err.Error()
			item.Conflict = IsConflict(err)
			return item
		}
		item.OK = true
		return item
	})
}

// Resend upserts the product of a row, reusing its id_product when known
// and the natural key otherwise. A failed resend leaves the status alone.
func (p *Pipeline) Resend(ctx context.Context, id int64) (*ResendResult, error) {
	if err := p.requireTarget("resend"); err != nil {
		return nil, err
	}
	rt, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload(rt)
	if err != nil {
		return nil, err
	}

	wr, resendErr := p.target.Upsert(ctx, sourceKey(rt), payload, rt.IDProduct)
	var dbg json.RawMessage
	if wr != nil {
		dbg = wr.Debug.JSON()
	}
	if resendErr != nil {
		notes := resendErr.Error()
		if _, err := p.db.UpdateTransfer(context.WithoutCancel(ctx), id, nil, storage.TransferUpdate{Notes: &notes, DebugLog: dbg}); err != nil {
			p.logger.Error("failed to record resend failure", zap.Int64("id", id), zap.Error(err))
		}
		return nil, resendErr
	}

	transferred := storage.StatusTransferred
	notes := ""
	upd := storage.TransferUpdate{Status: &transferred, Notes: &notes, DebugLog: dbg}
	if rt.IDProduct == nil {
		upd.IDProduct = &wr.IDProduct
	}
	if _, err := p.db.UpdateTransfer(ctx, id, nil, upd); err != nil {
		return nil, fmt.Errorf("resend: record result: %w", err)
	}

	p.logger.Info("product resent",
		zap.Int64("id", id),
		zap.Int64("id_product", wr.IDProduct),
		zap.String("action", wr.Action))
	return &ResendResult{ID: id, IDProduct: wr.IDProduct, Action: wr.Action, DebugLog: dbg}, nil
}

// ResendImages rewrites only the images of a transferred product.
// customSources replaces the payload image list when non-empty. Nothing is
// written when a preflight check fails.
func (p *Pipeline) ResendImages(ctx context.Context, id int64, customSources []string) (*ImageSyncResult, error) {
	if err := p.requireTarget("resend images"); err != nil {
		return nil, err
	}
	rt, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rt.IDProduct == nil {
		return nil, apperr.Ef(apperr.ErrNotYetTransferred, "resend images", "transfer %d has no product yet", id)
	}
	payload, err := decodePayload(rt)
	if err != nil {
		return nil, err
	}

	images := payload.Images
	if len(customSources) > 0 {
		images = imageRefs(customSources)
	}
	items := p.preflight(images)
	if bad := blocking(items); len(bad) > 0 {
		return nil, apperr.Ef(apperr.ErrInvalidState, "resend images", "preflight failed for image(s) %s", strings.Join(bad, ", "))
	}

	res, syncErr := p.target.SyncImages(ctx, *rt.IDProduct, payload.Product.Name, images)
	if res != nil {
		if _, err := p.db.UpdateTransfer(context.WithoutCancel(ctx), id, nil, storage.TransferUpdate{DebugLog: res.Debug.JSON()}); err != nil {
			p.logger.Error("failed to record image debug log", zap.Int64("id", id), zap.Error(err))
		}
	}
	if syncErr != nil {
		return nil, syncErr
	}
	p.logger.Info("images resent",
		zap.Int64("id", id),
		zap.Int("updated", res.Updated),
		zap.Int("inserted", res.Inserted))
	return res, nil
}

// Preflight checks every candidate image of a row without writing.
func (p *Pipeline) Preflight(ctx context.Context, id int64, customSources []string) ([]PreflightItem, error) {
	if len(customSources) > 0 {
		return p.preflight(imageRefs(customSources)), nil
	}
	rt, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload(rt)
	if err != nil {
		return nil, err
	}
	return p.preflight(payload.Images), nil
}

// Retry moves a failed row back to pending.
func (p *Pipeline) Retry(ctx context.Context, id int64) (*storage.ReadyTransfer, error) {
	rt, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rt.Status != storage.StatusFailed {
		return nil, apperr.Ef(apperr.ErrInvalidState, "retry", "transfer %d is %s, not failed", id, rt.Status)
	}
	return p.setPending(ctx, id, []string{storage.StatusFailed})
}

// Reset moves any row back to pending. id_product is kept.
func (p *Pipeline) Reset(ctx context.Context, id int64) (*storage.ReadyTransfer, error) {
	if _, err := p.Get(ctx, id); err != nil {
		return nil, err
	}
	return p.setPending(ctx, id, nil)
}

func (p *Pipeline) setPending(ctx context.Context, id int64, from []string) (*storage.ReadyTransfer, error) {
	pending := storage.StatusPending
	ok, err := p.db.UpdateTransfer(ctx, id, from, storage.TransferUpdate{Status: &pending})
	if err != nil {
		return nil, fmt.Errorf("set pending: %w", err)
	}
	if !ok {
		return nil, apperr.Ef(apperr.ErrInvalidState, "set pending", "transfer %d changed concurrently", id)
	}
	return p.Get(ctx, id)
}

// IsConflict reports whether err is a strict-create conflict.
func IsConflict(err error) bool {
	return errors.Is(err, apperr.ErrConflictExists)
}
