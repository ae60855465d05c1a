package transfer

import (
	"context"
	"encoding/json"

	"github.com/spider-crawler/shopsync/internal/mapper"
)

// Write actions reported by a target.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionInserted = "inserted"
)

// SourceKey is the natural key of a transferred page.
type SourceKey struct {
	Domain string
	URLKey string
	URL    string
}

// QueryLog is one statement run against the target.
type QueryLog struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// DebugLog records every statement of a target transaction.
type DebugLog struct {
	Queries []QueryLog `json:"queries"`
}

func newDebugLog() *DebugLog {
	return &DebugLog{Queries: make([]QueryLog, 0)}
}

func (l *DebugLog) add(query string, params []any, err error) {
	q := QueryLog{SQL: query, Params: params, OK: err == nil}
	if q.Params == nil {
		q.Params = []any{}
	}
	if err != nil {
		q.Error = err.Error()
	}
	l.Queries = append(l.Queries, q)
}

// JSON encodes the log for storage. A nil log encodes as nil.
func (l *DebugLog) JSON() json.RawMessage {
	if l == nil {
		return nil
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return nil
	}
	return raw
}

// WriteResult reports a product write.
type WriteResult struct {
	IDProduct int64     `json:"id_product"`
	Action    string    `json:"action"`
	Images    int       `json:"images"`
	Variants  int       `json:"variants"`
	Debug     *DebugLog `json:"-"`
}

// ImageResult reports one image position.
type ImageResult struct {
	Position int    `json:"position"`
	IDImage  int64  `json:"id_image"`
	Source   string `json:"source"`
	Action   string `json:"action"`
}

// ImageSyncResult reports an image resync.
type ImageSyncResult struct {
	Images   int           `json:"images"`
	Updated  int           `json:"updated"`
	Inserted int           `json:"inserted"`
	Removed  int64         `json:"removed"`
	Results  []ImageResult `json:"results"`
	Debug    *DebugLog     `json:"-"`
}

// Target writes payloads into the shop database. Results carry the debug
// log even when an error is returned.
type Target interface {
	// Create inserts a new product. It fails with ErrConflictExists when the
	// natural key or the reference already exists.
	Create(ctx context.Context, src SourceKey, p *mapper.Payload) (*WriteResult, error)

	// Upsert updates the product with idProduct, or the one found by
	// natural key when idProduct is nil. A known id whose row is gone is
	// re-created with the same id. ErrNotYetTransferred when nothing matches.
	Upsert(ctx context.Context, src SourceKey, p *mapper.Payload, idProduct *int64) (*WriteResult, error)

	// SyncImages rewrites only the image rows of a product.
	SyncImages(ctx context.Context, idProduct int64, name string, images []mapper.ImageRef) (*ImageSyncResult, error)
}
