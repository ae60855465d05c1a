// Package configstore keeps versioned extraction and mapping configs per
// (domain, kind, page type).
package configstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/storage"
)

// Kind is the config family.
type Kind string

const (
	KindExtraction Kind = "extraction"
	KindMapping    Kind = "mapping"
)

// ParseKind accepts "extraction", "mapping" and the alias "transfer".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "extraction":
		return KindExtraction, nil
	case "mapping", "transfer":
		return KindMapping, nil
	default:
		return "", apperr.Ef(apperr.ErrInvalidConfig, "parse kind", "unknown config kind %q", s)
	}
}

// Key identifies one config history.
type Key struct {
	Domain   string
	Kind     Kind
	PageType string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Domain, k.Kind, k.PageType)
}

func (k Key) validate() error {
	if strings.TrimSpace(k.Domain) == "" || strings.TrimSpace(k.PageType) == "" {
		return apperr.Ef(apperr.ErrInvalidConfig, "config key", "domain and page type are required")
	}
	if k.Kind != KindExtraction && k.Kind != KindMapping {
		return apperr.Ef(apperr.ErrInvalidConfig, "config key", "unknown config kind %q", k.Kind)
	}
	return nil
}

// Repository is the persistence the store needs.
type Repository interface {
	AppendConfigVersion(ctx context.Context, cv *storage.ConfigVersion) error
	GetConfigVersion(ctx context.Context, domain, kind, pageType string, version int) (*storage.ConfigVersion, error)
	GetConfigVersionByID(ctx context.Context, id int64) (*storage.ConfigVersion, error)
	ListConfigVersions(ctx context.Context, domain, kind, pageType string) ([]*storage.ConfigVersion, error)
	DeleteConfigVersions(ctx context.Context, domain, kind, pageType string, ids []int64) (int64, error)
	ListConfigKeys(ctx context.Context, domain string) ([]*storage.ConfigKeySummary, error)
}

// DeleteResult reports a bulk history delete.
type DeleteResult struct {
	Deleted    int64   `json:"deleted"`
	DeletedIDs []int64 `json:"deleted_ids"`

	// KeptCurrent is set when the filter matched the current version,
	// which is never deleted.
	KeptCurrent bool `json:"kept_current,omitempty"`
}

// Store is the versioned config store.
type Store struct {
	repo   Repository
	logger *zap.Logger

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

// New creates a Store.
func New(repo Repository, logger *zap.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger.Named("configstore"),
		locks:  make(map[Key]*sync.Mutex),
	}
}

// keyLock returns the write lock for key.
func (s *Store) keyLock(key Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Save appends config as the next version of key.
func (s *Store) Save(ctx context.Context, key Key, config json.RawMessage, note string) (*storage.ConfigVersion, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	if err := ValidateObject(config); err != nil {
		return nil, err
	}

	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	return s.append(ctx, key, config, note)
}

func (s *Store) append(ctx context.Context, key Key, config json.RawMessage, note string) (*storage.ConfigVersion, error) {
	cv := &storage.ConfigVersion{
		Domain:   key.Domain,
		Kind:     string(key.Kind),
		PageType: key.PageType,
		Config:   compact(config),
		Note:     strings.TrimSpace(note),
	}
	if err := s.repo.AppendConfigVersion(ctx, cv); err != nil {
		return nil, fmt.Errorf("save %s: %w", key, err)
	}

	s.logger.Info("config saved",
		zap.String("key", key.String()),
		zap.Int("version", cv.Version))
	return cv, nil
}

// Get returns version of key, or the current version when version is nil.
func (s *Store) Get(ctx context.Context, key Key, version *int) (*storage.ConfigVersion, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	v := 0
	if version != nil {
		if *version < 1 {
			return nil, apperr.Ef(apperr.ErrNotFound, "get config", "%s version %d", key, *version)
		}
		v = *version
	}

	cv, err := s.repo.GetConfigVersion(ctx, key.Domain, string(key.Kind), key.PageType, v)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if cv == nil {
		if v == 0 {
			return nil, apperr.Ef(apperr.ErrNotFound, "get config", "no %s config saved", key)
		}
		return nil, apperr.Ef(apperr.ErrNotFound, "get config", "%s version %d", key, v)
	}
	return cv, nil
}

// History returns every version of key, newest first.
func (s *Store) History(ctx context.Context, key Key) ([]*storage.ConfigVersion, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	return s.repo.ListConfigVersions(ctx, key.Domain, string(key.Kind), key.PageType)
}

// Revert appends a new version whose content equals the history entry with
// row id toID. History is not modified.
func (s *Store) Revert(ctx context.Context, key Key, toID int64) (*storage.ConfigVersion, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}

	src, err := s.repo.GetConfigVersionByID(ctx, toID)
	if err != nil {
		return nil, fmt.Errorf("revert %s: %w", key, err)
	}
	if src == nil || src.Domain != key.Domain || src.Kind != string(key.Kind) || src.PageType != key.PageType {
		return nil, apperr.Ef(apperr.ErrNotFound, "revert config", "%s has no history entry %d", key, toID)
	}

	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	return s.append(ctx, key, src.Config, fmt.Sprintf("revert to v%d", src.Version))
}

// BulkDeleteHistory deletes the history entries selected by filter. The
// current version always survives so version numbers are never reused.
func (s *Store) BulkDeleteHistory(ctx context.Context, key Key, filter HistoryFilter) (*DeleteResult, error) {
	if filter == nil {
		return nil, apperr.Ef(apperr.ErrInvalidFilter, "bulk delete", "no filter given")
	}
	if err := key.validate(); err != nil {
		return nil, err
	}

	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	history, err := s.repo.ListConfigVersions(ctx, key.Domain, string(key.Kind), key.PageType)
	if err != nil {
		return nil, fmt.Errorf("bulk delete %s: %w", key, err)
	}

	victims, err := filter.victims(history)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{DeletedIDs: make([]int64, 0, len(victims))}
	current := 0
	for _, cv := range history {
		if cv.Version > current {
			current = cv.Version
		}
	}
	for _, cv := range victims {
		if cv.Version == current {
			result.KeptCurrent = true
			continue
		}
		result.DeletedIDs = append(result.DeletedIDs, cv.ID)
	}

	if len(result.DeletedIDs) == 0 {
		return result, nil
	}
	n, err := s.repo.DeleteConfigVersions(ctx, key.Domain, string(key.Kind), key.PageType, result.DeletedIDs)
	if err != nil {
		return nil, fmt.Errorf("bulk delete %s: %w", key, err)
	}
	result.Deleted = n

	s.logger.Info("config history pruned",
		zap.String("key", key.String()),
		zap.Int64("deleted", n))
	return result, nil
}

// Keys lists every config history of a domain with its current version.
func (s *Store) Keys(ctx context.Context, domain string) ([]*storage.ConfigKeySummary, error) {
	return s.repo.ListConfigKeys(ctx, domain)
}

// ValidateObject checks that raw is a JSON object.
func ValidateObject(raw json.RawMessage) error {
	if len(raw) == 0 {
		return apperr.Ef(apperr.ErrInvalidConfig, "validate config", "config is empty")
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return apperr.Ef(apperr.ErrInvalidConfig, "validate config", "config must be a JSON object: %v", err)
	}
	if obj == nil {
		return apperr.Ef(apperr.ErrInvalidConfig, "validate config", "config must be a JSON object")
	}
	return nil
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
