package configstore

import (
	"sort"
	"time"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/storage"
)

// HistoryFilter selects history entries for BulkDeleteHistory. Exactly one
// of ByIDs, BeforeVersion, BeforeDate or KeepLast.
type HistoryFilter interface {
	// victims returns the entries to delete from history (newest first).
	victims(history []*storage.ConfigVersion) ([]*storage.ConfigVersion, error)
}

// ByIDs deletes the listed history entries.
type ByIDs []int64

// BeforeVersion deletes entries with version < the given number.
type BeforeVersion int

// BeforeDate deletes entries saved strictly before the given time.
type BeforeDate time.Time

// KeepLast keeps the newest N entries and deletes the rest.
type KeepLast int

func (f ByIDs) victims(history []*storage.ConfigVersion) ([]*storage.ConfigVersion, error) {
	if len(f) == 0 {
		return nil, apperr.Ef(apperr.ErrInvalidFilter, "bulk delete", "ids filter is empty")
	}
	want := make(map[int64]struct{}, len(f))
	for _, id := range f {
		want[id] = struct{}{}
	}
	var out []*storage.ConfigVersion
	for _, cv := range history {
		if _, ok := want[cv.ID]; ok {
			out = append(out, cv)
		}
	}
	return out, nil
}

func (f BeforeVersion) victims(history []*storage.ConfigVersion) ([]*storage.ConfigVersion, error) {
	if f < 1 {
		return nil, apperr.Ef(apperr.ErrInvalidFilter, "bulk delete", "before_version must be positive")
	}
	var out []*storage.ConfigVersion
	for _, cv := range history {
		if cv.Version < int(f) {
			out = append(out, cv)
		}
	}
	return out, nil
}

func (f BeforeDate) victims(history []*storage.ConfigVersion) ([]*storage.ConfigVersion, error) {
	cutoff := time.Time(f)
	if cutoff.IsZero() {
		return nil, apperr.Ef(apperr.ErrInvalidFilter, "bulk delete", "before_date is zero")
	}
	var out []*storage.ConfigVersion
	for _, cv := range history {
		if cv.SavedAt.Before(cutoff) {
			out = append(out, cv)
		}
	}
	return out, nil
}

func (f KeepLast) victims(history []*storage.ConfigVersion) ([]*storage.ConfigVersion, error) {
	if f < 1 {
		return nil, apperr.Ef(apperr.ErrInvalidFilter, "bulk delete", "keep_last must be positive")
	}
	sorted := make([]*storage.ConfigVersion, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version > sorted[j].Version })
	if len(sorted) <= int(f) {
		return nil, nil
	}
	return sorted[int(f):], nil
}

// FilterSpec is the wire form of a HistoryFilter, with one optional field
// per variant. Filter converts it and rejects zero or several set fields.
type FilterSpec struct {
	IDs           []int64    `json:"ids,omitempty"`
	BeforeVersion *int       `json:"before_version,omitempty"`
	BeforeDate    *time.Time `json:"before_date,omitempty"`
	KeepLast      *int       `json:"keep_last,omitempty"`
}

// Filter converts s into a HistoryFilter.
func (s FilterSpec) Filter() (HistoryFilter, error) {
	var (
		chosen HistoryFilter
		count  int
	)
	if len(s.IDs) > 0 {
		chosen, count = ByIDs(s.IDs), count+1
	}
	if s.BeforeVersion != nil {
		chosen, count = BeforeVersion(*s.BeforeVersion), count+1
	}
	if s.BeforeDate != nil {
		chosen, count = BeforeDate(*s.BeforeDate), count+1
	}
	if s.KeepLast != nil {
		chosen, count = KeepLast(*s.KeepLast), count+1
	}
	if count != 1 {
		return nil, apperr.Ef(apperr.ErrInvalidFilter, "history filter", "exactly one filter kind required, got %d", count)
	}
	return chosen, nil
}
