package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func key(u string) string { return strings.ToLower(strings.TrimSpace(u)) }

func catalogRow(domain, u string) *CatalogURL {
	return &CatalogURL{Domain: domain, URL: u, URLKey: key(u), SourceSitemap: "https://" + domain + "/sitemap.xml"}
}

func TestInsertCatalogURLsIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rows := []*CatalogURL{
		catalogRow("x.com", "https://x.com/p/1"),
		catalogRow("x.com", "https://x.com/p/2"),
		catalogRow("x.com", " https://X.com/P/1 "),
	}
	n, err := db.InsertCatalogURLs(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = db.InsertCatalogURLs(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	list, total, err := db.ListCatalogURLs(ctx, "x.com", CatalogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "unknown", list[0].PageType)
	assert.Equal(t, "https://x.com/p/1", list[0].URL)
	assert.NotNil(t, list[0].DiscoveredAt)
	assert.False(t, list[0].IsExplored())
}

func TestListCatalogFiltersAndSort(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.InsertCatalogURLs(ctx, []*CatalogURL{
		catalogRow("x.com", "https://x.com/p/b"),
		catalogRow("x.com", "https://x.com/p/a"),
		catalogRow("x.com", "https://x.com/c/shoes"),
		catalogRow("y.com", "https://y.com/p/a"),
	})
	require.NoError(t, err)

	v := 1
	require.NoError(t, db.SaveExploration(ctx, &Snapshot{
		Domain: "x.com", URL: "https://x.com/p/a", URLKey: key("https://x.com/p/a"),
		Result: json.RawMessage(`{"meta":{}}`), ExploredAt: time.Now().UTC(), ConfigVersion: &v,
	}, ExplorationUpdate{PageType: "product", Title: "Alpha 100%", HTTPStatus: 200, ConfigVersion: &v}))

	rows, total, err := db.ListCatalogURLs(ctx, "x.com", CatalogFilter{SortBy: "url"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "https://x.com/c/shoes", rows[0].URL)
	assert.Equal(t, "https://x.com/p/a", rows[1].URL)

	explored := true
	rows, total, err = db.ListCatalogURLs(ctx, "x.com", CatalogFilter{Explored: &explored})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "product", rows[0].PageType)
	require.NotNil(t, rows[0].ConfigVersionUsed)
	assert.Equal(t, 1, *rows[0].ConfigVersionUsed)

	rows, total, err = db.ListCatalogURLs(ctx, "x.com", CatalogFilter{Search: "100%"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	rows, total, err = db.ListCatalogURLs(ctx, "x.com", CatalogFilter{Search: "/P/", SortBy: "url", SortDesc: true, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://x.com/p/b", rows[0].URL)

	// unknown sort column falls back to insertion order
	rows, _, err = db.ListCatalogURLs(ctx, "x.com", CatalogFilter{SortBy: "url; DROP TABLE catalog_urls"})
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/p/b", rows[0].URL)
}

func TestResetClearDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u1, u2 := "https://x.com/p/1", "https://x.com/p/2"
	_, err := db.InsertCatalogURLs(ctx, []*CatalogURL{catalogRow("x.com", u1), catalogRow("x.com", u2)})
	require.NoError(t, err)
	for _, u := range []string{u1, u2} {
		require.NoError(t, db.SaveExploration(ctx, &Snapshot{
			Domain: "x.com", URL: u, URLKey: key(u), Result: json.RawMessage(`{}`), ExploredAt: time.Now().UTC(),
		}, ExplorationUpdate{PageType: "product", Title: "T", HTTPStatus: 200}))
	}

	counts, err := db.ResetExplored(ctx, "x.com", []string{key(u1)}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.AffectedRows)
	assert.Equal(t, int64(1), counts.DeletedSnapshots)

	c, err := db.GetCatalogURL(ctx, "x.com", key(u1))
	require.NoError(t, err)
	assert.Nil(t, c.ExploredAt)
	assert.Equal(t, "product", c.PageType)
	snap, err := db.GetSnapshot(ctx, "x.com", key(u1))
	require.NoError(t, err)
	assert.Nil(t, snap)

	n, err := db.ClearCatalogFields(ctx, "x.com", []string{key(u2)}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	c, err = db.GetCatalogURL(ctx, "x.com", key(u2))
	require.NoError(t, err)
	assert.Equal(t, "unknown", c.PageType)
	assert.Empty(t, c.Title)
	assert.NotNil(t, c.DiscoveredAt)
	assert.NotNil(t, c.ExploredAt)

	counts, err = db.DeleteCatalogURLs(ctx, "x.com", []string{key(u2)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.DeletedURLs)
	assert.Equal(t, int64(1), counts.DeletedSnapshots)
	c, err = db.GetCatalogURL(ctx, "x.com", key(u2))
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestConfigVersions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		cv := &ConfigVersion{Domain: "shop.io", Kind: "extraction", PageType: "product", Config: json.RawMessage(`{"rule":1}`)}
		require.NoError(t, db.AppendConfigVersion(ctx, cv))
		assert.Equal(t, i, cv.Version)
	}
	other := &ConfigVersion{Domain: "shop.io", Kind: "mapping", PageType: "product", Config: json.RawMessage(`{}`)}
	require.NoError(t, db.AppendConfigVersion(ctx, other))
	assert.Equal(t, 1, other.Version)

	cur, err := db.GetConfigVersion(ctx, "shop.io", "extraction", "product", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, cur.Version)

	hist, err := db.ListConfigVersions(ctx, "shop.io", "extraction", "product")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, 3, hist[0].Version)

	n, err := db.DeleteConfigVersions(ctx, "shop.io", "extraction", "product", []int64{hist[2].ID, other.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	keys, err := db.ListConfigKeys(ctx, "shop.io")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "extraction", keys[0].Kind)
	assert.Equal(t, 3, keys[0].CurrentVersion)
	assert.Equal(t, 2, keys[0].Versions)

	missing, err := db.GetConfigVersion(ctx, "shop.io", "extraction", "category", 0)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReadyTransferDedupAndStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.UpsertReadyTransfer(ctx, &ReadyTransfer{
		Domain: "x.com", URL: "https://x.com/p", URLKey: key("https://x.com/p"), Title: "v1",
		Mapped: json.RawMessage(`{"name":"v1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusReady, first.Status)

	second, err := db.UpsertReadyTransfer(ctx, &ReadyTransfer{
		Domain: "x.com", URL: " https://X.com/P ", URLKey: key(" https://X.com/P "), Title: "v2",
		Mapped: json.RawMessage(`{"name":"v2"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "v2", second.Title)
	assert.Equal(t, "https://x.com/p", second.URL)

	transferred := StatusTransferred
	id := int64(42)
	ok, err := db.UpdateTransfer(ctx, first.ID, []string{StatusReady}, TransferUpdate{Status: &transferred, IDProduct: &id})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.UpdateTransfer(ctx, first.ID, []string{StatusReady}, TransferUpdate{Status: &transferred})
	require.NoError(t, err)
	assert.False(t, ok)

	third, err := db.UpsertReadyTransfer(ctx, &ReadyTransfer{
		Domain: "x.com", URL: "https://x.com/p", URLKey: key("https://x.com/p"), Title: "v3",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusTransferred, third.Status)
	require.NotNil(t, third.IDProduct)
	assert.Equal(t, int64(42), *third.IDProduct)

	list, err := db.ListReadyTransfers(ctx, "x.com", StatusTransferred)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	counts, err := db.CountTransfersByStatus(ctx, "x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusTransferred])
	assert.Equal(t, 0, counts[StatusReady])
}

func TestRunLogs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRun(ctx, &Run{RunID: "r1", Kind: "explore", Domain: "x.com", Total: 3}))
	for i, lvl := range []string{LevelInfo, LevelError, LevelInfo, LevelError} {
		require.NoError(t, db.InsertRunLog(ctx, &RunLogEntry{RunID: "r1", Level: lvl, Message: string(rune('a' + i))}))
	}
	require.NoError(t, db.FinishRun(ctx, "r1", 2, 1))

	errs, err := db.ListRunLogs(ctx, "r1", LevelError, 0)
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "b", errs[0].Message)

	tail, err := db.ListRunLogs(ctx, "r1", "", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "c", tail[0].Message)
	assert.Equal(t, "d", tail[1].Message)

	run, err := db.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RunFinished, run.Status)
	assert.Equal(t, 2, run.OK)
	assert.NotNil(t, run.FinishedAt)
}

func TestDomains(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec, err := db.GetDomain(ctx, "x.com")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, db.SaveDomain(ctx, &Domain{
		Domain: "x.com", SitemapURL: "https://x.com/sitemap.xml",
		KnownSitemaps: []string{"https://x.com/a.xml"}, SelectedSitemaps: []string{"https://x.com/a.xml"},
	}))
	rec, err = db.GetDomain(ctx, "x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.com/a.xml"}, rec.KnownSitemaps)
	assert.Equal(t, []string{}, rec.ManualSitemaps)

	all, err := db.ListDomains(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
