package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/config"
	"github.com/spider-crawler/shopsync/internal/mapper"
)

var testSource = SourceKey{Domain: "shop.test", URLKey: "shop.test/p/1", URL: "https://shop.test/p/1"}

func newMockTarget(t *testing.T, driver string, failures uint32) (*SQLTarget, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	target := NewSQLTarget(sqlx.NewDb(mockDB, driver), config.TargetConfig{
		TablePrefix:      "ps_",
		LangID:           1,
		ShopID:           1,
		StatementTimeout: time.Second,
		BreakerFailures:  failures,
		BreakerTimeout:   time.Minute,
	}, zap.NewNop())
	target.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return target, mock
}

func testPayload() *mapper.Payload {
	return &mapper.Payload{
		Domain: "shop.test",
		URL:    "https://shop.test/p/1",
		URLKey: "shop.test/p/1",
		Product: mapper.ProductFields{
			Name:              "Blue Shirt",
			Reference:         "SKU-1",
			Price:             19.9,
			Quantity:          3,
			LinkRewrite:       "blue-shirt",
			MetaTitle:         "Blue Shirt",
			Active:            1,
			IDCategoryDefault: 2,
			IDTaxRulesGroup:   1,
		},
		Images: []mapper.ImageRef{
			{Position: 1, Source: "https://shop.test/img/1.jpg", Cover: true},
		},
		Variants:    []mapper.Variant{},
		ImageSource: mapper.ImageSourceMapped,
	}
}

func noRows(col string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{col})
}

func idRow(col string, id int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{col}).AddRow(id)
}

func expectProductInserts(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectExec(`INSERT INTO ps_product_lang`).
		WithArgs(id, 1, 1, "Blue Shirt", "", "", "blue-shirt", "Blue Shirt", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ps_product_shop`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ps_category_product`).WithArgs(2, id).WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectSourceLink(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectExec(`DELETE FROM ps_shopsync_source WHERE domain = \? AND url_key = \?`).
		WithArgs("shop.test", "shop.test/p/1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO ps_shopsync_source`).
		WithArgs(id, "shop.test", "shop.test/p/1", "https://shop.test/p/1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestSQLTargetCreate(t *testing.T) {
	target, mock := newMockTarget(t, "mysql", 3)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id_product FROM ps_shopsync_source WHERE domain = \? AND url_key = \?`).
		WithArgs("shop.test", "shop.test/p/1").
		WillReturnRows(noRows("id_product"))
	mock.ExpectQuery(`SELECT id_product FROM ps_product WHERE reference = \?`).
		WithArgs("SKU-1").
		WillReturnRows(noRows("id_product"))
	mock.ExpectExec(`INSERT INTO ps_product \(id_category_default`).WillReturnResult(sqlmock.NewResult(42, 1))
	expectProductInserts(mock, 42)
	mock.ExpectExec(`INSERT INTO ps_image \(`).WithArgs(42, 1, 1).WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(`INSERT INTO ps_image_lang`).WithArgs(7, 1, "Blue Shirt").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ps_image_shop`).WithArgs(42, 7, 1, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ps_shopsync_image`).
		WithArgs(7, 42, 1, "https://shop.test/img/1.jpg").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectSourceLink(mock, 42)
	mock.ExpectCommit()

	res, err := target.Create(context.Background(), testSource, testPayload())
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.IDProduct)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, 1, res.Images)
	require.NotNil(t, res.Debug)
	assert.Len(t, res.Debug.Queries, 12)
	for _, q := range res.Debug.Queries {
		assert.True(t, q.OK, q.SQL)
	}
	assert.Equal(t, []any{"shop.test", "shop.test/p/1"}, res.Debug.Queries[0].Params)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTargetCreateConflict(t *testing.T) {
	tests := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
	}{
		{
			name: "natural key",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT id_product FROM ps_shopsync_source`).WillReturnRows(idRow("id_product", 42))
			},
		},
		{
			name: "reference",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT id_product FROM ps_shopsync_source`).WillReturnRows(noRows("id_product"))
				mock.ExpectQuery(`SELECT id_product FROM ps_product WHERE reference`).
					WithArgs("SKU-1").
					WillReturnRows(idRow("id_product", 42))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, mock := newMockTarget(t, "mysql", 3)
			mock.ExpectBegin()
			tt.expect(mock)
			mock.ExpectRollback()

			res, err := target.Create(context.Background(), testSource, testPayload())
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrConflictExists)
			assert.Equal(t, int64(42), res.IDProduct)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLTargetCreateStatementError(t *testing.T) {
	target, mock := newMockTarget(t, "mysql", 3)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id_product FROM ps_shopsync_source`).WillReturnRows(noRows("id_product"))
	mock.ExpectQuery(`SELECT id_product FROM ps_product WHERE reference`).WillReturnRows(noRows("id_product"))
	mock.ExpectExec(`INSERT INTO ps_product \(`).WillReturnError(errors.New("Cannot add or update a child row: a foreign key constraint fails"))
	mock.ExpectRollback()

	res, err := target.Create(context.Background(), testSource, testPayload())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConstraintViolation)

	require.Len(t, res.Debug.Queries, 3)
	last := res.Debug.Queries[2]
	assert.False(t, last.OK)
	assert.Contains(t, last.Error, "foreign key")
	assert.Contains(t, last.SQL, "INSERT INTO ps_product")
	assert.Len(t, last.Params, 13)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTargetUpsertRecreatesMissingProduct(t *testing.T) {
	target, mock := newMockTarget(t, "mysql", 3)
	p := testPayload()
	p.Images = nil

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id_product FROM ps_product WHERE id_product = \?`).WithArgs(42).WillReturnRows(noRows("id_product"))
	mock.ExpectExec(`INSERT INTO ps_product \(id_product, id_category_default`).WillReturnResult(sqlmock.NewResult(42, 1))
	expectProductInserts(mock, 42)
	expectSourceLink(mock, 42)
	mock.ExpectCommit()

	id := int64(42)
	res, err := target.Upsert(context.Background(), testSource, p, &id)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, int64(42), res.IDProduct)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTargetUpsertNotYetTransferred(t *testing.T) {
	target, mock := newMockTarget(t, "mysql", 3)

	// A product sharing the reference must not be picked up: only the
	// source map is consulted, and nothing is written.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id_product FROM ps_shopsync_source WHERE domain = \? AND url_key = \?`).
		WithArgs("shop.test", "shop.test/p/1").
		WillReturnRows(noRows("id_product"))
	mock.ExpectRollback()

	res, err := target.Upsert(context.Background(), testSource, testPayload(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotYetTransferred)
	assert.Zero(t, res.IDProduct)
	require.Len(t, res.Debug.Queries, 1)
	assert.NotContains(t, res.Debug.Queries[0].SQL, "reference")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTargetUpsertResolvesSourceLink(t *testing.T) {
	target, mock := newMockTarget(t, "mysql", 3)
	p := testPayload()
	p.Images = nil

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id_product FROM ps_shopsync_source WHERE domain = \? AND url_key = \?`).
		WithArgs("shop.test", "shop.test/p/1").
		WillReturnRows(idRow("id_product", 42))
	mock.ExpectExec(`UPDATE ps_product SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ps_product_lang SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ps_product_shop SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM ps_category_product WHERE id_product = \?`).WithArgs(42).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO ps_category_product`).WithArgs(2, 42).WillReturnResult(sqlmock.NewResult(0, 1))
	for _, table := range []string{"ps_image_lang", "ps_image_shop", "ps_shopsync_image", "ps_image"} {
		mock.ExpectExec(`DELETE FROM ` + table + ` WHERE`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(`DELETE FROM ps_product_attribute_combination`).WithArgs(42).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM ps_product_attribute_shop`).WithArgs(42).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM ps_product_attribute WHERE`).WithArgs(42).WillReturnResult(sqlmock.NewResult(0, 0))
	expectSourceLink(mock, 42)
	mock.ExpectCommit()

	res, err := target.Upsert(context.Background(), testSource, p, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, int64(42), res.IDProduct)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTargetUpsertUpdatesWithVariants(t *testing.T) {
	target, mock := newMockTarget(t, "mysql", 3)
	p := testPayload()
	p.Images = nil
	p.Variants = []mapper.Variant{
		{Reference: "SKU-1-M", Quantity: 5, Attributes: map[string]string{"Size": "M"}},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id_product FROM ps_product WHERE id_product = \?`).WithArgs(42).WillReturnRows(idRow("id_product", 42))
	mock.ExpectExec(`UPDATE ps_product SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ps_product_lang SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ps_product_shop SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM ps_category_product WHERE id_product = \?`).WithArgs(42).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ps_category_product`).WithArgs(2, 42).WillReturnResult(sqlmock.NewResult(0, 1))

	// Image sync with an empty list drops every position.
	mock.ExpectExec(`DELETE FROM ps_image_lang WHERE id_image IN`).WithArgs(42, 0).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM ps_image_shop WHERE id_image IN`).WithArgs(42, 0).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM ps_shopsync_image WHERE id_image IN`).WithArgs(42, 0).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM ps_image WHERE id_product = \? AND position > \?`).WithArgs(42, 0).WillReturnResult(sqlmock.NewResult(0, 2))

	mock.ExpectExec(`DELETE FROM ps_product_attribute_combination`).WithArgs(42).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM ps_product_attribute_shop`).WithArgs(42).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM ps_product_attribute WHERE`).WithArgs(42).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`INSERT INTO ps_product_attribute \(`).
		WithArgs(42, "SKU-1-M", "", 0.0, 5, 1).
		WillReturnResult(sqlmock.NewResult(90, 1))
	mock.ExpectExec(`INSERT INTO ps_product_attribute_shop`).
		WithArgs(90, 42, 1, 0.0, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id_attribute_group FROM ps_attribute_group_lang`).
		WithArgs(1, "Size").
		WillReturnRows(idRow("id_attribute_group", 3))
	mock.ExpectQuery(`SELECT a\.id_attribute FROM ps_attribute a JOIN ps_attribute_lang al`).
		WithArgs(3, 1, "M").
		WillReturnRows(noRows("id_attribute"))
	mock.ExpectExec(`INSERT INTO ps_attribute \(`).WithArgs(3).WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(`INSERT INTO ps_attribute_lang`).WithArgs(11, 1, "M").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ps_product_attribute_combination`).WithArgs(11, 90).WillReturnResult(sqlmock.NewResult(0, 1))
	expectSourceLink(mock, 42)
	mock.ExpectCommit()

	id := int64(42)
	res, err := target.Upsert(context.Background(), testSource, p, &id)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, 1, res.Variants)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTargetSyncImages(t *testing.T) {
	target, mock := newMockTarget(t, "mysql", 3)
	images := []mapper.ImageRef{
		{Position: 1, Source: "a.jpg", Local: true, Cover: true},
		{Position: 2, Source: "https://shop.test/b.jpg"},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id_product FROM ps_product WHERE id_product = \?`).WithArgs(42).WillReturnRows(idRow("id_product", 42))

	mock.ExpectQuery(`SELECT id_image FROM ps_image WHERE id_product = \? AND position = \?`).
		WithArgs(42, 1).
		WillReturnRows(idRow("id_image", 7))
	mock.ExpectExec(`UPDATE ps_image SET cover`).WithArgs(1, 7).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ps_image_shop SET cover`).WithArgs(1, 7, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ps_image_lang SET legend`).WithArgs("Blue Shirt", 7, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM ps_shopsync_image WHERE id_image = \?`).WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ps_shopsync_image`).WithArgs(7, 42, 1, "a.jpg").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`SELECT id_image FROM ps_image WHERE id_product = \? AND position = \?`).
		WithArgs(42, 2).
		WillReturnRows(noRows("id_image"))
	mock.ExpectExec(`INSERT INTO ps_image \(`).WithArgs(42, 2, nil).WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectExec(`INSERT INTO ps_image_lang`).WithArgs(8, 1, "Blue Shirt").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ps_image_shop`).WithArgs(42, 8, 1, nil).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ps_shopsync_image`).
		WithArgs(8, 42, 2, "https://shop.test/b.jpg").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`DELETE FROM ps_image_lang WHERE id_image IN`).WithArgs(42, 2).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM ps_image_shop WHERE id_image IN`).WithArgs(42, 2).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM ps_shopsync_image WHERE id_image IN`).WithArgs(42, 2).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM ps_image WHERE id_product`).WithArgs(42, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := target.SyncImages(context.Background(), 42, "Blue Shirt", images)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Images)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, int64(1), res.Removed)
	require.Len(t, res.Results, 2)
	assert.Equal(t, ImageResult{Position: 1, IDImage: 7, Source: "a.jpg", Action: ActionUpdated}, res.Results[0])
	assert.Equal(t, ImageResult{Position: 2, IDImage: 8, Source: "https://shop.test/b.jpg", Action: ActionInserted}, res.Results[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTargetSyncImagesUnknownProduct(t *testing.T) {
	target, mock := newMockTarget(t, "mysql", 3)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id_product FROM ps_product WHERE id_product = \?`).WithArgs(42).WillReturnRows(noRows("id_product"))
	mock.ExpectRollback()

	_, err := target.SyncImages(context.Background(), 42, "Blue Shirt", nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTargetPostgresPlaceholders(t *testing.T) {
	target, mock := newMockTarget(t, "postgres", 3)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id_product FROM ps_shopsync_source WHERE domain = \$1 AND url_key = \$2`).
		WithArgs("shop.test", "shop.test/p/1").
		WillReturnRows(idRow("id_product", 5))
	mock.ExpectRollback()

	_, err := target.Create(context.Background(), testSource, testPayload())
	assert.ErrorIs(t, err, apperr.ErrConflictExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTargetBreakerOpens(t *testing.T) {
	target, mock := newMockTarget(t, "mysql", 1)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := target.Create(context.Background(), testSource, testPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	// The breaker is open now; the database is not touched.
	res, err := target.Create(context.Background(), testSource, testPayload())
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Empty(t, res.Debug.Queries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTargetConflictDoesNotTripBreaker(t *testing.T) {
	target, mock := newMockTarget(t, "mysql", 1)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id_product FROM ps_shopsync_source`).WillReturnRows(idRow("id_product", 42))
		mock.ExpectRollback()
	}

	for i := 0; i < 2; i++ {
		_, err := target.Create(context.Background(), testSource, testPayload())
		assert.ErrorIs(t, err, apperr.ErrConflictExists)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceImpact(t *testing.T) {
	assert.Equal(t, 0.0, priceImpact(0, 19.9))
	assert.InDelta(t, 5.0, priceImpact(24.9, 19.9), 1e-9)
	assert.InDelta(t, -2.5, priceImpact(17.4, 19.9), 1e-9)
}

func TestDebugLogJSON(t *testing.T) {
	var nilLog *DebugLog
	assert.Nil(t, nilLog.JSON())

	l := newDebugLog()
	l.add("SELECT 1", nil, nil)
	l.add("INSERT x", []any{1}, errors.New("boom"))
	assert.JSONEq(t, `{"queries":[
		{"sql":"SELECT 1","params":[],"ok":true},
		{"sql":"INSERT x","params":[1],"ok":false,"error":"boom"}
	]}`, string(l.JSON()))
}
