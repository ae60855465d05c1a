package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/config"
	"github.com/spider-crawler/shopsync/internal/mapper"
)

// SQLTarget writes products into a PrestaShop-compatible schema over
// database/sql. Every write runs in one transaction guarded by a circuit
// breaker.
type SQLTarget struct {
	db      *sqlx.DB
	prefix  string
	langID  int
	shopID  int
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time
}

// Open connects to the target store described by cfg.
func Open(cfg config.TargetConfig, logger *zap.Logger) (*SQLTarget, error) {
	if cfg.DSN == "" {
		return nil, apperr.Ef(apperr.ErrInvalidConfig, "open target", "no dsn configured")
	}
	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open target: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewSQLTarget(db, cfg, logger), nil
}

// NewSQLTarget wraps an open connection.
func NewSQLTarget(db *sqlx.DB, cfg config.TargetConfig, logger *zap.Logger) *SQLTarget {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &SQLTarget{
		db:      db,
		prefix:  cfg.TablePrefix,
		langID:  cfg.LangID,
		shopID:  cfg.ShopID,
		timeout: cfg.StatementTimeout,
		logger:  logger.Named("target"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if t.langID < 1 {
		t.langID = 1
	}
	if t.shopID < 1 {
		t.shopID = 1
	}
	if t.timeout <= 0 {
		t.timeout = 15 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 3
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	t.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "target-" + db.DriverName(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Conflicts and missing rows are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, apperr.ErrConflictExists) ||
				errors.Is(err, apperr.ErrNotYetTransferred)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return t
}

// Close closes the connection.
func (t *SQLTarget) Close() error {
	return t.db.Close()
}

// Ping checks connectivity.
func (t *SQLTarget) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.db.PingContext(ctx)
}

func (t *SQLTarget) table(name string) string {
	return t.prefix + name
}

// inTx runs fn in a transaction behind the breaker.
func (t *SQLTarget) inTx(ctx context.Context, fn func(s *session) error) (*DebugLog, error) {
	dbg := newDebugLog()
	_, err := t.cb.Execute(func() (interface{}, error) {
		tx, err := t.db.BeginTxx(ctx, nil)
		if err != nil {
			dbg.add("BEGIN", nil, err)
			return nil, fmt.Errorf("begin: %w", err)
		}
		s := &session{t: t, tx: tx, log: dbg, groups: map[string]int64{}, attrs: map[string]int64{}}
		if err := fn(s); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				t.logger.Warn("rollback failed", zap.Error(rbErr))
			}
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			dbg.add("COMMIT", nil, err)
			return nil, fmt.Errorf("commit: %w", err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("target store unavailable: %w", err)
	}
	return dbg, err
}

// session is one transaction plus its statement log and lookup caches.
type session struct {
	t      *SQLTarget
	tx     *sqlx.Tx
	log    *DebugLog
	groups map[string]int64
	attrs  map[string]int64
}

func (s *session) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = s.tx.Rebind(query)
	ctx, cancel := context.WithTimeout(ctx, s.t.timeout)
	defer cancel()
	res, err := s.tx.ExecContext(ctx, query, args...)
	s.log.add(query, args, err)
	if err != nil {
		return nil, apperr.E(apperr.ErrConstraintViolation, "exec", err)
	}
	return res, nil
}

// insert runs an INSERT and returns the generated key.
func (s *session) insert(ctx context.Context, query, idColumn string, args ...any) (int64, error) {
	if s.tx.DriverName() == "postgres" {
		query = s.tx.Rebind(query + " RETURNING " + idColumn)
		ctx, cancel := context.WithTimeout(ctx, s.t.timeout)
		defer cancel()
		var id int64
		err := s.tx.GetContext(ctx, &id, query, args...)
		s.log.add(query, args, err)
		if err != nil {
			return 0, apperr.E(apperr.ErrConstraintViolation, "insert", err)
		}
		return id, nil
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// lookup reads a single id; found is false when no row matches.
func (s *session) lookup(ctx context.Context, query string, args ...any) (int64, bool, error) {
	query = s.tx.Rebind(query)
	ctx, cancel := context.WithTimeout(ctx, s.t.timeout)
	defer cancel()
	var id int64
	err := s.tx.GetContext(ctx, &id, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		s.log.add(query, args, nil)
		return 0, false, nil
	}
	s.log.add(query, args, err)
	if err != nil {
		return 0, false, apperr.E(apperr.ErrConstraintViolation, "lookup", err)
	}
	return id, true, nil
}

// Create inserts a product that must not exist yet.
func (t *SQLTarget) Create(ctx context.Context, src SourceKey, p *mapper.Payload) (*WriteResult, error) {
	res := &WriteResult{Action: ActionCreated}
	dbg, err := t.inTx(ctx, func(s *session) error {
		existing, found, err := s.findExisting(ctx, src, p.Product.Reference)
		if err != nil {
			return err
		}
		if found {
			res.IDProduct = existing
			return apperr.Ef(apperr.ErrConflictExists, "create", "product %d already exists for %s", existing, src.URL)
		}
		return s.createProduct(ctx, src, p, nil, res)
	})
	res.Debug = dbg
	return res, err
}

// Upsert updates an existing product or re-creates a deleted one.
func (t *SQLTarget) Upsert(ctx context.Context, src SourceKey, p *mapper.Payload, idProduct *int64) (*WriteResult, error) {
	res := &WriteResult{Action: ActionUpdated}
	dbg, err := t.inTx(ctx, func(s *session) error {
		var id int64
		if idProduct != nil {
			id = *idProduct
			_, exists, err := s.lookup(ctx, `SELECT id_product FROM `+t.table("product")+` WHERE id_product = ?`, id)
			if err != nil {
				return err
			}
			if !exists {
				res.Action = ActionCreated
				return s.createProduct(ctx, src, p, &id, res)
			}
		} else {
			existing, found, err := s.findSource(ctx, src)
			if err != nil {
				return err
			}
			if !found {
				return apperr.Ef(apperr.ErrNotYetTransferred, "upsert", "no product for %s", src.URL)
			}
			id = existing
		}
		return s.updateProduct(ctx, src, p, id, res)
	})
	res.Debug = dbg
	return res, err
}

// SyncImages rewrites the image rows of a product by position.
func (t *SQLTarget) SyncImages(ctx context.Context, idProduct int64, name string, images []mapper.ImageRef) (*ImageSyncResult, error) {
	res := &ImageSyncResult{Images: len(images), Results: make([]ImageResult, 0, len(images))}
	dbg, err := t.inTx(ctx, func(s *session) error {
		_, exists, err := s.lookup(ctx, `SELECT id_product FROM `+t.table("product")+` WHERE id_product = ?`, idProduct)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.Ef(apperr.ErrNotFound, "sync images", "product %d not in target", idProduct)
		}
		return s.syncImages(ctx, idProduct, name, images, res)
	})
	res.Debug = dbg
	return res, err
}

// findSource resolves the product linked to src by an earlier transfer.
func (s *session) findSource(ctx context.Context, src SourceKey) (int64, bool, error) {
	return s.lookup(ctx,
		`SELECT id_product FROM `+s.t.table("shopsync_source")+` WHERE domain = ? AND url_key = ?`,
		src.Domain, src.URLKey)
}

// findExisting checks the source map, then the reference. Only Create uses
// the reference so that an update never lands on a foreign product.
func (s *session) findExisting(ctx context.Context, src SourceKey, reference string) (int64, bool, error) {
	id, found, err := s.findSource(ctx, src)
	if err != nil || found {
		return id, found, err
	}
	if reference == "" {
		return 0, false, nil
	}
	return s.lookup(ctx, `SELECT id_product FROM `+s.t.table("product")+` WHERE reference = ? LIMIT 1`, reference)
}

func (s *session) createProduct(ctx context.Context, src SourceKey, p *mapper.Payload, id *int64, res *WriteResult) error {
	pf := p.Product
	now := s.t.now()
	cols := `id_category_default, id_tax_rules_group, id_manufacturer, id_shop_default, reference, ean13,
		price, wholesale_price, quantity, weight, active, date_add, date_upd`
	args := []any{pf.IDCategoryDefault, pf.IDTaxRulesGroup, pf.IDManufacturer, s.t.shopID, pf.Reference, pf.EAN13,
		pf.Price, pf.WholesalePrice, pf.Quantity, pf.Weight, pf.Active, now, now}

	var idProduct int64
	if id != nil {
		idProduct = *id
		if _, err := s.exec(ctx, `INSERT INTO `+s.t.table("product")+` (id_product, `+cols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, append([]any{idProduct}, args...)...); err != nil {
			return err
		}
	} else {
		newID, err := s.insert(ctx, `INSERT INTO `+s.t.table("product")+` (`+cols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, "id_product", args...)
		if err != nil {
			return err
		}
		idProduct = newID
	}
	res.IDProduct = idProduct

	if err := s.insertLang(ctx, idProduct, pf); err != nil {
		return err
	}
	if err := s.insertShop(ctx, idProduct, pf, now); err != nil {
		return err
	}
	if _, err := s.exec(ctx, `INSERT INTO `+s.t.table("category_product")+` (id_category, id_product, position) VALUES (?, ?, 0)`,
		pf.IDCategoryDefault, idProduct); err != nil {
		return err
	}
	for _, img := range p.Images {
		if _, err := s.insertImage(ctx, idProduct, pf.Name, img); err != nil {
			return err
		}
	}
	res.Images = len(p.Images)
	if err := s.insertVariants(ctx, idProduct, p); err != nil {
		return err
	}
	res.Variants = len(p.Variants)
	return s.linkSource(ctx, idProduct, src, now)
}

func (s *session) updateProduct(ctx context.Context, src SourceKey, p *mapper.Payload, idProduct int64, res *WriteResult) error {
	pf := p.Product
	now := s.t.now()
	res.IDProduct = idProduct

	if _, err := s.exec(ctx, `UPDATE `+s.t.table("product")+` SET id_category_default = ?, id_tax_rules_group = ?,
		id_manufacturer = ?, reference = ?, ean13 = ?, price = ?, wholesale_price = ?, quantity = ?, weight = ?,
		active = ?, date_upd = ? WHERE id_product = ?`,
		pf.IDCategoryDefault, pf.IDTaxRulesGroup, pf.IDManufacturer, pf.Reference, pf.EAN13, pf.Price,
		pf.WholesalePrice, pf.Quantity, pf.Weight, pf.Active, now, idProduct); err != nil {
		return err
	}

	r, err := s.exec(ctx, `UPDATE `+s.t.table("product_lang")+` SET name = ?, description = ?, description_short = ?,
		link_rewrite = ?, meta_title = ?, meta_description = ? WHERE id_product = ? AND id_shop = ? AND id_lang = ?`,
		pf.Name, pf.Description, pf.DescriptionShort, pf.LinkRewrite, pf.MetaTitle, pf.MetaDescription,
		idProduct, s.t.shopID, s.t.langID)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		if err := s.insertLang(ctx, idProduct, pf); err != nil {
			return err
		}
	}

	r, err = s.exec(ctx, `UPDATE `+s.t.table("product_shop")+` SET id_category_default = ?, id_tax_rules_group = ?,
		price = ?, wholesale_price = ?, active = ?, date_upd = ? WHERE id_product = ? AND id_shop = ?`,
		pf.IDCategoryDefault, pf.IDTaxRulesGroup, pf.Price, pf.WholesalePrice, pf.Active, now, idProduct, s.t.shopID)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		if err := s.insertShop(ctx, idProduct, pf, now); err != nil {
			return err
		}
	}

	if _, err := s.exec(ctx, `DELETE FROM `+s.t.table("category_product")+` WHERE id_product = ?`, idProduct); err != nil {
		return err
	}
	if _, err := s.exec(ctx, `INSERT INTO `+s.t.table("category_product")+` (id_category, id_product, position) VALUES (?, ?, 0)`,
		pf.IDCategoryDefault, idProduct); err != nil {
		return err
	}

	sync := &ImageSyncResult{}
	if err := s.syncImages(ctx, idProduct, pf.Name, p.Images, sync); err != nil {
		return err
	}
	res.Images = len(p.Images)

	if err := s.deleteVariants(ctx, idProduct); err != nil {
		return err
	}
	if err := s.insertVariants(ctx, idProduct, p); err != nil {
		return err
	}
	res.Variants = len(p.Variants)
	return s.linkSource(ctx, idProduct, src, now)
}

func (s *session) insertLang(ctx context.Context, idProduct int64, pf mapper.ProductFields) error {
	_, err := s.exec(ctx, `INSERT INTO `+s.t.table("product_lang")+` (id_product, id_shop, id_lang, name, description,
		description_short, link_rewrite, meta_title, meta_description) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		idProduct, s.t.shopID, s.t.langID, pf.Name, pf.Description, pf.DescriptionShort, pf.LinkRewrite,
		pf.MetaTitle, pf.MetaDescription)
	return err
}

func (s *session) insertShop(ctx context.Context, idProduct int64, pf mapper.ProductFields, now time.Time) error {
	_, err := s.exec(ctx, `INSERT INTO `+s.t.table("product_shop")+` (id_product, id_shop, id_category_default,
		id_tax_rules_group, price, wholesale_price, active, date_add, date_upd) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		idProduct, s.t.shopID, pf.IDCategoryDefault, pf.IDTaxRulesGroup, pf.Price, pf.WholesalePrice, pf.Active, now, now)
	return err
}

func (s *session) linkSource(ctx context.Context, idProduct int64, src SourceKey, now time.Time) error {
	if _, err := s.exec(ctx, `DELETE FROM `+s.t.table("shopsync_source")+` WHERE domain = ? AND url_key = ?`,
		src.Domain, src.URLKey); err != nil {
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO `+s.t.table("shopsync_source")+` (id_product, domain, url_key, url, date_add)
		VALUES (?, ?, ?, ?, ?)`, idProduct, src.Domain, src.URLKey, src.URL, now)
	return err
}

// coverValue is 1 for the cover and NULL otherwise; the shop schema keeps
// a unique key on (id_product, cover).
func coverValue(cover bool) any {
	if cover {
		return 1
	}
	return nil
}

func (s *session) insertImage(ctx context.Context, idProduct int64, legend string, img mapper.ImageRef) (int64, error) {
	idImage, err := s.insert(ctx, `INSERT INTO `+s.t.table("image")+` (id_product, position, cover) VALUES (?, ?, ?)`,
		"id_image", idProduct, img.Position, coverValue(img.Cover))
	if err != nil {
		return 0, err
	}
	if _, err := s.exec(ctx, `INSERT INTO `+s.t.table("image_lang")+` (id_image, id_lang, legend) VALUES (?, ?, ?)`,
		idImage, s.t.langID, legend); err != nil {
		return 0, err
	}
	if _, err := s.exec(ctx, `INSERT INTO `+s.t.table("image_shop")+` (id_product, id_image, id_shop, cover) VALUES (?, ?, ?, ?)`,
		idProduct, idImage, s.t.shopID, coverValue(img.Cover)); err != nil {
		return 0, err
	}
	if _, err := s.exec(ctx, `INSERT INTO `+s.t.table("shopsync_image")+` (id_image, id_product, position, source) VALUES (?, ?, ?, ?)`,
		idImage, idProduct, img.Position, img.Source); err != nil {
		return 0, err
	}
	return idImage, nil
}

// syncImages updates rows whose position exists, inserts the rest and
// drops positions past the new list.
func (s *session) syncImages(ctx context.Context, idProduct int64, legend string, images []mapper.ImageRef, res *ImageSyncResult) error {
	imageTable := s.t.table("image")
	for _, img := range images {
		idImage, found, err := s.lookup(ctx, `SELECT id_image FROM `+imageTable+` WHERE id_product = ? AND position = ?`,
			idProduct, img.Position)
		if err != nil {
			return err
		}
		if !found {
			idImage, err = s.insertImage(ctx, idProduct, legend, img)
			if err != nil {
				return err
			}
			res.Inserted++
			res.Results = append(res.Results, ImageResult{Position: img.Position, IDImage: idImage, Source: img.Source, Action: ActionInserted})
			continue
		}

		if _, err := s.exec(ctx, `UPDATE `+imageTable+` SET cover = ? WHERE id_image = ?`, coverValue(img.Cover), idImage); err != nil {
			return err
		}
		if _, err := s.exec(ctx, `UPDATE `+s.t.table("image_shop")+` SET cover = ? WHERE id_image = ? AND id_shop = ?`,
			coverValue(img.Cover), idImage, s.t.shopID); err != nil {
			return err
		}
		if _, err := s.exec(ctx, `UPDATE `+s.t.table("image_lang")+` SET legend = ? WHERE id_image = ? AND id_lang = ?`,
			legend, idImage, s.t.langID); err != nil {
			return err
		}
		if _, err := s.exec(ctx, `DELETE FROM `+s.t.table("shopsync_image")+` WHERE id_image = ?`, idImage); err != nil {
			return err
		}
		if _, err := s.exec(ctx, `INSERT INTO `+s.t.table("shopsync_image")+` (id_image, id_product, position, source) VALUES (?, ?, ?, ?)`,
			idImage, idProduct, img.Position, img.Source); err != nil {
			return err
		}
		res.Updated++
		res.Results = append(res.Results, ImageResult{Position: img.Position, IDImage: idImage, Source: img.Source, Action: ActionUpdated})
	}

	last := len(images)
	stale := `SELECT id_image FROM ` + imageTable + ` WHERE id_product = ? AND position > ?`
	for _, name := range []string{"image_lang", "image_shop", "shopsync_image"} {
		if _, err := s.exec(ctx, `DELETE FROM `+s.t.table(name)+` WHERE id_image IN (`+stale+`)`, idProduct, last); err != nil {
			return err
		}
	}
	r, err := s.exec(ctx, `DELETE FROM `+imageTable+` WHERE id_product = ? AND position > ?`, idProduct, last)
	if err != nil {
		return err
	}
	res.Removed, _ = r.RowsAffected()
	return nil
}

func (s *session) deleteVariants(ctx context.Context, idProduct int64) error {
	pa := s.t.table("product_attribute")
	if _, err := s.exec(ctx, `DELETE FROM `+s.t.table("product_attribute_combination")+
		` WHERE id_product_attribute IN (SELECT id_product_attribute FROM `+pa+` WHERE id_product = ?)`, idProduct); err != nil {
		return err
	}
	if _, err := s.exec(ctx, `DELETE FROM `+s.t.table("product_attribute_shop")+` WHERE id_product = ?`, idProduct); err != nil {
		return err
	}
	_, err := s.exec(ctx, `DELETE FROM `+pa+` WHERE id_product = ?`, idProduct)
	return err
}

// priceImpact is the variant price relative to the base price.
func priceImpact(variant, base float64) float64 {
	if variant == 0 {
		return 0
	}
	return math.Round((variant-base)*1e6) / 1e6
}

func (s *session) insertVariants(ctx context.Context, idProduct int64, p *mapper.Payload) error {
	for i, v := range p.Variants {
		var defaultOn any
		if i == 0 {
			defaultOn = 1
		}
		impact := priceImpact(v.Price, p.Product.Price)
		idPA, err := s.insert(ctx, `INSERT INTO `+s.t.table("product_attribute")+` (id_product, reference, ean13, price,
			quantity, default_on) VALUES (?, ?, ?, ?, ?, ?)`, "id_product_attribute",
			idProduct, v.Reference, v.EAN13, impact, v.Quantity, defaultOn)
		if err != nil {
			return err
		}
		if _, err := s.exec(ctx, `INSERT INTO `+s.t.table("product_attribute_shop")+` (id_product_attribute, id_product,
			id_shop, price, default_on) VALUES (?, ?, ?, ?, ?)`, idPA, idProduct, s.t.shopID, impact, defaultOn); err != nil {
			return err
		}

		groups := make([]string, 0, len(v.Attributes))
		for g := range v.Attributes {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		for _, g := range groups {
			idAttr, err := s.attributeID(ctx, g, v.Attributes[g])
			if err != nil {
				return err
			}
			if _, err := s.exec(ctx, `INSERT INTO `+s.t.table("product_attribute_combination")+
				` (id_attribute, id_product_attribute) VALUES (?, ?)`, idAttr, idPA); err != nil {
				return err
			}
		}
	}
	return nil
}

// attributeID finds or creates the attribute value under its group.
func (s *session) attributeID(ctx context.Context, group, value string) (int64, error) {
	key := group + "\x00" + value
	if id, ok := s.attrs[key]; ok {
		return id, nil
	}
	idGroup, err := s.groupID(ctx, group)
	if err != nil {
		return 0, err
	}
	id, found, err := s.lookup(ctx, `SELECT a.id_attribute FROM `+s.t.table("attribute")+` a JOIN `+s.t.table("attribute_lang")+
		` al ON al.id_attribute = a.id_attribute WHERE a.id_attribute_group = ? AND al.id_lang = ? AND al.name = ?`,
		idGroup, s.t.langID, value)
	if err != nil {
		return 0, err
	}
	if !found {
		id, err = s.insert(ctx, `INSERT INTO `+s.t.table("attribute")+` (id_attribute_group, color, position) VALUES (?, '', 0)`,
			"id_attribute", idGroup)
		if err != nil {
			return 0, err
		}
		if _, err := s.exec(ctx, `INSERT INTO `+s.t.table("attribute_lang")+` (id_attribute, id_lang, name) VALUES (?, ?, ?)`,
			id, s.t.langID, value); err != nil {
			return 0, err
		}
	}
	s.attrs[key] = id
	return id, nil
}

func (s *session) groupID(ctx context.Context, group string) (int64, error) {
	if id, ok := s.groups[group]; ok {
		return id, nil
	}
	id, found, err := s.lookup(ctx, `SELECT id_attribute_group FROM `+s.t.table("attribute_group_lang")+
		` WHERE id_lang = ? AND name = ?`, s.t.langID, group)
	if err != nil {
		return 0, err
	}
	if !found {
		id, err = s.insert(ctx, `INSERT INTO `+s.t.table("attribute_group")+` (is_color_group, group_type, position)
			VALUES (0, 'select', 0)`, "id_attribute_group")
		if err != nil {
			return 0, err
		}
		if _, err := s.exec(ctx, `INSERT INTO `+s.t.table("attribute_group_lang")+` (id_attribute_group, id_lang, name,
			public_name) VALUES (?, ?, ?, ?)`, id, s.t.langID, group, group); err != nil {
			return 0, err
		}
	}
	s.groups[group] = id
	return id, nil
}
