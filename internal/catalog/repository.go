package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/textilehq/backoffice/internal/platform/db"
	"github.com/textilehq/backoffice/internal/profitloss"
)

const (
	productColumns = `id, name, barcode, price::float8, quantity::float8, category_id, vendor_id, created_at, updated_at`
	comboColumns   = `id, code, name, barcode, price::float8, category_id, is_active, is_mapped, created_at, updated_at`
)

// PGRepository persists the catalog in PostgreSQL and serves the
// reconciliation lookups.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var (
	_ Repository               = (*PGRepository)(nil)
	_ profitloss.CatalogReader = (*PGRepository)(nil)
)

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PGRepository) CreateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO vendors (name, contact, phone, email)
VALUES ($1, $2, $3, $4) RETURNING id, created_at`, v.Name, v.Contact, v.Phone, v.Email).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return Vendor{}, fmt.Errorf("catalog: insert vendor: %w", err)
	}
	return v, nil
}

func (r *PGRepository) ListVendors(ctx context.Context) ([]Vendor, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, contact, phone, email, created_at FROM vendors ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list vendors: %w", err)
	}
	defer rows.Close()
	var out []Vendor
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.Contact, &v.Phone, &v.Email, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *PGRepository) CreateCategory(ctx context.Context, c Category) (Category, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO categories (name) VALUES ($1) RETURNING id, created_at`, c.Name).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return Category{}, mapUnique("insert category", err)
	}
	return c, nil
}

func (r *PGRepository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list categories: %w", err)
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PGRepository) CreateProduct(ctx context.Context, p Product) (Product, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO products (name, barcode, price, category_id, vendor_id)
VALUES ($1, $2, $3, $4, $5) RETURNING `+productColumns, p.Name, p.Barcode, p.Price, p.CategoryID, p.VendorID)
	created, err := scanProduct(row)
	if err != nil {
		return Product{}, mapUnique("insert product", err)
	}
	return created, nil
}

func (r *PGRepository) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return p, err
}

func (r *PGRepository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE ($1 = '' OR name ILIKE $1 OR barcode ILIKE $1)
  AND ($2::bigint = 0 OR category_id = $2)
  AND ($3::bigint = 0 OR vendor_id = $3)
ORDER BY name, id
LIMIT $4`, likePattern(filter.Search), filter.CategoryID, filter.VendorID, limitOr(filter.Limit, 200))
	if err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PGRepository) ProductsByIDs(ctx context.Context, ids []int64) (map[int64]Product, error) {
	return productsByIDs(ctx, r.pool, ids)
}

func productsByIDs(ctx context.Context, q queryer, ids []int64) (map[int64]Product, error) {
	out := make(map[int64]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog: products by id: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *PGRepository) CreateCombo(ctx context.Context, c Combo) (Combo, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		created, err := scanCombo(tx.QueryRow(ctx, `INSERT INTO combos (code, name, barcode, price, category_id, is_active, is_mapped)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+comboColumns,
			c.Code, c.Name, c.Barcode, c.Price, c.CategoryID, c.IsActive, c.IsMapped))
		if err != nil {
			return mapUnique("insert combo", err)
		}
		if err := insertLines(ctx, tx, created.ID, c.Lines); err != nil {
			return err
		}
		created.Lines, err = loadLines(ctx, tx, created.ID)
		c = created
		return err
	})
	if err != nil {
		return Combo{}, err
	}
	return c, nil
}

func (r *PGRepository) GetCombo(ctx context.Context, id int64) (Combo, error) {
	c, err := scanCombo(r.pool.QueryRow(ctx, `SELECT `+comboColumns+` FROM combos WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Combo{}, fmt.Errorf("%w: combo %d", ErrNotFound, id)
	}
	if err != nil {
		return Combo{}, err
	}
	c.Lines, err = loadLines(ctx, r.pool, c.ID)
	return c, err
}

func (r *PGRepository) ListCombos(ctx context.Context, filter ComboFilter) ([]Combo, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+comboColumns+` FROM combos
WHERE ($1 = '' OR code ILIKE $1 OR name ILIKE $1 OR barcode ILIKE $1)
  AND ($2 OR is_active)
  AND (NOT $3 OR NOT is_mapped)
ORDER BY code
LIMIT $4`, likePattern(filter.Search), filter.IncludeInactive, filter.UnmappedOnly, limitOr(filter.Limit, 200))
	if err != nil {
		return nil, fmt.Errorf("catalog: list combos: %w", err)
	}
	var out []Combo
	for rows.Next() {
		c, err := scanCombo(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Lines, err = loadLines(ctx, r.pool, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *PGRepository) ReplaceComboLines(ctx context.Context, id int64, lines []ComboLine) (Combo, error) {
	var combo Combo
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		c, err := scanCombo(tx.QueryRow(ctx, `UPDATE combos SET is_mapped = $2, updated_at = NOW()
WHERE id = $1 RETURNING `+comboColumns, id, len(lines) > 0))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: combo %d", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM combo_lines WHERE combo_id = $1`, id); err != nil {
			return fmt.Errorf("catalog: clear combo lines: %w", err)
		}
		if err := insertLines(ctx, tx, id, lines); err != nil {
			return err
		}
		c.Lines, err = loadLines(ctx, tx, id)
		combo = c
		return err
	})
	return combo, err
}

func (r *PGRepository) SetComboActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE combos SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("catalog: set combo active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: combo %d", ErrNotFound, id)
	}
	return nil
}

// UpsertCombos inserts new codes and refreshes name, barcode and price of
// existing ones. Bills of materials are left untouched.
func (r *PGRepository) UpsertCombos(ctx context.Context, combos []Combo) (int, int, error) {
	var created, updated int
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		created, updated = 0, 0
		for _, c := range combos {
			var inserted bool
			err := tx.QueryRow(ctx, `INSERT INTO combos (code, name, barcode, price, is_active)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, barcode = EXCLUDED.barcode,
    price = EXCLUDED.price, is_active = TRUE, updated_at = NOW()
RETURNING (xmax = 0)`, c.Code, c.Name, c.Barcode, c.Price).Scan(&inserted)
			if err != nil {
				return fmt.Errorf("catalog: upsert combo %s: %w", c.Code, err)
			}
			if inserted {
				created++
			} else {
				updated++
			}
		}
		return nil
	})
	return created, updated, err
}

func (r *PGRepository) CreatePurchase(ctx context.Context, p Purchase) (Purchase, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO purchases (vendor_id, reference, purchased_at, total_amount)
VALUES ($1, $2, $3, $4) RETURNING id, created_at`, p.VendorID, p.Reference, p.PurchasedAt, p.TotalAmount).
			Scan(&p.ID, &p.CreatedAt); err != nil {
			return fmt.Errorf("catalog: insert purchase: %w", err)
		}
		batch := &pgx.Batch{}
		for _, line := range p.Lines {
			batch.Queue(`INSERT INTO purchase_lines (purchase_id, product_id, quantity, unit_cost) VALUES ($1, $2, $3, $4)`,
				p.ID, line.ProductID, line.Quantity, line.UnitCost)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// ScanCode prefers a product barcode, then a combo barcode, then a combo
// code. Only active combos are returned.
func (r *PGRepository) ScanCode(ctx context.Context, code string) (ScanResult, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, code))
	if err == nil {
		return ScanResult{Kind: ScanProduct, Product: &p}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ScanResult{}, err
	}
	c, err := scanCombo(r.pool.QueryRow(ctx, `SELECT `+comboColumns+` FROM combos
WHERE is_active AND (barcode = $1 OR code = $1)
ORDER BY CASE WHEN barcode = $1 THEN 0 ELSE 1 END, id
LIMIT 1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return ScanResult{}, fmt.Errorf("%w: code %q", ErrNotFound, code)
	}
	if err != nil {
		return ScanResult{}, err
	}
	if c.Lines, err = loadLines(ctx, r.pool, c.ID); err != nil {
		return ScanResult{}, err
	}
	return ScanResult{Kind: ScanCombo, Combo: &c}, nil
}

// FindCombo matches an active combo by code, then name, then barcode.
func (r *PGRepository) FindCombo(ctx context.Context, ident string, mode profitloss.MatchMode) (profitloss.Combo, bool, error) {
	var row pgx.Row
	if mode == profitloss.MatchExact {
		row = r.pool.QueryRow(ctx, `SELECT `+comboColumns+` FROM combos
WHERE is_active AND (code = $1 OR name = $1 OR (barcode <> '' AND barcode = $1))
ORDER BY CASE WHEN code = $1 THEN 0 WHEN name = $1 THEN 1 ELSE 2 END, id
LIMIT 1`, ident)
	} else {
		row = r.pool.QueryRow(ctx, `SELECT `+comboColumns+` FROM combos
WHERE is_active AND (code ILIKE $1 OR name ILIKE $1 OR (barcode <> '' AND barcode ILIKE $1))
ORDER BY CASE WHEN code ILIKE $1 THEN 0 WHEN name ILIKE $1 THEN 1 ELSE 2 END, id
LIMIT 1`, likePattern(ident))
	}
	return r.reconciliationCombo(ctx, row)
}

// FindProductByBarcode matches a product barcode.
func (r *PGRepository) FindProductByBarcode(ctx context.Context, ident string, mode profitloss.MatchMode) (profitloss.Product, bool, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE barcode <> '' AND barcode = $1 ORDER BY id LIMIT 1`
	arg := ident
	if mode == profitloss.MatchContains {
		query = `SELECT ` + productColumns + ` FROM products WHERE barcode <> '' AND barcode ILIKE $1 ORDER BY id LIMIT 1`
		arg = likePattern(ident)
	}
	p, err := scanProduct(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return profitloss.Product{}, false, nil
	}
	if err != nil {
		return profitloss.Product{}, false, fmt.Errorf("catalog: find product: %w", err)
	}
	return p.reconciliation(), true, nil
}

// FindProductByID loads a product for the reconciliation views.
func (r *PGRepository) FindProductByID(ctx context.Context, id int64) (profitloss.Product, bool, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return profitloss.Product{}, false, nil
	}
	if err != nil {
		return profitloss.Product{}, false, fmt.Errorf("catalog: find product: %w", err)
	}
	return p.reconciliation(), true, nil
}

// FindComboContainingProduct returns the oldest active combo listing the
// product in its bill of materials.
func (r *PGRepository) FindComboContainingProduct(ctx context.Context, productID int64) (profitloss.Combo, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+prefixed("c", comboColumns)+` FROM combos c
WHERE c.is_active AND EXISTS (SELECT 1 FROM combo_lines l WHERE l.combo_id = c.id AND l.product_id = $1)
ORDER BY c.id
LIMIT 1`, productID)
	return r.reconciliationCombo(ctx, row)
}

// LatestPurchaseUnitCost returns the unit cost of the newest purchase line.
func (r *PGRepository) LatestPurchaseUnitCost(ctx context.Context, productID int64) (float64, bool, error) {
	var cost float64
	err := r.pool.QueryRow(ctx, `SELECT l.unit_cost::float8 FROM purchase_lines l
JOIN purchases p ON p.id = l.purchase_id
WHERE l.product_id = $1
ORDER BY p.purchased_at DESC, l.id DESC
LIMIT 1`, productID).Scan(&cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("catalog: latest purchase cost: %w", err)
	}
	return cost, true, nil
}

func (r *PGRepository) reconciliationCombo(ctx context.Context, row pgx.Row) (profitloss.Combo, bool, error) {
	c, err := scanCombo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return profitloss.Combo{}, false, nil
	}
	if err != nil {
		return profitloss.Combo{}, false, fmt.Errorf("catalog: find combo: %w", err)
	}
	if c.Lines, err = loadLines(ctx, r.pool, c.ID); err != nil {
		return profitloss.Combo{}, false, err
	}
	return c.reconciliation(), true, nil
}

func insertLines(ctx context.Context, tx pgx.Tx, comboID int64, lines []ComboLine) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, line := range lines {
		batch.Queue(`INSERT INTO combo_lines (combo_id, position, product_id, quantity) VALUES ($1, $2, $3, $4)`,
			comboID, i+1, line.ProductID, line.Quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("catalog: insert combo lines: %w", err)
	}
	return nil
}

func loadLines(ctx context.Context, q queryer, comboID int64) ([]ComboLine, error) {
	rows, err := q.Query(ctx, `SELECT l.quantity::float8, `+prefixed("p", productColumns)+`
FROM combo_lines l
JOIN products p ON p.id = l.product_id
WHERE l.combo_id = $1
ORDER BY l.position`, comboID)
	if err != nil {
		return nil, fmt.Errorf("catalog: combo lines: %w", err)
	}
	defer rows.Close()
	lines := []ComboLine{}
	for rows.Next() {
		var (
			line ComboLine
			p    Product
		)
		if err := rows.Scan(&line.Quantity, &p.ID, &p.Name, &p.Barcode, &p.Price, &p.Quantity,
			&p.CategoryID, &p.VendorID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		line.ProductID = p.ID
		line.Product = &p
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Barcode, &p.Price, &p.Quantity, &p.CategoryID, &p.VendorID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanCombo(row pgx.Row) (Combo, error) {
	var c Combo
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Barcode, &c.Price, &c.CategoryID, &c.IsActive, &c.IsMapped, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func mapUnique(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateBarcode, pgErr.ConstraintName)
	}
	return fmt.Errorf("catalog: %s: %w", op, err)
}

// likePattern builds a case-insensitive containment pattern with LIKE
// metacharacters escaped.
func likePattern(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func limitOr(limit, fallback int) int {
	if limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}
