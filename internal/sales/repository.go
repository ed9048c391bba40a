package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/textilehq/backoffice/internal/platform/db"
)

// PGRepository stores sales in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// CreateSale inserts the sale header and its lines in one transaction.
func (r *PGRepository) CreateSale(ctx context.Context, sale Sale) (Sale, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO sales (code, customer_name, sale_date, status, total)
VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
			sale.Code, sale.CustomerName, sale.SaleDate, sale.Status, sale.Total).Scan(&sale.ID, &sale.CreatedAt); err != nil {
			return mapUnique("insert sale", err)
		}
		for i := range sale.Items {
			it := &sale.Items[i]
			if err := tx.QueryRow(ctx, `INSERT INTO sale_items (sale_id, item_type, product_id, combo_id, name, barcode,
    quantity, unit_price, unit_cost, total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
				sale.ID, it.ItemType, it.ProductID, it.ComboID, it.Name, it.Barcode,
				it.Quantity, it.UnitPrice, it.UnitCost, it.Total).Scan(&it.ID); err != nil {
				return fmt.Errorf("sales: insert item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// GetSale loads a sale with its lines.
func (r *PGRepository) GetSale(ctx context.Context, id int64) (Sale, error) {
	var s Sale
	err := r.pool.QueryRow(ctx, `SELECT id, code, customer_name, sale_date, status, total::float8, created_at
FROM sales WHERE id = $1`, id).Scan(&s.ID, &s.Code, &s.CustomerName, &s.SaleDate, &s.Status, &s.Total, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, fmt.Errorf("%w: sale %d", ErrNotFound, id)
	}
	if err != nil {
		return Sale{}, fmt.Errorf("sales: get sale: %w", err)
	}
	items, err := r.itemsFor(ctx, []int64{id})
	if err != nil {
		return Sale{}, err
	}
	s.Items = nonNilItems(items[id])
	return s, nil
}

// ListSales returns sales newest first with their lines.
func (r *PGRepository) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	rows, err := r.pool.Query(ctx, `SELECT id, code, customer_name, sale_date, status, total::float8, created_at
FROM sales
WHERE ($1::timestamptz IS NULL OR sale_date >= $1)
  AND ($2::timestamptz IS NULL OR sale_date <= $2)
  AND ($3 = '' OR status = $3)
ORDER BY sale_date DESC, id DESC
LIMIT $4`, filter.From, filter.To, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("sales: list sales: %w", err)
	}
	var (
		sales []Sale
		ids   []int64
	)
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.Code, &s.CustomerName, &s.SaleDate, &s.Status, &s.Total, &s.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		sales = append(sales, s)
		ids = append(ids, s.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = nonNilItems(items[sales[i].ID])
	}
	return sales, nil
}

func (r *PGRepository) itemsFor(ctx context.Context, saleIDs []int64) (map[int64][]SaleItem, error) {
	out := make(map[int64][]SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT sale_id, id, item_type, product_id, combo_id, name, barcode,
       quantity::float8, unit_price::float8, unit_cost::float8, total::float8
FROM sale_items WHERE sale_id = ANY($1) ORDER BY sale_id, id`, saleIDs)
	if err != nil {
		return nil, fmt.Errorf("sales: sale items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			saleID int64
			it     SaleItem
		)
		if err := rows.Scan(&saleID, &it.ID, &it.ItemType, &it.ProductID, &it.ComboID, &it.Name, &it.Barcode,
			&it.Quantity, &it.UnitPrice, &it.UnitCost, &it.Total); err != nil {
			return nil, err
		}
		out[saleID] = append(out[saleID], it)
	}
	return out, rows.Err()
}

// CreateReturn inserts the return and flags the linked sale.
func (r *PGRepository) CreateReturn(ctx context.Context, ret Return, saleStatus Status) (Return, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO sale_returns (code, sale_id, category, reason, return_date)
VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
			ret.Code, ret.SaleID, ret.Category, ret.Reason, ret.ReturnDate).Scan(&ret.ID, &ret.CreatedAt); err != nil {
			return mapUnique("insert return", err)
		}
		batch := &pgx.Batch{}
		for _, it := range ret.Items {
			batch.Queue(`INSERT INTO sale_return_items (return_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4)`,
				ret.ID, it.ProductID, it.Quantity, it.UnitPrice)
		}
		if ret.SaleID != nil {
			batch.Queue(`UPDATE sales SET status = $2 WHERE id = $1`, *ret.SaleID, saleStatus)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return Return{}, err
	}
	return ret, nil
}

func mapUnique(op string, err error) error {
	if db.IsUniqueViolation(err, "") {
		return ErrDuplicateCode
	}
	return fmt.Errorf("sales: %s: %w", op, err)
}

func nonNilItems(items []SaleItem) []SaleItem {
	if items == nil {
		return []SaleItem{}
	}
	return items
}
