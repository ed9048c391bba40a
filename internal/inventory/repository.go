package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/textilehq/backoffice/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
	InsertTransactionLines(ctx context.Context, txID int64, lines []TransactionLine) error
	GetBalanceForUpdate(ctx context.Context, productID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	SyncProductQuantity(ctx context.Context, productID int64, qty float64) error
	InsertCardEntry(ctx context.Context, card StockCardEntry, productID, txID int64) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetStockCard lists card entries oldest first.
func (r *Repository) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT tx_code, tx_type, posted_at, qty_in::float8, qty_out::float8,
       balance_qty::float8, unit_cost::float8, balance_cost::float8, note
FROM inventory_cards
WHERE product_id = $1
  AND ($2::timestamptz IS NULL OR posted_at >= $2)
  AND ($3::timestamptz IS NULL OR posted_at <= $3)
ORDER BY posted_at, id
LIMIT $4`, filter.ProductID, nullableTime(filter.From), nullableTime(filter.To), limit)
	if err != nil {
		return nil, fmt.Errorf("inventory: stock card: %w", err)
	}
	defer rows.Close()

	var cards []StockCardEntry
	for rows.Next() {
		var (
			entry  StockCardEntry
			txType string
		)
		if err := rows.Scan(&entry.TxCode, &txType, &entry.PostedAt, &entry.QtyIn, &entry.QtyOut,
			&entry.BalanceQty, &entry.UnitCost, &entry.BalanceCost, &entry.Note); err != nil {
			return nil, err
		}
		entry.TxType = TransactionType(txType)
		cards = append(cards, entry)
	}
	return cards, rows.Err()
}

// GetBalance reads a balance without locking.
func (r *Repository) GetBalance(ctx context.Context, productID int64) (Balance, error) {
	return scanBalance(r.pool.QueryRow(ctx, `SELECT product_id, qty::float8, avg_cost::float8, updated_at
FROM inventory_balances WHERE product_id = $1`, productID))
}

func (r *txRepo) InsertTransaction(ctx context.Context, tx Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transactions (code, tx_type, ref_module, ref_id, note, posted_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		tx.Code, string(tx.Type), tx.RefModule, tx.RefID, tx.Note, tx.PostedAt).Scan(&id)
	return id, err
}

func (r *txRepo) InsertTransactionLines(ctx context.Context, txID int64, lines []TransactionLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO inventory_tx_lines (tx_id, product_id, qty, unit_cost)
VALUES ($1, $2, $3, $4)`, txID, line.ProductID, line.Qty, line.UnitCost); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) GetBalanceForUpdate(ctx context.Context, productID int64) (Balance, error) {
	return scanBalance(r.tx.QueryRow(ctx, `SELECT product_id, qty::float8, avg_cost::float8, updated_at
FROM inventory_balances WHERE product_id = $1 FOR UPDATE`, productID))
}

func (r *txRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (product_id, qty, avg_cost, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (product_id) DO UPDATE SET qty = EXCLUDED.qty, avg_cost = EXCLUDED.avg_cost, updated_at = NOW()`,
		balance.ProductID, balance.Qty, balance.AvgCost)
	return err
}

func (r *txRepo) SyncProductQuantity(ctx context.Context, productID int64, qty float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET quantity = $2, updated_at = NOW() WHERE id = $1`, productID, qty)
	return err
}

func (r *txRepo) InsertCardEntry(ctx context.Context, card StockCardEntry, productID, txID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_cards
    (product_id, tx_id, tx_code, tx_type, qty_in, qty_out, balance_qty, unit_cost, balance_cost, posted_at, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		productID, txID, card.TxCode, string(card.TxType), card.QtyIn, card.QtyOut, card.BalanceQty,
		card.UnitCost, card.BalanceCost, card.PostedAt, card.Note)
	return err
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	if err := row.Scan(&b.ProductID, &b.Qty, &b.AvgCost, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
