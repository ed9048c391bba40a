package profitloss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/textilehq/backoffice/internal/platform/db"
)

// SheetStats totals every stored sheet.
type SheetStats struct {
	TotalSheets    int            `json:"totalSheets"`
	TotalRecords   int            `json:"totalRecords"`
	SuccessRecords int            `json:"successRecords"`
	ErrorRecords   int            `json:"errorRecords"`
	TotalProfit    float64        `json:"totalProfit"`
	ByStatus       map[string]int `json:"byStatus"`
}

// SweepResult counts rows removed by the staging sweep.
type SweepResult struct {
	Sheets  int `json:"sheets"`
	Entries int `json:"entries"`
	Returns int `json:"returns"`
	// Keys are the idempotency keys held by the removed sheets.
	Keys []string `json:"-"`
}

// Removed reports whether the sweep deleted anything.
func (r SweepResult) Removed() bool {
	return r.Sheets+r.Entries+r.Returns > 0
}

// Repository is the storage port of the service.
type Repository interface {
	LedgerWriter
	RTORecorder
	ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)
	EntriesInRange(ctx context.Context, filter RangeFilter) ([]LedgerEntry, error)
	ListUploads(ctx context.Context, filter UploadFilter) ([]UploadedSheet, error)
	GetUpload(ctx context.Context, id uuid.UUID) (UploadedSheet, error)
	UpdateUpload(ctx context.Context, id uuid.UUID, status SheetStatus, notes *string) (UploadedSheet, error)
	SaveSheetRow(ctx context.Context, sheet UploadedSheet, row SheetRow, deleted bool) error
	AddSheetRow(ctx context.Context, sheet UploadedSheet, entry LedgerEntry) error
	DeleteUpload(ctx context.Context, id uuid.UUID) (int, error)
	Stats(ctx context.Context) (SheetStats, error)
	ListRTO(ctx context.Context, filter RTOFilter) ([]RTOProduct, error)
	DeleteRTO(ctx context.Context, id uuid.UUID) error
	SweepStaging(ctx context.Context, cutoff time.Time) (SweepResult, error)
}

// PGRepository stores the ledger in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const sheetColumns = `id, file_name, upload_date, uploaded_by, total_records, success_records, error_records,
profit_summary, uploaded_data, status, notes, archive_key, created_at, updated_at`

const entryColumns = `id, upload_id, row_no, file_name, upload_date, uploaded_by, order_id, sku, combo_name,
product_names, product_details, quantity, purchase_price, payment, profit, status, is_error, payment_date, raw`

// BeginUpload inserts the sheet in pending state.
func (r *PGRepository) BeginUpload(ctx context.Context, meta UploadMeta) (StagingHandle, error) {
	var created time.Time
	err := r.pool.QueryRow(ctx, `INSERT INTO uploaded_sheets (id, file_name, upload_date, uploaded_by, status, archive_key, idempotency_key)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`, meta.UploadID, meta.FileName, meta.UploadDate, meta.UploadedBy, SheetPending, meta.ArchiveKey, meta.IdempotencyKey).Scan(&created)
	if err != nil {
		return StagingHandle{}, fmt.Errorf("profitloss: begin upload: %w", err)
	}
	return StagingHandle{UploadID: meta.UploadID, CreatedAt: created}, nil
}

// CommitUpload writes the summary, snapshots and ledger rows in one
// transaction and marks the sheet completed.
func (r *PGRepository) CommitUpload(ctx context.Context, handle StagingHandle, sheet UploadedSheet, entries []LedgerEntry) error {
	summary, err := json.Marshal(sheet.ProfitSummary)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sheet.UploadedData)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE uploaded_sheets
SET total_records=$2, success_records=$3, error_records=$4, profit_summary=$5, uploaded_data=$6,
    status=$7, updated_at=NOW()
WHERE id=$1 AND status=$8`, handle.UploadID, sheet.TotalRecords, sheet.SuccessRecords, sheet.ErrorRecords,
			summary, data, SheetCompleted, SheetPending)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotStaged
		}
		batch := &pgx.Batch{}
		for _, e := range entries {
			e.UploadID = handle.UploadID
			if err := queueEntry(batch, e); err != nil {
				return err
			}
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func queueEntry(batch *pgx.Batch, e LedgerEntry) error {
	details, err := json.Marshal(e.ProductDetails)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(e.Raw)
	if err != nil {
		return err
	}
	batch.Queue(`INSERT INTO profit_loss_entries (`+entryColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		e.ID, e.UploadID, e.RowNo, e.FileName, e.UploadDate, e.UploadedBy, e.OrderID, e.SKU, e.ComboName,
		e.ProductNames, details, e.Quantity, e.PurchasePrice, e.Payment, e.Profit, e.Status, e.IsError, e.PaymentDate, raw)
	return nil
}

// RecordRTO inserts returned product rows.
func (r *PGRepository) RecordRTO(ctx context.Context, items []RTOProduct) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		var productID *int64
		if it.ProductID != 0 {
			id := it.ProductID
			productID = &id
		}
		batch.Queue(`INSERT INTO rto_products (id, product_id, product_name, barcode, category, quantity, price, total_value,
status, reason, notes, added_by, source, upload_id, date_added)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			it.ID, productID, it.ProductName, it.Barcode, it.Category, it.Quantity, it.Price, it.TotalValue,
			it.Status, it.Reason, it.Notes, it.AddedBy, it.Source, it.UploadID, it.DateAdded)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// ListEntries returns ledger rows newest payment first.
func (r *PGRepository) ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.StartDate != nil {
		add("payment_date >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("payment_date <= $%d", *filter.EndDate)
	}
	if filter.SKU != "" {
		add("sku ILIKE $%d", "%"+filter.SKU+"%")
	}
	if filter.OrderID != "" {
		add("order_id ILIKE $%d", "%"+filter.OrderID+"%")
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	query := `SELECT ` + entryColumns + ` FROM profit_loss_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY payment_date DESC NULLS LAST, upload_date DESC, row_no ASC LIMIT $%d", len(args))
	return r.queryEntries(ctx, query, args...)
}

// EntriesInRange returns every ledger row whose payment date falls in the
// range. Undated rows are included only for unbounded ranges.
func (r *PGRepository) EntriesInRange(ctx context.Context, filter RangeFilter) ([]LedgerEntry, error) {
	if filter.StartDate == nil && filter.EndDate == nil {
		return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM profit_loss_entries ORDER BY payment_date ASC NULLS LAST, row_no ASC`)
	}
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM profit_loss_entries
WHERE payment_date >= COALESCE($1, '-infinity'::timestamptz) AND payment_date <= COALESCE($2, 'infinity'::timestamptz)
ORDER BY payment_date ASC, row_no ASC`, filter.StartDate, filter.EndDate)
}

func (r *PGRepository) queryEntries(ctx context.Context, query string, args ...any) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var (
			e       LedgerEntry
			details []byte
			raw     []byte
		)
		if err := rows.Scan(&e.ID, &e.UploadID, &e.RowNo, &e.FileName, &e.UploadDate, &e.UploadedBy, &e.OrderID, &e.SKU,
			&e.ComboName, &e.ProductNames, &details, &e.Quantity, &e.PurchasePrice, &e.Payment, &e.Profit, &e.Status,
			&e.IsError, &e.PaymentDate, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(details, &e.ProductDetails); err != nil {
			return nil, fmt.Errorf("profitloss: decode product details: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Raw); err != nil {
			return nil, fmt.Errorf("profitloss: decode raw row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListUploads returns sheets newest first.
func (r *PGRepository) ListUploads(ctx context.Context, filter UploadFilter) ([]UploadedSheet, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(clause, "$?", fmt.Sprintf("$%d", len(args))))
	}
	if filter.Status != "" {
		add("status = $?", filter.Status)
	}
	if filter.Search != "" {
		add("(file_name ILIKE $? OR uploaded_by ILIKE $? OR notes ILIKE $?)", "%"+filter.Search+"%")
	}
	if filter.StartDate != nil {
		add("upload_date >= $?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("upload_date <= $?", *filter.EndDate)
	}
	query := `SELECT ` + sheetColumns + ` FROM uploaded_sheets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY upload_date DESC, created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sheets := []UploadedSheet{}
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sheet)
	}
	return sheets, rows.Err()
}

// GetUpload loads one sheet.
func (r *PGRepository) GetUpload(ctx context.Context, id uuid.UUID) (UploadedSheet, error) {
	sheet, err := scanSheet(r.pool.QueryRow(ctx, `SELECT `+sheetColumns+` FROM uploaded_sheets WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return UploadedSheet{}, ErrUploadNotFound
	}
	return sheet, err
}

// UpdateUpload changes status and notes.
func (r *PGRepository) UpdateUpload(ctx context.Context, id uuid.UUID, status SheetStatus, notes *string) (UploadedSheet, error) {
	sheet, err := scanSheet(r.pool.QueryRow(ctx, `UPDATE uploaded_sheets
SET status=COALESCE(NULLIF($2, ''), status), notes=COALESCE($3, notes), updated_at=NOW()
WHERE id=$1
RETURNING `+sheetColumns, id, string(status), notes))
	if errors.Is(err, pgx.ErrNoRows) {
		return UploadedSheet{}, ErrUploadNotFound
	}
	return sheet, err
}

// SaveSheetRow stores an edited sheet and mirrors the row onto its ledger
// entry, or removes the entry when the row was deleted.
func (r *PGRepository) SaveSheetRow(ctx context.Context, sheet UploadedSheet, row SheetRow, deleted bool) error {
	summary, err := json.Marshal(sheet.ProfitSummary)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sheet.UploadedData)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE uploaded_sheets
SET total_records=$2, success_records=$3, error_records=$4, profit_summary=$5, uploaded_data=$6, updated_at=NOW()
WHERE id=$1`, sheet.ID, sheet.TotalRecords, sheet.SuccessRecords, sheet.ErrorRecords, summary, data)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUploadNotFound
		}
		if deleted {
			_, err = tx.Exec(ctx, `DELETE FROM profit_loss_entries WHERE upload_id=$1 AND row_no=$2`, sheet.ID, row.SNo)
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE profit_loss_entries
SET order_id=$3, sku=$4, quantity=$5, purchase_price=$6, payment=$7, profit=$8, status=$9, is_error=$10
WHERE upload_id=$1 AND row_no=$2`, sheet.ID, row.SNo, row.OrderID, row.SKU, row.Quantity, row.CostPrice,
			row.SoldPrice, row.ProfitTotal, row.Status, row.IsError())
		return err
	})
}

// DeleteUpload removes a sheet with its ledger rows and returned products.
func (r *PGRepository) DeleteUpload(ctx context.Context, id uuid.UUID) (int, error) {
	var deleted int
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM profit_loss_entries WHERE upload_id=$1`, id)
		if err != nil {
			return err
		}
		deleted = int(tag.RowsAffected())
		if _, err := tx.Exec(ctx, `DELETE FROM rto_products WHERE upload_id=$1`, id); err != nil {
			return err
		}
		tag, err = tx.Exec(ctx, `DELETE FROM uploaded_sheets WHERE id=$1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUploadNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Stats aggregates record counters over all sheets.
func (r *PGRepository) Stats(ctx context.Context) (SheetStats, error) {
	stats := SheetStats{ByStatus: map[string]int{}}
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total_records),0), COALESCE(SUM(success_records),0),
COALESCE(SUM(error_records),0), COALESCE(SUM((profit_summary->>'totalProfit')::numeric),0)::float8
FROM uploaded_sheets`).Scan(&stats.TotalSheets, &stats.TotalRecords, &stats.SuccessRecords, &stats.ErrorRecords, &stats.TotalProfit)
	if err != nil {
		return SheetStats{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM uploaded_sheets GROUP BY status`)
	if err != nil {
		return SheetStats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return SheetStats{}, err
		}
		stats.ByStatus[status] = count
	}
	stats.TotalProfit = Round2(stats.TotalProfit)
	return stats, rows.Err()
}

// ListRTO returns returned products newest first.
func (r *PGRepository) ListRTO(ctx context.Context, filter RTOFilter) ([]RTOProduct, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	var search any
	if filter.Search != "" {
		search = "%" + filter.Search + "%"
	}
	rows, err := r.pool.Query(ctx, `SELECT id, COALESCE(product_id, 0), product_name, barcode, category, quantity, price, total_value,
status, reason, notes, added_by, source, upload_id, date_added
FROM rto_products
WHERE ($1 = '' OR category = $1)
  AND ($2::text IS NULL OR product_name ILIKE $2 OR barcode ILIKE $2 OR reason ILIKE $2)
ORDER BY date_added DESC
LIMIT $3`, string(filter.Category), search, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []RTOProduct{}
	for rows.Next() {
		var it RTOProduct
		if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.Barcode, &it.Category, &it.Quantity, &it.Price,
			&it.TotalValue, &it.Status, &it.Reason, &it.Notes, &it.AddedBy, &it.Source, &it.UploadID, &it.DateAdded); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SweepStaging deletes sheets still pending at cutoff together with their
// side effects, and ledger rows whose sheet no longer exists.
func (r *PGRepository) SweepStaging(ctx context.Context, cutoff time.Time) (SweepResult, error) {
	var res SweepResult
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		res = SweepResult{}
		tag, err := tx.Exec(ctx, `DELETE FROM rto_products
WHERE upload_id IN (SELECT id FROM uploaded_sheets WHERE status=$1 AND created_at < $2)`, SheetPending, cutoff)
		if err != nil {
			return err
		}
		res.Returns = int(tag.RowsAffected())
		rows, err := tx.Query(ctx, `DELETE FROM uploaded_sheets WHERE status=$1 AND created_at < $2
RETURNING idempotency_key`, SheetPending, cutoff)
		if err != nil {
			return err
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return err
			}
			res.Sheets++
			if key != "" {
				res.Keys = append(res.Keys, key)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		tag, err = tx.Exec(ctx, `DELETE FROM profit_loss_entries e
WHERE NOT EXISTS (SELECT 1 FROM uploaded_sheets s WHERE s.id = e.upload_id)`)
		if err != nil {
			return err
		}
		res.Entries = int(tag.RowsAffected())
		return nil
	})
	return res, err
}

// AddSheetRow stores a sheet with an appended row and inserts its ledger
// entry.
func (r *PGRepository) AddSheetRow(ctx context.Context, sheet UploadedSheet, entry LedgerEntry) error {
	summary, err := json.Marshal(sheet.ProfitSummary)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sheet.UploadedData)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE uploaded_sheets
SET total_records=$2, success_records=$3, error_records=$4, profit_summary=$5, uploaded_data=$6, updated_at=NOW()
WHERE id=$1 AND status<>$7`, sheet.ID, sheet.TotalRecords, sheet.SuccessRecords, sheet.ErrorRecords, summary, data, SheetPending)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUploadNotFound
		}
		batch := &pgx.Batch{}
		if err := queueEntry(batch, entry); err != nil {
			return err
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// DeleteRTO removes one returned product row.
func (r *PGRepository) DeleteRTO(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rto_products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRTONotFound
	}
	return nil
}

func scanSheet(row pgx.Row) (UploadedSheet, error) {
	var (
		s       UploadedSheet
		summary []byte
		data    []byte
	)
	if err := row.Scan(&s.ID, &s.FileName, &s.UploadDate, &s.UploadedBy, &s.TotalRecords, &s.SuccessRecords,
		&s.ErrorRecords, &summary, &data, &s.Status, &s.Notes, &s.ArchiveKey, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return UploadedSheet{}, err
	}
	if err := json.Unmarshal(summary, &s.ProfitSummary); err != nil {
		return UploadedSheet{}, fmt.Errorf("profitloss: decode profit summary: %w", err)
	}
	if err := json.Unmarshal(data, &s.UploadedData); err != nil {
		return UploadedSheet{}, fmt.Errorf("profitloss: decode uploaded data: %w", err)
	}
	if s.UploadedData == nil {
		s.UploadedData = []SheetRow{}
	}
	return s, nil
}
