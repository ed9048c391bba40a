package profitloss

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/textilehq/backoffice/internal/platform/httpx"
	"github.com/textilehq/backoffice/internal/shared"
)

const (
	idempotencyModule = "profitloss.upload"
	defaultEntryLimit = 200
	maxEntryLimit     = 1000
	defaultUploadedBy = "System"
)

// Decoder turns uploaded bytes into a grid of cells.
type Decoder func(fileName string, data []byte) ([][]any, error)

// Cache is the versioned cache used for reporting reads.
type Cache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error
	Bump(ctx context.Context) error
}

// Archive keeps the raw uploaded file.
type Archive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Enqueuer schedules background refreshes.
type Enqueuer interface {
	EnqueueMonthlyWarmup(ctx context.Context) error
}

// AuditPort records user actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against processing the same upload twice.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// SalesSource supplies profit derived from in-store sales.
type SalesSource interface {
	ProfitRecords(ctx context.Context, from, to *time.Time) ([]LedgerEntry, error)
}

// ServiceConfig tunes the service.
type ServiceConfig struct {
	Reconciler ReconcilerConfig
	StagingTTL time.Duration
}

// ServiceDeps groups the ports of the service. Only Repo, Catalog and
// Decode are required.
type ServiceDeps struct {
	Repo        Repository
	Catalog     CatalogReader
	Decode      Decoder
	Stage       StageStore
	Cache       Cache
	Archive     Archive
	Jobs        Enqueuer
	Audit       AuditPort
	Idempotency IdempotencyPort
	Sales       SalesSource
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Service coordinates uploads, ledger maintenance and reporting.
type Service struct {
	deps       ServiceDeps
	cfg        ServiceConfig
	reconciler *Reconciler
	resolver   *Resolver
	costs      *CostCalculator
	logger     *slog.Logger
	group      singleflight.Group
	now        func() time.Time
}

// NewService wires the service.
func NewService(deps ServiceDeps, cfg ServiceConfig) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StagingTTL <= 0 {
		cfg.StagingTTL = time.Hour
	}
	if cfg.Reconciler.Rules.RTO == "" {
		cfg.Reconciler.Rules.RTO = RTOPolicyNegativeCost
	}
	if len(cfg.Reconciler.Aliases.SKU) == 0 {
		cfg.Reconciler.Aliases = DefaultHeaderAliases()
	}
	return &Service{
		deps:       deps,
		cfg:        cfg,
		reconciler: NewReconciler(cfg.Reconciler, deps.Catalog, deps.Repo, logger, deps.Metrics),
		resolver:   NewResolver(deps.Catalog),
		costs:      NewCostCalculator(deps.Catalog),
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the service clock.
func (s *Service) WithClock(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.now = fn
	s.reconciler.WithNow(fn)
}

// UploadInput is one file submitted for reconciliation.
type UploadInput struct {
	FileName       string
	Data           []byte
	UploadedBy     string
	IdempotencyKey string
}

// Upload decodes, reconciles and persists a sheet. A commit failure returns
// *BatchPersistenceError carrying the computed result; RetryCommit saves it
// later without recomputation.
func (s *Service) Upload(ctx context.Context, input UploadInput) (Result, error) {
	input.FileName = strings.TrimSpace(input.FileName)
	if input.FileName == "" {
		return Result{}, fmt.Errorf("profitloss: file name required: %w", httpx.ErrValidation)
	}
	if len(input.Data) == 0 {
		return Result{}, fmt.Errorf("profitloss: file is empty: %w", httpx.ErrValidation)
	}
	uploadedBy := strings.TrimSpace(input.UploadedBy)
	if uploadedBy == "" {
		uploadedBy = defaultUploadedBy
	}

	digest := Digest(input.Data)
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = "upload:" + digest
	}
	if err := s.claim(ctx, key); err != nil {
		return Result{}, err
	}
	held := false
	defer func() {
		if !held {
			s.release(ctx, key)
		}
	}()

	grid, err := s.deps.Decode(input.FileName, input.Data)
	if err != nil {
		s.deps.Metrics.observeUpload("rejected")
		return Result{}, err
	}
	rows := BuildRows(grid, s.cfg.Reconciler.Aliases)
	if len(rows) == 0 {
		s.deps.Metrics.observeUpload("rejected")
		return Result{}, ErrEmptySheet
	}

	now := s.now().UTC()
	meta := UploadMeta{
		UploadID:   uuid.New(),
		FileName:   input.FileName,
		UploadDate: now,
		UploadedBy: uploadedBy,
	}
	if s.deps.Idempotency != nil {
		meta.IdempotencyKey = key
	}
	meta.ArchiveKey = s.archive(ctx, meta, digest, input.Data)

	handle, err := s.deps.Repo.BeginUpload(ctx, meta)
	if err != nil {
		s.deps.Metrics.observeUpload("failed")
		return Result{}, err
	}

	result, err := s.reconciler.Reconcile(ctx, ReconcileInput{UploadID: meta.UploadID, FileName: meta.FileName, Rows: rows})
	if err != nil {
		s.deps.Metrics.observeUpload("failed")
		return Result{}, err
	}

	sheet := BuildSheet(result, meta)
	entries := BuildEntries(result, meta)
	if err := s.deps.Repo.CommitUpload(ctx, handle, sheet, entries); err != nil {
		s.logger.Error("commit upload", slog.String("upload_id", meta.UploadID.String()), slog.Any("error", err))
		s.deps.Metrics.observeUpload("persist_failed")
		if s.deps.Stage != nil {
			staged := StagedCommit{Handle: handle, Sheet: sheet, Entries: entries, IdempotencyKey: meta.IdempotencyKey}
			if serr := s.deps.Stage.Save(ctx, staged); serr != nil {
				s.logger.Warn("stage upload for retry", slog.String("upload_id", meta.UploadID.String()), slog.Any("error", serr))
			} else {
				// The key stays claimed until the retry commits or the
				// pending sheet is deleted or swept.
				held = true
			}
		}
		return result, &BatchPersistenceError{Result: result, Err: err}
	}
	held = true

	s.afterWrite(ctx)
	s.record(ctx, shared.AuditLog{
		Actor:    uploadedBy,
		Action:   "profitloss.upload",
		Entity:   "uploaded_sheet",
		EntityID: meta.UploadID.String(),
		Meta: map[string]any{
			"file_name":    meta.FileName,
			"total":        result.Summary.TotalRecords,
			"errors":       result.Summary.ErrorRecords,
			"total_profit": result.Totals.TotalProfit,
			"digest":       digest,
		},
	})
	s.deps.Metrics.observeUpload("committed")
	s.logger.Info("upload committed",
		slog.String("upload_id", meta.UploadID.String()),
		slog.String("file_name", meta.FileName),
		slog.Int("rows", result.Summary.TotalRecords),
		slog.Int("errors", result.Summary.ErrorRecords),
	)
	return result, nil
}

// RetryCommit saves a staged upload whose first commit failed.
func (s *Service) RetryCommit(ctx context.Context, id uuid.UUID) (UploadedSheet, error) {
	if s.deps.Stage == nil {
		return UploadedSheet{}, ErrNotStaged
	}
	staged, ok, err := s.deps.Stage.Load(ctx, id)
	if err != nil {
		return UploadedSheet{}, err
	}
	if !ok {
		return UploadedSheet{}, ErrNotStaged
	}
	current, err := s.deps.Repo.GetUpload(ctx, id)
	if err != nil {
		return UploadedSheet{}, err
	}
	if current.Status != SheetPending {
		_ = s.deps.Stage.Drop(ctx, id)
		return UploadedSheet{}, ErrNotStaged
	}
	if err := s.deps.Repo.CommitUpload(ctx, staged.Handle, staged.Sheet, staged.Entries); err != nil {
		s.deps.Metrics.observeUpload("persist_failed")
		return UploadedSheet{}, err
	}
	if err := s.deps.Stage.Drop(ctx, id); err != nil {
		s.logger.Warn("drop staged upload", slog.String("upload_id", id.String()), slog.Any("error", err))
	}
	s.afterWrite(ctx)
	s.record(ctx, shared.AuditLog{
		Actor:    staged.Sheet.UploadedBy,
		Action:   "profitloss.retry_commit",
		Entity:   "uploaded_sheet",
		EntityID: id.String(),
	})
	s.deps.Metrics.observeUpload("committed")
	return s.deps.Repo.GetUpload(ctx, id)
}

// Entries lists ledger rows.
func (s *Service) Entries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultEntryLimit
	}
	if filter.Limit > maxEntryLimit {
		filter.Limit = maxEntryLimit
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, fmt.Errorf("profitloss: end date before start date: %w", httpx.ErrValidation)
	}
	return s.deps.Repo.ListEntries(ctx, filter)
}

// Overview is the monthly chart plus the summary block.
type Overview struct {
	Monthly []MonthlyPoint `json:"monthly"`
	Summary Summary        `json:"summary"`
}

// Monthly returns the monthly profit series for the range.
func (s *Service) Monthly(ctx context.Context, filter RangeFilter) ([]MonthlyPoint, error) {
	var points []MonthlyPoint
	err := s.cached(ctx, &points, func(ctx context.Context) (interface{}, error) {
		entries, err := s.rangeEntries(ctx, filter)
		if err != nil {
			return nil, err
		}
		return AggregateByMonth(entries), nil
	}, append([]string{"monthly"}, rangeKey(filter)...)...)
	if err != nil {
		return nil, err
	}
	if points == nil {
		points = []MonthlyPoint{}
	}
	return points, nil
}

// Overview returns the monthly series with its summary.
func (s *Service) Overview(ctx context.Context, filter RangeFilter) (Overview, error) {
	var out Overview
	err := s.cached(ctx, &out, func(ctx context.Context) (interface{}, error) {
		entries, err := s.rangeEntries(ctx, filter)
		if err != nil {
			return nil, err
		}
		return Overview{Monthly: AggregateByMonth(entries), Summary: Summarize(entries)}, nil
	}, append([]string{"overview"}, rangeKey(filter)...)...)
	if err != nil {
		return Overview{}, err
	}
	if out.Monthly == nil {
		out.Monthly = []MonthlyPoint{}
	}
	return out, nil
}

func (s *Service) rangeEntries(ctx context.Context, filter RangeFilter) ([]LedgerEntry, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, fmt.Errorf("profitloss: end date before start date: %w", httpx.ErrValidation)
	}
	entries, err := s.deps.Repo.EntriesInRange(ctx, filter)
	if err != nil {
		return nil, err
	}
	if filter.IncludeSales && s.deps.Sales != nil {
		sales, err := s.deps.Sales.ProfitRecords(ctx, filter.StartDate, filter.EndDate)
		if err != nil {
			return nil, fmt.Errorf("profitloss: sales profit: %w", err)
		}
		entries = append(entries, sales...)
	}
	return entries, nil
}

// cached loads through the versioned cache and collapses concurrent misses
// on the same key.
func (s *Service) cached(ctx context.Context, dest interface{}, loader func(context.Context) (interface{}, error), parts ...string) error {
	if s.deps.Cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return assign(dest, value)
	}
	key, err := s.deps.Cache.BuildKey(ctx, append([]string{"profitloss"}, parts...)...)
	if err != nil {
		return err
	}
	// Waiters share the load, so it must not end with the first caller.
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		var raw rawJSON
		if err := s.deps.Cache.FetchJSON(loadCtx, key, &raw, loader); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return res.Val.(rawJSON).decode(dest)
	}
}

// ListUploads returns uploaded sheets.
func (s *Service) ListUploads(ctx context.Context, filter UploadFilter) ([]UploadedSheet, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("profitloss: unknown status %q: %w", filter.Status, httpx.ErrValidation)
	}
	return s.deps.Repo.ListUploads(ctx, filter)
}

// LatestUploads returns the most recent sheets.
func (s *Service) LatestUploads(ctx context.Context, limit int) ([]UploadedSheet, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.deps.Repo.ListUploads(ctx, UploadFilter{Limit: limit})
}

// GetUpload loads one sheet.
func (s *Service) GetUpload(ctx context.Context, id uuid.UUID) (UploadedSheet, error) {
	return s.deps.Repo.GetUpload(ctx, id)
}

// UpdateUploadInput carries editable sheet metadata.
type UpdateUploadInput struct {
	Status SheetStatus `json:"status" validate:"omitempty,oneof=pending processed completed"`
	Notes  *string     `json:"notes" validate:"omitempty,max=2000"`
	Actor  string      `json:"-"`
}

// UpdateUpload changes the sheet status or notes.
func (s *Service) UpdateUpload(ctx context.Context, id uuid.UUID, input UpdateUploadInput) (UploadedSheet, error) {
	if input.Status != "" && !input.Status.Valid() {
		return UploadedSheet{}, fmt.Errorf("profitloss: unknown status %q: %w", input.Status, httpx.ErrValidation)
	}
	sheet, err := s.deps.Repo.UpdateUpload(ctx, id, input.Status, input.Notes)
	if err != nil {
		return UploadedSheet{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, shared.AuditLog{
		Actor:    input.Actor,
		Action:   "profitloss.update_upload",
		Entity:   "uploaded_sheet",
		EntityID: id.String(),
		Meta:     map[string]any{"status": sheet.Status},
	})
	return sheet, nil
}

// UpdateRow edits one embedded row and recomputes the sheet summary.
func (s *Service) UpdateRow(ctx context.Context, id uuid.UUID, sNo int, patch RowPatch) (UploadedSheet, error) {
	sheet, err := s.deps.Repo.GetUpload(ctx, id)
	if err != nil {
		return UploadedSheet{}, err
	}
	idx := rowIndex(sheet, sNo)
	if idx < 0 {
		return UploadedSheet{}, ErrRowNotFound
	}
	row := ApplyPatch(sheet.UploadedData[idx], patch, s.cfg.Reconciler.Rules)
	sheet.UploadedData[idx] = row
	sheet = RecomputeSheet(sheet)
	if err := s.deps.Repo.SaveSheetRow(ctx, sheet, row, false); err != nil {
		return UploadedSheet{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, shared.AuditLog{
		Action:   "profitloss.update_row",
		Entity:   "uploaded_sheet",
		EntityID: id.String(),
		Meta:     map[string]any{"row": sNo, "status": row.Status, "profit": row.ProfitTotal},
	})
	return sheet, nil
}

// DeleteRow removes one embedded row and recomputes the sheet summary.
func (s *Service) DeleteRow(ctx context.Context, id uuid.UUID, sNo int) (UploadedSheet, error) {
	sheet, err := s.deps.Repo.GetUpload(ctx, id)
	if err != nil {
		return UploadedSheet{}, err
	}
	idx := rowIndex(sheet, sNo)
	if idx < 0 {
		return UploadedSheet{}, ErrRowNotFound
	}
	row := sheet.UploadedData[idx]
	sheet.UploadedData = append(sheet.UploadedData[:idx:idx], sheet.UploadedData[idx+1:]...)
	sheet = RecomputeSheet(sheet)
	if err := s.deps.Repo.SaveSheetRow(ctx, sheet, row, true); err != nil {
		return UploadedSheet{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, shared.AuditLog{
		Action:   "profitloss.delete_row",
		Entity:   "uploaded_sheet",
		EntityID: id.String(),
		Meta:     map[string]any{"row": sNo},
	})
	return sheet, nil
}

// AddRow appends a row to a committed sheet, inserts its ledger entry and
// recomputes the summary. A SKU the catalog does not know becomes an error
// row unless a cost was given.
func (s *Service) AddRow(ctx context.Context, id uuid.UUID, in NewRow) (UploadedSheet, error) {
	sku, orderID := "", ""
	if in.SKU != nil {
		sku = strings.TrimSpace(*in.SKU)
	}
	if in.OrderID != nil {
		orderID = strings.TrimSpace(*in.OrderID)
	}
	if sku == "" && orderID == "" {
		return UploadedSheet{}, fmt.Errorf("profitloss: sku or order id required: %w", httpx.ErrValidation)
	}
	sheet, err := s.deps.Repo.GetUpload(ctx, id)
	if err != nil {
		return UploadedSheet{}, err
	}
	if sheet.Status == SheetPending {
		return UploadedSheet{}, ErrSheetPending
	}

	rules := s.cfg.Reconciler.Rules
	row := SheetRow{SNo: nextRowNumber(sheet), Quantity: 1, Status: string(StatusDelivered), Date: in.Date}
	row = ApplyPatch(row, in.RowPatch, rules)
	details := []ProductDetail{}
	if in.CostPrice == nil && row.SKU != "" {
		match, ok, err := s.resolver.Resolve(ctx, row.SKU)
		if err != nil {
			return UploadedSheet{}, err
		}
		if ok {
			unit, lines, err := s.costs.UnitCost(ctx, match)
			if err != nil {
				return UploadedSheet{}, err
			}
			details = lines
			row.ComboName = match.Name()
			row.ProductNames = productNames(lines)
			cost := unit * row.Quantity
			row = ApplyPatch(row, RowPatch{CostPrice: &cost}, rules)
		} else {
			row.Status = RowStatusError
			row.Message = fmt.Sprintf("Combo or product for %q not found", row.SKU)
			row = ApplyPatch(row, RowPatch{}, rules)
		}
	}
	if row.OrderID == "" {
		row.OrderID = fmt.Sprintf("ORD-%d-%d", s.now().UnixMilli(), row.SNo)
	}

	sheet.UploadedData = append(sheet.UploadedData, row)
	sheet = RecomputeSheet(sheet)
	entry := EntryFromSheetRow(LedgerEntry{
		ID:             uuid.New(),
		UploadID:       sheet.ID,
		RowNo:          row.SNo,
		FileName:       sheet.FileName,
		UploadDate:     sheet.UploadDate,
		UploadedBy:     sheet.UploadedBy,
		ComboName:      row.ComboName,
		ProductNames:   row.ProductNames,
		ProductDetails: details,
		PaymentDate:    row.Date,
		Raw:            map[string]any{"source": "manual"},
	}, row)
	if err := s.deps.Repo.AddSheetRow(ctx, sheet, entry); err != nil {
		return UploadedSheet{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, shared.AuditLog{
		Actor:    in.Actor,
		Action:   "profitloss.add_row",
		Entity:   "uploaded_sheet",
		EntityID: id.String(),
		Meta:     map[string]any{"row": row.SNo, "status": row.Status, "profit": row.ProfitTotal},
	})
	return sheet, nil
}

// DeleteUpload removes a sheet with its ledger rows and returned products.
func (s *Service) DeleteUpload(ctx context.Context, id uuid.UUID) (int, error) {
	var staged StagedCommit
	if s.deps.Stage != nil {
		var err error
		if staged, _, err = s.deps.Stage.Load(ctx, id); err != nil {
			s.logger.Warn("load staged upload", slog.String("upload_id", id.String()), slog.Any("error", err))
		}
	}
	deleted, err := s.deps.Repo.DeleteUpload(ctx, id)
	if err != nil {
		return 0, err
	}
	if s.deps.Stage != nil {
		_ = s.deps.Stage.Drop(ctx, id)
	}
	if staged.IdempotencyKey != "" {
		s.release(ctx, staged.IdempotencyKey)
	}
	s.invalidate(ctx)
	s.record(ctx, shared.AuditLog{
		Action:   "profitloss.delete_upload",
		Entity:   "uploaded_sheet",
		EntityID: id.String(),
		Meta:     map[string]any{"deleted_entries": deleted},
	})
	return deleted, nil
}

// Stats totals every stored sheet.
func (s *Service) Stats(ctx context.Context) (SheetStats, error) {
	var stats SheetStats
	err := s.cached(ctx, &stats, func(ctx context.Context) (interface{}, error) {
		return s.deps.Repo.Stats(ctx)
	}, "stats")
	return stats, err
}

// ComboDetails is the diagnostic view of an identifier.
type ComboDetails struct {
	SKU      string          `json:"sku"`
	Kind     MatchKind       `json:"kind"`
	Name     string          `json:"name"`
	Price    float64         `json:"price"`
	UnitCost float64         `json:"unitCost"`
	Products []ProductDetail `json:"products"`
}

// ComboDetails resolves an identifier and shows its cost breakdown.
func (s *Service) ComboDetails(ctx context.Context, sku string) (ComboDetails, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return ComboDetails{}, fmt.Errorf("profitloss: sku required: %w", httpx.ErrValidation)
	}
	match, ok, err := s.resolver.Resolve(ctx, sku)
	if err != nil {
		return ComboDetails{}, err
	}
	if !ok {
		return ComboDetails{}, fmt.Errorf("%w: %w", ErrCatalogNotFound, httpx.ErrNotFound)
	}
	unit, details, err := s.costs.UnitCost(ctx, match)
	if err != nil {
		return ComboDetails{}, err
	}
	return ComboDetails{
		SKU:      sku,
		Kind:     match.Kind,
		Name:     match.Name(),
		Price:    match.Price(),
		UnitCost: Round2(unit),
		Products: details,
	}, nil
}

// ListRTOProducts lists returned products.
func (s *Service) ListRTOProducts(ctx context.Context, filter RTOFilter) ([]RTOProduct, error) {
	switch filter.Category {
	case "", CategoryRTO, CategoryRPU:
	default:
		return nil, fmt.Errorf("profitloss: unknown category %q: %w", filter.Category, httpx.ErrValidation)
	}
	return s.deps.Repo.ListRTO(ctx, filter)
}

// CreateRTOProduct records a returned product entered by hand, valued at
// the product's selling price.
func (s *Service) CreateRTOProduct(ctx context.Context, in RTOInput) (RTOProduct, error) {
	category := RTOCategory(strings.ToUpper(strings.TrimSpace(string(in.Category))))
	switch category {
	case "":
		category = CategoryRTO
	case CategoryRTO, CategoryRPU:
	default:
		return RTOProduct{}, fmt.Errorf("profitloss: unknown category %q: %w", in.Category, httpx.ErrValidation)
	}
	if in.ProductID <= 0 {
		return RTOProduct{}, fmt.Errorf("profitloss: product id required: %w", httpx.ErrValidation)
	}
	qty := in.Quantity
	if qty <= 0 {
		qty = 1
	}
	product, ok, err := s.deps.Catalog.FindProductByID(ctx, in.ProductID)
	if err != nil {
		return RTOProduct{}, err
	}
	if !ok {
		return RTOProduct{}, ErrProductNotFound
	}
	added := s.now().UTC()
	if in.DateAdded != nil && !in.DateAdded.IsZero() {
		added = in.DateAdded.UTC()
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "Product return/pickup"
	}
	actor := strings.TrimSpace(in.Actor)
	if actor == "" {
		actor = defaultUploadedBy
	}
	item := RTOProduct{
		ID:          uuid.New(),
		ProductID:   product.ID,
		ProductName: product.Name,
		Barcode:     product.Barcode,
		Category:    category,
		Quantity:    qty,
		Price:       product.Price,
		TotalValue:  Round2(product.Price * qty),
		Status:      "completed",
		Reason:      reason,
		Notes:       strings.TrimSpace(in.Notes),
		AddedBy:     actor,
		Source:      "manual",
		DateAdded:   added,
	}
	if err := s.deps.Repo.RecordRTO(ctx, []RTOProduct{item}); err != nil {
		return RTOProduct{}, err
	}
	s.record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   "profitloss.create_rto",
		Entity:   "rto_product",
		EntityID: item.ID.String(),
		Meta:     map[string]any{"product_id": product.ID, "category": string(category), "quantity": qty},
	})
	return item, nil
}

// DeleteRTOProduct removes a returned product entry.
func (s *Service) DeleteRTOProduct(ctx context.Context, id uuid.UUID, actor string) error {
	if err := s.deps.Repo.DeleteRTO(ctx, id); err != nil {
		return err
	}
	s.record(ctx, shared.AuditLog{
		Actor:    strings.TrimSpace(actor),
		Action:   "profitloss.delete_rto",
		Entity:   "rto_product",
		EntityID: id.String(),
	})
	return nil
}

// WarmMonthly precomputes the trailing twelve months and the all-time view.
func (s *Service) WarmMonthly(ctx context.Context) error {
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -11, 0)
	var errs []error
	for _, filter := range []RangeFilter{{StartDate: &start}, {}} {
		if _, err := s.Monthly(ctx, filter); err != nil {
			errs = append(errs, err)
		}
		if _, err := s.Overview(ctx, filter); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := s.Stats(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SweepStaging removes uploads stuck in pending longer than the staging TTL.
func (s *Service) SweepStaging(ctx context.Context) (SweepResult, error) {
	cutoff := s.now().Add(-s.cfg.StagingTTL)
	res, err := s.deps.Repo.SweepStaging(ctx, cutoff)
	if err != nil {
		return SweepResult{}, err
	}
	for _, key := range res.Keys {
		s.release(ctx, key)
	}
	if res.Removed() && s.deps.Cache != nil {
		if err := s.deps.Cache.Bump(ctx); err != nil {
			s.logger.Warn("bump cache after sweep", slog.Any("error", err))
		}
	}
	return res, nil
}

// Digest returns the hex BLAKE2b-256 of the upload content.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *Service) claim(ctx context.Context, key string) error {
	if s.deps.Idempotency == nil {
		return nil
	}
	err := s.deps.Idempotency.CheckAndInsert(ctx, key, idempotencyModule)
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return ErrDuplicateUpload
	}
	return err
}

func (s *Service) release(ctx context.Context, key string) {
	if s.deps.Idempotency == nil {
		return
	}
	if err := s.deps.Idempotency.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) archive(ctx context.Context, meta UploadMeta, digest string, data []byte) string {
	if s.deps.Archive == nil {
		return ""
	}
	key := ArchiveKey(meta, digest)
	if err := s.deps.Archive.Put(ctx, key, data, contentType(meta.FileName)); err != nil {
		s.logger.Warn("archive upload", slog.String("file_name", meta.FileName), slog.Any("error", err))
		return ""
	}
	return key
}

// ArchiveKey builds the object key of an archived upload.
func ArchiveKey(meta UploadMeta, digest string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, filepath.Base(meta.FileName))
	if len(digest) > 16 {
		digest = digest[:16]
	}
	return fmt.Sprintf("uploads/%s/%s-%s", meta.UploadDate.UTC().Format("2006/01"), digest, name)
}

func contentType(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return "text/csv"
	case ".xls":
		return "application/vnd.ms-excel"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (s *Service) afterWrite(ctx context.Context) {
	s.invalidate(ctx)
	if s.deps.Jobs != nil {
		if err := s.deps.Jobs.EnqueueMonthlyWarmup(ctx); err != nil {
			s.logger.Warn("enqueue monthly warmup", slog.Any("error", err))
		}
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Bump(ctx); err != nil {
		s.logger.Warn("bump profit-loss cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.deps.Audit == nil {
		return
	}
	if log.Actor == "" {
		log.Actor = defaultUploadedBy
	}
	if err := s.deps.Audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record", slog.String("action", log.Action), slog.Any("error", err))
	}
}

func nextRowNumber(sheet UploadedSheet) int {
	next := 1
	for _, r := range sheet.UploadedData {
		if r.SNo >= next {
			next = r.SNo + 1
		}
	}
	return next
}

func rowIndex(sheet UploadedSheet, sNo int) int {
	for i, r := range sheet.UploadedData {
		if r.SNo == sNo {
			return i
		}
	}
	return -1
}

func rangeKey(filter RangeFilter) []string {
	return []string{dateToken(filter.StartDate), dateToken(filter.EndDate), strconv.FormatBool(filter.IncludeSales)}
}

func dateToken(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("20060102")
}

type rawJSON json.RawMessage

func (r rawJSON) decode(dest interface{}) error {
	return json.Unmarshal(r, dest)
}

func (r *rawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

func assign(dest, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
