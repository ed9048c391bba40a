package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/textilehq/backoffice/internal/inventory"
	"github.com/textilehq/backoffice/internal/platform/httpx"
	"github.com/textilehq/backoffice/internal/profitloss"
	"github.com/textilehq/backoffice/internal/shared"
	"github.com/textilehq/backoffice/internal/spreadsheet"
)

// Repository is the storage port of the catalog.
type Repository interface {
	CreateVendor(ctx context.Context, v Vendor) (Vendor, error)
	ListVendors(ctx context.Context) ([]Vendor, error)
	CreateCategory(ctx context.Context, c Category) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	ProductsByIDs(ctx context.Context, ids []int64) (map[int64]Product, error)
	CreateCombo(ctx context.Context, c Combo) (Combo, error)
	GetCombo(ctx context.Context, id int64) (Combo, error)
	ListCombos(ctx context.Context, filter ComboFilter) ([]Combo, error)
	ReplaceComboLines(ctx context.Context, id int64, lines []ComboLine) (Combo, error)
	SetComboActive(ctx context.Context, id int64, active bool) error
	UpsertCombos(ctx context.Context, combos []Combo) (created, updated int, err error)
	CreatePurchase(ctx context.Context, p Purchase) (Purchase, error)
	ScanCode(ctx context.Context, code string) (ScanResult, error)
}

// StockPoster receives purchase receipts.
type StockPoster interface {
	PostInbound(ctx context.Context, input inventory.MovementInput) (inventory.StockCardEntry, error)
}

// AuditPort records catalog changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Decoder turns an uploaded file into a grid of cells.
type Decoder func(fileName string, data []byte) ([][]any, error)

// Service coordinates catalog maintenance.
type Service struct {
	repo      Repository
	stock     StockPoster
	audit     AuditPort
	decode    Decoder
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the catalog service. stock and audit may be nil.
func NewService(repo Repository, stock StockPoster, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		stock:     stock,
		audit:     audit,
		decode:    spreadsheet.Decode,
		validator: validator.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the service clock.
func (s *Service) WithClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// CreateVendor validates and stores a vendor.
func (s *Service) CreateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	v.Name = strings.TrimSpace(v.Name)
	if err := s.validate(v); err != nil {
		return Vendor{}, err
	}
	return s.repo.CreateVendor(ctx, v)
}

// ListVendors lists every vendor by name.
func (s *Service) ListVendors(ctx context.Context) ([]Vendor, error) {
	return s.repo.ListVendors(ctx)
}

// CreateCategory validates and stores a category.
func (s *Service) CreateCategory(ctx context.Context, c Category) (Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if err := s.validate(c); err != nil {
		return Category{}, err
	}
	return s.repo.CreateCategory(ctx, c)
}

// ListCategories lists every category by name.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

// CreateProduct stores a product. Barcodes are unique when present.
func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Barcode = strings.TrimSpace(p.Barcode)
	p.Price = profitloss.Round2(p.Price)
	p.Quantity = 0
	if err := s.validate(p); err != nil {
		return Product{}, err
	}
	return s.repo.CreateProduct(ctx, p)
}

// GetProduct loads one product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts lists products matching the filter.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

// CreateCombo stores a combo; a combo created with lines is mapped.
func (s *Service) CreateCombo(ctx context.Context, c Combo, actor string) (Combo, error) {
	c.Code = strings.TrimSpace(c.Code)
	c.Name = strings.TrimSpace(c.Name)
	c.Barcode = strings.TrimSpace(c.Barcode)
	c.Price = profitloss.Round2(c.Price)
	if err := s.validate(c); err != nil {
		return Combo{}, err
	}
	if err := s.checkLines(ctx, c.Lines); err != nil {
		return Combo{}, err
	}
	c.IsActive = true
	c.IsMapped = len(c.Lines) > 0
	created, err := s.repo.CreateCombo(ctx, c)
	if err != nil {
		return Combo{}, err
	}
	s.record(ctx, actor, "catalog:combo_create", created.ID, map[string]any{"code": created.Code, "lines": len(created.Lines)})
	return created, nil
}

// GetCombo loads a combo with its lines.
func (s *Service) GetCombo(ctx context.Context, id int64) (Combo, error) {
	return s.repo.GetCombo(ctx, id)
}

// ListCombos lists combos matching the filter.
func (s *Service) ListCombos(ctx context.Context, filter ComboFilter) ([]Combo, error) {
	return s.repo.ListCombos(ctx, filter)
}

// MapCombo replaces the bill of materials of a combo and marks it mapped.
func (s *Service) MapCombo(ctx context.Context, id int64, lines []ComboLine, actor string) (Combo, error) {
	if len(lines) == 0 {
		return Combo{}, fmt.Errorf("%w: at least one line required", ErrInvalidComboLine)
	}
	for _, line := range lines {
		if err := s.validate(line); err != nil {
			return Combo{}, err
		}
	}
	if err := s.checkLines(ctx, lines); err != nil {
		return Combo{}, err
	}
	combo, err := s.repo.ReplaceComboLines(ctx, id, lines)
	if err != nil {
		return Combo{}, err
	}
	s.record(ctx, actor, "catalog:combo_map", id, map[string]any{"lines": len(lines)})
	return combo, nil
}

// DeactivateCombo hides a combo from matching without deleting history.
func (s *Service) DeactivateCombo(ctx context.Context, id int64, actor string) error {
	if err := s.repo.SetComboActive(ctx, id, false); err != nil {
		return err
	}
	s.record(ctx, actor, "catalog:combo_deactivate", id, nil)
	return nil
}

// Column aliases of a combo import sheet.
var (
	comboCodeColumns    = []string{"combo code", "code", "sku", "skuid"}
	comboNameColumns    = []string{"combo name", "name", "title"}
	comboBarcodeColumns = []string{"barcode", "ean", "upc"}
	comboPriceColumns   = []string{"price", "selling price", "mrp"}
)

var comboSheet = profitloss.HeaderAliases{
	HeaderVocabulary: []string{"code", "sku", "name", "barcode", "price"},
	HeaderScanRows:   6,
}

// ImportCombos reads a combo sheet and upserts rows by code. Imported
// combos keep any existing bill of materials; new ones start unmapped.
func (s *Service) ImportCombos(ctx context.Context, fileName string, data []byte, actor string) (ImportResult, error) {
	grid, err := s.decode(fileName, data)
	if err != nil {
		return ImportResult{}, err
	}
	headerIdx, _ := profitloss.DetectHeaderRow(grid, comboSheet)
	rows := profitloss.BuildRows(grid, comboSheet)
	result := ImportResult{Skipped: []ImportRowError{}}
	combos := make([]Combo, 0, len(rows))
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		line := headerIdx + i + 2
		code := importText(row, comboCodeColumns)
		name := importText(row, comboNameColumns)
		if code == "" {
			result.Skipped = append(result.Skipped, ImportRowError{Row: line, Reason: "missing code"})
			continue
		}
		if name == "" {
			name = code
		}
		var price float64
		if raw, ok := profitloss.FindColumnWhere(row, comboPriceColumns, profitloss.NumericCell); ok {
			price = profitloss.Round2(profitloss.ParseNumber(raw))
		}
		if price < 0 {
			result.Skipped = append(result.Skipped, ImportRowError{Row: line, Reason: "negative price"})
			continue
		}
		combo := Combo{
			Code:     code,
			Name:     name,
			Barcode:  importText(row, comboBarcodeColumns),
			Price:    price,
			IsActive: true,
		}
		key := strings.ToLower(code)
		if idx, dup := seen[key]; dup {
			combos[idx] = combo
			result.Skipped = append(result.Skipped, ImportRowError{Row: line, Reason: "duplicate code in file, last row wins"})
			continue
		}
		seen[key] = len(combos)
		combos = append(combos, combo)
	}
	if len(combos) == 0 {
		return result, ErrEmptyImport
	}
	created, updated, err := s.repo.UpsertCombos(ctx, combos)
	if err != nil {
		return ImportResult{}, err
	}
	result.Created, result.Updated = created, updated
	s.logger.Info("combo import",
		slog.String("file", fileName),
		slog.Int("created", created),
		slog.Int("updated", updated),
		slog.Int("skipped", len(result.Skipped)),
	)
	s.record(ctx, actor, "catalog:combo_import", 0, map[string]any{"file": fileName, "created": created, "updated": updated})
	return result, nil
}

func importText(row profitloss.Row, aliases []string) string {
	raw, ok := profitloss.FindColumn(row, aliases)
	if !ok {
		return ""
	}
	return strings.TrimSpace(cast.ToString(raw))
}

// RecordPurchase stores a purchase and receives each line into stock. The
// purchase stays recorded when stock posting fails; the movement codes are
// stable so the receipt can be posted again.
func (s *Service) RecordPurchase(ctx context.Context, p Purchase, actor string) (Purchase, error) {
	if err := s.validate(p); err != nil {
		return Purchase{}, err
	}
	if p.PurchasedAt.IsZero() {
		p.PurchasedAt = s.now().UTC()
	}
	ids := make([]int64, 0, len(p.Lines))
	total := decimal.Zero
	for _, line := range p.Lines {
		ids = append(ids, line.ProductID)
		total = total.Add(decimal.NewFromFloat(line.Quantity).Mul(decimal.NewFromFloat(line.UnitCost)))
	}
	known, err := s.repo.ProductsByIDs(ctx, ids)
	if err != nil {
		return Purchase{}, err
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return Purchase{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
		}
	}
	p.TotalAmount = total.Round(2).InexactFloat64()

	saved, err := s.repo.CreatePurchase(ctx, p)
	if err != nil {
		return Purchase{}, err
	}
	s.record(ctx, actor, "catalog:purchase", saved.ID, map[string]any{"reference": saved.Reference, "total": saved.TotalAmount})
	if err := s.PostPurchaseStock(ctx, saved, actor); err != nil {
		return saved, err
	}
	return saved, nil
}

// PostPurchaseStock receives the purchase lines into inventory.
func (s *Service) PostPurchaseStock(ctx context.Context, p Purchase, actor string) error {
	if s.stock == nil {
		return nil
	}
	for i, line := range p.Lines {
		_, err := s.stock.PostInbound(ctx, inventory.MovementInput{
			Code:      fmt.Sprintf("PUR-%d-%d", p.ID, i+1),
			ProductID: line.ProductID,
			Qty:       line.Quantity,
			UnitCost:  line.UnitCost,
			Note:      strings.TrimSpace("Purchase " + p.Reference),
			Actor:     actor,
			RefModule: "PURCHASE",
			RefID:     strconv.FormatInt(p.ID, 10),
		})
		if errors.Is(err, inventory.ErrDuplicateMovement) {
			continue
		}
		if err != nil {
			return fmt.Errorf("catalog: receive purchase %d line %d: %w", p.ID, i+1, err)
		}
	}
	return nil
}

// ScanBarcode resolves a scanned code to a product barcode, or a combo
// barcode or code.
func (s *Service) ScanBarcode(ctx context.Context, code string) (ScanResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return ScanResult{}, fmt.Errorf("%w: empty code", ErrNotFound)
	}
	return s.repo.ScanCode(ctx, code)
}

func (s *Service) checkLines(ctx context.Context, lines []ComboLine) error {
	if len(lines) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		if seen[line.ProductID] {
			return fmt.Errorf("%w: product %d listed twice", ErrInvalidComboLine, line.ProductID)
		}
		seen[line.ProductID] = true
		ids = append(ids, line.ProductID)
	}
	known, err := s.repo.ProductsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: unknown product %d", ErrInvalidComboLine, id)
		}
	}
	return nil
}

func (s *Service) validate(v any) error {
	if err := s.validator.Struct(v); err != nil {
		return fmt.Errorf("catalog: %w", errors.Join(err, httpx.ErrValidation))
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if actor == "" {
		actor = "system"
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "catalog",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit catalog change", slog.String("action", action), slog.Any("error", err))
	}
}
