package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/textilehq/backoffice/internal/catalog"
	"github.com/textilehq/backoffice/internal/inventory"
	"github.com/textilehq/backoffice/internal/platform/httpx"
	"github.com/textilehq/backoffice/internal/profitloss"
)

// Repository persists sales and returns.
type Repository interface {
	CreateSale(ctx context.Context, sale Sale) (Sale, error)
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error)
	CreateReturn(ctx context.Context, ret Return, saleStatus Status) (Return, error)
}

// Scanner resolves scanned codes against the catalog.
type Scanner interface {
	ScanBarcode(ctx context.Context, code string) (catalog.ScanResult, error)
}

// CostSource returns the latest purchase cost of a product.
type CostSource interface {
	LatestPurchaseUnitCost(ctx context.Context, productID int64) (float64, bool, error)
}

// Stock moves inventory for sales and restocks.
type Stock interface {
	PostOutbound(ctx context.Context, input inventory.MovementInput) (inventory.StockCardEntry, error)
	PostReturn(ctx context.Context, input inventory.MovementInput) (inventory.StockCardEntry, error)
	GetBalance(ctx context.Context, productID int64) (inventory.Balance, error)
}

// ServiceConfig tunes the sales service.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// Service coordinates sales, returns and their profit view.
type Service struct {
	repo      Repository
	scanner   Scanner
	costs     CostSource
	stock     Stock
	rto       profitloss.RTORecorder
	cfg       ServiceConfig
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the sales service. costs, stock and rto may be nil.
func NewService(repo Repository, scanner Scanner, costs CostSource, stock Stock, rto profitloss.RTORecorder, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		scanner:   scanner,
		costs:     costs,
		stock:     stock,
		rto:       rto,
		cfg:       cfg,
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

// component is a product quantity moved by a sale line.
type component struct {
	productID int64
	name      string
	barcode   string
	price     float64
	qty       float64
}

// CreateSale resolves every scanned code, checks stock and records the
// sale. Stock leaves inventory after the sale is stored; a posting failure
// returns the stored sale together with the error.
func (s *Service) CreateSale(ctx context.Context, input CreateSaleInput) (Sale, error) {
	if err := s.validate(input); err != nil {
		return Sale{}, err
	}
	sale := Sale{
		Code:         strings.TrimSpace(input.Code),
		CustomerName: strings.TrimSpace(input.CustomerName),
		Status:       StatusDelivered,
		SaleDate:     s.now().UTC(),
	}
	if input.SaleDate != nil {
		sale.SaleDate = input.SaleDate.UTC()
	}
	if sale.Code == "" {
		sale.Code = newCode("S", sale.SaleDate)
	}

	need := map[int64]*component{}
	total := decimal.Zero
	for _, in := range input.Items {
		item, parts, err := s.resolveItem(ctx, in)
		if err != nil {
			return Sale{}, err
		}
		for _, p := range parts {
			if c, ok := need[p.productID]; ok {
				c.qty += p.qty
				continue
			}
			c := p
			need[p.productID] = &c
		}
		total = total.Add(decimal.NewFromFloat(item.Total))
		sale.Items = append(sale.Items, item)
	}
	sale.Total = total.Round(2).InexactFloat64()

	ids := sortedIDs(need)
	if err := s.checkStock(ctx, ids, need); err != nil {
		return Sale{}, err
	}
	saved, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return Sale{}, err
	}
	s.logger.Info("sale recorded",
		slog.String("code", saved.Code),
		slog.Int("items", len(saved.Items)),
		slog.Float64("total", saved.Total))

	if s.stock == nil {
		return saved, nil
	}
	for _, id := range ids {
		c := need[id]
		_, err := s.stock.PostOutbound(ctx, inventory.MovementInput{
			Code:      fmt.Sprintf("SALE-%s-%d", saved.Code, id),
			ProductID: id,
			Qty:       c.qty,
			Note:      "Sale " + saved.Code,
			Actor:     input.Actor,
			RefModule: "SALES",
			RefID:     strconv.FormatInt(saved.ID, 10),
		})
		if err != nil && !errors.Is(err, inventory.ErrDuplicateMovement) {
			return saved, fmt.Errorf("sales: post stock for %s: %w", saved.Code, err)
		}
	}
	return saved, nil
}

func (s *Service) resolveItem(ctx context.Context, in SaleItemInput) (SaleItem, []component, error) {
	scan, err := s.scanner.ScanBarcode(ctx, in.Barcode)
	if err != nil {
		return SaleItem{}, nil, fmt.Errorf("sales: scan %q: %w", in.Barcode, err)
	}
	item := SaleItem{
		Name:      scan.Name(),
		Barcode:   strings.TrimSpace(in.Barcode),
		Quantity:  in.Quantity,
		UnitPrice: scan.Price(),
	}
	if in.UnitPrice != nil {
		item.UnitPrice = *in.UnitPrice
	}
	item.UnitPrice = profitloss.Round2(item.UnitPrice)

	var parts []component
	switch scan.Kind {
	case catalog.ScanCombo:
		combo := scan.Combo
		if len(combo.Lines) == 0 {
			return SaleItem{}, nil, fmt.Errorf("%w: %s", ErrUnmappedCombo, combo.Code)
		}
		id := combo.ID
		item.ItemType, item.ComboID = ItemCombo, &id
		for _, line := range combo.Lines {
			p := component{productID: line.ProductID, qty: line.Quantity * in.Quantity}
			if line.Product != nil {
				p.name, p.barcode, p.price = line.Product.Name, line.Product.Barcode, line.Product.Price
			}
			parts = append(parts, p)
		}
	default:
		product := scan.Product
		id := product.ID
		item.ItemType, item.ProductID = ItemProduct, &id
		parts = []component{{productID: id, name: product.Name, barcode: product.Barcode, price: product.Price, qty: in.Quantity}}
	}

	cost := decimal.Zero
	for _, p := range parts {
		unit, err := s.unitCost(ctx, p.productID)
		if err != nil {
			return SaleItem{}, nil, err
		}
		cost = cost.Add(decimal.NewFromFloat(unit).Mul(decimal.NewFromFloat(p.qty)))
	}
	item.UnitCost = cost.Div(decimal.NewFromFloat(in.Quantity)).Round(4).InexactFloat64()
	item.Total = decimal.NewFromFloat(item.UnitPrice).Mul(decimal.NewFromFloat(in.Quantity)).Round(2).InexactFloat64()
	return item, parts, nil
}

func (s *Service) unitCost(ctx context.Context, productID int64) (float64, error) {
	if s.costs == nil {
		return 0, nil
	}
	cost, _, err := s.costs.LatestPurchaseUnitCost(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("sales: purchase cost of product %d: %w", productID, err)
	}
	return cost, nil
}

func (s *Service) checkStock(ctx context.Context, ids []int64, need map[int64]*component) error {
	if s.stock == nil || s.cfg.AllowNegativeStock {
		return nil
	}
	for _, id := range ids {
		bal, err := s.stock.GetBalance(ctx, id)
		if err != nil {
			return fmt.Errorf("sales: balance of product %d: %w", id, err)
		}
		if bal.Qty < need[id].qty {
			name := need[id].name
			if name == "" {
				name = strconv.FormatInt(id, 10)
			}
			return fmt.Errorf("%w: %s needs %s, %s available", ErrInsufficientStock, name,
				strconv.FormatFloat(need[id].qty, 'f', -1, 64), strconv.FormatFloat(bal.Qty, 'f', -1, 64))
		}
	}
	return nil
}

// GetSale loads one sale with its lines.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// ListSales lists sales newest first.
func (s *Service) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("sales: end date before start date: %w", httpx.ErrValidation)
	}
	return s.repo.ListSales(ctx, filter)
}

// CreateReturn stores a return. RPU returns are restocked at average cost;
// both categories are logged as returned products. A linked sale takes the
// return category as its status.
func (s *Service) CreateReturn(ctx context.Context, input CreateReturnInput) (Return, error) {
	if err := s.validate(input); err != nil {
		return Return{}, err
	}
	ret := Return{
		Code:       strings.TrimSpace(input.Code),
		SaleID:     input.SaleID,
		Category:   profitloss.RTOCategory(strings.ToUpper(input.Category)),
		Reason:     strings.TrimSpace(input.Reason),
		ReturnDate: s.now().UTC(),
	}
	if input.ReturnDate != nil {
		ret.ReturnDate = input.ReturnDate.UTC()
	}
	if ret.Code == "" {
		ret.Code = newCode("R", ret.ReturnDate)
	}
	if ret.SaleID != nil {
		if _, err := s.repo.GetSale(ctx, *ret.SaleID); err != nil {
			return Return{}, err
		}
	}

	merged := map[int64]*ReturnItem{}
	var order []int64
	for _, in := range input.Items {
		scan, err := s.scanner.ScanBarcode(ctx, in.Barcode)
		if err != nil {
			return Return{}, fmt.Errorf("sales: scan %q: %w", in.Barcode, err)
		}
		var parts []ReturnItem
		switch scan.Kind {
		case catalog.ScanCombo:
			if len(scan.Combo.Lines) == 0 {
				return Return{}, fmt.Errorf("%w: %s", ErrUnmappedCombo, scan.Combo.Code)
			}
			for _, line := range scan.Combo.Lines {
				item := ReturnItem{ProductID: line.ProductID, Quantity: line.Quantity * in.Quantity}
				if line.Product != nil {
					item.Name, item.Barcode, item.UnitPrice = line.Product.Name, line.Product.Barcode, line.Product.Price
				}
				parts = append(parts, item)
			}
		default:
			p := scan.Product
			parts = []ReturnItem{{ProductID: p.ID, Name: p.Name, Barcode: p.Barcode, Quantity: in.Quantity, UnitPrice: p.Price}}
		}
		for _, part := range parts {
			if existing, ok := merged[part.ProductID]; ok {
				existing.Quantity += part.Quantity
				continue
			}
			part := part
			merged[part.ProductID] = &part
			order = append(order, part.ProductID)
		}
	}
	for _, id := range order {
		ret.Items = append(ret.Items, *merged[id])
	}

	status := StatusRTO
	if ret.Category == profitloss.CategoryRPU {
		status = StatusRPU
	}
	saved, err := s.repo.CreateReturn(ctx, ret, status)
	if err != nil {
		return Return{}, err
	}
	s.logger.Info("return recorded",
		slog.String("code", saved.Code),
		slog.String("category", string(saved.Category)),
		slog.Int("items", len(saved.Items)))

	s.recordReturned(ctx, saved, input.Actor)
	if ret.Category != profitloss.CategoryRPU || s.stock == nil {
		return saved, nil
	}
	for _, item := range saved.Items {
		_, err := s.stock.PostReturn(ctx, inventory.MovementInput{
			Code:      fmt.Sprintf("RET-%s-%d", saved.Code, item.ProductID),
			ProductID: item.ProductID,
			Qty:       item.Quantity,
			Note:      "Return " + saved.Code,
			Actor:     input.Actor,
			RefModule: "SALES",
			RefID:     strconv.FormatInt(saved.ID, 10),
		})
		if err != nil && !errors.Is(err, inventory.ErrDuplicateMovement) {
			return saved, fmt.Errorf("sales: restock return %s: %w", saved.Code, err)
		}
	}
	return saved, nil
}

func (s *Service) recordReturned(ctx context.Context, ret Return, actor string) {
	if s.rto == nil {
		return
	}
	if actor == "" {
		actor = "system"
	}
	items := make([]profitloss.RTOProduct, 0, len(ret.Items))
	for _, it := range ret.Items {
		items = append(items, profitloss.RTOProduct{
			ID:          uuid.New(),
			ProductID:   it.ProductID,
			ProductName: it.Name,
			Barcode:     it.Barcode,
			Category:    ret.Category,
			Quantity:    it.Quantity,
			Price:       it.UnitPrice,
			TotalValue:  profitloss.Round2(it.UnitPrice * it.Quantity),
			Status:      "completed",
			Reason:      ret.Reason,
			Notes:       "Return " + ret.Code,
			AddedBy:     actor,
			Source:      "returns",
			DateAdded:   ret.ReturnDate,
		})
	}
	if err := s.rto.RecordRTO(ctx, items); err != nil {
		s.logger.Warn("record returned products", slog.String("code", ret.Code), slog.Any("error", err))
	}
}

// saleNamespace seeds stable ledger ids for sale lines.
var saleNamespace = uuid.MustParse("6f1c1d3e-8a4b-4e0f-9c59-3b1f8d2a7e10")

// ProfitRecords turns sale lines into ledger entries so monthly reports can
// blend counter sales with uploaded settlements. RPU sales count as a loss
// of their margin; RTO sales lose their cost.
func (s *Service) ProfitRecords(ctx context.Context, from, to *time.Time) ([]profitloss.LedgerEntry, error) {
	sales, err := s.repo.ListSales(ctx, SaleFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	var out []profitloss.LedgerEntry
	for _, sale := range sales {
		date := sale.SaleDate
		for i, item := range sale.Items {
			profit := (item.UnitPrice - item.UnitCost) * item.Quantity
			switch sale.Status {
			case StatusRPU:
				profit = -abs(profit)
			case StatusRTO:
				profit = profitloss.ComputeProfit(profitloss.StatusRTO, item.UnitPrice, item.UnitCost, item.Quantity)
			}
			out = append(out, profitloss.LedgerEntry{
				ID:            uuid.NewSHA1(saleNamespace, []byte(fmt.Sprintf("%d:%d", sale.ID, item.ID))),
				RowNo:         i + 1,
				FileName:      "sales",
				UploadDate:    sale.CreatedAt,
				UploadedBy:    "sales",
				OrderID:       sale.Code,
				SKU:           item.Barcode,
				ComboName:     item.Name,
				ProductNames:  item.Name,
				Quantity:      item.Quantity,
				PurchasePrice: profitloss.Round2(item.UnitCost * item.Quantity),
				Payment:       item.Total,
				Profit:        profitloss.Round2(profit),
				Status:        string(sale.Status),
				PaymentDate:   &date,
			})
		}
	}
	return out, nil
}

func (s *Service) validate(v any) error {
	if err := s.validator.Struct(v); err != nil {
		return fmt.Errorf("sales: %w", errors.Join(err, httpx.ErrValidation))
	}
	return nil
}

func newCode(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), strings.ToUpper(uuid.NewString()[:6]))
}

func sortedIDs(m map[int64]*component) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
