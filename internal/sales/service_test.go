package sales

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/textilehq/backoffice/internal/catalog"
	"github.com/textilehq/backoffice/internal/inventory"
	"github.com/textilehq/backoffice/internal/platform/httpx"
	"github.com/textilehq/backoffice/internal/profitloss"
)

type memoryRepo struct {
	nextID  int64
	sales   map[int64]Sale
	returns []Return
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sales: map[int64]Sale{}}
}

func (r *memoryRepo) CreateSale(_ context.Context, sale Sale) (Sale, error) {
	for _, s := range r.sales {
		if s.Code == sale.Code {
			return Sale{}, ErrDuplicateCode
		}
	}
	r.nextID++
	sale.ID = r.nextID
	sale.CreatedAt = sale.SaleDate
	for i := range sale.Items {
		r.nextID++
		sale.Items[i].ID = r.nextID
	}
	r.sales[sale.ID] = sale
	return sale, nil
}

func (r *memoryRepo) GetSale(_ context.Context, id int64) (Sale, error) {
	s, ok := r.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return s, nil
}

func (r *memoryRepo) ListSales(_ context.Context, filter SaleFilter) ([]Sale, error) {
	var out []Sale
	for _, s := range r.sales {
		if filter.From != nil && s.SaleDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && s.SaleDate.After(*filter.To) {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SaleDate.After(out[j].SaleDate) })
	return out, nil
}

func (r *memoryRepo) CreateReturn(_ context.Context, ret Return, status Status) (Return, error) {
	r.nextID++
	ret.ID = r.nextID
	r.returns = append(r.returns, ret)
	if ret.SaleID != nil {
		s := r.sales[*ret.SaleID]
		s.Status = status
		r.sales[*ret.SaleID] = s
	}
	return ret, nil
}

type fakeScanner map[string]catalog.ScanResult

func (f fakeScanner) ScanBarcode(_ context.Context, code string) (catalog.ScanResult, error) {
	res, ok := f[strings.TrimSpace(code)]
	if !ok {
		return catalog.ScanResult{}, catalog.ErrNotFound
	}
	return res, nil
}

type fakeCosts map[int64]float64

func (f fakeCosts) LatestPurchaseUnitCost(_ context.Context, id int64) (float64, bool, error) {
	c, ok := f[id]
	return c, ok, nil
}

type fakeStock struct {
	balances map[int64]float64
	out      []inventory.MovementInput
	returned []inventory.MovementInput
	failOut  error
}

func (f *fakeStock) PostOutbound(_ context.Context, in inventory.MovementInput) (inventory.StockCardEntry, error) {
	if f.failOut != nil {
		return inventory.StockCardEntry{}, f.failOut
	}
	f.out = append(f.out, in)
	f.balances[in.ProductID] -= in.Qty
	return inventory.StockCardEntry{TxCode: in.Code}, nil
}

func (f *fakeStock) PostReturn(_ context.Context, in inventory.MovementInput) (inventory.StockCardEntry, error) {
	f.returned = append(f.returned, in)
	f.balances[in.ProductID] += in.Qty
	return inventory.StockCardEntry{TxCode: in.Code}, nil
}

func (f *fakeStock) GetBalance(_ context.Context, id int64) (inventory.Balance, error) {
	return inventory.Balance{ProductID: id, Qty: f.balances[id]}, nil
}

type fakeRTO struct {
	items []profitloss.RTOProduct
}

func (f *fakeRTO) RecordRTO(_ context.Context, items []profitloss.RTOProduct) error {
	f.items = append(f.items, items...)
	return nil
}

type fixture struct {
	svc   *Service
	repo  *memoryRepo
	stock *fakeStock
	rto   *fakeRTO
}

var (
	shirt = catalog.Product{ID: 1, Name: "Shirt", Barcode: "1001", Price: 300}
	pant  = catalog.Product{ID: 2, Name: "Pant", Barcode: "1002", Price: 500}
	suit  = catalog.Combo{ID: 10, Code: "SUIT", Name: "Suit", Barcode: "2001", Price: 750, IsActive: true, IsMapped: true,
		Lines: []catalog.ComboLine{{ProductID: 1, Product: &shirt, Quantity: 1}, {ProductID: 2, Product: &pant, Quantity: 1}}}
	bare = catalog.Combo{ID: 11, Code: "BARE", Name: "Unmapped", Price: 100, IsActive: true}
)

func newFixture(t *testing.T) fixture {
	t.Helper()
	s, p := shirt, pant
	scanner := fakeScanner{
		"1001": {Kind: catalog.ScanProduct, Product: &s},
		"1002": {Kind: catalog.ScanProduct, Product: &p},
		"2001": {Kind: catalog.ScanCombo, Combo: &suit},
		"BARE": {Kind: catalog.ScanCombo, Combo: &bare},
	}
	f := fixture{
		repo:  newMemoryRepo(),
		stock: &fakeStock{balances: map[int64]float64{1: 10, 2: 3}},
		rto:   &fakeRTO{},
	}
	f.svc = NewService(f.repo, scanner, fakeCosts{1: 120, 2: 200}, f.stock, f.rto, ServiceConfig{}, nil)
	f.svc.WithClock(func() time.Time { return time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC) })
	return f
}

func TestCreateSaleExpandsCombos(t *testing.T) {
	f := newFixture(t)
	price := 280.0
	sale, err := f.svc.CreateSale(t.Context(), CreateSaleInput{
		Code:  "S-1",
		Actor: "cashier",
		Items: []SaleItemInput{
			{Barcode: "2001", Quantity: 2},
			{Barcode: "1001", Quantity: 1, UnitPrice: &price},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, sale.Status)
	require.Equal(t, 1780.0, sale.Total)
	require.Len(t, sale.Items, 2)

	combo := sale.Items[0]
	require.Equal(t, ItemCombo, combo.ItemType)
	require.Equal(t, int64(10), *combo.ComboID)
	require.Equal(t, 750.0, combo.UnitPrice)
	require.Equal(t, 320.0, combo.UnitCost)
	require.Equal(t, 1500.0, combo.Total)

	single := sale.Items[1]
	require.Equal(t, ItemProduct, single.ItemType)
	require.Equal(t, 280.0, single.UnitPrice)
	require.Equal(t, 120.0, single.UnitCost)

	require.Len(t, f.stock.out, 2)
	require.Equal(t, "SALE-S-1-1", f.stock.out[0].Code)
	require.Equal(t, 3.0, f.stock.out[0].Qty)
	require.Equal(t, 2.0, f.stock.out[1].Qty)
	require.Equal(t, "cashier", f.stock.out[1].Actor)
	require.Equal(t, 7.0, f.stock.balances[1])
}

func TestCreateSaleChecksStockFirst(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSale(t.Context(), CreateSaleInput{Items: []SaleItemInput{{Barcode: "2001", Quantity: 4}}})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Contains(t, err.Error(), "Pant needs 4, 3 available")
	require.Empty(t, f.repo.sales)
	require.Empty(t, f.stock.out)

	f.svc.cfg.AllowNegativeStock = true
	_, err = f.svc.CreateSale(t.Context(), CreateSaleInput{Items: []SaleItemInput{{Barcode: "2001", Quantity: 4}}})
	require.NoError(t, err)
}

func TestCreateSaleRejectsBadItems(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.svc.CreateSale(ctx, CreateSaleInput{})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.CreateSale(ctx, CreateSaleInput{Items: []SaleItemInput{{Barcode: "nope", Quantity: 1}}})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = f.svc.CreateSale(ctx, CreateSaleInput{Items: []SaleItemInput{{Barcode: "BARE", Quantity: 1}}})
	require.ErrorIs(t, err, ErrUnmappedCombo)
}

func TestCreateSaleReturnsStoredSaleWhenStockFails(t *testing.T) {
	f := newFixture(t)
	f.stock.failOut = errors.New("db down")
	sale, err := f.svc.CreateSale(t.Context(), CreateSaleInput{Items: []SaleItemInput{{Barcode: "1001", Quantity: 1}}})
	require.Error(t, err)
	require.NotZero(t, sale.ID)
	require.True(t, strings.HasPrefix(sale.Code, "S-20240504-"))
}

func TestCreateReturnRestocksRPU(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	sale, err := f.svc.CreateSale(ctx, CreateSaleInput{Code: "S-9", Items: []SaleItemInput{{Barcode: "2001", Quantity: 1}}})
	require.NoError(t, err)

	ret, err := f.svc.CreateReturn(ctx, CreateReturnInput{
		Code:     "R-9",
		SaleID:   &sale.ID,
		Category: "rpu",
		Reason:   "size",
		Actor:    "clerk",
		Items:    []ReturnItemInput{{Barcode: "2001", Quantity: 1}, {Barcode: "1001", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, profitloss.CategoryRPU, ret.Category)
	require.Len(t, ret.Items, 2)
	require.Equal(t, 2.0, ret.Items[0].Quantity)

	require.Equal(t, StatusRPU, f.repo.sales[sale.ID].Status)
	require.Len(t, f.stock.returned, 2)
	require.Equal(t, "RET-R-9-1", f.stock.returned[0].Code)
	require.Zero(t, f.stock.returned[0].UnitCost)

	require.Len(t, f.rto.items, 2)
	require.Equal(t, "returns", f.rto.items[0].Source)
	require.Equal(t, "clerk", f.rto.items[0].AddedBy)
	require.Equal(t, 600.0, f.rto.items[0].TotalValue)
}

func TestCreateReturnRTOSkipsRestock(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	ret, err := f.svc.CreateReturn(ctx, CreateReturnInput{Category: "RTO", Items: []ReturnItemInput{{Barcode: "1002", Quantity: 1}}})
	require.NoError(t, err)
	require.Equal(t, profitloss.CategoryRTO, ret.Category)
	require.Empty(t, f.stock.returned)
	require.Len(t, f.rto.items, 1)
	require.Equal(t, profitloss.CategoryRTO, f.rto.items[0].Category)

	missing := int64(404)
	_, err = f.svc.CreateReturn(ctx, CreateReturnInput{SaleID: &missing, Category: "RTO", Items: []ReturnItemInput{{Barcode: "1002", Quantity: 1}}})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = f.svc.CreateReturn(ctx, CreateReturnInput{Category: "LOST", Items: []ReturnItemInput{{Barcode: "1002", Quantity: 1}}})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestProfitRecordsSignByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	may := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	june := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	delivered, err := f.svc.CreateSale(ctx, CreateSaleInput{Code: "D", SaleDate: &may, Items: []SaleItemInput{{Barcode: "1001", Quantity: 2}}})
	require.NoError(t, err)
	rpu, err := f.svc.CreateSale(ctx, CreateSaleInput{Code: "P", SaleDate: &may, Items: []SaleItemInput{{Barcode: "1001", Quantity: 1}}})
	require.NoError(t, err)
	rto, err := f.svc.CreateSale(ctx, CreateSaleInput{Code: "O", SaleDate: &june, Items: []SaleItemInput{{Barcode: "1002", Quantity: 1}}})
	require.NoError(t, err)
	_, err = f.svc.CreateReturn(ctx, CreateReturnInput{SaleID: &rpu.ID, Category: "RPU", Items: []ReturnItemInput{{Barcode: "1001", Quantity: 1}}})
	require.NoError(t, err)
	_, err = f.svc.CreateReturn(ctx, CreateReturnInput{SaleID: &rto.ID, Category: "RTO", Items: []ReturnItemInput{{Barcode: "1002", Quantity: 1}}})
	require.NoError(t, err)

	entries, err := f.svc.ProfitRecords(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	byOrder := map[string]profitloss.LedgerEntry{}
	for _, e := range entries {
		byOrder[e.OrderID] = e
	}
	require.Equal(t, 360.0, byOrder["D"].Profit)
	require.Equal(t, 600.0, byOrder["D"].Payment)
	require.Equal(t, 240.0, byOrder["D"].PurchasePrice)
	require.Equal(t, -180.0, byOrder["P"].Profit)
	require.Equal(t, -200.0, byOrder["O"].Profit)
	require.Equal(t, delivered.SaleDate, *byOrder["D"].PaymentDate)

	summary := profitloss.Summarize(entries)
	require.Equal(t, 360.0, summary.DeliveredProfit)
	require.Equal(t, -180.0, summary.RPUProfit)
	require.Equal(t, -200.0, summary.RTOProfit)

	again, err := f.svc.ProfitRecords(ctx, nil, nil)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, e := range again {
		ids[e.ID.String()] = true
	}
	require.True(t, ids[byOrder["D"].ID.String()])

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	juneOnly, err := f.svc.ProfitRecords(ctx, &from, nil)
	require.NoError(t, err)
	require.Len(t, juneOnly, 1)
}

func TestHandlerSalesFlow(t *testing.T) {
	f := newFixture(t)
	router := chi.NewRouter()
	router.Route("/sales", NewHandler(nil, f.svc).MountRoutes)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("X-User", "cashier")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/sales/", `{"code":"S-77","customerName":"Asha","items":[{"barcode":"1001","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created partialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, created.StockPosted)
	require.Equal(t, "Asha", created.Sale.CustomerName)

	rec = do(http.MethodPost, "/sales/", `{"code":"S-77","items":[{"barcode":"1001","quantity":1}]}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPost, "/sales/", `{"items":[{"barcode":"1001","quantity":50}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodGet, "/sales/"+strconvID(created.Sale.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"S-77"`)

	rec = do(http.MethodGet, "/sales/999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodGet, "/sales/?status=delivered&from=2024-05-01&to=2024-05-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"S-77"`)

	rec = do(http.MethodGet, "/sales/?status=lost", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/sales/returns", `{"saleId":`+strconvID(created.Sale.ID)+`,"category":"RPU","items":[{"barcode":"1001","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "cashier", f.stock.returned[0].Actor)
}

func strconvID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
