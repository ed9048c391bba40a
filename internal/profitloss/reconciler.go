package profitloss

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	identifierPattern = regexp.MustCompile(`[A-Za-z0-9\-_@./]{3,}`)
	digitsOnly        = regexp.MustCompile(`^[0-9]+$`)
	isoDateShape      = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	dmyDateShape      = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}`)
)

// RTORecorder stores returned-product side effects.
type RTORecorder interface {
	RecordRTO(ctx context.Context, items []RTOProduct) error
}

// ReconcilerConfig tunes the row pipeline.
type ReconcilerConfig struct {
	Aliases HeaderAliases
	Rules   ProfitRules
	// GuessIdentifiers enables GuessIdentifierFromRow when no SKU column matches.
	GuessIdentifiers bool
	// LookupConcurrency bounds parallel catalog lookups. Values below 1 mean 1.
	LookupConcurrency int
}

// DefaultReconcilerConfig returns the settlement template with guessing on.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Aliases:           DefaultHeaderAliases(),
		Rules:             ProfitRules{RTO: RTOPolicyNegativeCost},
		GuessIdentifiers:  true,
		LookupConcurrency: 4,
	}
}

// ReconcileInput carries one decoded sheet.
type ReconcileInput struct {
	UploadID uuid.UUID
	FileName string
	Rows     []Row
}

// Reconciler turns sheet rows into costed, signed results.
type Reconciler struct {
	cfg      ReconcilerConfig
	resolver *Resolver
	costs    *CostCalculator
	rto      RTORecorder
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewReconciler wires the pipeline around a catalog.
func NewReconciler(cfg ReconcilerConfig, catalog CatalogReader, rto RTORecorder, logger *slog.Logger, metrics *Metrics) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Rules.RTO == "" {
		cfg.Rules.RTO = RTOPolicyNegativeCost
	}
	return &Reconciler{
		cfg:      cfg,
		resolver: NewResolver(catalog),
		costs:    NewCostCalculator(catalog),
		rto:      rto,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithNow overrides the clock used for generated order ids and dates.
func (r *Reconciler) WithNow(fn func() time.Time) {
	if fn != nil {
		r.now = fn
	}
}

type rowFields struct {
	index       int
	row         Row
	sku         string
	skuFound    bool
	orderID     string
	qty         float64
	payment     float64
	override    float64
	sheetProfit *float64
	status      Status
	date        *time.Time
	dateRaw     any
}

type lookupResult struct {
	match    CatalogMatch
	found    bool
	unitCost float64
	details  []ProductDetail
	err      error
}

// Reconcile processes rows in order. Row failures never abort the batch; an
// error is returned only when ctx is done.
func (r *Reconciler) Reconcile(ctx context.Context, in ReconcileInput) (Result, error) {
	now := r.now().UTC()
	fields := make([]rowFields, len(in.Rows))
	for i, row := range in.Rows {
		fields[i] = r.extract(i, row, now)
	}

	lookups := r.prefetch(ctx, fields)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	acc := newAccumulator()
	results := make([]RowResult, 0, len(fields))
	for _, f := range fields {
		res := r.reconcileRow(ctx, in.UploadID, f, lookups[f.sku], now)
		acc.add(res)
		r.metrics.observeRow(res.Outcome)
		results = append(results, res)
	}

	result := Result{
		UploadID:      in.UploadID,
		FileName:      in.FileName,
		Results:       results,
		Totals:        acc.totals(),
		Summary:       acc.summary(),
		ProfitSummary: acc.profitSummary(),
	}
	r.logger.Debug("reconciled sheet",
		slog.String("upload_id", in.UploadID.String()),
		slog.Int("rows", result.Summary.TotalRecords),
		slog.Int("errors", result.Summary.ErrorRecords),
		slog.Float64("total_profit", result.Totals.TotalProfit),
	)
	return result, nil
}

func (r *Reconciler) extract(index int, row Row, now time.Time) rowFields {
	a := r.cfg.Aliases
	f := rowFields{index: index, row: row, status: StatusDelivered}

	if v, ok := FindColumnWhere(row, a.OrderID, IdentifierCell); ok {
		f.orderID = strings.TrimSpace(cellText(v))
	}
	if f.orderID == "" {
		f.orderID = fmt.Sprintf("ORD-%d-%d", now.UnixMilli(), index)
	}
	if v, ok := FindColumn(row, a.SKU); ok {
		f.sku = strings.TrimSpace(cellText(v))
	}
	if f.sku == "" {
		f.sku = skuHeaderValue(row)
	}
	if f.sku == "" && r.cfg.GuessIdentifiers {
		f.sku = GuessIdentifierFromRow(row, f.orderID)
	}
	f.skuFound = f.sku != ""

	if v, ok := FindColumnWhere(row, a.Quantity, NumericCell); ok {
		f.qty = ParseNumber(v)
	}
	if f.qty == 0 {
		f.qty = 1
	}
	if v, ok := FindColumnWhere(row, a.Payment, NumericCell); ok {
		f.payment = ParseNumber(v)
	}
	if v, ok := FindColumnWhere(row, a.PurchasePrice, NumericCell); ok {
		f.override = ParseNumber(v)
	}
	if v, ok := FindColumnWhere(row, a.Profit, NumericCell); ok {
		if p := ParseNumber(v); p != 0 {
			f.sheetProfit = &p
		}
	}
	if v, ok := FindColumn(row, a.Status); ok {
		f.status = NormalizeStatus(cellText(v))
	}
	f.date, f.dateRaw = findRowDate(row, a.Date)
	return f
}

func (r *Reconciler) prefetch(ctx context.Context, fields []rowFields) map[string]*lookupResult {
	lookups := make(map[string]*lookupResult)
	order := make([]string, 0, len(fields))
	for _, f := range fields {
		if !f.skuFound {
			continue
		}
		if _, ok := lookups[f.sku]; ok {
			continue
		}
		lookups[f.sku] = &lookupResult{}
		order = append(order, f.sku)
	}

	limit := r.cfg.LookupConcurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	var mu sync.Mutex
	for _, sku := range order {
		g.Go(func() error {
			res := r.lookup(gctx, sku)
			mu.Lock()
			*lookups[sku] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return lookups
}

func (r *Reconciler) lookup(ctx context.Context, sku string) (res lookupResult) {
	defer func() {
		if p := recover(); p != nil {
			res = lookupResult{err: fmt.Errorf("%w: %v", ErrComputation, p)}
		}
	}()
	match, found, err := r.resolver.Resolve(ctx, sku)
	if err != nil {
		return lookupResult{err: err}
	}
	if !found {
		return lookupResult{}
	}
	unit, details, err := r.costs.UnitCost(ctx, match)
	if err != nil {
		return lookupResult{err: err}
	}
	return lookupResult{match: match, found: true, unitCost: unit, details: details}
}

func (r *Reconciler) reconcileRow(ctx context.Context, uploadID uuid.UUID, f rowFields, lk *lookupResult, now time.Time) RowResult {
	res := RowResult{
		SNo:            f.index + 1,
		OrderID:        f.orderID,
		SKU:            f.sku,
		Date:           f.date,
		PaymentDateRaw: f.dateRaw,
		Quantity:       f.qty,
		Payment:        Round2(f.payment),
		ProductDetails: []ProductDetail{},
		Raw:            f.row,
	}

	if !f.skuFound {
		res.SKU = "Missing"
		res.PurchasePrice = Round2(f.override * f.qty)
		res.Status = RowStatusError
		res.Outcome = OutcomeSkuMissing
		res.Message = fmt.Sprintf("SKU ID is required. Available headers: %s", strings.Join(f.row.Headers(), ", "))
		r.logger.Debug("row without identifier", slog.Int("row", res.SNo))
		return res
	}

	if lk == nil {
		lk = &lookupResult{err: ErrComputation}
	}
	if lk.err != nil {
		res.Status = RowStatusError
		res.Outcome = OutcomeError
		res.Message = lk.err.Error()
		r.logger.Warn("row computation failed", slog.Int("row", res.SNo), slog.String("sku", f.sku), slog.Any("error", lk.err))
		return res
	}

	notFound := fmt.Sprintf("Combo or product for %q not found", f.sku)
	if !lk.found {
		res.Message = notFound
		res.Outcome = OutcomeCatalogMissing
		if f.override <= 0 {
			res.Status = RowStatusError
			return res
		}
		cost := f.override * f.qty
		res.PurchasePrice = Round2(cost)
		res.Profit = Round2(r.cfg.Rules.LineProfit(f.status, f.payment, cost, f.sheetProfit))
		res.Status = string(f.status)
		return res
	}

	cost := lk.unitCost * f.qty
	if f.override > 0 {
		cost = f.override * f.qty
	}
	profit := r.cfg.Rules.LineProfit(f.status, f.payment, cost, f.sheetProfit)
	res.PurchasePrice = Round2(cost)
	res.Profit = Round2(profit)
	res.Status = string(f.status)
	res.Outcome = OutcomeResolved
	res.ComboName = lk.match.Name()
	res.ProductDetails = append(res.ProductDetails, lk.details...)
	res.Message = fmt.Sprintf("Found combo %q with %d products. Calculation: $%s - $%s = $%s",
		res.ComboName, len(lk.details), money(res.Payment), money(res.PurchasePrice), money(res.Profit))

	if f.status == StatusRTO || f.status == StatusRPU {
		r.recordReturns(ctx, uploadID, res, f, now)
	}
	return res
}

func (r *Reconciler) recordReturns(ctx context.Context, uploadID uuid.UUID, res RowResult, f rowFields, now time.Time) {
	if r.rto == nil || len(res.ProductDetails) == 0 {
		return
	}
	category := CategoryRPU
	if f.status == StatusRTO {
		category = CategoryRTO
	}
	added := now
	if f.date != nil {
		added = *f.date
	}
	var upload *uuid.UUID
	if uploadID != uuid.Nil {
		id := uploadID
		upload = &id
	}
	items := make([]RTOProduct, 0, len(res.ProductDetails))
	for _, d := range res.ProductDetails {
		items = append(items, RTOProduct{
			ID:          uuid.New(),
			ProductID:   d.ProductID,
			ProductName: d.Name,
			Barcode:     d.Barcode,
			Category:    category,
			Quantity:    d.Quantity * f.qty,
			Price:       d.UnitCost,
			TotalValue:  Round2(d.TotalCost * f.qty),
			Status:      "completed",
			Reason:      "From uploaded sheet: " + res.OrderID,
			Notes:       fmt.Sprintf("Combo: %s, Payment: $%s", res.ComboName, money(res.Payment)),
			AddedBy:     "Excel Upload",
			Source:      "upload",
			UploadID:    upload,
			DateAdded:   added,
		})
	}
	if err := r.rto.RecordRTO(ctx, items); err != nil {
		r.logger.Warn("record returned products", slog.Int("row", res.SNo), slog.String("order_id", res.OrderID), slog.Any("error", err))
	}
}

// GuessIdentifierFromRow picks an identifier-looking string cell when no SKU
// column exists: first a value shaped like a code, then any non-numeric,
// non-date text other than the order id.
func GuessIdentifierFromRow(row Row, orderID string) string {
	for _, c := range row {
		s, ok := c.Value.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if len(s) < 3 || s == orderID || digitsOnly.MatchString(s) || looksLikeDate(s) {
			continue
		}
		if identifierPattern.MatchString(s) {
			return s
		}
	}
	for _, c := range row {
		s, ok := c.Value.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if len(s) < 2 || s == orderID || digitsOnly.MatchString(s) || looksLikeDate(s) {
			continue
		}
		return s
	}
	return ""
}

func looksLikeDate(s string) bool {
	return isoDateShape.MatchString(s) || dmyDateShape.MatchString(s)
}

func skuHeaderValue(row Row) string {
	for _, c := range row {
		if strings.Contains(NormalizeKey(c.Header), "sku") && !isBlank(c.Value) {
			return strings.TrimSpace(cellText(c.Value))
		}
	}
	return ""
}

// findRowDate prefers date-named columns, then the first cell that parses.
// Bare numbers only count when they fall in a plausible serial range.
func findRowDate(row Row, aliases []string) (*time.Time, any) {
	if v, ok := FindColumn(row, aliases); ok {
		if t, ok := ParseDate(v); ok {
			return &t, v
		}
	}
	for _, c := range row {
		if isBlank(c.Value) {
			continue
		}
		switch v := c.Value.(type) {
		case time.Time:
			if t, ok := ParseDate(v); ok {
				return &t, v
			}
			continue
		case string:
			s := strings.TrimSpace(v)
			if numericPattern.MatchString(s) {
				f, err := strconv.ParseFloat(s, 64)
				if err != nil || !plausibleSerial(f) {
					continue
				}
			}
			if t, ok := ParseDate(s); ok {
				return &t, v
			}
		default:
			f := ParseNumber(v)
			if !plausibleSerial(f) {
				continue
			}
			if t, ok := ParseDate(v); ok {
				return &t, v
			}
		}
	}
	return nil, nil
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type accumulator struct {
	qty, cost, payment, profit decimal.Decimal
	delivered, rpu, rto        decimal.Decimal
	total, success, failed     int
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

func (a *accumulator) add(res RowResult) {
	a.total++
	if res.IsError() {
		a.failed++
		return
	}
	a.success++
	a.qty = a.qty.Add(decimal.NewFromFloat(res.Quantity))
	a.cost = a.cost.Add(decimal.NewFromFloat(res.PurchasePrice))
	a.payment = a.payment.Add(decimal.NewFromFloat(res.Payment))
	profit := decimal.NewFromFloat(res.Profit)
	a.profit = a.profit.Add(profit)
	switch Status(res.Status) {
	case StatusRTO:
		a.rto = a.rto.Add(profit)
	case StatusRPU:
		a.rpu = a.rpu.Add(profit)
	default:
		a.delivered = a.delivered.Add(profit)
	}
}

func (a *accumulator) totals() Totals {
	return Totals{
		TotalQuantity:      decFloat(a.qty),
		TotalPurchasePrice: decFloat(a.cost.Round(2)),
		TotalPayment:       decFloat(a.payment.Round(2)),
		TotalProfit:        decFloat(a.profit.Round(2)),
	}
}

func (a *accumulator) summary() RecordSummary {
	return RecordSummary{TotalRecords: a.total, SuccessRecords: a.success, ErrorRecords: a.failed}
}

func (a *accumulator) profitSummary() ProfitSummary {
	total := decFloat(a.profit.Round(2))
	return ProfitSummary{
		TotalProfit:     total,
		DeliveredProfit: decFloat(a.delivered.Round(2)),
		RPUProfit:       decFloat(a.rpu.Round(2)),
		RTOProfit:       decFloat(a.rto.Round(2)),
		NetProfit:       total,
	}
}

func decFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
