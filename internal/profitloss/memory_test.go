package profitloss

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/textilehq/backoffice/internal/shared"
)

type memoryCatalog struct {
	mu        sync.Mutex
	combos    []Combo
	products  []Product
	purchases map[int64]float64
	failOn    string
	calls     int
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{purchases: map[int64]float64{}}
}

func (c *memoryCatalog) FindCombo(_ context.Context, ident string, mode MatchMode) (Combo, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failOn != "" && ident == c.failOn {
		return Combo{}, false, errors.New("catalog unavailable")
	}
	for _, combo := range c.combos {
		if !combo.IsActive {
			continue
		}
		if matches(mode, ident, combo.Code, combo.Name, combo.Barcode) {
			return combo, true, nil
		}
	}
	return Combo{}, false, nil
}

func (c *memoryCatalog) FindProductByBarcode(_ context.Context, ident string, mode MatchMode) (Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.products {
		if matches(mode, ident, p.Barcode) {
			return p, true, nil
		}
	}
	return Product{}, false, nil
}

func (c *memoryCatalog) FindProductByID(_ context.Context, id int64) (Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.products {
		if p.ID == id {
			return p, true, nil
		}
	}
	return Product{}, false, nil
}

func (c *memoryCatalog) FindComboContainingProduct(_ context.Context, productID int64) (Combo, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, combo := range c.combos {
		for _, line := range combo.Lines {
			if line.Product.ID == productID && combo.IsActive {
				return combo, true, nil
			}
		}
	}
	return Combo{}, false, nil
}

func (c *memoryCatalog) LatestPurchaseUnitCost(_ context.Context, productID int64) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cost, ok := c.purchases[productID]
	return cost, ok, nil
}

func matches(mode MatchMode, ident string, fields ...string) bool {
	for _, f := range fields {
		if f == "" {
			continue
		}
		if mode == MatchExact && f == ident {
			return true
		}
		if mode == MatchContains && strings.Contains(strings.ToLower(f), strings.ToLower(ident)) {
			return true
		}
	}
	return false
}

// seededCatalog holds COMBO-1 = product A (cost 100) + product B (cost 200).
func seededCatalog() *memoryCatalog {
	c := newMemoryCatalog()
	a := Product{ID: 1, Name: "Cotton Saree", Barcode: "BAR-A", Price: 250}
	b := Product{ID: 2, Name: "Silk Dupatta", Barcode: "BAR-B", Price: 400}
	lone := Product{ID: 3, Name: "Loose Kurta", Barcode: "BAR-LONE", Price: 90}
	c.products = []Product{a, b, lone}
	c.combos = []Combo{{
		ID:       10,
		Code:     "COMBO-1",
		Name:     "Festive Pair",
		Barcode:  "CB-0001",
		Price:    650,
		IsActive: true,
		IsMapped: true,
		Lines:    []ComboLine{{Product: a, Quantity: 1}, {Product: b, Quantity: 1}},
	}}
	c.purchases[1] = 100
	c.purchases[2] = 200
	return c
}

type memoryRTO struct {
	mu    sync.Mutex
	items []RTOProduct
	err   error
}

func (m *memoryRTO) RecordRTO(_ context.Context, items []RTOProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, items...)
	return nil
}

type memoryLedger struct {
	memoryRTO
	sheets     map[uuid.UUID]UploadedSheet
	keys       map[uuid.UUID]string
	entries    []LedgerEntry
	commitErr  error
	commits    int
	rangeCalls int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{sheets: map[uuid.UUID]UploadedSheet{}, keys: map[uuid.UUID]string{}}
}

func (m *memoryLedger) BeginUpload(_ context.Context, meta UploadMeta) (StagingHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := meta.UploadDate
	m.keys[meta.UploadID] = meta.IdempotencyKey
	m.sheets[meta.UploadID] = UploadedSheet{
		ID: meta.UploadID, FileName: meta.FileName, UploadDate: meta.UploadDate, UploadedBy: meta.UploadedBy,
		Status: SheetPending, ArchiveKey: meta.ArchiveKey, UploadedData: []SheetRow{}, CreatedAt: now, UpdatedAt: now,
	}
	return StagingHandle{UploadID: meta.UploadID, CreatedAt: now}, nil
}

func (m *memoryLedger) CommitUpload(_ context.Context, handle StagingHandle, sheet UploadedSheet, entries []LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	if m.commitErr != nil {
		return m.commitErr
	}
	current, ok := m.sheets[handle.UploadID]
	if !ok || current.Status != SheetPending {
		return ErrNotStaged
	}
	sheet.CreatedAt = current.CreatedAt
	sheet.UpdatedAt = current.UpdatedAt
	sheet.Status = SheetCompleted
	m.sheets[handle.UploadID] = sheet
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memoryLedger) ListEntries(_ context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []LedgerEntry{}
	for _, e := range m.entries {
		if filter.SKU != "" && !strings.Contains(strings.ToLower(e.SKU), strings.ToLower(filter.SKU)) {
			continue
		}
		if filter.OrderID != "" && !strings.Contains(e.OrderID, filter.OrderID) {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if !inRange(e.PaymentDate, filter.StartDate, filter.EndDate) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memoryLedger) EntriesInRange(_ context.Context, filter RangeFilter) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rangeCalls++
	out := []LedgerEntry{}
	for _, e := range m.entries {
		if filter.StartDate == nil && filter.EndDate == nil {
			out = append(out, e)
			continue
		}
		if e.PaymentDate != nil && inRange(e.PaymentDate, filter.StartDate, filter.EndDate) {
			out = append(out, e)
		}
	}
	return out, nil
}

func inRange(t, start, end *time.Time) bool {
	if start == nil && end == nil {
		return true
	}
	if t == nil {
		return false
	}
	if start != nil && t.Before(*start) {
		return false
	}
	if end != nil && t.After(*end) {
		return false
	}
	return true
}

func (m *memoryLedger) ListUploads(_ context.Context, filter UploadFilter) ([]UploadedSheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []UploadedSheet{}
	for _, s := range m.sheets {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(s.FileName), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UploadDate.After(out[j].UploadDate) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memoryLedger) GetUpload(_ context.Context, id uuid.UUID) (UploadedSheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[id]
	if !ok {
		return UploadedSheet{}, ErrUploadNotFound
	}
	s.UploadedData = append([]SheetRow(nil), s.UploadedData...)
	return s, nil
}

func (m *memoryLedger) UpdateUpload(_ context.Context, id uuid.UUID, status SheetStatus, notes *string) (UploadedSheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[id]
	if !ok {
		return UploadedSheet{}, ErrUploadNotFound
	}
	if status != "" {
		s.Status = status
	}
	if notes != nil {
		s.Notes = *notes
	}
	m.sheets[id] = s
	return s, nil
}

func (m *memoryLedger) SaveSheetRow(_ context.Context, sheet UploadedSheet, row SheetRow, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[sheet.ID]; !ok {
		return ErrUploadNotFound
	}
	m.sheets[sheet.ID] = sheet
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.UploadID == sheet.ID && e.RowNo == row.SNo {
			if deleted {
				continue
			}
			e = EntryFromSheetRow(e, row)
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return nil
}

func (m *memoryLedger) AddSheetRow(_ context.Context, sheet UploadedSheet, entry LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sheets[sheet.ID]
	if !ok || current.Status == SheetPending {
		return ErrUploadNotFound
	}
	m.sheets[sheet.ID] = sheet
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryLedger) DeleteRTO(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.items {
		if it.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return ErrRTONotFound
}

func (m *memoryLedger) DeleteUpload(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[id]; !ok {
		return 0, ErrUploadNotFound
	}
	delete(m.sheets, id)
	deleted := 0
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.UploadID == id {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	items := m.items[:0]
	for _, it := range m.items {
		if it.UploadID != nil && *it.UploadID == id {
			continue
		}
		items = append(items, it)
	}
	m.items = items
	return deleted, nil
}

func (m *memoryLedger) Stats(_ context.Context) (SheetStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := SheetStats{ByStatus: map[string]int{}}
	for _, s := range m.sheets {
		stats.TotalSheets++
		stats.TotalRecords += s.TotalRecords
		stats.SuccessRecords += s.SuccessRecords
		stats.ErrorRecords += s.ErrorRecords
		stats.TotalProfit += s.ProfitSummary.TotalProfit
		stats.ByStatus[string(s.Status)]++
	}
	stats.TotalProfit = Round2(stats.TotalProfit)
	return stats, nil
}

func (m *memoryLedger) ListRTO(_ context.Context, filter RTOFilter) ([]RTOProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []RTOProduct{}
	for _, it := range m.items {
		if filter.Category != "" && it.Category != filter.Category {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(it.ProductName), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (m *memoryLedger) SweepStaging(_ context.Context, cutoff time.Time) (SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res SweepResult
	for id, s := range m.sheets {
		if s.Status == SheetPending && s.CreatedAt.Before(cutoff) {
			delete(m.sheets, id)
			res.Sheets++
			if key := m.keys[id]; key != "" {
				res.Keys = append(res.Keys, key)
			}
		}
	}
	items := m.items[:0]
	for _, it := range m.items {
		if it.UploadID != nil {
			if _, ok := m.sheets[*it.UploadID]; !ok {
				res.Returns++
				continue
			}
		}
		items = append(items, it)
	}
	m.items = items
	kept := m.entries[:0]
	for _, e := range m.entries {
		if _, ok := m.sheets[e.UploadID]; !ok {
			res.Entries++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return res, nil
}

type memoryStage struct {
	mu      sync.Mutex
	staged  map[uuid.UUID]StagedCommit
	saveErr error
}

func newMemoryStage() *memoryStage {
	return &memoryStage{staged: map[uuid.UUID]StagedCommit{}}
}

func (m *memoryStage) Save(_ context.Context, s StagedCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.staged[s.Handle.UploadID] = s
	return nil
}

func (m *memoryStage) Load(_ context.Context, id uuid.UUID) (StagedCommit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.staged[id]
	return s, ok, nil
}

func (m *memoryStage) Drop(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staged, id)
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]string{}
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// gridRows builds rows through the header pipeline.
func gridRows(headers []any, data ...[]any) []Row {
	grid := append([][]any{headers}, data...)
	return BuildRows(grid, DefaultHeaderAliases())
}

func fixedClock() time.Time {
	return time.Date(2024, 2, 10, 9, 30, 0, 0, time.UTC)
}
