package profitloss

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cast"
	"golang.org/x/text/unicode/norm"
)

// Cell is a single header/value pair of a spreadsheet row.
type Cell struct {
	Header string
	Value  any
}

// Row keeps the cells of one data row in column order.
type Row []Cell

// Headers lists the row headers in column order.
func (r Row) Headers() []string {
	out := make([]string, 0, len(r))
	for _, c := range r {
		out = append(out, c.Header)
	}
	return out
}

// Get returns the value stored under the exact header.
func (r Row) Get(header string) (any, bool) {
	for _, c := range r {
		if c.Header == header {
			return c.Value, true
		}
	}
	return nil, false
}

// Map flattens the row for persistence as the raw snapshot.
func (r Row) Map() map[string]any {
	out := make(map[string]any, len(r))
	for _, c := range r {
		out[c.Header] = c.Value
	}
	return out
}

// MarshalJSON encodes the row as an object.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// UnmarshalJSON decodes an object snapshot. Column order is not preserved;
// cells come back sorted by header.
func (r *Row) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	headers := make([]string, 0, len(m))
	for h := range m {
		headers = append(headers, h)
	}
	sort.Strings(headers)
	out := make(Row, 0, len(headers))
	for _, h := range headers {
		out = append(out, Cell{Header: h, Value: m[h]})
	}
	*r = out
	return nil
}

// HeaderAliases configures which column names map to each logical field.
// Aliases are tried in order; earlier entries win.
type HeaderAliases struct {
	SKU           []string `json:"sku"`
	OrderID       []string `json:"orderId"`
	Quantity      []string `json:"quantity"`
	Payment       []string `json:"payment"`
	PurchasePrice []string `json:"purchasePrice"`
	Profit        []string `json:"profit"`
	Status        []string `json:"status"`
	Date          []string `json:"date"`

	// HeaderVocabulary lists fragments used to score candidate header rows.
	HeaderVocabulary []string `json:"headerVocabulary"`
	// HeaderScanRows bounds how many leading rows are considered as header.
	HeaderScanRows int `json:"headerScanRows"`
}

// DefaultHeaderAliases returns the marketplace settlement template.
func DefaultHeaderAliases() HeaderAliases {
	return HeaderAliases{
		SKU:              []string{"SKU", "sku", "skuid", "barcode", "product", "product(s)"},
		OrderID:          []string{"Orderid", "order id", "order", "invoice"},
		Quantity:         []string{"Quantity", "Qty", "quantity", "qty"},
		Payment:          []string{"Payment", "payment", "amount", "total", "price", "sold", "sold price"},
		PurchasePrice:    []string{"PurchasePrice", "purchaseprice", "original cost", "purchase price", "cost"},
		Profit:           []string{"Profit", "profit", "profit/loss", "profitloss"},
		Status:           []string{"Status", "status", "orderstatus", "paymentstatus", "statusofproduct"},
		Date:             []string{"payment date", "paymentdate", "order date", "orderdate", "date", "dispatch date"},
		HeaderVocabulary: []string{"sku", "skuid", "barcode", "order", "orderid", "quantity", "qty", "payment", "purchaseprice", "profit"},
		HeaderScanRows:   6,
	}
}

func (h HeaderAliases) scanRows() int {
	if h.HeaderScanRows <= 0 {
		return 6
	}
	return h.HeaderScanRows
}

// NormalizeKey folds a header for comparison: NFKD, lower case, and only
// ASCII letters and digits kept.
func NormalizeKey(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CellCheck reports whether a cell is a plausible value for a field.
type CellCheck func(Cell) bool

// FindColumn resolves the first non-empty value matching the aliases. For
// each alias an exact normalized match is preferred; otherwise the shortest
// containing header is used so column order never changes the result.
func FindColumn(row Row, aliases []string) (any, bool) {
	return FindColumnWhere(row, aliases, nil)
}

// FindColumnWhere is FindColumn with containing-header candidates filtered
// by valid. Exact matches are taken as is. When no candidate passes for any
// alias, the unfiltered shortest containing header is used.
func FindColumnWhere(row Row, aliases []string, valid CellCheck) (any, bool) {
	keys := make([]string, len(row))
	for i, c := range row {
		keys[i] = NormalizeKey(c.Header)
	}
	if i, ok := matchColumn(row, keys, aliases, valid); ok {
		return row[i].Value, true
	}
	if valid == nil {
		return nil, false
	}
	if i, ok := matchColumn(row, keys, aliases, nil); ok {
		return row[i].Value, true
	}
	return nil, false
}

func matchColumn(row Row, keys, aliases []string, valid CellCheck) (int, bool) {
	for _, alias := range aliases {
		nk := NormalizeKey(alias)
		if nk == "" {
			continue
		}
		exact := -1
		for i, k := range keys {
			if k == nk && !isBlank(row[i].Value) && (exact < 0 || row[i].Header < row[exact].Header) {
				exact = i
			}
		}
		if exact >= 0 {
			return exact, true
		}
		candidates := make([]int, 0, 2)
		for i, k := range keys {
			if k == nk || !strings.Contains(k, nk) || isBlank(row[i].Value) {
				continue
			}
			if valid != nil && !valid(row[i]) {
				continue
			}
			candidates = append(candidates, i)
		}
		if len(candidates) == 0 {
			continue
		}
		sort.SliceStable(candidates, func(a, b int) bool {
			ka, kb := keys[candidates[a]], keys[candidates[b]]
			if len(ka) != len(kb) {
				return len(ka) < len(kb)
			}
			if ka != kb {
				return ka < kb
			}
			return row[candidates[a]].Header < row[candidates[b]].Header
		})
		return candidates[0], true
	}
	return -1, false
}

// NumericCell accepts non-zero amounts from columns that are not dates.
// Spreadsheet dates arrive as serial numbers, so a date-named header is
// rejected regardless of its value.
func NumericCell(c Cell) bool {
	return !dateCell(c) && ParseNumber(c.Value) != 0
}

// IdentifierCell accepts any value from a column that is not a date.
func IdentifierCell(c Cell) bool {
	return !dateCell(c)
}

func dateCell(c Cell) bool {
	key := NormalizeKey(c.Header)
	if strings.Contains(key, "date") || strings.Contains(key, "time") {
		return true
	}
	switch v := c.Value.(type) {
	case time.Time, *time.Time:
		return true
	case string:
		s := strings.TrimSpace(v)
		if numericPattern.MatchString(s) {
			return false
		}
		_, ok := parseDateText(s)
		return ok
	}
	return false
}

// DetectHeaderRow scores the leading rows by vocabulary hits. The best row
// wins, ties go to the earliest; a zero score means row 0.
func DetectHeaderRow(grid [][]any, cfg HeaderAliases) (int, int) {
	limit := cfg.scanRows()
	if limit > len(grid) {
		limit = len(grid)
	}
	vocab := make([]string, 0, len(cfg.HeaderVocabulary))
	for _, v := range cfg.HeaderVocabulary {
		if nv := NormalizeKey(v); nv != "" {
			vocab = append(vocab, nv)
		}
	}
	best, bestScore := 0, 0
	for i := 0; i < limit; i++ {
		score := 0
		for _, cell := range grid[i] {
			n := NormalizeKey(cellText(cell))
			if n == "" {
				continue
			}
			for _, v := range vocab {
				if strings.Contains(n, v) {
					score++
					break
				}
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore
}

// BuildRows turns a decoded grid into rows keyed by the detected header.
func BuildRows(grid [][]any, cfg HeaderAliases) []Row {
	if len(grid) == 0 {
		return nil
	}
	headerIdx, _ := DetectHeaderRow(grid, cfg)
	width := 0
	for _, r := range grid[headerIdx:] {
		if len(r) > width {
			width = len(r)
		}
	}
	headers := uniqueHeaders(grid[headerIdx], width)

	rows := make([]Row, 0, len(grid)-headerIdx-1)
	for _, raw := range grid[headerIdx+1:] {
		row := make(Row, width)
		empty := true
		for i := 0; i < width; i++ {
			var v any = ""
			if i < len(raw) && raw[i] != nil {
				v = raw[i]
			}
			if !isBlank(v) {
				empty = false
			}
			row[i] = Cell{Header: headers[i], Value: v}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows
}

func uniqueHeaders(headerRow []any, width int) []string {
	headers := make([]string, width)
	seen := make(map[string]int, width)
	for i := 0; i < width; i++ {
		h := ""
		if i < len(headerRow) {
			h = strings.TrimSpace(cellText(headerRow[i]))
		}
		if h == "" {
			h = fmt.Sprintf("col%d", i)
		}
		if n, ok := seen[h]; ok {
			seen[h] = n + 1
			h = fmt.Sprintf("%s_%d", h, n+1)
		} else {
			seen[h] = 1
		}
		headers[i] = h
	}
	return headers
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return cast.ToString(t)
	}
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}
