package profitloss

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// UnknownMonth buckets entries without a payment date.
const UnknownMonth = "unknown"

// MonthlyPoint is one bar of the monthly profit chart.
type MonthlyPoint struct {
	Month             string  `json:"month"`
	Label             string  `json:"label"`
	DeliveredProfit   float64 `json:"deliveredProfit"`
	RPUProfit         float64 `json:"rpuProfit"`
	RTOProfit         float64 `json:"rtoProfit"`
	TotalProfit       float64 `json:"totalProfit"`
	DeliveredPayment  float64 `json:"deliveredPayment"`
	DeliveredPurchase float64 `json:"deliveredPurchase"`
	Count             int     `json:"count"`
}

// Summary totals the ledger by status bucket.
type Summary struct {
	TotalProfit     float64 `json:"totalProfit"`
	DeliveredProfit float64 `json:"deliveredProfit"`
	RPUProfit       float64 `json:"rpuProfit"`
	RTOProfit       float64 `json:"rtoProfit"`
	TotalPayment    float64 `json:"totalPayment"`
	TotalPurchase   float64 `json:"totalPurchase"`
	DeliveredCount  int     `json:"deliveredCount"`
	RPUCount        int     `json:"rpuCount"`
	RTOCount        int     `json:"rtoCount"`
	EntryCount      int     `json:"entryCount"`
}

type monthBucket struct {
	delivered, rpu, rto decimal.Decimal
	payment, purchase   decimal.Decimal
	count               int
}

// AggregateByMonth groups non-error entries by payment month. Dated months
// sort ascending and the unknown bucket comes last.
func AggregateByMonth(entries []LedgerEntry) []MonthlyPoint {
	buckets := make(map[string]*monthBucket)
	for _, e := range entries {
		if e.IsError || e.Status == RowStatusError {
			continue
		}
		month := UnknownMonth
		if e.PaymentDate != nil && !e.PaymentDate.IsZero() {
			month = e.PaymentDate.UTC().Format("2006-01")
		}
		b := buckets[month]
		if b == nil {
			b = &monthBucket{}
			buckets[month] = b
		}
		profit := decimal.NewFromFloat(e.Profit)
		switch NormalizeStatus(e.Status) {
		case StatusRTO:
			b.rto = b.rto.Add(profit)
		case StatusRPU:
			b.rpu = b.rpu.Add(profit)
		default:
			b.delivered = b.delivered.Add(profit)
			b.payment = b.payment.Add(decimal.NewFromFloat(e.Payment))
			b.purchase = b.purchase.Add(decimal.NewFromFloat(e.PurchasePrice))
		}
		b.count++
	}

	months := make([]string, 0, len(buckets))
	for m := range buckets {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool {
		if months[i] == UnknownMonth {
			return false
		}
		if months[j] == UnknownMonth {
			return true
		}
		return months[i] < months[j]
	})

	points := make([]MonthlyPoint, 0, len(months))
	for _, m := range months {
		b := buckets[m]
		total := b.delivered.Add(b.rpu).Add(b.rto)
		points = append(points, MonthlyPoint{
			Month:             m,
			Label:             monthLabel(m),
			DeliveredProfit:   decFloat(b.delivered.Round(2)),
			RPUProfit:         decFloat(b.rpu.Round(2)),
			RTOProfit:         decFloat(b.rto.Round(2)),
			TotalProfit:       decFloat(total.Round(2)),
			DeliveredPayment:  decFloat(b.payment.Round(2)),
			DeliveredPurchase: decFloat(b.purchase.Round(2)),
			Count:             b.count,
		})
	}
	return points
}

// Summarize totals non-error entries per status bucket.
func Summarize(entries []LedgerEntry) Summary {
	var delivered, rpu, rto, payment, purchase decimal.Decimal
	var s Summary
	for _, e := range entries {
		if e.IsError || e.Status == RowStatusError {
			continue
		}
		profit := decimal.NewFromFloat(e.Profit)
		switch NormalizeStatus(e.Status) {
		case StatusRTO:
			rto = rto.Add(profit)
			s.RTOCount++
		case StatusRPU:
			rpu = rpu.Add(profit)
			s.RPUCount++
		default:
			delivered = delivered.Add(profit)
			s.DeliveredCount++
		}
		payment = payment.Add(decimal.NewFromFloat(e.Payment))
		purchase = purchase.Add(decimal.NewFromFloat(e.PurchasePrice))
		s.EntryCount++
	}
	s.DeliveredProfit = decFloat(delivered.Round(2))
	s.RPUProfit = decFloat(rpu.Round(2))
	s.RTOProfit = decFloat(rto.Round(2))
	s.TotalProfit = decFloat(delivered.Add(rpu).Add(rto).Round(2))
	s.TotalPayment = decFloat(payment.Round(2))
	s.TotalPurchase = decFloat(purchase.Round(2))
	return s
}

func monthLabel(month string) string {
	if month == UnknownMonth {
		return "Unknown"
	}
	t, ok := parseMonth(month)
	if !ok {
		return month
	}
	return t.Format("Jan 2006")
}

func parseMonth(month string) (time.Time, bool) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
