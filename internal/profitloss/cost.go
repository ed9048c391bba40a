package profitloss

import (
	"context"
	"fmt"
)

// CostFallback names the policy applied when a product has no purchase
// history.
type CostFallback string

// CostFallbackEvenSplit spreads the catalog price evenly over the bill of
// materials lines.
const CostFallbackEvenSplit CostFallback = "even_split"

const (
	costSourcePurchase = "purchase"
	costSourceFallback = "fallback"
)

// CostCalculator derives the cost basis of a catalog match.
type CostCalculator struct {
	catalog  CatalogReader
	fallback CostFallback
}

// NewCostCalculator constructs a CostCalculator with the even-split fallback.
func NewCostCalculator(catalog CatalogReader) *CostCalculator {
	return &CostCalculator{catalog: catalog, fallback: CostFallbackEvenSplit}
}

// UnitCost sums purchase cost times line quantity over the bill of
// materials.
func (c *CostCalculator) UnitCost(ctx context.Context, match CatalogMatch) (float64, []ProductDetail, error) {
	lines := match.Lines()
	details := make([]ProductDetail, 0, len(lines))
	total := 0.0
	for _, line := range lines {
		if line.Product.ID == 0 && line.Product.Name == "" {
			continue
		}
		unitCost, ok, err := c.catalog.LatestPurchaseUnitCost(ctx, line.Product.ID)
		if err != nil {
			return 0, nil, fmt.Errorf("profitloss: purchase cost for product %d: %w", line.Product.ID, err)
		}
		source := costSourcePurchase
		if !ok {
			unitCost = c.fallbackCost(match, len(lines))
			source = costSourceFallback
		}
		lineCost := unitCost * line.Quantity
		total += lineCost
		details = append(details, ProductDetail{
			ProductID:  line.Product.ID,
			Name:       line.Product.Name,
			Barcode:    line.Product.Barcode,
			Quantity:   line.Quantity,
			UnitCost:   unitCost,
			TotalCost:  lineCost,
			CostSource: source,
		})
	}
	return total, details, nil
}

// OrderCost multiplies the unit cost by the order quantity. A positive
// sheet override replaces the computed unit cost.
func (c *CostCalculator) OrderCost(ctx context.Context, match CatalogMatch, qty, override float64) (float64, []ProductDetail, error) {
	unit, details, err := c.UnitCost(ctx, match)
	if err != nil {
		return 0, nil, err
	}
	if override > 0 {
		return override * qty, details, nil
	}
	return unit * qty, details, nil
}

func (c *CostCalculator) fallbackCost(match CatalogMatch, lines int) float64 {
	switch c.fallback {
	case CostFallbackEvenSplit:
		if lines == 0 {
			return 0
		}
		return match.Price() / float64(lines)
	}
	return 0
}
