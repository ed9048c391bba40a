package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/textilehq/backoffice/internal/app"
	"github.com/textilehq/backoffice/internal/catalog"
)

// catalogSeeder is the part of the catalog service the demo seed uses.
type catalogSeeder interface {
	CreateVendor(ctx context.Context, v catalog.Vendor) (catalog.Vendor, error)
	CreateCategory(ctx context.Context, c catalog.Category) (catalog.Category, error)
	CreateProduct(ctx context.Context, p catalog.Product) (catalog.Product, error)
	CreateCombo(ctx context.Context, c catalog.Combo, actor string) (catalog.Combo, error)
	RecordPurchase(ctx context.Context, p catalog.Purchase, actor string) (catalog.Purchase, error)
}

type seedProduct struct {
	name     string
	barcode  string
	price    float64
	unitCost float64
	qty      float64
}

var demoProducts = []seedProduct{
	{name: "Cotton kurta", barcode: "890100000001", price: 799, unitCost: 420, qty: 40},
	{name: "Palazzo pant", barcode: "890100000002", price: 599, unitCost: 260, qty: 40},
	{name: "Printed dupatta", barcode: "890100000003", price: 299, unitCost: 110, qty: 60},
}

func seedCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load a small demo catalog with stock",
		Action: func(c *cli.Context) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			svcs, err := app.NewServices(c.Context, rt.cfg, rt.logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = svcs.Close() }()
			return seedDemo(c.Context, svcs.Catalog, stdout)
		},
	}
}

func seedDemo(ctx context.Context, svc catalogSeeder, out io.Writer) error {
	const actor = "seed"
	vendor, err := svc.CreateVendor(ctx, catalog.Vendor{Name: "Surat Weaves", Contact: "Accounts desk"})
	if err != nil {
		return fmt.Errorf("seed vendor: %w", err)
	}
	category, err := svc.CreateCategory(ctx, catalog.Category{Name: "Ethnic wear"})
	if err != nil {
		return fmt.Errorf("seed category: %w", err)
	}
	fmt.Fprintf(out, "→ vendor %d, category %d\n", vendor.ID, category.ID)

	purchase := catalog.Purchase{VendorID: &vendor.ID, Reference: "SEED-001"}
	lines := make([]catalog.ComboLine, 0, len(demoProducts))
	for _, sp := range demoProducts {
		p, err := svc.CreateProduct(ctx, catalog.Product{
			Name:       sp.name,
			Barcode:    sp.barcode,
			Price:      sp.price,
			CategoryID: &category.ID,
			VendorID:   &vendor.ID,
		})
		if err != nil {
			return fmt.Errorf("seed product %s: %w", sp.name, err)
		}
		purchase.Lines = append(purchase.Lines, catalog.PurchaseLine{ProductID: p.ID, Quantity: sp.qty, UnitCost: sp.unitCost})
		lines = append(lines, catalog.ComboLine{ProductID: p.ID, Quantity: 1})
		fmt.Fprintf(out, "→ product %d %s\n", p.ID, p.Name)
	}

	combo, err := svc.CreateCombo(ctx, catalog.Combo{
		Code:       "KURTA-SET",
		Name:       "Kurta set",
		Barcode:    "890100000100",
		Price:      1499,
		CategoryID: &category.ID,
		Lines:      lines,
	}, actor)
	if err != nil {
		return fmt.Errorf("seed combo: %w", err)
	}
	fmt.Fprintf(out, "→ combo %d %s\n", combo.ID, combo.Code)

	saved, err := svc.RecordPurchase(ctx, purchase, actor)
	if err != nil {
		return fmt.Errorf("seed purchase: %w", err)
	}
	fmt.Fprintf(out, "→ purchase %d total %.2f\n", saved.ID, saved.TotalAmount)
	return nil
}
