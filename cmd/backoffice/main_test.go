package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/textilehq/backoffice/internal/app"
	"github.com/textilehq/backoffice/internal/catalog"
	"github.com/textilehq/backoffice/jobs"
	_ "github.com/textilehq/backoffice/testing"
)

func TestMainSkipsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}

func TestJobsTriggerAndStats(t *testing.T) {
	mr := miniredis.RunT(t)
	var out bytes.Buffer
	cliApp := newApp(&out)

	err := cliApp.RunContext(t.Context(), []string{"backoffice", "jobs", "--redis-addr", mr.Addr(), "trigger", jobs.TaskStagingSweep})
	require.NoError(t, err)
	require.Contains(t, out.String(), "enqueued "+jobs.TaskStagingSweep)

	err = cliApp.RunContext(t.Context(), []string{"backoffice", "jobs", "--redis-addr", mr.Addr(), "trigger"})
	require.Error(t, err)

	err = cliApp.RunContext(t.Context(), []string{"backoffice", "jobs", "--redis-addr", mr.Addr(), "trigger", "ledger:rebuild"})
	require.Error(t, err)
}

func TestJobsStatsEmptyQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	var out bytes.Buffer

	err := newApp(&out).RunContext(t.Context(), []string{"backoffice", "jobs", "--redis-addr", mr.Addr(), "stats", "--json"})
	require.NoError(t, err)

	var stats jobs.QueueStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	require.Equal(t, jobs.QueueDefault, stats.Queue)
	require.Zero(t, stats.Pending)
}

type recordingSeeder struct {
	nextID    int64
	products  []catalog.Product
	combo     catalog.Combo
	purchases []catalog.Purchase
}

func (s *recordingSeeder) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *recordingSeeder) CreateVendor(_ context.Context, v catalog.Vendor) (catalog.Vendor, error) {
	v.ID = s.id()
	return v, nil
}

func (s *recordingSeeder) CreateCategory(_ context.Context, c catalog.Category) (catalog.Category, error) {
	c.ID = s.id()
	return c, nil
}

func (s *recordingSeeder) CreateProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	p.ID = s.id()
	s.products = append(s.products, p)
	return p, nil
}

func (s *recordingSeeder) CreateCombo(_ context.Context, c catalog.Combo, _ string) (catalog.Combo, error) {
	c.ID = s.id()
	s.combo = c
	return c, nil
}

func (s *recordingSeeder) RecordPurchase(_ context.Context, p catalog.Purchase, _ string) (catalog.Purchase, error) {
	p.ID = s.id()
	for _, l := range p.Lines {
		p.TotalAmount += l.Quantity * l.UnitCost
	}
	s.purchases = append(s.purchases, p)
	return p, nil
}

func TestSeedDemoBuildsMappedCombo(t *testing.T) {
	seeder := &recordingSeeder{}
	var out bytes.Buffer

	require.NoError(t, seedDemo(t.Context(), seeder, &out))
	require.Len(t, seeder.products, len(demoProducts))
	require.Len(t, seeder.combo.Lines, len(demoProducts))
	require.Equal(t, "KURTA-SET", seeder.combo.Code)
	require.Len(t, seeder.purchases, 1)
	require.Equal(t, 40*420.0+40*260.0+60*110.0, seeder.purchases[0].TotalAmount)
	require.Contains(t, out.String(), "combo")
}
