package profitloss

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsCountRowOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	r := NewReconciler(DefaultReconcilerConfig(), seededCatalog(), nil, nil, metrics)
	rows := gridRows(settlementHeaders,
		[]any{"A-1", "COMBO-1", 1, 500, "Delivered", "2024-01-15"},
		[]any{"A-2", "UNKNOWN-X", 1, 500, "Delivered", "2024-01-15"},
	)
	_, err := r.Reconcile(context.Background(), ReconcileInput{Rows: rows})
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.rows.WithLabelValues(string(OutcomeResolved))))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.rows.WithLabelValues(string(OutcomeCatalogMissing))))

	var nilMetrics *Metrics
	nilMetrics.observeUpload("committed")
}
