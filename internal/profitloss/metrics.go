package profitloss

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts reconciliation outcomes.
type Metrics struct {
	rows    *prometheus.CounterVec
	uploads *prometheus.CounterVec
}

// NewMetrics registers the reconciliation collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_profitloss_rows_total",
		Help: "Spreadsheet rows reconciled, partitioned by outcome.",
	}, []string{"outcome"})
	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_profitloss_uploads_total",
		Help: "Spreadsheet uploads processed, partitioned by result.",
	}, []string{"result"})
	registerer.MustRegister(rows, uploads)
	return &Metrics{rows: rows, uploads: uploads}
}

func (m *Metrics) observeRow(outcome RowOutcome) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) observeUpload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}
