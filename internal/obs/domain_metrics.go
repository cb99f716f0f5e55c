package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// EstimateTotal counts estimate computations by category.
	EstimateTotal *prometheus.CounterVec
	// PricebookFallbackTotal counts lookups that fell back to a default price.
	PricebookFallbackTotal prometheus.Counter
	// ExportLinesLockedTotal counts lines committed into the export cart,
	// whether by explicit add or by signature-change auto-locking.
	ExportLinesLockedTotal *prometheus.CounterVec
	// SummaryExportTotal counts material summary CSV downloads.
	SummaryExportTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		EstimateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimates_total",
			Help:      "Count of estimate computations by category.",
		}, []string{"category"})
		PricebookFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricebook_fallback_total",
			Help:      "Count of price lookups that substituted a default price.",
		})
		ExportLinesLockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_lines_locked_total",
			Help:      "Count of lines locked into the export cart by cause.",
		}, []string{"cause"})
		SummaryExportTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_exports_total",
			Help:      "Count of material summary CSV exports.",
		})

		mustRegisterCollector(reg, EstimateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				EstimateTotal = v
			}
		})
		mustRegisterCollector(reg, PricebookFallbackTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				PricebookFallbackTotal = v
			}
		})
		mustRegisterCollector(reg, ExportLinesLockedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ExportLinesLockedTotal = v
			}
		})
		mustRegisterCollector(reg, SummaryExportTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				SummaryExportTotal = v
			}
		})
	})
}

// IncEstimate records one estimate computation. Safe to call before
// MustRegisterDomainMetrics, as tests exercising services do.
func IncEstimate(category string) {
	if EstimateTotal != nil {
		EstimateTotal.WithLabelValues(category).Inc()
	}
}

// IncPricebookFallback records one default-price substitution.
func IncPricebookFallback() {
	if PricebookFallbackTotal != nil {
		PricebookFallbackTotal.Inc()
	}
}

// IncLinesLocked records lines locked into the export cart.
func IncLinesLocked(cause string, n int) {
	if ExportLinesLockedTotal != nil && n > 0 {
		ExportLinesLockedTotal.WithLabelValues(cause).Add(float64(n))
	}
}

// IncSummaryExport records one material summary CSV export.
func IncSummaryExport() {
	if SummaryExportTotal != nil {
		SummaryExportTotal.Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
