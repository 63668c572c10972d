package sqlguard

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for SQL validation
var (
	promValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlguard_validations_total",
			Help: "Total number of SQL validations by outcome and risk level",
		},
		[]string{"outcome", "risk"},
	)
	promRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlguard_repairs_total",
			Help: "Total number of automatic SQL repairs",
		},
		[]string{"kind"},
	)
	promThreats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlguard_threats_total",
			Help: "Total number of blocklist matches by pattern",
		},
		[]string{"pattern"},
	)
	promDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlguard_validation_duration_milliseconds",
			Help:    "SQL validation duration in milliseconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
		},
	)
	promInternalErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlguard_internal_errors_total",
			Help: "Total number of recovered internal validation errors",
		},
	)
)

func init() {
	prometheus.MustRegister(promValidations)
	prometheus.MustRegister(promRepairs)
	prometheus.MustRegister(promThreats)
	prometheus.MustRegister(promDuration)
	prometheus.MustRegister(promInternalErrors)
}

// Repair kinds used as metric labels.
const (
	RepairOrgFilter = "org_filter"
	RepairLimit     = "limit"
)

func repairKind(warning string) string {
	if strings.HasPrefix(warning, "Added missing organization filter") {
		return RepairOrgFilter
	}
	return RepairLimit
}
