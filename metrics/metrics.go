package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Source exposes the adapter counters the collector scrapes. Narrow on
// purpose so the collector never reaches into engine internals.
type Source interface {
	ComponentsByState() map[string]int
	InvocationTotals() (invocations, failures uint64)
	ViolationTotal() int
	MemoryCounters() (bytesInUse, peakBytes uint64, activeRegions, sharedRegions int)
	AuditWritten() uint64
}

type collector struct {
	source Source

	components    *prometheus.Desc
	invocations   *prometheus.Desc
	failures      *prometheus.Desc
	violations    *prometheus.Desc
	bytesInUse    *prometheus.Desc
	peakBytes     *prometheus.Desc
	activeRegions *prometheus.Desc
	sharedRegions *prometheus.Desc
	auditWritten  *prometheus.Desc
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.components
	ch <- c.invocations
	ch <- c.failures
	ch <- c.violations
	ch <- c.bytesInUse
	ch <- c.peakBytes
	ch <- c.activeRegions
	ch <- c.sharedRegions
	ch <- c.auditWritten
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for state, count := range c.source.ComponentsByState() {
		ch <- prometheus.MustNewConstMetric(c.components, prometheus.GaugeValue, float64(count), state)
	}

	invocations, failures := c.source.InvocationTotals()
	ch <- prometheus.MustNewConstMetric(c.invocations, prometheus.CounterValue, float64(invocations))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(failures))
	ch <- prometheus.MustNewConstMetric(c.violations, prometheus.CounterValue, float64(c.source.ViolationTotal()))

	bytesInUse, peakBytes, activeRegions, sharedRegions := c.source.MemoryCounters()
	ch <- prometheus.MustNewConstMetric(c.bytesInUse, prometheus.GaugeValue, float64(bytesInUse))
	ch <- prometheus.MustNewConstMetric(c.peakBytes, prometheus.GaugeValue, float64(peakBytes))
	ch <- prometheus.MustNewConstMetric(c.activeRegions, prometheus.GaugeValue, float64(activeRegions))
	ch <- prometheus.MustNewConstMetric(c.sharedRegions, prometheus.GaugeValue, float64(sharedRegions))

	ch <- prometheus.MustNewConstMetric(c.auditWritten, prometheus.CounterValue, float64(c.source.AuditWritten()))
}

// NewCollector builds a prometheus collector over an adapter's
// counters. Register it on whichever registry serves the host's
// scrape endpoint.
func NewCollector(source Source) prometheus.Collector {
	return &collector{
		source: source,
		components: prometheus.NewDesc(
			"enclave_components",
			"Registered components by lifecycle state",
			[]string{"state"}, nil,
		),
		invocations: prometheus.NewDesc(
			"enclave_invocations_total",
			"Method invocations across all components",
			nil, nil,
		),
		failures: prometheus.NewDesc(
			"enclave_invocation_failures_total",
			"Failed method invocations across all components",
			nil, nil,
		),
		violations: prometheus.NewDesc(
			"enclave_security_violations_total",
			"Security violations recorded across all components",
			nil, nil,
		),
		bytesInUse: prometheus.NewDesc(
			"enclave_memory_bytes_in_use",
			"Bytes currently allocated across all regions",
			nil, nil,
		),
		peakBytes: prometheus.NewDesc(
			"enclave_memory_peak_bytes",
			"Highest observed allocation watermark",
			nil, nil,
		),
		activeRegions: prometheus.NewDesc(
			"enclave_memory_regions_active",
			"Live regions in the arena",
			nil, nil,
		),
		sharedRegions: prometheus.NewDesc(
			"enclave_memory_regions_shared",
			"Live regions shared with at least one borrower",
			nil, nil,
		),
		auditWritten: prometheus.NewDesc(
			"enclave_audit_events_written_total",
			"Audit events ever recorded, including overwritten ones",
			nil, nil,
		),
	}
}

// Register registers the collector on the default registry.
func Register(source Source) error {
	return prometheus.Register(NewCollector(source))
}
