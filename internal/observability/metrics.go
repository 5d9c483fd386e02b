package observability

// Metrics provides counters, gauges, and histogram recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Metric names emitted by the pipeline. Kept in one place so dashboards and
// tests agree on spelling.
const (
	MetricParseFailures    = "arbwatch_parse_failures_total"
	MetricDiscardedRecords = "arbwatch_discarded_records_total"
	MetricStaleReads       = "arbwatch_snapshot_stale_reads_total"
	MetricMissingReads     = "arbwatch_snapshot_missing_reads_total"
	MetricReconnects       = "arbwatch_provider_reconnects_total"
	MetricProviderUp       = "arbwatch_provider_up"
	MetricOpportunities    = "arbwatch_opportunities_total"
	MetricSignals          = "arbwatch_signals_total"
	MetricNotifySkips      = "arbwatch_notify_skips_total"
	MetricNotifyQueued     = "arbwatch_notify_queued_total"
	MetricNotifyBuffered   = "arbwatch_notify_buffered_total"
	MetricDeliverySends    = "arbwatch_delivery_sends_total"
	MetricDeliveryFailures = "arbwatch_delivery_failures_total"
	MetricScanSkipped      = "arbwatch_scan_ticks_skipped_total"
)

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string)       {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)         {}
