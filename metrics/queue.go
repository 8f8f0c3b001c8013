package metrics

// Names of the metrics recorded by queue clients and consumers.
const (
	MessagesPushed          = "messages_pushed_total"
	MessagesLeased          = "messages_leased_total"
	MessagesDeleted         = "messages_deleted_total"
	DecodeFailures          = "decode_failures_total"
	PoisonQuarantined       = "poison_quarantined_total"
	PoisonRemoved           = "poison_removed_total"
	PoisonSideEffectFailure = "poison_side_effect_failures_total"
	HandlerFailures         = "handler_failures_total"
	QueueDepth              = "queue_depth"
	OperationDuration       = "operation_duration_seconds"
)

// QueueMetrics returns the metric set used by the queue client and consumer.
// Every metric is labelled by queue; the duration histogram also by operation.
func QueueMetrics() []CustomMetric {
	return []CustomMetric{
		{Name: MessagesPushed, Description: "Messages enqueued to the source queue", Type: Counter, Labels: []string{"queue"}},
		{Name: MessagesLeased, Description: "Messages leased from the source queue", Type: Counter, Labels: []string{"queue"}},
		{Name: MessagesDeleted, Description: "Messages acknowledged by delete", Type: Counter, Labels: []string{"queue"}},
		{Name: DecodeFailures, Description: "Payloads that could not be decoded", Type: Counter, Labels: []string{"queue"}},
		{Name: PoisonQuarantined, Description: "Poison payloads copied to the quarantine queue", Type: Counter, Labels: []string{"queue"}},
		{Name: PoisonRemoved, Description: "Poison messages deleted from the source queue", Type: Counter, Labels: []string{"queue"}},
		{Name: PoisonSideEffectFailure, Description: "Suppressed failures while quarantining or removing poison messages", Type: Counter, Labels: []string{"queue", "step"}},
		{Name: HandlerFailures, Description: "Consumer handler errors and panics", Type: Counter, Labels: []string{"queue"}},
		{Name: QueueDepth, Description: "Approximate number of messages in the queue", Type: Gauge, Labels: []string{"queue"}},
		{
			Name:        OperationDuration,
			Description: "Duration of queue client operations",
			Type:        Histogram,
			Labels:      []string{"queue", "operation"},
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	}
}

// NewQueueCollector returns a collector with QueueMetrics registered.
func NewQueueCollector(namespace string) (*PrometheusCollector, error) {
	collector := NewPrometheusCollector(namespace)
	if err := collector.RegisterCustomMetrics(QueueMetrics()...); err != nil {
		return nil, err
	}
	return collector, nil
}
