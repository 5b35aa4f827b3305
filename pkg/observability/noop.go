package observability

import (
	"context"
	"time"
)

// NoopMetrics is a metrics implementation that does nothing. Installed when
// metrics are disabled so call sites never need a nil check.
type NoopMetrics struct{}

func (NoopMetrics) RecordTaskExecution(_ context.Context, _ string, _ time.Duration, _ error) {}
func (NoopMetrics) RecordToolExecution(_ context.Context, _ string, _ time.Duration, _ error) {}
func (NoopMetrics) RecordLLMCall(_ context.Context, _ string, _ time.Duration, _, _ int, _ error) {
}

var _ Metrics = NoopMetrics{}
var _ Metrics = (*PrometheusMetrics)(nil)
