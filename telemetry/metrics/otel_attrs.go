package metrics

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func attrSet(keys, values []string) []attribute.KeyValue {
	n := len(keys)
	if len(values) < n {
		n = len(values)
	}
	kvs := make([]attribute.KeyValue, 0, n)
	for i := 0; i < n; i++ {
		kvs = append(kvs, attribute.String(keys[i], values[i]))
	}
	return kvs
}

type otelStartedTimer struct {
	hist  Histogram
	start time.Time
}

func newStartedTimer(hist Histogram) Timer {
	return &otelStartedTimer{hist: hist, start: time.Now()}
}

func (t *otelStartedTimer) ObserveDuration(labels ...string) {
	t.hist.Observe(time.Since(t.start).Seconds(), labels...)
}
