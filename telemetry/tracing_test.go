package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestEmitSpanExports(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("bitrunq-test", "test", exporter))

	EmitSpan(Event{
		Kind:      KindDispatch,
		Core:      1,
		Task:      7,
		TaskTrace: "trace-7",
		WaitNS:    10,
	})
	EmitSpan(Event{Kind: KindWakeup, Core: 0, Task: 7, LatencyNS: 25})

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "sched.dispatch", spans[0].Name)
	assert.Equal(t, "sched.wakeup", spans[1].Name)
	var attrs []string
	for _, kv := range spans[0].Attributes {
		attrs = append(attrs, string(kv.Key))
	}
	assert.Contains(t, attrs, "core")
	assert.Contains(t, attrs, "wait_ns")
}
