package core

import "go.opentelemetry.io/otel/trace"

// tracerName is the instrumentation scope every span in this module is
// recorded under; the core never configures an exporter (spec §1 keeps
// observability backends external), only a Tracer.
const tracerName = "github.com/agentcoredev/runtime"

var tracer = trace.NewNoopTracerProvider().Tracer(tracerName)

// Tracer returns the module-wide tracer. A caller may install a real
// TracerProvider via SetTracerProvider; cmd/runtimed does not, so by
// default spans are recorded by a no-op provider and the core works
// correctly with zero external wiring.
func Tracer() trace.Tracer { return tracer }

// SetTracerProvider lets the entrypoint install a real exporter-backed
// provider without the core importing any specific exporter.
func SetTracerProvider(tp trace.TracerProvider) {
	tracer = tp.Tracer(tracerName)
}
