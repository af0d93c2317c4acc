// Package sotel narrows the OpenTelemetry tracing API
// to what sardine uses, so other packages only import sotel.
package sotel

import (
	"fmt"

	otelattr "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	otelnoop "go.opentelemetry.io/otel/trace/noop"
)

type TracerProvider = oteltrace.TracerProvider

type Tracer = oteltrace.Tracer

type Span = oteltrace.Span

type KeyValueAttr = otelattr.KeyValue

// NopTracerProvider returns the otel no-op tracer provider.
// This is intended to use as a fallback when a nil tracer provider is given.
func NopTracerProvider() TracerProvider {
	return otelnoop.NewTracerProvider()
}

// WithAttributes is an alias to [oteltrace.WithAttributes].
func WithAttributes(attrs ...KeyValueAttr) oteltrace.SpanStartEventOption {
	return oteltrace.WithAttributes(attrs...)
}

// SpanError sets the given span to error status with the given description.
func SpanError(span Span, desc string) {
	span.SetStatus(otelcodes.Error, desc)
}

// AddressAttr returns an attribute formatting a 16-bit mesh address as hex,
// only evaluated if the span is sampled.
func AddressAttr(key string, addr uint16) KeyValueAttr {
	return otelattr.Stringer(key, lazyAddr(addr))
}

type lazyAddr uint16

func (a lazyAddr) String() string {
	return fmt.Sprintf("0x%04x", uint16(a))
}

func IntAttr(key string, v int) KeyValueAttr {
	return otelattr.Int(key, v)
}

func StringAttr(key, v string) KeyValueAttr {
	return otelattr.String(key, v)
}

// SegmentsAttr records a list of segment indices.
func SegmentsAttr(key string, segs []int) KeyValueAttr {
	return otelattr.IntSlice(key, segs)
}
