// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package katatrace

import (
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	otelTrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// kataSpanExporter is used to ensure that Jaeger logs each span.
type kataSpanExporter struct{}

var _ sdktrace.SpanExporter = (*kataSpanExporter)(nil)

// ExportSpans reports each span to the trace logger.
func (e *kataSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		kataTraceLogger.Tracef("Reporting span %s (%s)", span.Name(), span.SpanContext().SpanID())
	}
	return nil
}

func (e *kataSpanExporter) Shutdown(ctx context.Context) error {
	return nil
}

// tracerCloser contains a copy of the closer returned by CreateTracer() which
// is used by StopTracing().
var tracerCloser func()

var kataTraceLogger = logrus.NewEntry(logrus.New())

// tracing determines whether tracing is enabled.
var tracing bool

// SetTracing turns tracing on or off. Called by the configuration.
func SetTracing(isTracing bool) {
	tracing = isTracing
}

// SetLogger sets the logger used to report trace bugs and exported spans.
func SetLogger(logger *logrus.Entry) {
	fields := kataTraceLogger.Data
	kataTraceLogger = logger.WithFields(fields)
}

// JaegerConfig defines necessary Jaeger config for exporting traces.
type JaegerConfig struct {
	JaegerEndpoint string
	JaegerUser     string
	JaegerPassword string
}

// CreateTracer create a tracer
func CreateTracer(name string, config *JaegerConfig) (func(), error) {
	if !tracing {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func() {}, nil
	}

	// build kata exporter to log reporting span records
	kataExporter := &kataSpanExporter{}

	// build jaeger exporter
	collectorEndpoint := config.JaegerEndpoint
	if collectorEndpoint == "" {
		collectorEndpoint = "http://localhost:14268/api/traces"
	}

	jaegerExporter, err := jaeger.New(
		jaeger.WithCollectorEndpoint(
			jaeger.WithEndpoint(collectorEndpoint),
			jaeger.WithUsername(config.JaegerUser),
			jaeger.WithPassword(config.JaegerPassword),
		),
	)
	if err != nil {
		return nil, err
	}

	// build tracer provider, that combining both jaeger exporter and kata exporter.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(kataExporter),
		sdktrace.WithSyncer(jaegerExporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", name),
			attribute.String("exporter", "jaeger"),
			attribute.String("lib", "opentelemetry"),
		)),
	)

	tracerCloser = func() {
		_ = tp.Shutdown(context.Background())
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tracerCloser, nil
}

// StopTracing ends all tracing, reporting the spans to the collector.
func StopTracing(ctx context.Context) {
	if !tracing {
		return
	}

	span := otelTrace.SpanFromContext(ctx)
	if span != nil {
		span.End()
	}

	// report all possible spans to the collector
	if tracerCloser != nil {
		tracerCloser()
	}
}

// Trace creates a new tracing span based on the specified name and parent context.
// It also accepts a logger to record nil context errors and a map of tracing tags.
// Tracing tag keys and values are strings.
func Trace(parent context.Context, logger *logrus.Entry, name string, tags ...map[string]string) (otelTrace.Span, context.Context) {
	if parent == nil {
		if logger == nil {
			logger = kataTraceLogger
		}
		logger.WithField("type", "bug").Error("trace called before context set")
		parent = context.Background()
	}

	var otelTags []attribute.KeyValue
	// do not append tags if tracing is disabled
	if tracing {
		for _, tagSet := range tags {
			for k, v := range tagSet {
				otelTags = append(otelTags, attribute.String(k, v))
			}
		}
	}

	tracer := otel.Tracer("kata")
	ctx, span := tracer.Start(parent, name, otelTrace.WithAttributes(otelTags...))

	// When tracing is disabled spans are still created, but by a NOP
	// tracer, so only log when tracing is really enabled.
	if tracing {
		kataTraceLogger.Debugf("created span %s", name)
	}

	return span, ctx
}

func tagValue(key string, value interface{}) (attribute.KeyValue, bool) {
	if value == nil {
		return attribute.String(key, "nil"), true
	}

	switch value := value.(type) {
	case string:
		return attribute.String(key, value), true
	case bool:
		return attribute.Bool(key, value), true
	case int:
		return attribute.Int(key, value), true
	case int8:
		return attribute.Int64(key, int64(value)), true
	case int16:
		return attribute.Int64(key, int64(value)), true
	case int32:
		return attribute.Int64(key, int64(value)), true
	case int64:
		return attribute.Int64(key, value), true
	case uint:
		return tagValue(key, uint64(value))
	case uint8:
		return attribute.Int64(key, int64(value)), true
	case uint16:
		return attribute.Int64(key, int64(value)), true
	case uint32:
		return attribute.Int64(key, int64(value)), true
	case uint64:
		if value > math.MaxInt64 {
			return attribute.String(key, strconv.FormatUint(value, 10)), true
		}
		return attribute.Int64(key, int64(value)), true
	case float32:
		return attribute.Float64(key, float64(value)), true
	case float64:
		return attribute.Float64(key, value), true
	}

	content, err := json.Marshal(value)
	if err != nil {
		return attribute.KeyValue{}, false
	}
	if content == nil {
		return attribute.String(key, "nil"), true
	}
	return attribute.String(key, string(content)), true
}

func addTag(span otelTrace.Span, key string, value interface{}) {
	// do not append tags if tracing is disabled
	if !tracing {
		return
	}

	kv, ok := tagValue(key, value)
	if !ok {
		kataTraceLogger.WithField("type", "bug").Error("span attribute value error")
		return
	}
	span.SetAttributes(kv)
}

// AddTags adds additional key-value pairs to a tracing span. This can be used to provide
// dynamic tags that are determined at runtime and tags with a non-string value.
// Must have an even number of keyValues with keys being strings.
func AddTags(span otelTrace.Span, keyValues ...interface{}) {
	if !tracing {
		return
	}
	if len(keyValues) < 2 {
		kataTraceLogger.WithField("type", "bug").Error("not enough inputs for attributes")
		return
	} else if len(keyValues)%2 != 0 {
		kataTraceLogger.WithField("type", "bug").Error("number of attribute keyValues is not even")
		return
	}
	for i := 0; i < len(keyValues); i += 2 {
		if key, ok := keyValues[i].(string); ok {
			addTag(span, key, keyValues[i+1])
		} else {
			kataTraceLogger.WithField("type", "bug").Error("key in attributes is not a string")
		}
	}
}
