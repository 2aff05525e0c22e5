package tracer

import (
	"fmt"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
)

// Inject writes the context into carrier and marks the originating node as a
// Producer carrying the freshly minted correlation id. TextMap and HTTPHeaders
// share one encoding; other formats are rejected.
func (t *Tracer) Inject(sm opentracing.SpanContext, format interface{}, carrier interface{}) error {
	ctx := asSpanContext(sm)
	if ctx == nil {
		logrus.WithField("context", fmt.Sprintf("%T", sm)).Error("apmtrace couldn't inject foreign span context")
		return opentracing.ErrInvalidSpanContext
	}
	if carrier == nil {
		logrus.Error("apmtrace couldn't inject into nil carrier")
		return opentracing.ErrInvalidCarrier
	}

	switch format {
	case opentracing.TextMap, opentracing.HTTPHeaders:
	default:
		logrus.WithField("format", format).Error("apmtrace couldn't inject unknown format")
		return opentracing.ErrUnsupportedFormat
	}

	writer, ok := carrier.(opentracing.TextMapWriter)
	if !ok {
		logrus.WithField("carrier", fmt.Sprintf("%T", carrier)).Error("apmtrace couldn't inject into non key-value carrier")
		return opentracing.ErrInvalidCarrier
	}

	if isNilCarrier(writer) {
		logrus.WithField("carrier", fmt.Sprintf("%T", carrier)).Error("apmtrace couldn't inject into nil carrier")
		return opentracing.ErrInvalidCarrier
	}

	correlationID := t.newID()
	if err := writeCarrier(writer, ctx, correlationID); err != nil {
		return err
	}
	t.metrics.Injects.Inc()

	if ctx.trace == nil {
		logrus.WithField("span_id", ctx.spanID).Warn("apmtrace injected a context without trace, no producer node marked")
		return nil
	}
	ctx.trace.SetNodeType(NodeProducer, ctx.spanID, CorrelationID{Value: correlationID, Scope: ScopeInteraction})
	return nil
}

// isNilCarrier catches typed nil maps, which satisfy TextMapWriter but panic
// on Set.
func isNilCarrier(writer opentracing.TextMapWriter) bool {
	switch c := writer.(type) {
	case opentracing.TextMapCarrier:
		return c == nil
	case opentracing.HTTPHeadersCarrier:
		return c == nil
	}
	return false
}

// writeCarrier encodes ctx into writer; a panicking writer yields
// ErrInvalidCarrier.
func writeCarrier(writer opentracing.TextMapWriter, ctx *SpanContext, correlationID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", fmt.Sprint(r)).Error("apmtrace couldn't write carrier")
			err = opentracing.ErrInvalidCarrier
		}
	}()
	writer.Set(CarrierTraceID, ctx.traceID)
	writer.Set(CarrierCorrelationID, correlationID)
	if txn := ctx.Transaction(); txn != "" {
		writer.Set(CarrierTransaction, txn)
	}
	if level := ctx.Level(); level != LevelUnset {
		writer.Set(CarrierLevel, string(level))
	}
	return nil
}

// Extract reads a carrier into a new parent-less context that is not attached
// to any trace. Unknown formats yield an empty context.
func (t *Tracer) Extract(format interface{}, carrier interface{}) (opentracing.SpanContext, error) {
	switch format {
	case opentracing.TextMap, opentracing.HTTPHeaders:
	default:
		logrus.WithField("format", format).Error("apmtrace couldn't extract unknown format")
		return NewSpanContext("", "", "", "", LevelUnset), opentracing.ErrUnsupportedFormat
	}

	reader, ok := carrier.(opentracing.TextMapReader)
	if !ok || carrier == nil {
		logrus.WithField("carrier", fmt.Sprintf("%T", carrier)).Error("apmtrace couldn't extract from non key-value carrier")
		return NewSpanContext("", "", "", "", LevelUnset), opentracing.ErrInvalidCarrier
	}

	var correlationID, traceID, transaction, level string
	err := reader.ForeachKey(func(key, val string) error {
		switch strings.ToUpper(key) {
		case CarrierCorrelationID:
			correlationID = val
		case CarrierTraceID:
			traceID = val
		case CarrierTransaction:
			transaction = val
		case CarrierLevel:
			level = val
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).Error("apmtrace couldn't read carrier")
		return NewSpanContext("", "", "", "", LevelUnset), opentracing.ErrSpanContextCorrupted
	}

	ctx := NewSpanContext(t.newID(), traceID, "", transaction, ReportingLevel(level))
	ctx.SetConsumerCorrelationID(correlationID)
	t.metrics.Extracts.Inc()
	return ctx, nil
}
