package tracer

import (
	"errors"
	"net/http"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	r "github.com/stretchr/testify/require"
)

func TestPropagation_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		format  interface{}
		carrier func() interface{}
	}{
		{"text map", opentracing.TextMap, func() interface{} { return opentracing.TextMapCarrier{} }},
		{"http headers", opentracing.HTTPHeaders, func() interface{} { return opentracing.HTTPHeadersCarrier(http.Header{}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := mockNewTracer()
			span := tr.StartSpanWithOptions("a", SpanOptions{})
			span.SetTag(TagTransaction, "checkout")
			span.SetTag(TagSamplingPriority, 1)

			carrier := tt.carrier()
			r.NoError(t, tr.Inject(span.Context(), tt.format, carrier))
			got, err := tr.Extract(tt.format, carrier)
			r.NoError(t, err)

			ctx := got.(*SpanContext)
			r.Equal(t, span.TraceID(), ctx.TraceID())
			r.Equal(t, "checkout", ctx.Transaction())
			r.Equal(t, LevelAll, ctx.Level())
			r.True(t, ctx.IsExtracted())
			r.Nil(t, ctx.Trace())
			r.Empty(t, ctx.ParentID())
			r.NotEmpty(t, ctx.SpanID())
			r.NotEqual(t, span.SpanID(), ctx.SpanID())

			// 每次 inject 都生成新的 correlation id
			corrID, _ := ctx.ConsumerCorrelationID()
			r.NoError(t, tr.Inject(span.Context(), tt.format, carrier))
			again, err := tr.Extract(tt.format, carrier)
			r.NoError(t, err)
			againID, _ := again.(*SpanContext).ConsumerCorrelationID()
			r.NotEqual(t, corrID, againID)

			n := span.SpanContext().Trace().FindNode(span.SpanID())
			r.Equal(t, NodeProducer, n.Type())
			r.Equal(t, []CorrelationID{
				{Value: corrID, Scope: ScopeInteraction},
				{Value: againID, Scope: ScopeInteraction},
			}, n.CorrelationIDs())
		})
	}
}

func TestPropagation_InjectOmitsUnset(t *testing.T) {
	tr, _ := mockNewTracer()
	span := tr.StartSpanWithOptions("a", SpanOptions{})

	carrier := opentracing.TextMapCarrier{}
	r.NoError(t, tr.Inject(span.Context(), opentracing.TextMap, carrier))
	r.Len(t, carrier, 2)
	r.Equal(t, span.TraceID(), carrier[CarrierTraceID])
	r.NotEmpty(t, carrier[CarrierCorrelationID])
}

func TestPropagation_ExtractCaseInsensitive(t *testing.T) {
	tr, _ := mockNewTracer()
	carrier := opentracing.TextMapCarrier{
		"hwkapmtraceid": "t1",
		"HwkApmId":      "c1",
		"hwkapmTXN":     "checkout",
		"HWKAPMLEVEL":   "Ignore",
		"other":         "ignored",
	}

	got, err := tr.Extract(opentracing.TextMap, carrier)
	r.NoError(t, err)
	ctx := got.(*SpanContext)
	r.Equal(t, "t1", ctx.TraceID())
	r.Equal(t, "checkout", ctx.Transaction())
	r.Equal(t, LevelIgnore, ctx.Level())
	corrID, extracted := ctx.ConsumerCorrelationID()
	r.True(t, extracted)
	r.Equal(t, "c1", corrID)
}

func TestPropagation_InjectErrors(t *testing.T) {
	tr, _ := mockNewTracer()
	span := tr.StartSpanWithOptions("a", SpanOptions{})
	foreign := opentracing.NoopTracer{}.StartSpan("noop").Context()

	r.ErrorIs(t, tr.Inject(foreign, opentracing.TextMap, opentracing.TextMapCarrier{}), opentracing.ErrInvalidSpanContext)
	r.ErrorIs(t, tr.Inject(span.Context(), opentracing.TextMap, nil), opentracing.ErrInvalidCarrier)
	r.ErrorIs(t, tr.Inject(span.Context(), opentracing.TextMap, "carrier"), opentracing.ErrInvalidCarrier)
	r.ErrorIs(t, tr.Inject(span.Context(), opentracing.Binary, opentracing.TextMapCarrier{}), opentracing.ErrUnsupportedFormat)

	// typed nil map 和会 panic 的 writer
	var nilHeader http.Header
	r.NotPanics(t, func() {
		r.ErrorIs(t, tr.Inject(span.Context(), opentracing.TextMap, opentracing.TextMapCarrier(nil)), opentracing.ErrInvalidCarrier)
		r.ErrorIs(t, tr.Inject(span.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(nilHeader)), opentracing.ErrInvalidCarrier)
		r.ErrorIs(t, tr.Inject(span.Context(), opentracing.TextMap, panicWriter{}), opentracing.ErrInvalidCarrier)
	})
	r.Equal(t, float64(0), testutil.ToFloat64(tr.metrics.Injects))

	// 失败的 inject 不改变节点类型
	r.Equal(t, NodeComponent, span.SpanContext().Trace().FindNode(span.SpanID()).Type())
}

func TestPropagation_InjectDetachedContext(t *testing.T) {
	tr, _ := mockNewTracer()
	ctx := NewSpanContext("s", "t", "", "", LevelUnset)

	carrier := opentracing.TextMapCarrier{}
	r.NoError(t, tr.Inject(ctx, opentracing.TextMap, carrier))
	r.Equal(t, "t", carrier[CarrierTraceID])
}

func TestPropagation_ExtractErrors(t *testing.T) {
	tr, _ := mockNewTracer()

	ctx, err := tr.Extract(opentracing.Binary, opentracing.TextMapCarrier{})
	r.ErrorIs(t, err, opentracing.ErrUnsupportedFormat)
	r.NotNil(t, ctx)
	r.Empty(t, ctx.(*SpanContext).TraceID())

	ctx, err = tr.Extract(opentracing.TextMap, nil)
	r.ErrorIs(t, err, opentracing.ErrInvalidCarrier)
	r.NotNil(t, ctx)

	_, err = tr.Extract(opentracing.TextMap, failingReader{})
	r.ErrorIs(t, err, opentracing.ErrSpanContextCorrupted)
}

type panicWriter struct{}

func (panicWriter) Set(string, string) { panic("writer failure") }

type failingReader struct{}

func (failingReader) ForeachKey(func(key, val string) error) error {
	return errors.New("broken carrier")
}
