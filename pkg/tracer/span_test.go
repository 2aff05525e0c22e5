package tracer

import (
	"testing"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
	r "github.com/stretchr/testify/require"
)

func TestSpan_FinishIdempotent(t *testing.T) {
	tr, rec := mockNewTracer()
	span := tr.StartSpanWithOptions("a", SpanOptions{StartTime: mockBaseTime})

	end := mockBaseTime.Add(time.Second)
	span.FinishWithOptions(opentracing.FinishOptions{FinishTime: end})
	span.FinishWithOptions(opentracing.FinishOptions{FinishTime: end.Add(time.Hour)})
	span.Finish()

	r.True(t, span.IsFinished())
	r.Equal(t, end, span.EndTime())
	r.Equal(t, time.Second, span.Duration())
	r.Len(t, rec.recorded(), 1)
}

func TestSpan_DurationBeforeFinish(t *testing.T) {
	tr, _ := mockNewTracer()
	span := tr.StartSpanWithOptions("a", SpanOptions{})

	r.False(t, span.IsFinished())
	r.True(t, span.EndTime().IsZero())
	r.Equal(t, time.Duration(0), span.Duration())
}

func TestSpan_SetTag(t *testing.T) {
	tr, _ := mockNewTracer()
	span := tr.StartSpanWithOptions("a", SpanOptions{})

	span.SetTag("", "ignored")
	span.SetTag("nil", nil)
	span.SetTag("k", "v1")
	span.SetTag("k", "v2")
	span.SetTag("n", 3)

	r.Equal(t, map[string]interface{}{"k": "v2", "n": 3}, span.Tags())

	// Tags 返回副本
	span.Tags()["k"] = "changed"
	r.Equal(t, "v2", span.Tags()["k"])
}

func TestSpan_SamplingPriority(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  ReportingLevel
	}{
		{"positive int", 1, LevelAll},
		{"positive float", 0.5, LevelAll},
		{"numeric string", "2", LevelAll},
		{"zero", 0, LevelNone},
		{"negative", -1, LevelNone},
		{"non-numeric", "high", LevelUnset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := mockNewTracer()
			span := tr.StartSpanWithOptions("a", SpanOptions{})
			span.SetTag(TagSamplingPriority, tt.value)
			r.Equal(t, tt.want, span.SpanContext().Level())
		})
	}
}

func TestSpan_TransactionTag(t *testing.T) {
	tr, _ := mockNewTracer()
	root := tr.StartSpanWithOptions("a", SpanOptions{})
	root.SetTag(TagTransaction, "checkout")
	r.Equal(t, "checkout", root.SpanContext().Transaction())

	// 已有 transaction 时不覆盖
	root.SetTag(TagTransaction, "other")
	r.Equal(t, "checkout", root.SpanContext().Transaction())

	child := tr.StartSpanWithOptions("b", SpanOptions{ChildOf: root.Context()})
	r.Equal(t, "checkout", child.SpanContext().Transaction())
}

func TestSpan_Logs(t *testing.T) {
	tr, _ := mockNewTracer()
	span := tr.StartSpanWithOptions("a", SpanOptions{})

	span.LogFields(log.String("event", "start"), log.Int("attempt", 1))
	span.LogKV("event", "retry")
	span.LogKV("odd")
	span.LogAt(mockBaseTime, log.Bool("done", true))
	span.FinishWithOptions(opentracing.FinishOptions{
		LogRecords: []opentracing.LogRecord{{Timestamp: mockBaseTime, Fields: []log.Field{log.String("bye", "now")}}},
	})

	logs := span.Logs()
	r.Len(t, logs, 5)
	r.Equal(t, "event", logs[0].Key)
	r.Equal(t, "start", logs[0].Value)
	r.Equal(t, "attempt", logs[1].Key)
	r.Equal(t, logs[0].Timestamp, logs[1].Timestamp)
	r.Equal(t, "retry", logs[2].Value)
	r.Equal(t, LogEntry{Key: "done", Value: true, Timestamp: mockBaseTime}, logs[3])
	r.Equal(t, "bye", logs[4].Key)
}

func TestSpan_DeprecatedLogs(t *testing.T) {
	tr, _ := mockNewTracer()
	span := tr.StartSpanWithOptions("a", SpanOptions{})

	span.LogEvent("e1")
	span.LogEventWithPayload("e2", 42)
	span.Log(opentracing.LogData{Timestamp: mockBaseTime, Event: "e3"})

	logs := span.Logs()
	r.Len(t, logs, 4)
	r.Equal(t, "e1", logs[0].Value)
	r.Equal(t, "payload", logs[2].Key)
	r.Equal(t, mockBaseTime, logs[3].Timestamp)
}

func TestSpan_Accessors(t *testing.T) {
	tr, _ := mockNewTracer()
	span := tr.StartSpanWithOptions("a", SpanOptions{})

	r.Same(t, tr, span.Tracer())
	r.Same(t, span.SpanContext(), span.Context())
	span.SetOperationName("b")
	r.Equal(t, "b", span.OperationName())

	r.Same(t, span, span.SetBaggageItem("k", "v"))
	r.Empty(t, span.BaggageItem("k"))
	called := false
	span.SpanContext().ForeachBaggageItem(func(_, _ string) bool { called = true; return true })
	r.False(t, called)
}

func followsFrom(spans ...*Span) []opentracing.SpanReference {
	ret := make([]opentracing.SpanReference, 0, len(spans))
	for _, s := range spans {
		ret = append(ret, opentracing.FollowsFrom(s.Context()))
	}
	return ret
}
