package recorder

import (
	"bytes"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stleox/apmtrace/pkg/tracer"
	r "github.com/stretchr/testify/require"
)

func TestConsole_Record(t *testing.T) {
	var out bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&out)
	logger.SetFormatter(&logrus.JSONFormatter{})

	rec := NewConsole(logger)
	tr := tracer.New(tracer.WithRecorder(rec))
	span := tr.StartSpanWithOptions("checkout", tracer.SpanOptions{Tags: map[string]interface{}{"k": "v"}})
	span.LogKV("event", "done")
	span.Finish()
	r.NoError(t, rec.Close())

	var entry map[string]interface{}
	r.NoError(t, jsoniter.Unmarshal(out.Bytes(), &entry))
	r.Equal(t, "checkout", entry["operation"])
	r.Equal(t, span.TraceID(), entry["trace_id"])
	r.Equal(t, span.SpanID(), entry["span_id"])
	r.Equal(t, "", entry["parent_id"])
	r.Equal(t, map[string]interface{}{"k": "v"}, entry["tags"])
	r.Len(t, entry["logs"], 1)
}
