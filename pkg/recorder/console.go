package recorder

import (
	"github.com/sirupsen/logrus"
	"github.com/stleox/apmtrace/pkg/tracer"
)

// Console writes one log entry per reported root span.
type Console struct {
	logger *logrus.Logger
}

func NewConsole(logger *logrus.Logger) *Console {
	return &Console{logger: logger}
}

func (c *Console) Record(root *tracer.Span) {
	c.logger.WithFields(logrus.Fields{
		"trace_id":  root.TraceID(),
		"parent_id": root.ParentID(),
		"span_id":   root.SpanID(),
		"operation": root.OperationName(),
		"start":     root.StartTime().UnixMilli(),
		"duration":  root.Duration().Milliseconds(),
		"logs":      root.Logs(),
		"tags":      root.Tags(),
	}).Info("apmtrace reported span")
}

func (c *Console) Close() error { return nil }
