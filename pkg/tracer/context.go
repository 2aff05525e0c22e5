package tracer

import (
	"sync"

	"github.com/opentracing/opentracing-go"
)

var _ opentracing.SpanContext = (*SpanContext)(nil)

// SpanContext carries the identity and propagation state of one span.
// All contexts of one locally rooted trace share a single *Trace.
type SpanContext struct {
	spanID   string
	traceID  string
	parentID string

	// 由 Extract 构建的 context 带有 extracted 标记，
	// 它代表一次跨进程的入站调用，correlation id 可能为空
	extracted      bool
	consumerCorrID string

	mu          sync.RWMutex
	transaction string
	level       ReportingLevel

	trace *Trace
}

// NewSpanContext builds a context that is not yet attached to any trace.
func NewSpanContext(spanID, traceID, parentID, transaction string, level ReportingLevel) *SpanContext {
	return &SpanContext{
		spanID:      spanID,
		traceID:     traceID,
		parentID:    parentID,
		transaction: transaction,
		level:       level,
	}
}

func (c *SpanContext) SpanID() string   { return c.spanID }
func (c *SpanContext) TraceID() string  { return c.traceID }
func (c *SpanContext) ParentID() string { return c.parentID }

func (c *SpanContext) Transaction() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transaction
}

func (c *SpanContext) SetTransaction(transaction string) {
	c.mu.Lock()
	c.transaction = transaction
	c.mu.Unlock()
}

func (c *SpanContext) Level() ReportingLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.level
}

func (c *SpanContext) SetLevel(level ReportingLevel) {
	c.mu.Lock()
	c.level = level
	c.mu.Unlock()
}

// ConsumerCorrelationID returns the correlation id read from the inbound
// carrier and whether this context came from Extract at all.
func (c *SpanContext) ConsumerCorrelationID() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consumerCorrID, c.extracted
}

// SetConsumerCorrelationID marks the context as extracted. Only the first call
// has an effect.
func (c *SpanContext) SetConsumerCorrelationID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.extracted {
		return
	}
	c.extracted = true
	c.consumerCorrID = id
}

// IsExtracted reports whether the context was produced by Extract.
func (c *SpanContext) IsExtracted() bool {
	_, ok := c.ConsumerCorrelationID()
	return ok
}

// Trace returns the shared trace tree, nil for extracted contexts.
func (c *SpanContext) Trace() *Trace {
	return c.trace
}

// ForeachBaggageItem belongs to the opentracing.SpanContext interface.
// Baggage is not propagated by this tracer.
func (c *SpanContext) ForeachBaggageItem(func(k, v string) bool) {}
