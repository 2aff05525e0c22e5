package tracer

import (
	"math"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

var _ opentracing.Span = (*Span)(nil)

// LogEntry is one key/value pair logged on a span.
type LogEntry struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// Span is a timed unit of work. It is safe for concurrent use.
type Span struct {
	tracer  *Tracer
	context *SpanContext

	mu            sync.Mutex
	operationName string
	tags          map[string]interface{}
	logs          []LogEntry
	start         time.Time
	end           time.Time
	finished      bool
}

// newSpan resolves the references of a new span and inserts it into the
// proper trace tree.
func newSpan(t *Tracer, operationName string, refs []Reference, start time.Time) *Span {
	s := &Span{
		tracer:        t,
		operationName: operationName,
		tags:          make(map[string]interface{}),
		logs:          make([]LogEntry, 0),
		start:         start,
	}

	res := resolveReferences(refs)
	switch res.Kind {
	case ResolveRoot:
		s.initChildOf(nil, nil)
	case ResolveChildOf:
		s.initChildOf(&res.Primary, res.Extras)
	case ResolveJoin:
		if res.Ambiguous {
			logrus.WithFields(logrus.Fields{
				"operation":  operationName,
				"references": len(refs),
				"primary":    res.Primary.Kind.String(),
			}).Warn("apmtrace met ambiguous references, joining on the first one")
		}
		s.initFollowsFromOrJoin(res.Primary, res.Extras)
	}
	return s
}

// initChildOf builds an in-tree node below the primary reference.
func (s *Span) initChildOf(primary *Reference, extras []Reference) {
	id := s.tracer.newID()
	traceID, parentID := id, ""
	transaction, level := "", LevelUnset

	var parent *SpanContext
	if primary != nil {
		parent = primary.Context
	}
	if parent != nil {
		if parent.spanID != "" && parent.traceID != "" {
			parentID = parent.spanID
			traceID = parent.traceID
		}
		transaction, level = parent.Transaction(), parent.Level()
	}
	s.context = NewSpanContext(id, traceID, parentID, transaction, level)

	nodeType := NodeComponent
	corrIDs := remainingCorrelationIDs(extras)
	if parent != nil {
		if consumerID, extracted := parent.ConsumerCorrelationID(); extracted {
			nodeType = NodeConsumer
			if consumerID != "" {
				corrIDs = append([]CorrelationID{{Value: consumerID, Scope: ScopeInteraction}}, corrIDs...)
			}
		} else {
			s.context.trace = parent.trace
		}
	}
	if s.context.trace == nil {
		s.context.trace = s.tracer.newTrace(id)
	}
	s.context.trace.AddNode(nodeType, s, corrIDs)
}

// initFollowsFromOrJoin starts a new trace causally downstream of the primary
// reference. The span hangs below a synthetic Consumer node that stands for
// the referenced trace's root.
func (s *Span) initFollowsFromOrJoin(primary Reference, extras []Reference) {
	pctx := primary.Context
	for _, ref := range extras {
		if ref.Context.traceID != pctx.traceID {
			logrus.WithFields(logrus.Fields{
				"primary_trace_id": pctx.traceID,
				"other_trace_id":   ref.Context.traceID,
			}).Warn("apmtrace met references from different traces")
		}
	}

	corrIDs := append([]CorrelationID{primaryCorrelationID(primary)}, remainingCorrelationIDs(extras)...)
	consumer := NewSyntheticNode(NodeConsumer, corrIDs)
	consumer.SetTimestamp(s.start)
	if root := findRootContext(pctx); root.trace != nil {
		if n := root.trace.FindNode(root.spanID); n != nil {
			consumer.SetOperation(n.Operation())
			consumer.SetURI(n.URI())
		}
	}
	consumer.AddChild(NewNode(s, NodeComponent, nil))

	id := s.tracer.newID()
	traceID := pctx.traceID
	if traceID == "" {
		traceID = id
	}
	s.context = NewSpanContext(id, traceID, "", pctx.Transaction(), pctx.Level())
	s.context.trace = s.tracer.newTrace(id)
	s.context.trace.AddSyntheticNode(consumer, "")
}

func primaryCorrelationID(ref Reference) CorrelationID {
	scope := ScopeInteraction
	if ref.Kind == FollowsFromRef {
		scope = ScopeCausedBy
	}
	return CorrelationID{Value: correlationIDValue(ref.Context), Scope: scope}
}

func remainingCorrelationIDs(refs []Reference) []CorrelationID {
	ret := make([]CorrelationID, 0, len(refs))
	for _, ref := range refs {
		scope := ScopeCausedBy
		if ref.Context.IsExtracted() {
			scope = ScopeInteraction
		}
		ret = append(ret, CorrelationID{Value: correlationIDValue(ref.Context), Scope: scope})
	}
	return ret
}

// correlationIDValue is "<root span id>:<position of ctx in its own trace>".
func correlationIDValue(ctx *SpanContext) string {
	root := findRootContext(ctx)
	if ctx.trace != nil {
		if pos, ok := ctx.trace.NodePositionID(ctx.spanID); ok {
			return root.spanID + ":" + pos
		}
	}
	// 未入树的 context（例如 Extract 得到的）没有位置
	if id, extracted := ctx.ConsumerCorrelationID(); extracted && id != "" {
		return id
	}
	return root.spanID
}

// findRootContext follows parent ids through the context's own trace until no
// further parent exists locally.
func findRootContext(ctx *SpanContext) *SpanContext {
	root := ctx
	if ctx.trace == nil {
		return root
	}
	for root.parentID != "" {
		n := ctx.trace.FindNode(root.parentID)
		if n == nil || n.span == nil {
			break
		}
		root = n.span.context
	}
	return root
}

// Tracer returns the tracer that created the span.
func (s *Span) Tracer() opentracing.Tracer {
	return s.tracer
}

// Context returns the *SpanContext of the span.
func (s *Span) Context() opentracing.SpanContext {
	return s.context
}

// SpanContext is Context without the interface conversion.
func (s *Span) SpanContext() *SpanContext {
	return s.context
}

func (s *Span) SpanID() string   { return s.context.spanID }
func (s *Span) TraceID() string  { return s.context.traceID }
func (s *Span) ParentID() string { return s.context.parentID }

func (s *Span) SetOperationName(operationName string) opentracing.Span {
	s.mu.Lock()
	s.operationName = operationName
	s.mu.Unlock()
	return s
}

func (s *Span) OperationName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.operationName
}

// SetTag upserts a tag. Empty keys and nil values are ignored.
// sampling.priority also sets the reporting level of the span context.
func (s *Span) SetTag(key string, value interface{}) opentracing.Span {
	if key == "" || value == nil {
		return s
	}
	s.mu.Lock()
	s.tags[key] = value
	s.mu.Unlock()

	switch key {
	case TagSamplingPriority:
		priority, err := cast.ToFloat64E(value)
		if err != nil || math.IsNaN(priority) {
			logrus.WithField("value", value).Debug("apmtrace ignored non-numeric sampling priority")
			break
		}
		if priority > 0 {
			s.context.SetLevel(LevelAll)
		} else {
			s.context.SetLevel(LevelNone)
		}
	case TagTransaction:
		if s.context.Transaction() == "" {
			s.context.SetTransaction(cast.ToString(value))
		}
	}
	return s
}

// Tags returns a copy of the tag map.
func (s *Span) Tags() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make(map[string]interface{}, len(s.tags))
	for k, v := range s.tags {
		ret[k] = v
	}
	return ret
}

func (s *Span) LogFields(fields ...log.Field) {
	s.LogAt(s.tracer.now(), fields...)
}

// LogAt appends one entry per field, all stamped with ts.
func (s *Span) LogAt(ts time.Time, fields ...log.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLogs(ts, fields)
}

func (s *Span) appendLogs(ts time.Time, fields []log.Field) {
	for _, f := range fields {
		s.logs = append(s.logs, LogEntry{Key: f.Key(), Value: f.Value(), Timestamp: ts})
	}
}

func (s *Span) LogKV(alternatingKeyValues ...interface{}) {
	fields, err := log.InterleavedKVToFields(alternatingKeyValues...)
	if err != nil {
		logrus.WithError(err).Warn("apmtrace couldn't log key values")
		return
	}
	s.LogFields(fields...)
}

// Logs returns a copy of the log entries in insertion order.
func (s *Span) Logs() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogEntry(nil), s.logs...)
}

// Baggage is not propagated by this tracer.
func (s *Span) SetBaggageItem(_, _ string) opentracing.Span { return s }
func (s *Span) BaggageItem(string) string                   { return "" }

func (s *Span) StartTime() time.Time {
	return s.start
}

// EndTime is zero until the span is finished.
func (s *Span) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end
}

// Duration is zero until the span is finished.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		return 0
	}
	return s.end.Sub(s.start)
}

func (s *Span) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Span) Finish() {
	s.FinishWithOptions(opentracing.FinishOptions{})
}

// FinishWithOptions finishes the span once; later calls are no-ops. When the
// span completes its local trace, the root is sampled and recorded.
func (s *Span) FinishWithOptions(opts opentracing.FinishOptions) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	end := opts.FinishTime
	if end.IsZero() {
		end = s.tracer.now()
	}
	for _, lr := range opts.LogRecords {
		s.appendLogs(lr.Timestamp, lr.Fields)
	}
	for _, ld := range opts.BulkLogData {
		lr := ld.ToLogRecord()
		s.appendLogs(lr.Timestamp, lr.Fields)
	}
	s.end = end
	s.finished = true
	s.mu.Unlock()

	s.tracer.spanFinished(s)
}

// Deprecated: use LogFields or LogKV.
func (s *Span) LogEvent(event string) {
	logrus.Debug("apmtrace got deprecated call to LogEvent")
	s.LogFields(log.String("event", event))
}

// Deprecated: use LogFields or LogKV.
func (s *Span) LogEventWithPayload(event string, payload interface{}) {
	logrus.Debug("apmtrace got deprecated call to LogEventWithPayload")
	s.LogFields(log.String("event", event), log.Object("payload", payload))
}

// Deprecated: use LogFields or LogKV.
func (s *Span) Log(ld opentracing.LogData) {
	logrus.Debug("apmtrace got deprecated call to Log")
	lr := ld.ToLogRecord()
	s.LogAt(lr.Timestamp, lr.Fields...)
}
