package tracer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"github.com/stleox/apmtrace/pkg/config"
	"github.com/stleox/apmtrace/pkg/meta"
)

var _ opentracing.Tracer = (*Tracer)(nil)

// Sampler decides whether a completed trace is reported when no reporting
// level settles it.
type Sampler interface {
	IsSampled(trace *Trace) bool
}

// Recorder receives the root span of a quiescent, sampled-in trace. It must
// not block the caller for long and must never panic into it.
type Recorder interface {
	Record(root *Span)
}

// NoopRecorder drops everything.
type NoopRecorder struct{}

func (NoopRecorder) Record(*Span) {}

type alwaysSample struct{}

func (alwaysSample) IsSampled(*Trace) bool { return true }

// IDGenerator returns a new unique span id.
type IDGenerator func() string

// DefaultIDGenerator renders a random UUID.
func DefaultIDGenerator() string {
	return uuid.NewString()
}

// Tracer creates spans and moves span contexts across carriers.
type Tracer struct {
	recorder Recorder
	sampler  Sampler
	ids      IDGenerator
	clock    func() time.Time
	metadata meta.Provider

	registry *registry
	metrics  metrics
}

// Option configures a Tracer.
type Option func(*Tracer)

func WithRecorder(r Recorder) Option {
	return func(t *Tracer) {
		if r != nil {
			t.recorder = r
		}
	}
}

func WithSampler(s Sampler) Option {
	return func(t *Tracer) {
		if s != nil {
			t.sampler = s
		}
	}
}

func WithIDGenerator(g IDGenerator) Option {
	return func(t *Tracer) {
		if g != nil {
			t.ids = g
		}
	}
}

// WithClock replaces time.Now, mostly for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithMetadata adds service and build stamp properties to reported fragments.
func WithMetadata(p meta.Provider) Option {
	return func(t *Tracer) {
		t.metadata = p
	}
}

// WithMaxOpenTraces bounds the open-trace registry.
func WithMaxOpenTraces(n int) Option {
	return func(t *Tracer) {
		t.registry = newRegistry(n, &t.metrics)
	}
}

// New creates a Tracer. Without options spans are always sampled and
// recorded nowhere.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		recorder: NoopRecorder{},
		sampler:  alwaysSample{},
		ids:      DefaultIDGenerator,
		clock:    time.Now,
		metrics:  newMetrics(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.registry == nil {
		t.registry = newRegistry(config.MaxOpenTraces, &t.metrics)
	}
	return t
}

func (t *Tracer) Sampler() Sampler   { return t.sampler }
func (t *Tracer) Recorder() Recorder { return t.recorder }

// Metadata returns the configured deployment metadata, possibly nil.
func (t *Tracer) Metadata() meta.Provider {
	return t.metadata
}

// OpenTraces returns the number of traces whose root was not reported yet.
func (t *Tracer) OpenTraces() int {
	return t.registry.len()
}

func (t *Tracer) newID() string {
	return t.ids()
}

func (t *Tracer) now() time.Time {
	return t.clock()
}

func (t *Tracer) newTrace(ownerID string) *Trace {
	trace := NewTrace()
	t.registry.track(ownerID, trace)
	return trace
}

// SpanOptions mirrors opentracing.StartSpanOptions but keeps ChildOf apart
// from References. Setting both is a usage error; ChildOf wins.
type SpanOptions struct {
	ChildOf    opentracing.SpanContext
	References []opentracing.SpanReference
	Tags       map[string]interface{}
	StartTime  time.Time
}

// StartSpan belongs to the opentracing.Tracer interface.
func (t *Tracer) StartSpan(operationName string, opts ...opentracing.StartSpanOption) opentracing.Span {
	sso := opentracing.StartSpanOptions{}
	for _, o := range opts {
		o.Apply(&sso)
	}
	return t.StartSpanWithOptions(operationName, SpanOptions{
		References: sso.References,
		Tags:       sso.Tags,
		StartTime:  sso.StartTime,
	})
}

// StartSpanWithOptions starts a span and inserts it into its trace tree.
func (t *Tracer) StartSpanWithOptions(operationName string, opts SpanOptions) *Span {
	refs := opts.References
	if opts.ChildOf != nil {
		if len(refs) > 0 {
			logrus.WithField("operation", operationName).
				Warn("apmtrace got both ChildOf and References, continuing only with ChildOf")
		}
		refs = []opentracing.SpanReference{opentracing.ChildOf(opts.ChildOf)}
	}

	start := opts.StartTime
	if start.IsZero() {
		start = t.now()
	}

	s := newSpan(t, operationName, normalizeReferences(refs), start)
	for k, v := range opts.Tags {
		s.SetTag(k, v)
	}
	t.metrics.SpansStarted.Inc()
	return s
}

// spanFinished runs the quiescence check for a just finished span and hands
// the local root to the recorder when the trace is complete and sampled.
func (t *Tracer) spanFinished(s *Span) {
	trace := s.context.trace
	if trace == nil {
		return
	}
	root := trace.quiesce(s)
	if root == nil {
		return
	}
	t.registry.release(root.SpanID())

	level := effectiveLevel(root.context.Level(), s.context.Level())
	if !t.isSampled(trace, level) {
		logrus.WithFields(logrus.Fields{
			"trace_id": root.TraceID(),
			"level":    level,
		}).Debug("apmtrace dropped fragment")
		return
	}
	t.record(root)
}

// effectiveLevel lets either the root or the finishing span force reporting;
// otherwise the finishing span's own level applies, then the root's.
func effectiveLevel(root, finishing ReportingLevel) ReportingLevel {
	if root == LevelAll || finishing == LevelAll {
		return LevelAll
	}
	if finishing != LevelUnset {
		return finishing
	}
	return root
}

func (t *Tracer) isSampled(trace *Trace, level ReportingLevel) bool {
	switch level {
	case LevelNone, LevelIgnore:
		t.metrics.FragmentsDroppedByLevel.Inc()
		return false
	case LevelUnset:
		if t.askSampler(trace) {
			return true
		}
		t.metrics.FragmentsDroppedBySampler.Inc()
		return false
	default:
		return true
	}
}

// askSampler treats a panicking sampler as a negative decision.
func (t *Tracer) askSampler(trace *Trace) (sampled bool) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.SamplerPanics.Inc()
			logrus.WithField("panic", fmt.Sprint(r)).Error("apmtrace sampler panicked")
			sampled = false
		}
	}()
	return t.sampler.IsSampled(trace)
}

// record calls the recorder; a panicking recorder never reaches the caller.
func (t *Tracer) record(root *Span) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.RecorderPanics.Inc()
			logrus.WithField("panic", fmt.Sprint(r)).Error("apmtrace recorder panicked")
		}
	}()
	t.recorder.Record(root)
	t.metrics.FragmentsReported.Inc()
}
