package tracer

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// registry keeps track of traces whose root has not been reported yet. It only
// observes: an evicted trace still completes and reports normally, eviction
// just means the process holds more open traces than expected.
type registry struct {
	// cache: owner span id -> Trace
	traces  *lru.Cache[string, *Trace]
	metrics *metrics
}

func newRegistry(size int, m *metrics) *registry {
	if size <= 0 {
		size = 1
	}
	r := &registry{metrics: m}
	r.traces, _ = lru.NewWithEvict[string, *Trace](size, r.onEvict)
	return r
}

func (r *registry) onEvict(ownerID string, trace *Trace) {
	// Remove 也会触发回调，已上报的 trace 不算驱逐
	if trace.wasReported(ownerID) {
		return
	}
	r.metrics.OpenTracesEvicted.Inc()
	logrus.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"nodes":    trace.Len(),
	}).Warn("apmtrace evicted an open trace, some of its spans may never finish")
}

func (r *registry) track(ownerID string, trace *Trace) {
	r.traces.Add(ownerID, trace)
	r.metrics.OpenTraces.Set(float64(r.traces.Len()))
}

// release forgets the trace once its local root was reported. Traces are
// keyed by the id of the span that created them, which is always the local
// root reported by quiesce.
func (r *registry) release(rootID string) {
	r.traces.Remove(rootID)
	r.metrics.OpenTraces.Set(float64(r.traces.Len()))
}

func (r *registry) len() int {
	return r.traces.Len()
}
