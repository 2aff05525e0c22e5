package tracer

import (
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stleox/apmtrace/pkg/config"
)

type metrics struct {
	// all metrics fields must be exported
	// to be able to return them by Metrics()
	// using reflection

	SpansStarted              prometheus.Counter
	FragmentsReported         prometheus.Counter
	FragmentsDroppedByLevel   prometheus.Counter
	FragmentsDroppedBySampler prometheus.Counter
	RecorderPanics            prometheus.Counter
	SamplerPanics             prometheus.Counter
	Injects                   prometheus.Counter
	Extracts                  prometheus.Counter
	OpenTraces                prometheus.Gauge
	OpenTracesEvicted         prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "tracer"

	return metrics{
		SpansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.AppName,
			Subsystem: subsystem,
			Name:      "spans_started",
			Help:      "Total spans started.",
		}),
		FragmentsReported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.AppName,
			Subsystem: subsystem,
			Name:      "fragments_reported",
			Help:      "Total fragments handed to the recorder.",
		}),
		FragmentsDroppedByLevel: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.AppName,
			Subsystem: subsystem,
			Name:      "fragments_dropped_level",
			Help:      "Total fragments dropped by a None or Ignore reporting level.",
		}),
		FragmentsDroppedBySampler: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.AppName,
			Subsystem: subsystem,
			Name:      "fragments_dropped_sampler",
			Help:      "Total fragments dropped by the sampler.",
		}),
		RecorderPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.AppName,
			Subsystem: subsystem,
			Name:      "recorder_panics",
			Help:      "Total recorder calls that panicked.",
		}),
		SamplerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.AppName,
			Subsystem: subsystem,
			Name:      "sampler_panics",
			Help:      "Total sampler calls that panicked, counted as not sampled.",
		}),
		Injects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.AppName,
			Subsystem: subsystem,
			Name:      "injects",
			Help:      "Total span contexts injected into carriers.",
		}),
		Extracts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.AppName,
			Subsystem: subsystem,
			Name:      "extracts",
			Help:      "Total span contexts extracted from carriers.",
		}),
		OpenTraces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.AppName,
			Subsystem: subsystem,
			Name:      "open_traces",
			Help:      "Traces whose root was not reported yet.",
		}),
		OpenTracesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.AppName,
			Subsystem: subsystem,
			Name:      "open_traces_evicted",
			Help:      "Total open traces evicted from the registry.",
		}),
	}
}

// Metrics returns the tracer's collectors for registration.
func (t *Tracer) Metrics() []prometheus.Collector {
	v := reflect.Indirect(reflect.ValueOf(t.metrics))
	ret := make([]prometheus.Collector, 0, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		if c, ok := v.Field(i).Interface().(prometheus.Collector); ok {
			ret = append(ret, c)
		}
	}
	return ret
}
