package metrics

import "github.com/prometheus/client_golang/prometheus"

type SamplerMetrics struct {
	Samples          prometheus.Counter
	TruncatedSamples prometheus.Counter
	ErrorSamples     prometheus.Counter
	IgnoredSamples   prometheus.Counter
	NoContext        prometheus.Counter
	EmptyStackPops   prometheus.Counter
	StackPushErrors  prometheus.Counter
	Threads          prometheus.Gauge
	Enables          prometheus.Counter
}

func NewSamplerMetrics(reg prometheus.Registerer) *SamplerMetrics {
	m := &SamplerMetrics{
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_samples_total",
			Help: "Total number of tracebacks captured and handed to the sink",
		}),
		TruncatedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_samples_truncated_total",
			Help: "Total number of tracebacks that did not fit into the configured max depth",
		}),
		ErrorSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_samples_unwind_errors_total",
			Help: "Total number of tracebacks where native unwinding was aborted",
		}),
		IgnoredSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_samples_ignored_total",
			Help: "Total number of interrupts dropped while sampling was suppressed",
		}),
		NoContext: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_samples_no_context_total",
			Help: "Total number of interrupts where the thread machine context could not be captured",
		}),
		EmptyStackPops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_stack_empty_pops_total",
			Help: "Total number of pops on an empty virtual stack",
		}),
		StackPushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_stack_push_errors_total",
			Help: "Total number of virtual stack pushes that failed",
		}),
		Threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vmprof_threads",
			Help: "Number of threads registered for sampling",
		}),
		Enables: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_enables_total",
			Help: "Total number of times sampling was enabled",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Samples,
			m.TruncatedSamples,
			m.ErrorSamples,
			m.IgnoredSamples,
			m.NoContext,
			m.EmptyStackPops,
			m.StackPushErrors,
			m.Threads,
			m.Enables,
		)
	}

	return m
}
