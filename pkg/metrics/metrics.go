package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Sampler  *SamplerMetrics
	Registry *RegistryMetrics
	Sink     *SinkMetrics

	UnexpectedErrors prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	res := &Metrics{
		Sampler:  NewSamplerMetrics(reg),
		Registry: NewRegistryMetrics(reg),
		Sink:     NewSinkMetrics(reg),

		UnexpectedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_unexpected_errors_total",
			Help: "Total number of unexpected errors, such as panics recovered in the sampler",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			res.UnexpectedErrors,
		)
	}
	return res
}

type RegistryMetrics struct {
	RegistrationErrors *prometheus.CounterVec
	Registered         prometheus.Gauge
}

func NewRegistryMetrics(reg prometheus.Registerer) *RegistryMetrics {
	m := &RegistryMetrics{
		RegistrationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vmprof_eval_registration_errors_total",
			Help: "Total number of failed eval function registrations",
		}, []string{"reason"}),
		Registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vmprof_eval_functions",
			Help: "Number of currently registered eval functions",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RegistrationErrors,
			m.Registered,
		)
	}
	return m
}
