package metrics

import "github.com/prometheus/client_golang/prometheus"

type SinkMetrics struct {
	LostSamples    prometheus.Counter
	EncodedSamples prometheus.Counter
	DecodeErrors   prometheus.Counter
	Flushes        prometheus.Counter
	FlushErrors    prometheus.Counter
}

func NewSinkMetrics(reg prometheus.Registerer) *SinkMetrics {
	m := &SinkMetrics{
		LostSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_sink_lost_samples_total",
			Help: "Total number of samples that were lost due to a full sample buffer",
		}),
		EncodedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_sink_encoded_samples_total",
			Help: "Total number of samples handed to the encoder",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_sink_decode_errors_total",
			Help: "Total number of malformed sample records",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_sink_flushes_total",
			Help: "Total number of sink flushes",
		}),
		FlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmprof_sink_flush_errors_total",
			Help: "Total number of sink flushes that failed",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.LostSamples,
			m.EncodedSamples,
			m.DecodeErrors,
			m.Flushes,
			m.FlushErrors,
		)
	}
	return m
}
