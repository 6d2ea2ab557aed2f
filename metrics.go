package inlinehook

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "inlinehook"

	resultLabelName = "result"

	resultSuccess    = "success"
	resultDecode     = "decode"
	resultRelocation = "relocation"
	resultCapacity   = "capacity"
	resultDuplicate  = "duplicate"
	resultNotFound   = "not_found"
	resultMemory     = "memory"
	resultInvalid    = "invalid"
)

type metrics struct {
	installs *prometheus.CounterVec
	removes  *prometheus.CounterVec
	active   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		installs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "install_total",
				Help:      "Number of hook installs by result",
			}, []string{resultLabelName}),
		removes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "remove_total",
				Help:      "Number of hook removals by result",
			}, []string{resultLabelName}),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_hooks",
				Help:      "Number of hooks currently installed",
			}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.installs, m.removes, m.active} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register hook metrics")
		}
	}
	return m, nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, ErrDecode), errors.Is(err, ErrReturnInPrologue):
		return resultDecode
	case errors.Is(err, ErrRelocation):
		return resultRelocation
	case errors.Is(err, ErrCapacityExceeded):
		return resultCapacity
	case errors.Is(err, ErrDoubleHook):
		return resultDuplicate
	case errors.Is(err, ErrHookNotFound):
		return resultNotFound
	case errors.Is(err, ErrMemory):
		return resultMemory
	}
	return resultInvalid
}

func (m *metrics) observeInstall(err error) {
	m.installs.WithLabelValues(resultOf(err)).Inc()
	if err == nil {
		m.active.Inc()
	}
}

// observeRemove counts a removal. A memory error from Free still removed
// the hook, so removed says whether the gauge drops.
func (m *metrics) observeRemove(err error, removed bool) {
	m.removes.WithLabelValues(resultOf(err)).Inc()
	if removed {
		m.active.Dec()
	}
}
