// Package telemetry exports the core's hot-path counters, either
// through a Prometheus scrape endpoint or pushed to an OTLP collector.
package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anubani/ibnet/internal/ib"
)

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	ConstLabels prometheus.Labels
}

var _ ib.MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements ib.MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	eqPolls     *prometheus.CounterVec
	sendsDone   *prometheus.CounterVec
	recvsDone   *prometheus.CounterVec
	recvRefills *prometheus.CounterVec
}

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus
// counters, registered with the given registerer or the default one.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &PrometheusMetrics{
		eqPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "ibnet_event_queue_polls_total",
			Help:        "Number of device event queue poll cycles",
			ConstLabels: opts.ConstLabels,
		}, []string{labelDevice}),
		sendsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "ibnet_send_completions_total",
			Help:        "Number of send work queue completions",
			ConstLabels: opts.ConstLabels,
		}, []string{labelDevice, labelCanceled}),
		recvsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "ibnet_recv_completions_total",
			Help:        "Number of receive work queue completions",
			ConstLabels: opts.ConstLabels,
		}, []string{labelDevice, labelCanceled}),
		recvRefills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "ibnet_recv_refills_total",
			Help:        "Number of receive buffers posted by the refill path",
			ConstLabels: opts.ConstLabels,
		}, []string{labelDevice}),
	}

	var err error
	if p.eqPolls, err = registerCounterVec(reg, p.eqPolls); err != nil {
		return nil, err
	}
	if p.sendsDone, err = registerCounterVec(reg, p.sendsDone); err != nil {
		return nil, err
	}
	if p.recvsDone, err = registerCounterVec(reg, p.recvsDone); err != nil {
		return nil, err
	}
	if p.recvRefills, err = registerCounterVec(reg, p.recvRefills); err != nil {
		return nil, err
	}

	return p, nil
}

const (
	labelDevice   = "device"
	labelCanceled = "canceled"
)

func (p *PrometheusMetrics) EventQueuePolled(dev string) {
	p.eqPolls.WithLabelValues(dev).Inc()
}

func (p *PrometheusMetrics) SendCompleted(dev string, canceled bool) {
	p.sendsDone.WithLabelValues(dev, strconv.FormatBool(canceled)).Inc()
}

func (p *PrometheusMetrics) RecvCompleted(dev string, canceled bool) {
	p.recvsDone.WithLabelValues(dev, strconv.FormatBool(canceled)).Inc()
}

func (p *PrometheusMetrics) RecvRefilled(dev string, posted int) {
	p.recvRefills.WithLabelValues(dev).Add(float64(posted))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}
