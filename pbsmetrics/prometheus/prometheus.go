package prometheusmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/technoratimedia/pbs-technorati/config"
	"github.com/technoratimedia/pbs-technorati/pbsmetrics"
)

// Metrics defines the Prometheus metrics backing the MetricsEngine implementation.
type Metrics struct {
	Registry      *prometheus.Registry
	connCounter   prometheus.Gauge
	connError     *prometheus.CounterVec
	imps          *prometheus.CounterVec
	requests      *prometheus.CounterVec
	reqTimer      *prometheus.HistogramVec
	adaptRequests *prometheus.CounterVec
	adaptErrors   *prometheus.CounterVec
	adaptTimer    *prometheus.HistogramVec
	adaptBids     *prometheus.CounterVec
	adaptPrices   *prometheus.HistogramVec
}

// NewMetrics constructs the Prometheus metrics and registers them in a registry of their own.
func NewMetrics(cfg config.PrometheusMetrics) *Metrics {
	timerBuckets := prometheus.LinearBuckets(0.05, 0.05, 20)
	timerBuckets = append(timerBuckets, []float64{1.5, 2.0, 3.0, 5.0, 10.0, 50.0}...)

	standardLabelNames := []string{"source", "type", "pubid", "browser", "cookie", "status"}
	adapterLabelNames := []string{"source", "type", "pubid", "browser", "cookie", "adapter_bids", "adapter"}
	errorLabelNames := append([]string{"adapter_error"}, adapterLabelNames...)
	bidLabelNames := append([]string{"hasadm"}, adapterLabelNames...)

	metrics := Metrics{Registry: prometheus.NewRegistry()}
	metrics.connCounter = newConnCounter(cfg)
	metrics.connError = newCounter(cfg, "active_connections_total",
		"Errors reported on the connections coming in.",
		[]string{"ErrorType"},
	)
	metrics.imps = newCounter(cfg, "imps_requested_total",
		"Total number of ad slots requested through /auction.",
		standardLabelNames,
	)
	metrics.requests = newCounter(cfg, "requests_total",
		"Total number of /auction requests.",
		standardLabelNames,
	)
	metrics.reqTimer = newHistogram(cfg, "request_time_seconds",
		"Seconds to resolve each /auction request.",
		standardLabelNames, timerBuckets,
	)
	metrics.adaptRequests = newCounter(cfg, "adapter_requests_total",
		"Number of requests sent out to each bidder.",
		adapterLabelNames,
	)
	metrics.adaptErrors = newCounter(cfg, "adapter_errors_total",
		"Number of bidder requests which failed, by failure type.",
		errorLabelNames,
	)
	metrics.adaptTimer = newHistogram(cfg, "adapter_time_seconds",
		"Seconds to resolve each request to a bidder.",
		adapterLabelNames, timerBuckets,
	)
	metrics.adaptBids = newCounter(cfg, "adapter_bids_received_total",
		"Number of bids received from each bidder.",
		bidLabelNames,
	)
	metrics.adaptPrices = newHistogram(cfg, "adapter_prices",
		"Values of the bids from each bidder.",
		adapterLabelNames, prometheus.LinearBuckets(0.1, 0.1, 200),
	)

	metrics.Registry.MustRegister(
		metrics.connCounter,
		metrics.connError,
		metrics.imps,
		metrics.requests,
		metrics.reqTimer,
		metrics.adaptRequests,
		metrics.adaptErrors,
		metrics.adaptTimer,
		metrics.adaptBids,
		metrics.adaptPrices,
	)
	return &metrics
}

func newConnCounter(cfg config.PrometheusMetrics) prometheus.Gauge {
	opts := prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "active_connections",
		Help:      "Current number of active (open) connections.",
	}
	return prometheus.NewGauge(opts)
}

func newCounter(cfg config.PrometheusMetrics, name string, help string, labels []string) *prometheus.CounterVec {
	opts := prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      name,
		Help:      help,
	}
	return prometheus.NewCounterVec(opts, labels)
}

func newHistogram(cfg config.PrometheusMetrics, name string, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	opts := prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}
	return prometheus.NewHistogramVec(opts, labels)
}

func (me *Metrics) RecordConnectionAccept(success bool) {
	if success {
		me.connCounter.Inc()
	} else {
		me.connError.WithLabelValues("accept_error").Inc()
	}
}

func (me *Metrics) RecordConnectionClose(success bool) {
	if success {
		me.connCounter.Dec()
	} else {
		me.connError.WithLabelValues("close_error").Inc()
	}
}

func (me *Metrics) RecordRequest(labels pbsmetrics.Labels) {
	me.requests.With(resolveLabels(labels)).Inc()
}

func (me *Metrics) RecordImps(labels pbsmetrics.Labels, numImps int) {
	me.imps.With(resolveLabels(labels)).Add(float64(numImps))
}

func (me *Metrics) RecordRequestTime(labels pbsmetrics.Labels, length time.Duration) {
	me.reqTimer.With(resolveLabels(labels)).Observe(length.Seconds())
}

func (me *Metrics) RecordAdapterRequest(labels pbsmetrics.AdapterLabels) {
	me.adaptRequests.With(resolveAdapterLabels(labels)).Inc()
	for err := range labels.AdapterErrors {
		me.adaptErrors.With(resolveAdapterErrorLabels(labels, string(err))).Inc()
	}
}

func (me *Metrics) RecordAdapterBidReceived(labels pbsmetrics.AdapterLabels, hasAdm bool) {
	me.adaptBids.With(resolveBidLabels(labels, hasAdm)).Inc()
}

func (me *Metrics) RecordAdapterPrice(labels pbsmetrics.AdapterLabels, cpm float64) {
	me.adaptPrices.With(resolveAdapterLabels(labels)).Observe(cpm)
}

func (me *Metrics) RecordAdapterTime(labels pbsmetrics.AdapterLabels, length time.Duration) {
	me.adaptTimer.With(resolveAdapterLabels(labels)).Observe(length.Seconds())
}

func resolveLabels(labels pbsmetrics.Labels) prometheus.Labels {
	return prometheus.Labels{
		"source":  string(labels.Source),
		"type":    string(labels.RType),
		"pubid":   labels.PubID,
		"browser": string(labels.Browser),
		"cookie":  string(labels.CookieFlag),
		"status":  string(labels.RequestStatus),
	}
}

func resolveAdapterLabels(labels pbsmetrics.AdapterLabels) prometheus.Labels {
	return prometheus.Labels{
		"source":       string(labels.Source),
		"type":         string(labels.RType),
		"pubid":        labels.PubID,
		"browser":      string(labels.Browser),
		"cookie":       string(labels.CookieFlag),
		"adapter_bids": string(labels.AdapterBids),
		"adapter":      string(labels.Adapter),
	}
}

func resolveAdapterErrorLabels(labels pbsmetrics.AdapterLabels, errorType string) prometheus.Labels {
	errorLabels := resolveAdapterLabels(labels)
	errorLabels["adapter_error"] = errorType
	return errorLabels
}

func resolveBidLabels(labels pbsmetrics.AdapterLabels, hasAdm bool) prometheus.Labels {
	bidLabels := resolveAdapterLabels(labels)
	bidLabels["hasadm"] = strconv.FormatBool(hasAdm)
	return bidLabels
}
