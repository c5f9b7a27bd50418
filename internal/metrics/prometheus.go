package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ene"

var (
	descConnActive  = prometheus.NewDesc(namespace+"_connections_active", "Open server connections.", nil, nil)
	descConnTotal   = prometheus.NewDesc(namespace+"_connections_total", "Server connections established.", nil, nil)
	descReconnects  = prometheus.NewDesc(namespace+"_reconnects_total", "Reconnects after a lost connection.", nil, nil)
	descBytes       = prometheus.NewDesc(namespace+"_server_bytes_total", "Bytes exchanged with the server.", []string{"direction"}, nil)
	descLines       = prometheus.NewDesc(namespace+"_server_lines_total", "Protocol lines exchanged with the server.", []string{"direction"}, nil)
	descDCCActive   = prometheus.NewDesc(namespace+"_dcc_sessions_active", "Live DCC sessions.", nil, nil)
	descDCCSessions = prometheus.NewDesc(namespace+"_dcc_sessions_total", "DCC sessions by outcome.", []string{"outcome"}, nil)
	descDCCBytes    = prometheus.NewDesc(namespace+"_dcc_bytes_total", "Payload bytes moved by DCC transfers.", nil, nil)
	descErrors      = prometheus.NewDesc(namespace+"_errors_total", "Errors recorded.", nil, nil)
	descUptime      = prometheus.NewDesc(namespace+"_uptime_seconds", "Seconds since the collector was created.", nil, nil)
)

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descConnActive, descConnTotal, descReconnects, descBytes, descLines,
		descDCCActive, descDCCSessions, descDCCBytes, descErrors, descUptime,
	} {
		ch <- d
	}
}

// Collect implements [prometheus.Collector] by reading the atomic
// counters at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil {
		return
	}
	gauge := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), labels...)
	}
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(descConnActive, c.connectionsActive.Load())
	counter(descConnTotal, c.connectionsTotal.Load())
	counter(descReconnects, c.reconnects.Load())
	counter(descBytes, c.bytesIn.Load(), "in")
	counter(descBytes, c.bytesOut.Load(), "out")
	counter(descLines, c.linesIn.Load(), "in")
	counter(descLines, c.linesOut.Load(), "out")
	gauge(descDCCActive, c.dccActive.Load())
	counter(descDCCSessions, c.dccCompleted.Load(), "completed")
	counter(descDCCSessions, c.dccFailed.Load(), "failed")
	counter(descDCCBytes, c.dccBytes.Load())
	counter(descErrors, c.errorsTotal.Load())

	c.mu.RLock()
	up := time.Since(c.startTime).Seconds()
	c.mu.RUnlock()
	ch <- prometheus.MustNewConstMetric(descUptime, prometheus.GaugeValue, up)
}

// Registry returns a fresh registry with c registered, ready for
// promhttp.HandlerFor.
func (c *Collector) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	return reg
}
