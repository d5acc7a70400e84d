// Package promreactor exports reactor engine metrics to Prometheus.
package promreactor

import (
	"github.com/joeycumines/go-reactor"
	"github.com/prometheus/client_golang/prometheus"
)

// Source provides metrics snapshots. *reactor.Engine implements it.
type Source interface {
	Metrics() (reactor.MetricsSnapshot, bool)
}

// Collector is a prometheus.Collector reading a Source on every scrape.
// Nothing is reported while the source has metrics disabled.
type Collector struct {
	source     Source
	polls      *prometheus.Desc
	pollsFired *prometheus.Desc
	pollErrors *prometheus.Desc
	dispatches *prometheus.Desc
	wakeups    *prometheus.Desc
	stops      *prometheus.Desc
	dispatch   *prometheus.Desc
	maxLatency *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector with metric names prefixed by
// namespace. constLabels may be nil.
func NewCollector(namespace string, source Source, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, constLabels)
	}
	return &Collector{
		source:     source,
		polls:      desc("polls_total", "Backend waits performed."),
		pollsFired: desc("polls_fired_total", "Backend waits that returned ready descriptors."),
		pollErrors: desc("poll_errors_total", "Backend waits that failed."),
		dispatches: desc("dispatches_total", "Readiness callbacks invoked."),
		wakeups:    desc("wakeups_total", "Writes to the engine wakeup counter."),
		stops:      desc("stops_total", "Stop cycles ended by a stop request."),
		dispatch:   desc("dispatch_duration_seconds", "Readiness callback run time."),
		maxLatency: desc("dispatch_duration_max_seconds", "Longest readiness callback run time observed."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.polls
	ch <- c.pollsFired
	ch <- c.pollErrors
	ch <- c.dispatches
	ch <- c.wakeups
	ch <- c.stops
	ch <- c.dispatch
	ch <- c.maxLatency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s, ok := c.source.Metrics()
	if !ok {
		return
	}

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.polls, s.Polls)
	counter(c.pollsFired, s.PollsFired)
	counter(c.pollErrors, s.PollErrors)
	counter(c.dispatches, s.Dispatches)
	counter(c.wakeups, s.Wakeups)
	counter(c.stops, s.Stops)

	l := s.Dispatch
	ch <- prometheus.MustNewConstSummary(c.dispatch, l.Count, l.Sum.Seconds(), map[float64]float64{
		0.5:  l.P50.Seconds(),
		0.9:  l.P90.Seconds(),
		0.99: l.P99.Seconds(),
	})
	ch <- prometheus.MustNewConstMetric(c.maxLatency, prometheus.GaugeValue, l.Max.Seconds())
}
