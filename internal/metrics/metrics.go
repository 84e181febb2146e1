package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder interface {
	IncPolls()
	IncPollErrors()
	AddMessagesStored(n int)
	SetSeenIDs(n int)
	ObserveRankingDuration(d time.Duration)
	SetSkippedRecords(n int)
	IncCommands(command string)
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, d time.Duration)
	Handler() http.Handler
}

type Prometheus struct {
	registry        *prometheus.Registry
	polls           prometheus.Counter
	pollErrors      prometheus.Counter
	messagesStored  prometheus.Counter
	seenIDs         prometheus.Gauge
	rankingDuration prometheus.Histogram
	skippedRecords  prometheus.Gauge
	commands        *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New returns a Prometheus recorder on its own registry, or a no-op recorder
// when disabled.
func New(enabled bool) Recorder {
	if !enabled {
		return Noop{}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		polls: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatrank_polls_total",
			Help: "Total number of chatroom poll attempts",
		}),
		pollErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatrank_poll_errors_total",
			Help: "Total number of failed chatroom polls",
		}),
		messagesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatrank_messages_stored_total",
			Help: "Total number of new chat messages appended to the log",
		}),
		seenIDs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatrank_seen_ids",
			Help: "Current number of remembered message IDs",
		}),
		rankingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatrank_ranking_duration_seconds",
			Help:    "Duration of ranking passes in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		skippedRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatrank_ranking_skipped_records",
			Help: "Malformed log records skipped by the latest ranking pass",
		}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrank_commands_total",
			Help: "Total number of operator commands handled",
		}, []string{"command"}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrank_http_requests_total",
			Help: "Total number of dashboard HTTP requests",
		}, []string{"endpoint", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatrank_http_request_duration_seconds",
			Help:    "Dashboard HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *Prometheus) IncPolls()               { m.polls.Inc() }
func (m *Prometheus) IncPollErrors()          { m.pollErrors.Inc() }
func (m *Prometheus) AddMessagesStored(n int) { m.messagesStored.Add(float64(n)) }
func (m *Prometheus) SetSeenIDs(n int)        { m.seenIDs.Set(float64(n)) }
func (m *Prometheus) SetSkippedRecords(n int) { m.skippedRecords.Set(float64(n)) }

func (m *Prometheus) ObserveRankingDuration(d time.Duration) {
	m.rankingDuration.Observe(d.Seconds())
}

func (m *Prometheus) IncCommands(command string) {
	m.commands.WithLabelValues(command).Inc()
}

func (m *Prometheus) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *Prometheus) ObserveRequestDuration(endpoint string, d time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type Noop struct{}

func (Noop) IncPolls()                                     {}
func (Noop) IncPollErrors()                                {}
func (Noop) AddMessagesStored(int)                         {}
func (Noop) SetSeenIDs(int)                                {}
func (Noop) ObserveRankingDuration(time.Duration)          {}
func (Noop) SetSkippedRecords(int)                         {}
func (Noop) IncCommands(string)                            {}
func (Noop) IncRequestsTotal(string, int)                  {}
func (Noop) ObserveRequestDuration(string, time.Duration) {}
func (Noop) Handler() http.Handler                         { return http.NotFoundHandler() }
