package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the
// enrollment engine and the HTTP surface.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	approvalsTotal        *prometheus.CounterVec
	webhookEventsTotal    *prometheus.CounterVec
	gatewayCallbacksTotal *prometheus.CounterVec
	callsLoggedTotal      prometheus.Counter
	distributionRunsTotal prometheus.Counter
	distributionAssigned  prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	approvalsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_approvals_total",
		Help: "Enrollment approvals by trigger",
	}, []string{"trigger"})

	webhookEventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound webhook events by result",
	}, []string{"result"})

	gatewayCallbacksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_callbacks_total",
		Help: "Payment gateway callbacks by result",
	}, []string{"result"})

	callsLoggedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "call_records_total",
		Help: "Call attempts logged by agents",
	})

	distributionRunsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distribution_runs_total",
		Help: "Pending-lead distribution runs",
	})

	distributionAssigned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distribution_assignments_total",
		Help: "Leads assigned across all distribution runs",
	})

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		requestDuration,
		requestTotal,
		approvalsTotal,
		webhookEventsTotal,
		gatewayCallbacksTotal,
		callsLoggedTotal,
		distributionRunsTotal,
		distributionAssigned,
	)

	return &MetricsService{
		registry:              registry,
		handler:               promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:       requestDuration,
		requestTotal:          requestTotal,
		approvalsTotal:        approvalsTotal,
		webhookEventsTotal:    webhookEventsTotal,
		gatewayCallbacksTotal: gatewayCallbacksTotal,
		callsLoggedTotal:      callsLoggedTotal,
		distributionRunsTotal: distributionRunsTotal,
		distributionAssigned:  distributionAssigned,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.handler
}

// ObserveHTTPRequest records one served HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if s == nil {
		return
	}
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveApproval records one approval by trigger.
func (s *MetricsService) ObserveApproval(trigger string) {
	if s == nil {
		return
	}
	s.approvalsTotal.WithLabelValues(trigger).Inc()
}

// ObserveWebhookEvent records one inbound webhook by result.
func (s *MetricsService) ObserveWebhookEvent(result string) {
	if s == nil {
		return
	}
	s.webhookEventsTotal.WithLabelValues(result).Inc()
}

// ObserveGatewayCallback records one gateway callback by result.
func (s *MetricsService) ObserveGatewayCallback(result string) {
	if s == nil {
		return
	}
	s.gatewayCallbacksTotal.WithLabelValues(result).Inc()
}

// ObserveCallLogged records one call attempt.
func (s *MetricsService) ObserveCallLogged() {
	if s == nil {
		return
	}
	s.callsLoggedTotal.Inc()
}

// ObserveDistribution records one distribution run and its assignments.
func (s *MetricsService) ObserveDistribution(assigned int) {
	if s == nil {
		return
	}
	s.distributionRunsTotal.Inc()
	s.distributionAssigned.Add(float64(assigned))
}
