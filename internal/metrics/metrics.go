// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/query"
)

const namespace = "pfp_inventory"

// Collector owns a private registry so several gateways can live in one test binary.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeConnections   prometheus.Gauge

	authTransitions  *prometheus.CounterVec
	cacheEvents      *prometheus.CounterVec
	endpointFailures *prometheus.CounterVec
	uploads          *prometheus.CounterVec
	uploadBytes      prometheus.Counter
	openTabs         prometheus.Gauge
	pushClients      prometheus.Gauge
}

func New(version string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	c.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	c.activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Number of in-flight HTTP requests",
	})

	c.authTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_transitions_total",
		Help:      "Auth status changes per chain",
	}, []string{"chain", "status"})

	c.cacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_cache_events_total",
		Help:      "Query cache hits, misses and invalidations by query name",
	}, []string{"query", "event"})

	c.endpointFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chain_endpoint_failures_total",
		Help:      "Node endpoints abandoned after exhausting their attempts",
	}, []string{"endpoint"})

	c.uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_uploads_total",
		Help:      "Model uploads by storage backend and result",
	}, []string{"backend", "result"})

	c.uploadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_upload_bytes_total",
		Help:      "Bytes of model files stored",
	})

	c.openTabs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_tabs",
		Help:      "Tabs with live runtime state",
	})

	c.pushClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "push_clients",
		Help:      "Connected WebSocket clients",
	})

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "service_info",
		Help:      "Service information",
	}, []string{"version"})
	info.WithLabelValues(version).Set(1)

	c.registry.MustRegister(
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.activeConnections,
		c.authTransitions,
		c.cacheEvents,
		c.endpointFailures,
		c.uploads,
		c.uploadBytes,
		c.openTabs,
		c.pushClients,
		info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		c.activeConnections.Inc()
		defer c.activeConnections.Dec()

		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

func (c *Collector) AuthTransition(chain domain.ChainName, status domain.AuthStatus) {
	c.authTransitions.WithLabelValues(string(chain), string(status)).Inc()
}

// CacheHooks feeds a query cache's events into the collector, labelled by query name.
func (c *Collector) CacheHooks() query.MetricsHooks {
	event := func(name string) func(string) {
		return func(key string) {
			c.cacheEvents.WithLabelValues(query.NameOf(key), name).Inc()
		}
	}
	return query.MetricsHooks{
		OnHit:        event("hit"),
		OnMiss:       event("miss"),
		OnInvalidate: event("invalidate"),
	}
}

func (c *Collector) EndpointFailure(endpoint string, _ error) {
	c.endpointFailures.WithLabelValues(endpoint).Inc()
}

func (c *Collector) Upload(backend string, size int, err error) {
	if err != nil {
		c.uploads.WithLabelValues(backend, "error").Inc()
		return
	}
	c.uploads.WithLabelValues(backend, "ok").Inc()
	c.uploadBytes.Add(float64(size))
}

func (c *Collector) TabOpened()        { c.openTabs.Inc() }
func (c *Collector) TabClosed()        { c.openTabs.Dec() }
func (c *Collector) PushConnected()    { c.pushClients.Inc() }
func (c *Collector) PushDisconnected() { c.pushClients.Dec() }
