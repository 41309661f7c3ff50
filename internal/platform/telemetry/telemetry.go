// Package telemetry exposes Prometheus metrics for the HTTP surface and the
// booking core. Every Provider owns its own registry so tests can build as
// many as they like.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Booking outcomes recorded by BookingAttempt.
const (
	OutcomeBooked      = "booked"
	OutcomeConflict    = "conflict"
	OutcomeRejected    = "rejected"
	OutcomeTimeout     = "timeout"
	OutcomeError       = "error"
	OutcomeCacheHit    = "hit"
	OutcomeCacheMiss   = "miss"
	OutcomeCacheFailed = "error"
)

// Config holds telemetry settings.
type Config struct {
	ServiceName string
	Environment string
	// DisableMetrics turns every recorder into a no-op. The /metrics
	// endpoint still answers.
	DisableMetrics bool
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "hms-server"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// Provider registers and records all application metrics.
type Provider struct {
	cfg      Config
	registry *prometheus.Registry

	httpDuration   *prometheus.HistogramVec
	httpActive     prometheus.Gauge
	bookings       *prometheus.CounterVec
	slotsGenerated prometheus.Counter
	absenceCancels prometheus.Counter
	txDuration     *prometheus.HistogramVec
	holidayCache   *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	dbPool         *prometheus.GaugeVec
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	constLabels := prometheus.Labels{"service": cfg.ServiceName, "env": cfg.Environment}

	p := &Provider{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_server_request_duration_seconds",
			Help:        "Duration of HTTP requests in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		httpActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "http_server_active_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "booking_attempts_total",
			Help:        "Slot booking attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		slotsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "slots_generated_total",
			Help:        "Slots inserted or re-flagged by the generator.",
			ConstLabels: constLabels,
		}),
		absenceCancels: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "absence_appointment_cancellations_total",
			Help:        "Appointments cancelled because a doctor absence was recorded.",
			ConstLabels: constLabels,
		}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "booking_tx_duration_seconds",
			Help:        "Duration of serializable booking transactions.",
			Buckets:     []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"operation"}),
		holidayCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "holiday_cache_lookups_total",
			Help:        "Holiday cache lookups by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "notifications_sent_total",
			Help:        "Notifications by channel and status.",
			ConstLabels: constLabels,
		}, []string{"channel", "status"}),
		dbPool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "db_pool_connections",
			Help:        "Database pool connections by state.",
			ConstLabels: constLabels,
		}, []string{"state"}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.httpDuration, p.httpActive, p.bookings, p.slotsGenerated, p.absenceCancels,
		p.txDuration, p.holidayCache, p.notifications, p.dbPool,
	)
	return p
}

// Registry exposes the provider's registry, mainly for tests.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

func (p *Provider) on() bool { return p != nil && !p.cfg.DisableMetrics }

// BookingAttempt counts one booking attempt with its outcome.
func (p *Provider) BookingAttempt(outcome string) {
	if p.on() {
		p.bookings.WithLabelValues(outcome).Inc()
	}
}

func (p *Provider) SlotsGenerated(n int) {
	if p.on() && n > 0 {
		p.slotsGenerated.Add(float64(n))
	}
}

func (p *Provider) AbsenceAppointmentsCancelled(n int) {
	if p.on() && n > 0 {
		p.absenceCancels.Add(float64(n))
	}
}

// ObserveTx records how long a booking transaction took.
func (p *Provider) ObserveTx(operation string, d time.Duration) {
	if p.on() {
		p.txDuration.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (p *Provider) HolidayCacheLookup(result string) {
	if p.on() {
		p.holidayCache.WithLabelValues(result).Inc()
	}
}

func (p *Provider) NotificationSent(channel, status string) {
	if p.on() {
		p.notifications.WithLabelValues(channel, status).Inc()
	}
}

// SetDBPool publishes a pool snapshot.
func (p *Provider) SetDBPool(total, idle, acquired int32) {
	if !p.on() {
		return
	}
	p.dbPool.WithLabelValues("total").Set(float64(total))
	p.dbPool.WithLabelValues("idle").Set(float64(idle))
	p.dbPool.WithLabelValues("acquired").Set(float64(acquired))
}

// MetricsMiddleware records request duration and in-flight count per route.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.on() {
				return next(c)
			}

			p.httpActive.Inc()
			defer p.httpActive.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = 500
			}
			// Route pattern keeps label cardinality bounded.
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			p.httpDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the registry in text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}
