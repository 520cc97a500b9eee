package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Ledger metrics
	UsageReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unplug_usage_reports_total",
			Help: "Total usage samples applied to the ledger",
		},
		[]string{"app"},
	)

	UsedSecondsToday = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "unplug_used_seconds_today",
			Help: "Usage seconds recorded today per app",
		},
		[]string{"app"},
	)

	TrackedApps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unplug_tracked_apps",
			Help: "Number of apps with a daily limit",
		},
	)

	DayRollovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unplug_day_rollovers_total",
			Help: "Total per-app day rollover resets",
		},
	)

	// Persistence metrics
	PersistWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unplug_persist_writes_total",
			Help: "Total successful limit set writes",
		},
	)

	PersistErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unplug_persist_errors_total",
			Help: "Storage write failures",
		},
		[]string{"kind"},
	)

	PersistDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unplug_persist_duration_seconds",
			Help:    "Limit set write duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Enforcement metrics
	LimitsExceeded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unplug_limits_exceeded_total",
			Help: "Total transitions into the exceeded state",
		},
		[]string{"app"},
	)

	BlockedApps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unplug_blocked_apps",
			Help: "Number of apps currently blocked",
		},
	)

	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unplug_notifications_total",
			Help: "Notifications delivered by kind",
		},
		[]string{"kind"},
	)

	NotificationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unplug_notifications_dropped_total",
			Help: "Notifications dropped because the delivery queue was full",
		},
		[]string{"kind"},
	)

	CollaboratorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unplug_collaborator_errors_total",
			Help: "Failed actuator or notifier calls",
		},
		[]string{"collaborator"},
	)

	SkippedUnauthorized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unplug_unauthorized_skips_total",
			Help: "Enforcement side effects skipped because authorization is not granted",
		},
	)

	// History metrics
	HistoryPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unplug_history_purged_total",
			Help: "Daily usage history entries removed by retention",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		UsageReportsTotal,
		UsedSecondsToday,
		TrackedApps,
		DayRollovers,
		PersistWrites,
		PersistErrors,
		PersistDuration,
		LimitsExceeded,
		BlockedApps,
		NotificationsSent,
		NotificationsDropped,
		CollaboratorErrors,
		SkippedUnauthorized,
		HistoryPurged,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: Handler(),
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
