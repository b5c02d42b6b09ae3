// Package prometheus implements the metrics interfaces on the Prometheus
// client library. Constructors return nil when metrics are disabled, and
// every method tolerates a nil receiver, so call sites never need a guard.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/SokratisVidros/eurechat/pkg/metrics"
)

// directoryMetrics is the Prometheus implementation of
// metrics.DirectoryMetrics and metrics.ConnectionMetrics.
type directoryMetrics struct {
	registeredUsers   prometheus.Gauge
	commands          *prometheus.CounterVec
	sessionsClosed    *prometheus.CounterVec
	authFailures      prometheus.Counter
	probes            *prometheus.CounterVec
	connsAccepted     prometheus.Counter
	connsClosed       prometheus.Counter
	connsForceClosed  prometheus.Counter
	activeConnections prometheus.Gauge
}

// NewDirectoryMetrics creates a Prometheus-backed metrics instance.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDirectoryMetrics() *directoryMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &directoryMetrics{
		registeredUsers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "eurechat_directory_registered_users",
			Help: "Number of users currently registered in the directory",
		}),
		commands: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "eurechat_directory_commands_total",
			Help: "Total session commands handled by message type",
		}, []string{"command"}),
		sessionsClosed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "eurechat_directory_sessions_closed_total",
			Help: "Total sessions closed by cause",
		}, []string{"cause"}),
		authFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "eurechat_directory_auth_failures_total",
			Help: "Total rejected authentication attempts",
		}),
		probes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "eurechat_directory_probes_total",
			Help: "Total liveness probes by result",
		}, []string{"result"}),
		connsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "eurechat_directory_connections_accepted_total",
			Help: "Total accepted directory connections",
		}),
		connsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "eurechat_directory_connections_closed_total",
			Help: "Total closed directory connections",
		}),
		connsForceClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "eurechat_directory_connections_force_closed_total",
			Help: "Total connections force-closed at shutdown",
		}),
		activeConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "eurechat_directory_active_connections",
			Help: "Current number of open directory connections",
		}),
	}
}

// SetRegisteredUsers updates the registry population gauge.
func (m *directoryMetrics) SetRegisteredUsers(count int) {
	if m == nil {
		return
	}
	m.registeredUsers.Set(float64(count))
}

// RecordCommand counts one handled session command.
func (m *directoryMetrics) RecordCommand(command string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command).Inc()
}

// RecordSessionClosed counts a session ending by cause.
func (m *directoryMetrics) RecordSessionClosed(cause string) {
	if m == nil {
		return
	}
	m.sessionsClosed.WithLabelValues(cause).Inc()
}

// RecordAuthFailure counts a rejected PASS.
func (m *directoryMetrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

// RecordProbe counts one liveness probe by result.
func (m *directoryMetrics) RecordProbe(result string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result).Inc()
}

// RecordConnectionAccepted counts an accepted connection.
func (m *directoryMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connsAccepted.Inc()
}

// RecordConnectionClosed counts a closed connection.
func (m *directoryMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connsClosed.Inc()
}

// RecordConnectionForceClosed counts a force-closed connection.
func (m *directoryMetrics) RecordConnectionForceClosed() {
	if m == nil {
		return
	}
	m.connsForceClosed.Inc()
}

// SetActiveConnections updates the open connection gauge.
func (m *directoryMetrics) SetActiveConnections(count int32) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}
