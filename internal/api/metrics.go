package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	Dropped          uint64 `json:"dropped"`
}

// MQTTMetrics contains connector counters.
type MQTTMetrics struct {
	ClientID        string `json:"client_id"`
	State           string `json:"state"`
	Connected       bool   `json:"connected"`
	Subscriptions   int    `json:"subscriptions"`
	Published       uint64 `json:"published"`
	PublishFailures uint64 `json:"publish_failures"`
	Received        uint64 `json:"received"`
	HandlerErrors   uint64 `json:"handler_errors"`
	ConnectAttempts uint64 `json:"connect_attempts"`
	Connects        uint64 `json:"connects"`
	Reconnects      uint64 `json:"reconnects"`
}

// DatabaseMetrics contains journal database pool statistics.
type DatabaseMetrics struct {
	Healthy         bool  `json:"healthy"`
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// bytesPerMB converts byte counts to megabytes.
const bytesPerMB = 1024 * 1024

// handleMetrics returns runtime, connector and database metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := s.connector.Stats()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			Dropped:          s.hub.Dropped(),
		},
		MQTT: MQTTMetrics{
			ClientID:        s.connector.ClientID(),
			State:           stats.State.String(),
			Connected:       s.connector.HealthCheck(r.Context()) == nil,
			Subscriptions:   stats.Subscriptions,
			Published:       stats.Published,
			PublishFailures: stats.PublishFailures,
			Received:        stats.Received,
			HandlerErrors:   stats.HandlerErrors,
			ConnectAttempts: stats.ConnectAttempts,
			Connects:        stats.Connects,
			Reconnects:      stats.Reconnects,
		},
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			Healthy:         s.db.HealthCheck(r.Context()) == nil,
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
