package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Gateway       GatewayMetrics `json:"gateway"`
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
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// GatewayMetrics contains Lightify gateway session statistics.
type GatewayMetrics struct {
	Connected        bool   `json:"connected"`
	Address          string `json:"address,omitempty"`
	Lights           int    `json:"lights"`
	Groups           int    `json:"groups"`
	FramesTx         uint64 `json:"frames_tx"`
	FramesRx         uint64 `json:"frames_rx"`
	BytesTx          uint64 `json:"bytes_tx"`
	BytesRx          uint64 `json:"bytes_rx"`
	Errors           uint64 `json:"errors"`
	LastLightRefresh string `json:"last_light_refresh,omitempty"`
	LastGroupRefresh string `json:"last_group_refresh,omitempty"`
}

// handleMetrics returns runtime, stream and gateway statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	gw := s.bridge.Gateway()
	stats := gw.Stats()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Gateway: GatewayMetrics{
			Connected:        stats.Connected,
			Address:          remoteAddr(gw),
			Lights:           stats.Lights,
			Groups:           stats.Groups,
			FramesTx:         stats.FramesTx,
			FramesRx:         stats.FramesRx,
			BytesTx:          stats.BytesTx,
			BytesRx:          stats.BytesRx,
			Errors:           stats.ErrorsTotal,
			LastLightRefresh: formatTime(stats.LastLightRefresh),
			LastGroupRefresh: formatTime(stats.LastGroupRefresh),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// formatTime renders t as RFC3339, or "" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
