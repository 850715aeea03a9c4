package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/vantage/internal/database"
)

// HandleHealth handles GET /api/system/health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	databases := make(map[string]string)
	healthy := true
	for _, db := range s.databases {
		if err := db.QuickCheck(ctx); err != nil {
			databases[db.Name()] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		databases[db.Name()] = "ok"
	}

	status := http.StatusOK
	statusText := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusText = "degraded"
	}

	s.writeJSON(w, status, map[string]interface{}{
		"data": map[string]interface{}{
			"status":    statusText,
			"databases": databases,
			"queue": map[string]interface{}{
				"pending": s.queue.Pending(),
			},
			"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleSystemInfo handles GET /api/system/info with host-level metrics
func (s *Server) HandleSystemInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info["memory"] = map[string]interface{}{
			"total_mb":     vm.Total / 1024 / 1024,
			"used_mb":      vm.Used / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info["cpu_percent"] = percents[0]
	}
	if uptime, err := host.Uptime(); err == nil {
		info["host_uptime_seconds"] = uptime
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": info,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleDBStats handles GET /api/system/databases
func (s *Server) HandleDBStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]*database.Stats)
	for _, db := range s.databases {
		dbStats, err := db.GetStats()
		if err != nil {
			s.log.Error().Err(err).Str("db", db.Name()).Msg("Failed to get database stats")
			continue
		}
		stats[db.Name()] = dbStats
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": stats,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}
