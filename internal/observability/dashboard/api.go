package dashboard

import (
	"encoding/json"
	"net/http"
	"time"
)

// Stats represents orchestrator-wide statistics.
type Stats struct {
	TotalTasks     int64 `json:"total_tasks"`
	SuccessTasks   int64 `json:"success_tasks"`
	FailedTasks    int64 `json:"failed_tasks"`
	ActiveTasks    int64 `json:"active_tasks"`
	QueuedTasks    int64 `json:"queued_tasks"`
	TotalWorkers   int   `json:"total_workers"`
	HealthyWorkers int   `json:"healthy_workers"`
	UptimeSeconds  int64 `json:"uptime_seconds"`
	Timestamp      int64 `json:"timestamp"`
}

// WorkerInfo represents worker information for the dashboard.
type WorkerInfo struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Endpoint      string   `json:"endpoint"`
	Capabilities  []string `json:"capabilities"`
	ActiveTasks   int      `json:"active_tasks"`
	TotalTasks    int64    `json:"total_tasks"`
	SuccessRate   float64  `json:"success_rate"`
	Status        string   `json:"status"`
	Healthy       bool     `json:"healthy"`
	LastSeen      int64    `json:"last_seen"`
	LatencyMs     float64  `json:"latency_ms"`
}

// TaskInfo represents task information for the dashboard.
type TaskInfo struct {
	ID           string `json:"id"`
	TaskType     string `json:"task_type"`
	Status       string `json:"status"`
	WorkerID     string `json:"worker_id"`
	StartedAt    int64  `json:"started_at"`
	CompletedAt  int64  `json:"completed_at,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// handleStats returns cluster statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var stats *Stats
	if s.provider != nil {
		stats = s.provider.GetStats()
	} else {
		stats = &Stats{
			Timestamp: time.Now().Unix(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleWorkers returns worker list.
func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var workers []*WorkerInfo
	if s.provider != nil {
		workers = s.provider.GetWorkers()
	} else {
		workers = []*WorkerInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"workers":   workers,
		"count":     len(workers),
		"timestamp": time.Now().Unix(),
	})
}
