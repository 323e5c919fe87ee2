package server

import (
	"sync/atomic"
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/observability/dashboard"
)

// statsProvider implements dashboard.StatsProvider for the orchestrator.
type statsProvider struct {
	server    *Server
	startTime time.Time
}

// NewStatsProvider creates a new stats provider for the orchestrator.
func (s *Server) NewStatsProvider() dashboard.StatsProvider {
	return &statsProvider{
		server:    s,
		startTime: time.Now(),
	}
}

// GetStats returns current orchestrator statistics.
func (p *statsProvider) GetStats() *dashboard.Stats {
	workers := p.server.registry.List()

	healthyCount := 0
	activeTasks := 0
	for _, w := range workers {
		if w.Status == domain.WorkerStatusOnline || w.Status == domain.WorkerStatusBusy {
			healthyCount++
		}
		if w.Status == domain.WorkerStatusBusy {
			activeTasks++
		}
	}

	return &dashboard.Stats{
		TotalTasks:     atomic.LoadInt64(&p.server.totalTasks),
		SuccessTasks:   atomic.LoadInt64(&p.server.successTasks),
		FailedTasks:    atomic.LoadInt64(&p.server.failedTasks),
		ActiveTasks:    int64(activeTasks),
		QueuedTasks:    int64(p.server.queue.Len()),
		TotalWorkers:   len(workers),
		HealthyWorkers: healthyCount,
		UptimeSeconds:  int64(time.Since(p.startTime).Seconds()),
		Timestamp:      time.Now().Unix(),
	}
}

// GetWorkers returns current worker information.
func (p *statsProvider) GetWorkers() []*dashboard.WorkerInfo {
	workers := p.server.registry.List()
	result := make([]*dashboard.WorkerInfo, 0, len(workers))

	for _, w := range workers {
		successRate := 0.0
		total := w.TasksCompleted + w.TasksFailed
		if total > 0 {
			successRate = float64(w.TasksCompleted) / float64(total)
		}

		activeTasks := 0
		if w.AssignedTaskID != "" {
			activeTasks = 1
		}

		info := &dashboard.WorkerInfo{
			ID:           w.ID,
			Type:         w.Type,
			Endpoint:     w.Endpoint,
			Capabilities: w.Capabilities,
			ActiveTasks:  activeTasks,
			TotalTasks:   total,
			SuccessRate:  successRate,
			Status:       string(w.Status),
			Healthy:      w.IsAlive(time.Now(), p.server.config.HeartbeatTTL),
			LastSeen:     w.LastHeartbeat.Unix(),
			LatencyMs:    p.server.latency.Get(w.ID),
		}
		result = append(result, info)
	}

	return result
}
