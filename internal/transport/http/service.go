package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SessionCounter reports how many voice sessions are live. The websocket hub
// satisfies this.
type SessionCounter interface {
	Count() int
}

// Service exposes the control-plane endpoints: health and session stats.
type Service struct {
	sessions  SessionCounter
	startedAt time.Time
	version   string
}

func NewService(sessions SessionCounter, version string) *Service {
	return &Service{
		sessions:  sessions,
		startedAt: time.Now(),
		version:   version,
	}
}

// Register mounts the service routes on the router.
func (s *Service) Register(r *Router) {
	r.Engine.GET("/healthz", s.handleHealth)
	r.API.GET("/sessions", s.handleSessions)
}

type healthReport struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Sessions      int     `json:"sessions"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsedMB     uint64  `json:"mem_used_mb"`
	MemPercent    float64 `json:"mem_percent"`
}

func (s *Service) handleHealth(c *gin.Context) {
	report := healthReport{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.sessions != nil {
		report.Sessions = s.sessions.Count()
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		report.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		report.MemUsedMB = vm.Used / 1024 / 1024
		report.MemPercent = vm.UsedPercent
	}
	RespondSuccess(c, http.StatusOK, report, "")
}

func (s *Service) handleSessions(c *gin.Context) {
	count := 0
	if s.sessions != nil {
		count = s.sessions.Count()
	}
	RespondSuccess(c, http.StatusOK, gin.H{"active": count}, "")
}
