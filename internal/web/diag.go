package web

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/device"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/util"
)

const defaultPingCount = 4

type pingRequest struct {
	Host      string `json:"host"`
	Count     int    `json:"count"`
	TimeoutMs int    `json:"timeout_ms"`
}

type tracerouteRequest struct {
	Host      string `json:"host"`
	MaxHops   int    `json:"max_hops"`
	TimeoutMs int    `json:"timeout_ms"`
}

type portScanRequest struct {
	Target    string `json:"target"`
	Ports     []int  `json:"ports"`
	TimeoutMs int    `json:"timeout_ms"`
}

type commandRequest struct {
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	Command       string   `json:"command"`
	Commands      []string `json:"commands"`
	TimeoutMs     int      `json:"timeout_ms"`
	DisablePaging bool     `json:"disable_paging"`
	DeviceType    string   `json:"device_type"`
	// Scope selects what /device/logs collects.
	Scope string `json:"scope"`
	// Save writes a backup under the data directory.
	Save bool `json:"save"`
}

func (r commandRequest) model() model.CommandRequest {
	commands := r.Commands
	if strings.TrimSpace(r.Command) != "" {
		commands = append([]string{r.Command}, commands...)
	}
	return model.CommandRequest{
		Host:          r.Host,
		Port:          r.Port,
		Username:      r.Username,
		Password:      r.Password,
		Commands:      commands,
		Timeout:       millis(r.TimeoutMs),
		DisablePaging: r.DisablePaging,
		DeviceType:    r.DeviceType,
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (s *Server) handlePing(c *gin.Context) {
	var req pingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Count == 0 {
		req.Count = defaultPingCount
	}

	res, err := s.deps.Ping.Ping(c.Request.Context(), req.Host, req.Count, millis(req.TimeoutMs))
	if res != nil {
		s.record(res, err)
	}
	if err != nil {
		writeError(c, err, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleTraceroute(c *gin.Context) {
	var req tracerouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := s.deps.Trace.Trace(c.Request.Context(), req.Host, req.MaxHops, millis(req.TimeoutMs))
	if res != nil {
		s.record(res, err)
	}
	if err != nil {
		writeError(c, err, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handlePortScan(c *gin.Context) {
	var req portScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if len(req.Ports) == 0 {
		req.Ports = util.CommonPorts()
	}
	timeout := millis(req.TimeoutMs)
	if timeout == 0 {
		timeout = s.config.Diag.ScanTimeout
	}

	res, err := s.deps.Scan.Scan(c.Request.Context(), req.Target, req.Ports, timeout)
	if res != nil {
		s.record(res, err)
	}
	if err != nil {
		writeError(c, err, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDeviceCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res, err := s.deps.Commands.Execute(c.Request.Context(), req.model())
	s.commandResult(c, res, err)
}

func (s *Server) handleDeviceConfig(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res, err := s.deps.Commands.PushConfig(c.Request.Context(), req.model())
	s.commandResult(c, res, err)
}

func (s *Server) handleDeviceLogs(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res, err := s.deps.Commands.Logs(c.Request.Context(), req.model(), req.Scope)
	s.commandResult(c, res, err)
}

func (s *Server) handleDeviceBackup(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res, err := s.deps.Commands.Backup(c.Request.Context(), req.model())
	if res != nil {
		s.record(res, err)
	}
	if err != nil {
		writeError(c, err, res)
		return
	}
	if !req.Save {
		c.JSON(http.StatusOK, gin.H{"result": res})
		return
	}
	path, err := device.SaveBackup(filepath.Join(s.config.DataDir, "backups"), res)
	if err != nil {
		writeError(c, err, res)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "file": path})
}

func (s *Server) commandResult(c *gin.Context, res *model.CommandResult, err error) {
	if res != nil {
		s.record(res, err)
	}
	if err != nil {
		writeError(c, err, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// record stores a finished run. Rejected input is not history.
func (s *Server) record(d model.Diagnostic, err error) {
	if s.deps.History == nil || apperr.KindOf(err) == apperr.KindValidation {
		return
	}
	if _, rerr := s.deps.History.Record(d, err); rerr != nil {
		util.WithFields(util.Fields{"tool": d.Tool(), "error": rerr.Error()}).Warn("failed to record history")
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []model.HistoryEntry{}})
		return
	}
	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 || n > 1000 {
			badRequest(c, "limit must be between 0 and 1000")
			return
		}
		limit = n
	}

	entries, err := s.deps.History.List(c.Query("tool"), c.Query("target"), limit)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleHistoryStats(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusOK, gin.H{"tools": []model.HistoryStats{}})
		return
	}
	stats, err := s.deps.History.Stats()
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": stats})
}

func (s *Server) handleHistoryEntry(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid history id")
		return
	}
	if s.deps.History == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "history entry not found"})
		return
	}
	entry, err := s.deps.History.Get(id)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	if entry == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "history entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"version": s.deps.Version,
		"time":    time.Now().UTC(),
	}
	if s.deps.Sessions != nil {
		resp["controller"] = s.deps.Sessions.Info()
	}
	if s.deps.Stats != nil {
		resp["cache_entries"] = s.deps.Stats.CacheLen()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.deps.Status == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: "daemon is not running"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Status())
}

func (s *Server) handleTriggerJob(c *gin.Context) {
	if s.deps.TriggerJob == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: "daemon is not running"})
		return
	}
	name := c.Param("name")
	if !s.deps.TriggerJob(name) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "unknown job " + name})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": name, "triggered": true})
}
