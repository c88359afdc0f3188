package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/vmanage"
)

type tenantSwitchRequest struct {
	TenantID string `json:"tenant_id"`
}

// requireController rejects controller routes when none is configured.
func (s *Server) requireController(c *gin.Context) {
	if s.deps.Sessions == nil || s.deps.Controller == nil || s.deps.Stats == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{
			Error:   "unavailable",
			Message: "no controller configured",
		})
		return
	}
	c.Next()
}

func (s *Server) handleStats(c *gin.Context) {
	var req model.StatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	q, err := req.Query(time.Now())
	if err != nil {
		writeError(c, err, nil)
		return
	}

	series, err := s.deps.Stats.Fetch(c.Request.Context(), q)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query":   q,
		"series":  series,
		"records": series.Records(),
	})
}

func (s *Server) handleTenants(c *gin.Context) {
	tenants, err := s.deps.Sessions.Tenants(c.Request.Context())
	if err != nil {
		writeError(c, err, nil)
		return
	}
	if tenants == nil {
		tenants = []model.Tenant{}
	}
	c.JSON(http.StatusOK, gin.H{
		"current": s.deps.Sessions.CurrentTenant(),
		"tenants": tenants,
	})
}

func (s *Server) handleTenantSwitch(c *gin.Context) {
	var req tenantSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	h, err := s.deps.Sessions.SwitchTenant(c.Request.Context(), nil, req.TenantID)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": h.Tenant()})
}

func (s *Server) handleDevices(c *gin.Context) {
	var (
		devices []model.Device
		err     error
	)
	if c.Query("edge") == "true" {
		devices, err = s.deps.Controller.EdgeDevices(c.Request.Context())
	} else {
		devices, err = s.deps.Controller.Devices(c.Request.Context())
	}
	if err != nil {
		writeError(c, err, nil)
		return
	}
	if devices == nil {
		devices = []model.Device{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

func (s *Server) handleDeviceState(c *gin.Context) {
	data, err := s.deps.Controller.DeviceState(c.Request.Context(), c.Param("view"), c.Param("ip"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device_ip": c.Param("ip"),
		"view":      c.Param("view"),
		"data":      data,
	})
}

func (s *Server) handleRemotePing(c *gin.Context) {
	s.remoteTool(c, s.deps.Controller.RemotePing)
}

func (s *Server) handleRemoteTraceroute(c *gin.Context) {
	s.remoteTool(c, s.deps.Controller.RemoteTraceroute)
}

func (s *Server) remoteTool(c *gin.Context, run func(context.Context, vmanage.RemoteToolRequest) (json.RawMessage, error)) {
	var req vmanage.RemoteToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	data, err := run(c.Request.Context(), req)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_ip": req.DeviceIP, "target": req.Target, "data": data})
}

func (s *Server) handleRemoteNslookup(c *gin.Context) {
	var req vmanage.NslookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	data, err := s.deps.Controller.RemoteNslookup(c.Request.Context(), req)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_ip": req.DeviceIP, "host": req.Host, "data": data})
}

func (s *Server) handleRunningConfig(c *gin.Context) {
	cfg, err := s.deps.Controller.RunningConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": c.Param("id"), "config": cfg})
}

func (s *Server) handleTemplates(c *gin.Context) {
	s.listing(c, "templates", s.deps.Controller.Templates)
}

func (s *Server) handlePolicies(c *gin.Context) {
	s.listing(c, "policies", s.deps.Controller.Policies)
}

func (s *Server) listing(c *gin.Context, name string, list func(context.Context) ([]map[string]interface{}, error)) {
	rows, err := list(c.Request.Context())
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{name: rows, "count": len(rows)})
}
