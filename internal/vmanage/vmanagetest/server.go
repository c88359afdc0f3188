// Package vmanagetest provides an in-process mock SD-WAN controller.
package vmanagetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"
)

// StatsFunc answers a statistics query. It returns the HTTP status and the
// JSON payload to send.
type StatsFunc func(path string, body map[string]interface{}) (int, interface{})

// Server is a mock controller speaking the j_security_check login flow.
type Server struct {
	*httptest.Server

	Username string
	Password string

	// LoginDelay slows the login endpoint to widen race windows in tests.
	LoginDelay time.Duration
	// MultiTenant and Provider shape the server facts returned after login.
	MultiTenant bool
	Provider    bool
	Tenants     []map[string]interface{}
	Devices     []map[string]interface{}
	Templates   []map[string]interface{}
	Policies    []map[string]interface{}
	Stats       StatsFunc
	// LegacyInterfaces makes /device/interface answer 404 so callers fall
	// back to /device/interface/synced.
	LegacyInterfaces bool
	// RunningConfigs maps device UUIDs to their running configuration.
	RunningConfigs map[string]string

	logins     atomic.Int32
	statsCalls atomic.Int32
	toolCalls  atomic.Int32

	mu         sync.Mutex
	sessions   map[string]bool
	seq        int
	lastTenant string
	lastVSess  string
}

// New starts a mock controller accepting admin/admin.
func New() *Server {
	s := &Server{
		Username: "admin",
		Password: "admin",
		sessions: make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /dataservice/j_security_check", s.handleLogin)
	mux.HandleFunc("GET /dataservice/client/server", s.handleServerFacts)
	mux.HandleFunc("GET /dataservice/tenant", s.authed(s.handleTenants))
	mux.HandleFunc("POST /dataservice/tenant/{id}/vsessionid", s.authed(s.handleVSession))
	mux.HandleFunc("GET /dataservice/device", s.authed(s.handleDevices))
	mux.HandleFunc("POST /dataservice/statistics/interface/aggregation", s.authed(s.handleStats))
	mux.HandleFunc("POST /dataservice/statistics/approute/fec/aggregation", s.authed(s.handleStats))
	mux.HandleFunc("POST /dataservice/device/tools/{tool}/{ip}", s.authed(s.handleTool))
	mux.HandleFunc("GET /dataservice/device/system/status", s.authed(s.handleSystemStatus))
	mux.HandleFunc("GET /dataservice/device/arp", s.authed(s.handleARP))
	mux.HandleFunc("GET /dataservice/device/interface", s.authed(s.handleInterfaces))
	mux.HandleFunc("GET /dataservice/device/interface/synced", s.authed(s.handleInterfaces))
	mux.HandleFunc("GET /dataservice/device/tools/nslookup", s.authed(s.handleNslookup))
	mux.HandleFunc("GET /dataservice/template/config/running/{id}", s.authed(s.handleRunningConfig))
	mux.HandleFunc("GET /dataservice/template/device", s.authed(s.handleRows(func() []map[string]interface{} { return s.Templates })))
	mux.HandleFunc("GET /dataservice/template/policy/vedge", s.authed(s.handleRows(func() []map[string]interface{} { return s.Policies })))
	s.Server = httptest.NewServer(mux)
	return s
}

// Logins is the number of login requests received.
func (s *Server) Logins() int { return int(s.logins.Load()) }

// StatsCalls is the number of statistics queries received.
func (s *Server) StatsCalls() int { return int(s.statsCalls.Load()) }

// ToolCalls is the number of device tool requests received.
func (s *Server) ToolCalls() int { return int(s.toolCalls.Load()) }

// ExpireSessions drops every issued session so the next call gets a 401.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]bool)
}

// LastTenantHeaders returns the X-Tenant-Id and VSessionId seen on the most
// recent authenticated request.
func (s *Server) LastTenantHeaders() (tenant, vsession string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTenant, s.lastVSess
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.logins.Add(1)
	if s.LoginDelay > 0 {
		time.Sleep(s.LoginDelay)
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("j_username") != s.Username || r.PostForm.Get("j_password") != s.Password {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>Login</body></html>")
		return
	}
	s.mu.Lock()
	s.seq++
	token := fmt.Sprintf("sess-%d", s.seq)
	s.sessions[token] = true
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: token, Path: "/"})
}

func (s *Server) handleServerFacts(w http.ResponseWriter, r *http.Request) {
	token, ok := s.session(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	mode := "SingleTenant"
	if s.MultiTenant {
		mode = "MultiTenant"
	}
	user := "tenant"
	if s.Provider {
		user = "provider"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"CSRFToken":       "csrf-" + token,
			"sessionId":       token,
			"tenancyMode":     mode,
			"userMode":        user,
			"platformVersion": "20.9.1",
		},
	})
}

func (s *Server) session(r *http.Request) (string, bool) {
	c, err := r.Cookie("JSESSIONID")
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.Value, s.sessions[c.Value]
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := s.session(r)
		if !ok || r.Header.Get("X-XSRF-TOKEN") != "csrf-"+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.lastTenant = r.Header.Get("X-Tenant-Id")
		s.lastVSess = r.Header.Get("VSessionId")
		s.mu.Unlock()
		next(w, r)
	}
}

func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": s.Tenants})
}

func (s *Server) handleVSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"VSessionId": "vs-" + r.PathValue("id")})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": s.Devices})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.statsCalls.Add(1)
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if s.Stats == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": []interface{}{}})
		return
	}
	status, payload := s.Stats(r.URL.Path, body)
	writeJSON(w, status, payload)
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	s.toolCalls.Add(1)
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tool":      r.PathValue("tool"),
		"device":    r.PathValue("ip"),
		"request":   body,
		"rawOutput": "ok",
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": []map[string]interface{}{{"deviceId": r.URL.Query().Get("deviceId"), "cpu_user": "3.2"}},
	})
}

func (s *Server) handleARP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": []map[string]interface{}{{
			"vdevice-name": r.URL.Query().Get("deviceId"),
			"ip":           "10.0.0.254",
			"hardware":     "52:54:00:12:34:56",
			"interface":    "ge0/0",
		}},
	})
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	synced := r.URL.Path == "/dataservice/device/interface/synced"
	if s.LegacyInterfaces && !synced {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": []map[string]interface{}{{
			"vdevice-name":   r.URL.Query().Get("deviceId"),
			"ifname":         "ge0/0",
			"if-oper-status": "Up",
			"synced":         synced,
		}},
	})
}

func (s *Server) handleNslookup(w http.ResponseWriter, r *http.Request) {
	s.toolCalls.Add(1)
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tool":   "nslookup",
		"device": q.Get("deviceId"),
		"host":   q.Get("host"),
		"vpn":    q.Get("vpn"),
		"dns":    q.Get("dns"),
	})
}

func (s *Server) handleRunningConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.RunningConfigs[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown device"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"config": cfg})
}

func (s *Server) handleRows(rows func() []map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": rows()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
