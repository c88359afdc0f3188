// Package model defines core data structures for edgegate.
package model

import "time"

// Diagnostic is implemented by every diagnostic tool result.
type Diagnostic interface {
	Tool() string
}

// PingResult represents a completed reachability probe.
type PingResult struct {
	Host              string    `json:"host"`
	Count             int       `json:"count"`
	PacketsSent       int       `json:"packets_sent"`
	PacketsReceived   int       `json:"packets_received"`
	PacketLossPercent float64   `json:"packet_loss_percent"`
	ReplyTimes        []float64 `json:"reply_times_ms"`
	MinMs             float64   `json:"min_ms"`
	AvgMs             float64   `json:"avg_ms"`
	MaxMs             float64   `json:"max_ms"`
	Success           bool      `json:"success"`
	Error             string    `json:"error,omitempty"`
	RawOutput         string    `json:"raw_output"`
	Timestamp         time.Time `json:"timestamp"`
}

func (PingResult) Tool() string { return "ping" }

// TracerouteResult represents a complete traceroute result.
type TracerouteResult struct {
	Host          string     `json:"host"`
	MaxHops       int        `json:"max_hops"`
	Hops          []TraceHop `json:"hops"`
	ReachedTarget bool       `json:"reached_target"`
	Success       bool       `json:"success"`
	Error         string     `json:"error,omitempty"`
	RawOutput     string     `json:"raw_output"`
	Timestamp     time.Time  `json:"timestamp"`
}

func (TracerouteResult) Tool() string { return "traceroute" }

// TraceHop represents a single hop in a traceroute. A hop that timed out
// has no address and no samples.
type TraceHop struct {
	HopNum   int       `json:"hop"`
	Hostname string    `json:"hostname,omitempty"`
	IP       string    `json:"ip,omitempty"`
	RTTs     []float64 `json:"rtt_ms"`
	Lost     bool      `json:"lost"`
}

// PortState classifies a scanned port.
type PortState string

const (
	PortOpen     PortState = "open"
	PortClosed   PortState = "closed"
	PortFiltered PortState = "filtered"
)

// PortStatus is the outcome for one port.
type PortStatus struct {
	Port      int       `json:"port"`
	State     PortState `json:"state"`
	Service   string    `json:"service,omitempty"`
	LatencyMs float64   `json:"latency_ms,omitempty"`
}

// PortScanResult represents a completed port scan.
type PortScanResult struct {
	Target    string       `json:"target"`
	Ports     []PortStatus `json:"ports"`
	OpenPorts []int        `json:"open_ports"`
	ElapsedMs int64        `json:"elapsed_ms"`
	Timestamp time.Time    `json:"timestamp"`
}

func (PortScanResult) Tool() string { return "portscan" }

// CommandRequest describes one device command execution.
type CommandRequest struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	Username      string        `json:"username"`
	Password      string        `json:"-"`
	Commands      []string      `json:"commands"`
	Timeout       time.Duration `json:"timeout"`
	DisablePaging bool          `json:"disable_paging"`
	// DeviceType overrides prompt-based detection, e.g. "juniper".
	DeviceType string `json:"device_type,omitempty"`
}

// CommandOutput is the cleaned output of one command.
type CommandOutput struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

// CommandResult is the outcome of a CommandRequest. On timeout it carries the
// output collected so far and ErrorKind "timeout".
type CommandResult struct {
	ID        string            `json:"id"`
	Host      string            `json:"host"`
	Success   bool              `json:"success"`
	RawOutput string            `json:"raw_output"`
	Outputs   []CommandOutput   `json:"outputs"`
	Fields    map[string]string `json:"fields,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorKind string            `json:"error_kind,omitempty"`
	ElapsedMs int64             `json:"elapsed_ms"`
	Timestamp time.Time         `json:"timestamp"`
}

func (CommandResult) Tool() string { return "command" }

// Tenant is a controller tenant.
type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OrgName   string `json:"org_name,omitempty"`
	SubDomain string `json:"sub_domain,omitempty"`
}

// Device is a controller inventory entry.
type Device struct {
	UUID         string `json:"uuid"`
	SystemIP     string `json:"system_ip"`
	HostName     string `json:"host_name"`
	DeviceType   string `json:"device_type"`
	Personality  string `json:"personality,omitempty"`
	Model        string `json:"device_model,omitempty"`
	Reachability string `json:"reachability,omitempty"`
	Version      string `json:"version,omitempty"`
	SiteID       string `json:"site_id,omitempty"`
}

// DaemonStatus represents the current state of the daemon.
type DaemonStatus struct {
	Running      bool        `json:"running"`
	PID          int         `json:"pid"`
	StartTime    time.Time   `json:"start_time"`
	Uptime       string      `json:"uptime"`
	Listen       string      `json:"listen"`
	Controller   string      `json:"controller,omitempty"`
	SessionState string      `json:"session_state,omitempty"`
	CacheEntries int         `json:"cache_entries"`
	Jobs         []JobStatus `json:"jobs,omitempty"`
}

// JobStatus represents the status of a background job.
type JobStatus struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	LastRun    time.Time     `json:"last_run"`
	NextRun    time.Time     `json:"next_run"`
	LastError  string        `json:"last_error,omitempty"`
	ErrorCount int           `json:"error_count"`
	Running    bool          `json:"running"`
}

// HistoryEntry is a stored diagnostic or command record.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Tool      string    `json:"tool"`
	Target    string    `json:"target"`
	Success   bool      `json:"success"`
	Summary   string    `json:"summary"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryStats summarises stored history per tool.
type HistoryStats struct {
	Tool      string `json:"tool"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Targets   int    `json:"targets"`
}
