package probes

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/metrics"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/util"
)

const maxScanPorts = 1024

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// PortScanner runs bounded-concurrency TCP connect scans.
type PortScanner struct {
	concurrency int
	dialer      Dialer
}

// NewPortScanner creates a scanner. A nil dialer uses net.Dialer.
func NewPortScanner(concurrency int, d Dialer) *PortScanner {
	if concurrency <= 0 {
		concurrency = 20
	}
	if d == nil {
		d = &net.Dialer{}
	}
	return &PortScanner{concurrency: concurrency, dialer: d}
}

var serviceNames = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	80:    "http",
	110:   "pop3",
	111:   "rpc",
	135:   "msrpc",
	139:   "netbios",
	143:   "imap",
	161:   "snmp",
	179:   "bgp",
	443:   "https",
	445:   "smb",
	830:   "netconf",
	993:   "imaps",
	995:   "pop3s",
	1433:  "mssql",
	1521:  "oracle",
	1723:  "pptp",
	3306:  "mysql",
	3389:  "rdp",
	5432:  "postgresql",
	5900:  "vnc",
	6379:  "redis",
	8080:  "http-alt",
	8443:  "https-alt",
	8888:  "http-alt",
	9200:  "elasticsearch",
	27017: "mongodb",
}

func serviceName(port int) string {
	return serviceNames[port]
}

// Scan probes each port on target with a per-port timeout. At most
// concurrency dials run at once, so the scan takes no longer than
// timeout × ceil(len(ports) / concurrency).
func (s *PortScanner) Scan(ctx context.Context, target string, ports []int, timeout time.Duration) (*model.PortScanResult, error) {
	const op = "diag.portscan"
	start := time.Now()

	result := &model.PortScanResult{
		Target:    target,
		Ports:     []model.PortStatus{},
		OpenPorts: []int{},
		Timestamp: start,
	}
	ports, err := s.validate(op, target, ports, timeout)
	if err != nil {
		return s.done(result, start, err)
	}

	jobs := make(chan int)
	statuses := make(chan model.PortStatus, len(ports))

	var wg sync.WaitGroup
	workers := s.concurrency
	if workers > len(ports) {
		workers = len(ports)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for port := range jobs {
				statuses <- s.probe(ctx, target, port, timeout)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, port := range ports {
			select {
			case jobs <- port:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(statuses)
	}()

	for st := range statuses {
		result.Ports = append(result.Ports, st)
	}
	sort.Slice(result.Ports, func(i, j int) bool { return result.Ports[i].Port < result.Ports[j].Port })
	for _, st := range result.Ports {
		if st.State == model.PortOpen {
			result.OpenPorts = append(result.OpenPorts, st.Port)
		}
	}

	if ctx.Err() != nil {
		return s.done(result, start, apperr.FromContext(op, ctx.Err()))
	}
	return s.done(result, start, nil)
}

func (s *PortScanner) validate(op, target string, ports []int, timeout time.Duration) ([]int, error) {
	if err := util.ValidateHost(op, target); err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, apperr.Validationf(op, "at least one port is required")
	}
	if timeout <= 0 {
		return nil, apperr.Validationf(op, "timeout must be positive")
	}
	seen := make(map[int]bool, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if err := util.ValidatePort(op, p); err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if len(out) > maxScanPorts {
		return nil, apperr.Validationf(op, "at most %d ports per scan, got %d", maxScanPorts, len(out))
	}
	return out, nil
}

func (s *PortScanner) probe(ctx context.Context, target string, port int, timeout time.Duration) model.PortStatus {
	st := model.PortStatus{Port: port, Service: serviceName(port), State: model.PortFiltered}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	begin := time.Now()
	conn, err := s.dialer.DialContext(dctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
	latency := float64(time.Since(begin).Microseconds()) / 1000.0
	switch {
	case err == nil:
		conn.Close()
		st.State = model.PortOpen
		st.LatencyMs = latency
	case isRefused(err):
		st.State = model.PortClosed
		st.LatencyMs = latency
	}
	return st
}

func (s *PortScanner) done(r *model.PortScanResult, start time.Time, err error) (*model.PortScanResult, error) {
	r.ElapsedMs = time.Since(start).Milliseconds()
	kind := apperr.KindOf(err)
	metrics.DiagnosticRuns.WithLabelValues("portscan", metrics.Result(err, string(kind))).Inc()
	if err != nil {
		util.WithFields(util.Fields{"target": r.Target, "kind": kind, "error": err.Error()}).Warn("port scan failed")
		return r, err
	}
	util.WithFields(util.Fields{
		"target":  r.Target,
		"scanned": len(r.Ports),
		"open":    len(r.OpenPorts),
		"elapsed": r.ElapsedMs,
	}).Info("port scan completed")
	return r, nil
}
