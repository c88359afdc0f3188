// Package report builds markdown reports from stored history.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/storage"
	"github.com/user/edgegate/internal/util"
)

// Generator creates history reports.
type Generator struct {
	history *storage.HistoryStore
}

// NewGenerator creates a new report generator.
func NewGenerator(history *storage.HistoryStore) *Generator {
	return &Generator{history: history}
}

// ReportData holds all data for a report.
type ReportData struct {
	GeneratedAt time.Time
	Since       time.Time
	Until       time.Time

	Stats    []model.HistoryStats
	Failures []model.HistoryEntry

	Pings          []PingSummary
	TracesByTarget map[string][]model.TracerouteResult
	Paths          []PathProfile
	LatestScans    []model.PortScanResult

	TraceChanges []TraceChange
	PortChanges  []PortChange
}

// PingSummary aggregates the ping runs against one host.
type PingSummary struct {
	Host        string
	Runs        int
	Sent        int
	Received    int
	AvgMs       float64
	LossPercent float64
}

// TraceChange represents a traceroute path change.
type TraceChange struct {
	Target    string
	OldHops   []string
	NewHops   []string
	Added     []string
	Removed   []string
	Timestamp time.Time
}

// PortChange represents a port state change between two scans.
type PortChange struct {
	Host      string
	Port      int
	OldState  model.PortState
	NewState  model.PortState
	Timestamp time.Time
}

// Generate creates a report for entries recorded in [since, until).
func (g *Generator) Generate(since, until time.Time) (*ReportData, error) {
	entries, err := g.history.Between(since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	data := &ReportData{
		GeneratedAt:    time.Now(),
		Since:          since,
		Until:          until,
		TracesByTarget: make(map[string][]model.TracerouteResult),
	}

	stats := map[string]*model.HistoryStats{}
	targets := map[string]map[string]bool{}
	pings := map[string]*pingAcc{}
	scans := map[string][]model.PortScanResult{}

	for _, e := range entries {
		st, ok := stats[e.Tool]
		if !ok {
			st = &model.HistoryStats{Tool: e.Tool}
			stats[e.Tool] = st
			targets[e.Tool] = map[string]bool{}
		}
		st.Total++
		if e.Success {
			st.Succeeded++
		} else {
			data.Failures = append(data.Failures, e)
		}
		targets[e.Tool][e.Target] = true

		switch e.Tool {
		case "ping":
			var r model.PingResult
			if decode(e, &r) {
				acc, ok := pings[r.Host]
				if !ok {
					acc = &pingAcc{}
					pings[r.Host] = acc
				}
				acc.add(r)
			}
		case "traceroute":
			var r model.TracerouteResult
			if decode(e, &r) && len(r.Hops) > 0 {
				data.TracesByTarget[r.Host] = append(data.TracesByTarget[r.Host], r)
			}
		case "portscan":
			var r model.PortScanResult
			if decode(e, &r) {
				scans[r.Target] = append(scans[r.Target], r)
			}
		}
	}

	for tool, st := range stats {
		st.Targets = len(targets[tool])
		data.Stats = append(data.Stats, *st)
	}
	sort.Slice(data.Stats, func(i, j int) bool { return data.Stats[i].Tool < data.Stats[j].Tool })

	for host, acc := range pings {
		data.Pings = append(data.Pings, acc.summary(host))
	}
	sort.Slice(data.Pings, func(i, j int) bool { return data.Pings[i].Host < data.Pings[j].Host })

	for _, target := range sortedKeys(data.TracesByTarget) {
		traces := data.TracesByTarget[target]
		data.Paths = append(data.Paths, BuildPathProfile(target, traces))
		data.TraceChanges = append(data.TraceChanges, detectTraceChanges(target, traces)...)
	}

	for _, target := range sortedKeys(scans) {
		runs := scans[target]
		data.LatestScans = append(data.LatestScans, runs[len(runs)-1])
		data.PortChanges = append(data.PortChanges, detectPortChanges(target, runs)...)
	}

	return data, nil
}

func decode(e model.HistoryEntry, v interface{}) bool {
	if err := json.Unmarshal([]byte(e.Data), v); err != nil {
		util.Debug("skipping history entry %d: %v", e.ID, err)
		return false
	}
	return true
}

type pingAcc struct {
	runs, sent, received int
	rttSum               float64
}

func (a *pingAcc) add(r model.PingResult) {
	a.runs++
	a.sent += r.PacketsSent
	a.received += r.PacketsReceived
	a.rttSum += r.AvgMs * float64(r.PacketsReceived)
}

func (a *pingAcc) summary(host string) PingSummary {
	s := PingSummary{Host: host, Runs: a.runs, Sent: a.sent, Received: a.received}
	if a.received > 0 {
		s.AvgMs = a.rttSum / float64(a.received)
	}
	if a.sent > 0 {
		s.LossPercent = float64(a.sent-a.received) / float64(a.sent) * 100
	}
	return s
}

// detectTraceChanges compares consecutive traces, oldest first.
func detectTraceChanges(target string, traces []model.TracerouteResult) []TraceChange {
	var changes []TraceChange

	for i := 1; i < len(traces); i++ {
		prevHops := getHopIPs(traces[i-1].Hops)
		currHops := getHopIPs(traces[i].Hops)

		if !equalHops(currHops, prevHops) {
			added, removed := diffHops(prevHops, currHops)
			changes = append(changes, TraceChange{
				Target:    target,
				OldHops:   prevHops,
				NewHops:   currHops,
				Added:     added,
				Removed:   removed,
				Timestamp: traces[i].Timestamp,
			})
		}
	}

	return changes
}

// detectPortChanges reports ports whose state differs between consecutive
// scans that both covered the port.
func detectPortChanges(target string, scans []model.PortScanResult) []PortChange {
	var changes []PortChange

	for i := 1; i < len(scans); i++ {
		prev := make(map[int]model.PortState, len(scans[i-1].Ports))
		for _, p := range scans[i-1].Ports {
			prev[p.Port] = p.State
		}
		for _, p := range scans[i].Ports {
			old, ok := prev[p.Port]
			if ok && old != p.State {
				changes = append(changes, PortChange{
					Host:      target,
					Port:      p.Port,
					OldState:  old,
					NewState:  p.State,
					Timestamp: scans[i].Timestamp,
				})
			}
		}
	}

	return changes
}

func getHopIPs(hops []model.TraceHop) []string {
	ips := make([]string, 0, len(hops))
	for _, hop := range hops {
		if !hop.Lost && hop.IP != "" {
			ips = append(ips, hop.IP)
		}
	}
	return ips
}

func equalHops(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func diffHops(old, new []string) (added, removed []string) {
	oldSet := make(map[string]bool)
	newSet := make(map[string]bool)

	for _, h := range old {
		oldSet[h] = true
	}
	for _, h := range new {
		newSet[h] = true
	}

	for _, h := range new {
		if !oldSet[h] {
			added = append(added, h)
			oldSet[h] = true
		}
	}
	for _, h := range old {
		if !newSet[h] {
			removed = append(removed, h)
			newSet[h] = true
		}
	}

	return
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
