package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/storage"
)

func newStore(t *testing.T) *storage.HistoryStore {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "edgegate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.NewHistoryStore(db)
}

func hop(n int, ip string) model.TraceHop {
	return model.TraceHop{HopNum: n, IP: ip, RTTs: []float64{1, 3}}
}

func seed(t *testing.T, store *storage.HistoryStore, base time.Time) {
	t.Helper()
	record := func(d model.Diagnostic, err error) {
		_, rerr := store.Record(d, err)
		require.NoError(t, rerr)
	}

	record(&model.PingResult{Host: "10.0.0.1", PacketsSent: 4, PacketsReceived: 4, AvgMs: 2, Success: true, Timestamp: base}, nil)
	record(&model.PingResult{Host: "10.0.0.1", PacketsSent: 4, PacketsReceived: 2, AvgMs: 5, Success: true, Timestamp: base.Add(time.Minute)}, nil)

	record(&model.TracerouteResult{Host: "10.9.9.9", Success: true, Timestamp: base.Add(2 * time.Minute),
		Hops: []model.TraceHop{hop(1, "192.168.1.1"), hop(2, "10.1.1.1"), hop(3, "10.9.9.9")}}, nil)
	record(&model.TracerouteResult{Host: "10.9.9.9", Success: true, Timestamp: base.Add(3 * time.Minute),
		Hops: []model.TraceHop{hop(1, "192.168.1.1"), hop(2, "10.2.2.2"), {HopNum: 3, Lost: true}, hop(4, "10.9.9.9")}}, nil)

	record(&model.PortScanResult{Target: "10.0.0.5", Timestamp: base.Add(4 * time.Minute),
		Ports:     []model.PortStatus{{Port: 22, State: model.PortOpen}, {Port: 80, State: model.PortClosed}},
		OpenPorts: []int{22}}, nil)
	record(&model.PortScanResult{Target: "10.0.0.5", Timestamp: base.Add(5 * time.Minute),
		Ports:     []model.PortStatus{{Port: 22, State: model.PortFiltered}, {Port: 80, State: model.PortOpen}, {Port: 443, State: model.PortOpen}},
		OpenPorts: []int{80, 443}}, nil)

	record(&model.PingResult{Host: "10.0.0.2", PacketsSent: 4, Timestamp: base.Add(6 * time.Minute)},
		apperr.New(apperr.KindTimeout, "diag.ping", "timed out"))
}

func TestGenerate(t *testing.T) {
	store := newStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	seed(t, store, base)

	data, err := NewGenerator(store).Generate(base.Add(-time.Minute), time.Now().UTC())
	require.NoError(t, err)

	require.Len(t, data.Stats, 3)
	assert.Equal(t, model.HistoryStats{Tool: "ping", Total: 3, Succeeded: 2, Targets: 2}, data.Stats[0])
	assert.Equal(t, "portscan", data.Stats[1].Tool)
	assert.Equal(t, "traceroute", data.Stats[2].Tool)

	require.Len(t, data.Failures, 1)
	assert.Equal(t, "timeout", data.Failures[0].ErrorKind)

	require.Len(t, data.Pings, 2)
	assert.Equal(t, "10.0.0.1", data.Pings[0].Host)
	assert.Equal(t, 6, data.Pings[0].Received)
	assert.InDelta(t, 25.0, data.Pings[0].LossPercent, 0.001)
	assert.InDelta(t, 3.0, data.Pings[0].AvgMs, 0.001)

	require.Len(t, data.TraceChanges, 1)
	assert.Equal(t, []string{"10.2.2.2"}, data.TraceChanges[0].Added)
	assert.Equal(t, []string{"10.1.1.1"}, data.TraceChanges[0].Removed)

	require.Len(t, data.PortChanges, 2)
	assert.Equal(t, PortChange{Host: "10.0.0.5", Port: 22, OldState: model.PortOpen, NewState: model.PortFiltered,
		Timestamp: data.PortChanges[0].Timestamp}, data.PortChanges[0])
	assert.Equal(t, 80, data.PortChanges[1].Port)
	require.Len(t, data.LatestScans, 1)
	assert.Equal(t, []int{80, 443}, data.LatestScans[0].OpenPorts)
}

func TestGenerateEmptyPeriod(t *testing.T) {
	data, err := NewGenerator(newStore(t)).Generate(time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, data.Stats)
	assert.Contains(t, FormatMarkdown(data), "No runs recorded")
}

func TestFormatMarkdown(t *testing.T) {
	store := newStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	seed(t, store, base)
	data, err := NewGenerator(store).Generate(base.Add(-time.Minute), time.Now().UTC())
	require.NoError(t, err)

	md := FormatMarkdown(data)
	assert.Contains(t, md, "| ping | 3 | 2 | 2 |")
	assert.Contains(t, md, "## Path Changes")
	assert.Contains(t, md, "added 10.2.2.2, removed 10.1.1.1")
	assert.Contains(t, md, "**10.0.0.5:22** open → filtered")
	assert.Contains(t, md, "```mermaid")
	assert.Contains(t, md, "| 2 | 10.1.1.1, 10.2.2.2 | 0% | 1.00 | 2.00 | 3.00 |")
	assert.Contains(t, md, "| 3 | 10.9.9.9 | 50% | 1.00 | 2.00 | 3.00 |")
	assert.Contains(t, md, "2 runs, reached the target in 0")
	assert.Contains(t, md, "| 10.0.0.5 | 80, 443 | 3 |")
	assert.Contains(t, md, "## Failures")
}

func TestWriteMarkdownFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	data := &ReportData{GeneratedAt: time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)}

	path, err := WriteMarkdownFile(data, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "edgegate-report-20261018-093000.md"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "# edgegate Report"))
}

func twoRuns() []model.TracerouteResult {
	return []model.TracerouteResult{
		{Host: "10.9.9.9", ReachedTarget: true, Timestamp: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC), Hops: []model.TraceHop{
			{HopNum: 1, Hostname: "gw.lan", IP: "192.168.1.1", RTTs: []float64{1, 2}},
			{HopNum: 2, Lost: true},
			{HopNum: 3, IP: "10.9.9.9", RTTs: []float64{10}},
		}},
		{Host: "10.9.9.9", Timestamp: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC), Hops: []model.TraceHop{
			{HopNum: 1, IP: "192.168.1.1", RTTs: []float64{3}},
			{HopNum: 2, Lost: true},
		}},
	}
}

func TestBuildPathProfile(t *testing.T) {
	p := BuildPathProfile("10.9.9.9", twoRuns())

	assert.Equal(t, 2, p.Runs)
	assert.Equal(t, 1, p.Reached)
	assert.Equal(t, time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC), p.Last)
	require.Len(t, p.Hops, 3)

	first := p.Hops[0]
	assert.Equal(t, []Responder{{Addr: "192.168.1.1", Name: "gw.lan", Count: 2}}, first.Responders)
	assert.Equal(t, []float64{1, 2, 3}, first.Samples)
	assert.Equal(t, 1.0, first.MinMs)
	assert.Equal(t, 2.0, first.AvgMs)
	assert.Equal(t, 3.0, first.MaxMs)

	assert.True(t, p.Hops[1].Dark())
	assert.Equal(t, 100.0, p.Hops[1].LossPercent())
	assert.Equal(t, 1, p.Hops[2].Runs, "only the first run got this far")
}

func TestBuildPathProfile_ChangedHopHasSeveralResponders(t *testing.T) {
	store := newStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	seed(t, store, base)
	data, err := NewGenerator(store).Generate(base.Add(-time.Minute), time.Now().UTC())
	require.NoError(t, err)

	require.Len(t, data.Paths, 1)
	hops := data.Paths[0].Hops
	require.Len(t, hops, 4)
	assert.True(t, hops[1].Unstable())
	assert.Equal(t, "10.1.1.1", hops[1].Responders[0].Addr)
	assert.Equal(t, "10.2.2.2", hops[1].Responders[1].Addr)
	assert.Equal(t, 50.0, hops[2].LossPercent())
}

func TestPathDiagram(t *testing.T) {
	d := PathDiagram(BuildPathProfile("10.9.9.9", twoRuns()))

	assert.Contains(t, d, `hop1["#1<br/>gw.lan (192.168.1.1)<br/>1.0/2.0/3.0 ms"]`)
	assert.Contains(t, d, `src -->|"+2.0 ms"| hop1`)
	assert.Contains(t, d, `hop2["#2<br/>no reply"]:::dark`)
	assert.Contains(t, d, "hop1 --> hop2")
	assert.Contains(t, d, `hop2 -->|"+8.0 ms"| hop3`)
	assert.Contains(t, d, `dst{{"10.9.9.9<br/>reached 1/2"}}`)
	assert.Contains(t, d, "hop3 --> dst")
}

func TestLatencyChart(t *testing.T) {
	c := LatencyChart(BuildPathProfile("10.9.9.9", twoRuns()))
	assert.Contains(t, c, `x-axis "hop" ["1", "2", "3"]`)
	assert.Contains(t, c, `y-axis "ms" 0 --> 11`)
	assert.Contains(t, c, "bar [2.0, 0.0, 10.0]")
	assert.Contains(t, c, "line [3.0, 0.0, 10.0]")

	dark := BuildPathProfile("10.9.9.9", []model.TracerouteResult{{Hops: []model.TraceHop{{HopNum: 1, Lost: true}}}})
	assert.Equal(t, "", LatencyChart(dark))
}
