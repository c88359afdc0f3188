package probes

import (
	"context"
	"math"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/metrics"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/util"
)

const (
	maxPingCount   = 100
	defaultTimeout = 2 * time.Second
	processSlack   = 5 * time.Second
)

// PingProbe runs the system ping.
type PingProbe struct {
	runner  Runner
	ceiling time.Duration
	goos    string
}

// NewPingProbe creates a ping probe. ceiling caps the whole run; a nil
// runner uses os/exec.
func NewPingProbe(r Runner, ceiling time.Duration) *PingProbe {
	if r == nil {
		r = ExecRunner{}
	}
	if ceiling <= 0 {
		ceiling = 60 * time.Second
	}
	return &PingProbe{runner: r, ceiling: ceiling, goos: runtime.GOOS}
}

// Ping sends count echo requests to host, waiting up to timeout for each
// reply. timeout may not exceed the probe's ceiling. The run as a whole is
// bounded by timeout × count plus process slack, capped at the ceiling.
func (p *PingProbe) Ping(ctx context.Context, host string, count int, timeout time.Duration) (*model.PingResult, error) {
	const op = "diag.ping"

	result := &model.PingResult{
		Host:       host,
		Count:      count,
		ReplyTimes: []float64{},
		Timestamp:  time.Now(),
	}
	if err := util.ValidateHost(op, host); err != nil {
		return p.done(result, err)
	}
	if count < 1 || count > maxPingCount {
		return p.done(result, apperr.Validationf(op, "count must be between 1 and %d, got %d", maxPingCount, count))
	}
	if timeout < 0 {
		return p.done(result, apperr.Validationf(op, "timeout must be positive"))
	}
	if timeout > p.ceiling {
		return p.done(result, apperr.Validationf(op, "timeout %s exceeds the %s run limit", timeout, p.ceiling))
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, budget(timeout*time.Duration(count)+processSlack, p.ceiling))
	defer cancel()

	name, args := p.command(host, count, timeout)
	util.Debug("running %s %s", name, strings.Join(args, " "))
	out, runErr := p.runner.Output(ctx, name, args...)

	parsed := ParsePingOutput(string(out))
	parsed.Host = result.Host
	parsed.Count = result.Count
	parsed.Timestamp = result.Timestamp
	result = parsed
	if result.PacketsSent == 0 {
		result.PacketsSent = count
		result.PacketLossPercent = lossPercent(result.PacketsSent, result.PacketsReceived)
	}
	result.Success = result.PacketsReceived > 0

	if err := runError(ctx, op, runErr); err != nil {
		return p.done(result, err)
	}
	if !result.Success && result.Error == "" {
		result.Error = "no replies received"
	}
	return p.done(result, nil)
}

func (p *PingProbe) command(host string, count int, timeout time.Duration) (string, []string) {
	switch p.goos {
	case "windows":
		return "ping", []string{"-n", strconv.Itoa(count), "-w", strconv.FormatInt(timeout.Milliseconds(), 10), host}
	case "darwin":
		return "ping", []string{"-c", strconv.Itoa(count), "-W", strconv.FormatInt(timeout.Milliseconds(), 10), host}
	}
	secs := int(math.Ceil(timeout.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return "ping", []string{"-c", strconv.Itoa(count), "-W", strconv.Itoa(secs), host}
}

func (p *PingProbe) done(r *model.PingResult, err error) (*model.PingResult, error) {
	kind := apperr.KindOf(err)
	metrics.DiagnosticRuns.WithLabelValues("ping", metrics.Result(err, string(kind))).Inc()
	if err != nil {
		r.Success = false
		r.Error = err.Error()
		util.WithFields(util.Fields{"host": r.Host, "kind": kind, "error": err.Error()}).Warn("ping failed")
		return r, err
	}
	util.WithFields(util.Fields{
		"host":     r.Host,
		"received": r.PacketsReceived,
		"sent":     r.PacketsSent,
		"avg_ms":   r.AvgMs,
	}).Info("ping completed")
	return r, nil
}

var (
	replyRe       = regexp.MustCompile(`(?i)(?:bytes from|reply from).*?time[=<]\s*([0-9.]+)\s*ms`)
	unixSentRe    = regexp.MustCompile(`(\d+) packets transmitted,\s*(\d+) (?:packets )?received`)
	windowsSentRe = regexp.MustCompile(`Sent = (\d+), Received = (\d+)`)
	unixRTTRe     = regexp.MustCompile(`= ([0-9.]+)/([0-9.]+)/([0-9.]+)`)
	windowsRTTRe  = regexp.MustCompile(`Minimum = (\d+)ms, Maximum = (\d+)ms, Average = (\d+)ms`)
)

// ParsePingOutput parses Unix or Windows ping output. Statistics come from
// the observed reply lines; the summary block only supplies the sent count,
// and timings when the tool printed no reply lines.
func ParsePingOutput(out string) *model.PingResult {
	r := &model.PingResult{RawOutput: out, ReplyTimes: []float64{}}

	summaryRecv := 0
	var summaryRTT []float64
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := replyRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				r.ReplyTimes = append(r.ReplyTimes, v)
			}
			continue
		}
		if m := unixSentRe.FindStringSubmatch(line); m != nil {
			r.PacketsSent, _ = strconv.Atoi(m[1])
			summaryRecv, _ = strconv.Atoi(m[2])
			continue
		}
		if m := windowsSentRe.FindStringSubmatch(line); m != nil {
			r.PacketsSent, _ = strconv.Atoi(m[1])
			summaryRecv, _ = strconv.Atoi(m[2])
			continue
		}
		if strings.Contains(line, "min/avg/max") {
			if m := unixRTTRe.FindStringSubmatch(line); m != nil {
				summaryRTT = floats(m[1], m[2], m[3])
			}
			continue
		}
		if m := windowsRTTRe.FindStringSubmatch(line); m != nil {
			v := floats(m[1], m[2], m[3])
			summaryRTT = []float64{v[0], v[2], v[1]}
		}
	}

	r.PacketsReceived = len(r.ReplyTimes)
	if r.PacketsReceived > 0 {
		r.MinMs, r.MaxMs = r.ReplyTimes[0], r.ReplyTimes[0]
		sum := 0.0
		for _, v := range r.ReplyTimes {
			sum += v
			r.MinMs = math.Min(r.MinMs, v)
			r.MaxMs = math.Max(r.MaxMs, v)
		}
		r.AvgMs = round3(sum / float64(r.PacketsReceived))
	} else if summaryRecv > 0 && len(summaryRTT) == 3 {
		r.PacketsReceived = summaryRecv
		r.MinMs, r.AvgMs, r.MaxMs = summaryRTT[0], summaryRTT[1], summaryRTT[2]
	}
	if r.PacketsSent < r.PacketsReceived {
		r.PacketsSent = r.PacketsReceived
	}
	r.PacketLossPercent = lossPercent(r.PacketsSent, r.PacketsReceived)
	return r
}

func lossPercent(sent, received int) float64 {
	if sent <= 0 {
		return 0
	}
	return round3(float64(sent-received) / float64(sent) * 100)
}

func floats(s ...string) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i], _ = strconv.ParseFloat(v, 64)
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
