package probes

import (
	"context"
	"net"
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
	defaultMaxHops = 30
	maxHopsLimit   = 64
	probesPerHop   = 3
)

// TracerouteProbe runs the system traceroute (tracert on Windows).
type TracerouteProbe struct {
	runner  Runner
	ceiling time.Duration
	goos    string
	lookup  func(ctx context.Context, host string) ([]string, error)
}

// NewTracerouteProbe creates a traceroute probe. ceiling caps the whole run.
func NewTracerouteProbe(r Runner, ceiling time.Duration) *TracerouteProbe {
	if r == nil {
		r = ExecRunner{}
	}
	if ceiling <= 0 {
		ceiling = 120 * time.Second
	}
	return &TracerouteProbe{
		runner:  r,
		ceiling: ceiling,
		goos:    runtime.GOOS,
		lookup:  net.DefaultResolver.LookupHost,
	}
}

// Trace traces the path to host. Hops that time out are kept with no
// samples.
func (p *TracerouteProbe) Trace(ctx context.Context, host string, maxHops int, timeout time.Duration) (*model.TracerouteResult, error) {
	const op = "diag.traceroute"

	result := &model.TracerouteResult{
		Host:      host,
		MaxHops:   maxHops,
		Hops:      []model.TraceHop{},
		Timestamp: time.Now(),
	}
	if err := util.ValidateHost(op, host); err != nil {
		return p.done(result, err)
	}
	if maxHops == 0 {
		maxHops = defaultMaxHops
		result.MaxHops = maxHops
	}
	if maxHops < 1 || maxHops > maxHopsLimit {
		return p.done(result, apperr.Validationf(op, "max hops must be between 1 and %d, got %d", maxHopsLimit, maxHops))
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

	limit := timeout*time.Duration(maxHops*probesPerHop) + processSlack
	runCtx, cancel := context.WithTimeout(ctx, budget(limit, p.ceiling))
	defer cancel()

	name, args := p.command(host, maxHops, timeout)
	util.Debug("running %s %s", name, strings.Join(args, " "))
	out, runErr := p.runner.Output(runCtx, name, args...)

	result.RawOutput = string(out)
	result.Hops = ParseTracerouteOutput(result.RawOutput)
	// The run budget may already be spent; name resolution only answers to
	// the caller's deadline.
	result.ReachedTarget = p.reached(ctx, host, result.Hops)

	if err := runError(runCtx, op, runErr); err != nil {
		return p.done(result, err)
	}
	result.Success = len(result.Hops) > 0
	if !result.Success {
		result.Error = "no hops in traceroute output"
	}
	return p.done(result, nil)
}

func (p *TracerouteProbe) command(host string, maxHops int, timeout time.Duration) (string, []string) {
	if p.goos == "windows" {
		return "tracert", []string{"-h", strconv.Itoa(maxHops), "-w", strconv.FormatInt(timeout.Milliseconds(), 10), host}
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return "traceroute", []string{"-m", strconv.Itoa(maxHops), "-q", strconv.Itoa(probesPerHop), "-w", strconv.Itoa(secs), host}
}

func (p *TracerouteProbe) done(r *model.TracerouteResult, err error) (*model.TracerouteResult, error) {
	kind := apperr.KindOf(err)
	metrics.DiagnosticRuns.WithLabelValues("traceroute", metrics.Result(err, string(kind))).Inc()
	if err != nil {
		r.Success = false
		r.Error = err.Error()
		util.WithFields(util.Fields{"host": r.Host, "kind": kind, "hops": len(r.Hops), "error": err.Error()}).Warn("traceroute failed")
		return r, err
	}
	util.WithFields(util.Fields{"host": r.Host, "hops": len(r.Hops), "reached": r.ReachedTarget}).Info("traceroute completed")
	return r, nil
}

var (
	hopLineRe = regexp.MustCompile(`^\s*(\d+)\s+(.*)$`)
	rttRe     = regexp.MustCompile(`^<?([0-9]+(?:\.[0-9]+)?)$`)
)

// ParseTracerouteOutput parses Unix traceroute and Windows tracert hop lines.
// Only the first responder of a hop is recorded.
//
//	 1  gw.lan (192.168.1.1)  0.234 ms  0.198 ms  0.187 ms
//	 2  * * *
//	 3    <1 ms    1 ms     *     core1.example.net [10.0.0.1]
//	 4     *        *        *     Request timed out.
func ParseTracerouteOutput(out string) []model.TraceHop {
	hops := []model.TraceHop{}
	for _, line := range strings.Split(out, "\n") {
		m := hopLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		hop := model.TraceHop{HopNum: n, RTTs: []float64{}}

		tokens := strings.Fields(m[2])
		for i := 0; i < len(tokens); i++ {
			tok := tokens[i]
			switch {
			case tok == "*":
			case i+1 < len(tokens) && tokens[i+1] == "ms" && rttRe.MatchString(tok):
				v, _ := strconv.ParseFloat(rttRe.FindStringSubmatch(tok)[1], 64)
				hop.RTTs = append(hop.RTTs, v)
				i++
			case strings.HasSuffix(tok, "ms") && rttRe.MatchString(strings.TrimSuffix(tok, "ms")):
				v, _ := strconv.ParseFloat(rttRe.FindStringSubmatch(strings.TrimSuffix(tok, "ms"))[1], 64)
				hop.RTTs = append(hop.RTTs, v)
			case isBracketed(tok):
				if hop.IP == "" {
					hop.IP = tok[1 : len(tok)-1]
				}
			case strings.HasPrefix(tok, "!"):
			case hop.Hostname == "" && (looksLikeHost(tok) || i+1 < len(tokens) && isBracketed(tokens[i+1])):
				hop.Hostname = tok
			}
		}
		if hop.IP == "" && net.ParseIP(hop.Hostname) != nil {
			hop.IP = hop.Hostname
		}
		hop.Lost = len(hop.RTTs) == 0
		if hop.Lost {
			hop.Hostname, hop.IP = "", ""
		}
		hops = append(hops, hop)
	}
	return hops
}

func isBracketed(tok string) bool {
	if len(tok) < 3 {
		return false
	}
	return (tok[0] == '(' && tok[len(tok)-1] == ')') || (tok[0] == '[' && tok[len(tok)-1] == ']')
}

func looksLikeHost(tok string) bool {
	if net.ParseIP(tok) != nil {
		return true
	}
	return strings.Contains(tok, ".") && !strings.HasSuffix(tok, ".") && util.ValidateHost("", tok) == nil
}

// reached reports whether the last answering hop is host, by address, name
// or one of host's resolved addresses.
func (p *TracerouteProbe) reached(ctx context.Context, host string, hops []model.TraceHop) bool {
	for i := len(hops) - 1; i >= 0; i-- {
		h := hops[i]
		if h.Lost {
			continue
		}
		if h.IP == host || strings.EqualFold(h.Hostname, host) {
			return true
		}
		if h.IP == "" || net.ParseIP(host) != nil || ctx.Err() != nil {
			return false
		}
		addrs, err := p.lookup(ctx, host)
		if err != nil {
			return false
		}
		for _, a := range addrs {
			if a == h.IP {
				return true
			}
		}
		return false
	}
	return false
}
