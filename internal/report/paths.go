package report

import (
	"math"
	"sort"
	"time"

	"github.com/user/edgegate/internal/model"
)

// Responder is one address seen answering at a hop position.
type Responder struct {
	Addr  string
	Name  string
	Count int
}

// Label returns "name (addr)" or just the address.
func (r Responder) Label() string {
	if r.Name == "" || r.Name == r.Addr {
		return r.Addr
	}
	return r.Name + " (" + r.Addr + ")"
}

// HopProfile summarizes one hop position across every trace to a target.
// Runs counts the traces that got this far; Lost counts those in which the
// hop never answered.
type HopProfile struct {
	HopNum     int
	Responders []Responder
	Runs       int
	Lost       int
	Samples    []float64
	MinMs      float64
	AvgMs      float64
	MaxMs      float64
}

// LossPercent is the share of runs in which the hop stayed silent.
func (h HopProfile) LossPercent() float64 {
	if h.Runs == 0 {
		return 0
	}
	return float64(h.Lost) / float64(h.Runs) * 100
}

// Dark reports whether the hop never answered.
func (h HopProfile) Dark() bool { return h.Runs > 0 && h.Lost == h.Runs }

// Unstable reports whether more than one address answered at this position.
func (h HopProfile) Unstable() bool { return len(h.Responders) > 1 }

// PathProfile is the hop-by-hop summary of the traces to one target.
type PathProfile struct {
	Target  string
	Runs    int
	Reached int
	Last    time.Time
	Hops    []HopProfile
}

// BuildPathProfile folds traces to target into per-hop statistics. Hops are
// grouped by hop number, so a path that changed shows several responders at
// the positions that moved.
func BuildPathProfile(target string, traces []model.TracerouteResult) PathProfile {
	p := PathProfile{Target: target, Runs: len(traces)}

	hops := map[int]*HopProfile{}
	responders := map[int]map[string]*Responder{}
	for _, tr := range traces {
		if tr.ReachedTarget {
			p.Reached++
		}
		if tr.Timestamp.After(p.Last) {
			p.Last = tr.Timestamp
		}
		for _, h := range tr.Hops {
			hp, ok := hops[h.HopNum]
			if !ok {
				hp = &HopProfile{HopNum: h.HopNum}
				hops[h.HopNum] = hp
				responders[h.HopNum] = map[string]*Responder{}
			}
			hp.Runs++
			if h.Lost || len(h.RTTs) == 0 {
				hp.Lost++
				continue
			}
			hp.Samples = append(hp.Samples, h.RTTs...)

			addr := h.IP
			if addr == "" {
				addr = h.Hostname
			}
			r, ok := responders[h.HopNum][addr]
			if !ok {
				r = &Responder{Addr: addr}
				responders[h.HopNum][addr] = r
			}
			if r.Name == "" && h.Hostname != h.IP {
				r.Name = h.Hostname
			}
			r.Count++
		}
	}

	nums := make([]int, 0, len(hops))
	for n := range hops {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	for _, n := range nums {
		hp := hops[n]
		for _, r := range responders[n] {
			hp.Responders = append(hp.Responders, *r)
		}
		sort.Slice(hp.Responders, func(i, j int) bool {
			a, b := hp.Responders[i], hp.Responders[j]
			if a.Count != b.Count {
				return a.Count > b.Count
			}
			return a.Addr < b.Addr
		})
		if len(hp.Samples) > 0 {
			hp.MinMs, hp.MaxMs = math.Inf(1), math.Inf(-1)
			sum := 0.0
			for _, v := range hp.Samples {
				sum += v
				hp.MinMs = math.Min(hp.MinMs, v)
				hp.MaxMs = math.Max(hp.MaxMs, v)
			}
			hp.AvgMs = sum / float64(len(hp.Samples))
		}
		p.Hops = append(p.Hops, *hp)
	}
	return p
}
