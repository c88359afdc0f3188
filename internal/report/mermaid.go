package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const maxListedResponders = 2

// PathDiagram draws a target's path as a chain of hop positions. Nodes carry
// the responders and RTT spread across runs; edges carry the change in
// average RTT since the last hop that answered.
func PathDiagram(p PathProfile) string {
	var sb strings.Builder
	sb.WriteString("```mermaid\nflowchart LR\n")
	sb.WriteString("    src((edgegate))\n")

	prev, base := "src", 0.0
	for _, h := range p.Hops {
		id := "hop" + strconv.Itoa(h.HopNum)
		fmt.Fprintf(&sb, "    %s[\"%s\"]%s\n", id, hopLabel(h), hopClass(h))
		if len(h.Samples) == 0 {
			fmt.Fprintf(&sb, "    %s --> %s\n", prev, id)
		} else {
			fmt.Fprintf(&sb, "    %s -->|\"%+.1f ms\"| %s\n", prev, h.AvgMs-base, id)
			base = h.AvgMs
		}
		prev = id
	}

	fmt.Fprintf(&sb, "    dst{{\"%s<br/>reached %d/%d\"}}\n", quote(p.Target), p.Reached, p.Runs)
	fmt.Fprintf(&sb, "    %s --> dst\n", prev)

	sb.WriteString("    classDef dark fill:#3a3a3a,color:#ffffff\n")
	sb.WriteString("    classDef lossy fill:#ffe08a\n")
	sb.WriteString("    classDef flap fill:#f4a6c8\n")
	sb.WriteString("```\n")
	return sb.String()
}

func hopLabel(h HopProfile) string {
	parts := []string{"#" + strconv.Itoa(h.HopNum)}
	if h.Dark() {
		return strings.Join(append(parts, "no reply"), "<br/>")
	}
	for i, r := range h.Responders {
		if i == maxListedResponders {
			parts = append(parts, fmt.Sprintf("+%d more", len(h.Responders)-i))
			break
		}
		parts = append(parts, quote(r.Label()))
	}
	parts = append(parts, fmt.Sprintf("%.1f/%.1f/%.1f ms", h.MinMs, h.AvgMs, h.MaxMs))
	if h.Lost > 0 {
		parts = append(parts, fmt.Sprintf("loss %.0f%%", h.LossPercent()))
	}
	return strings.Join(parts, "<br/>")
}

func hopClass(h HopProfile) string {
	switch {
	case h.Dark():
		return ":::dark"
	case h.Unstable():
		return ":::flap"
	case h.Lost > 0:
		return ":::lossy"
	}
	return ""
}

// LatencyChart plots average and worst RTT per hop position. It returns ""
// when no hop answered.
func LatencyChart(p PathProfile) string {
	top := 0.0
	for _, h := range p.Hops {
		top = math.Max(top, h.MaxMs)
	}
	if top == 0 {
		return ""
	}

	hops := make([]string, len(p.Hops))
	avg := make([]string, len(p.Hops))
	worst := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		hops[i] = strconv.Quote(strconv.Itoa(h.HopNum))
		avg[i] = strconv.FormatFloat(h.AvgMs, 'f', 1, 64)
		worst[i] = strconv.FormatFloat(h.MaxMs, 'f', 1, 64)
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\nxychart-beta\n")
	fmt.Fprintf(&sb, "    title \"RTT by hop to %s\"\n", quote(p.Target))
	fmt.Fprintf(&sb, "    x-axis \"hop\" [%s]\n", strings.Join(hops, ", "))
	fmt.Fprintf(&sb, "    y-axis \"ms\" 0 --> %d\n", int(math.Ceil(top))+1)
	fmt.Fprintf(&sb, "    bar [%s]\n", strings.Join(avg, ", "))
	fmt.Fprintf(&sb, "    line [%s]\n", strings.Join(worst, ", "))
	sb.WriteString("```\n")
	return sb.String()
}

// quote escapes text for a double-quoted mermaid label.
func quote(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
