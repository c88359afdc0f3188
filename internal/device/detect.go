package device

import (
	"regexp"
	"strings"
)

// Type is a detected device family.
type Type string

const (
	TypeCiscoIOSXE Type = "cisco_ios_xe"
	TypeCiscoIOS   Type = "cisco_ios"
	TypeJuniper    Type = "juniper"
	TypeHuawei     Type = "huawei"
	TypeMikrotik   Type = "mikrotik"
	TypeGeneric    Type = "generic"
)

var (
	iosXEKeywords = []string{
		"IOS XE", "IOS-XE", "IOSXE", "CATALYST L3 SWITCH",
		"CAT9K", "CAT3K", "C9300", "C9200", "C9400", "C9500",
		"C3850", "C3650", "CSR1000V", "C8000V", "ISR4", "ASR1000",
		"CISCO NEXUS", "NX-OS",
	}
	iosKeywords = []string{
		"CISCO IOS", "IOS SOFTWARE", "INTERNETWORK OPERATING SYSTEM",
		"C2960", "C3560", "C2950", "C1900", "C2900", "C800", "C1800",
		"CISCO ROUTER", "CISCO SWITCH",
	}
	huaweiKeywords  = []string{"HUAWEI", "VRP", "QUIDWAY"}
	juniperKeywords = []string{"JUNIPER", "JUNOS"}
)

// Detect classifies a device from banner, prompt and command output text.
func Detect(text string) Type {
	upper := strings.ToUpper(text)

	switch {
	case containsAny(upper, iosXEKeywords):
		return TypeCiscoIOSXE
	case containsAny(upper, iosKeywords):
		return TypeCiscoIOS
	case strings.Contains(upper, "CISCO") && (strings.Contains(upper, "SOFTWARE") || strings.Contains(upper, "VERSION")):
		return TypeCiscoIOSXE
	case strings.Contains(upper, "MIKROTIK") || strings.Contains(text, "] >"):
		return TypeMikrotik
	case containsAny(upper, huaweiKeywords):
		return TypeHuawei
	case containsAny(upper, juniperKeywords):
		return TypeJuniper
	}
	return TypeGeneric
}

var (
	mikrotikPrompt = regexp.MustCompile(`^\[[^\]]+\]\s*>\s*$`)
	huaweiPrompt   = regexp.MustCompile(`^<[^>]+>\s*$`)
	juniperPrompt  = regexp.MustCompile(`^[\w.-]+@[\w.-]+[>#]\s*$`)
)

// FromPrompt guesses the family from the CLI prompt alone. Cisco-style
// prompts cannot be told apart from generic ones and yield TypeGeneric.
func FromPrompt(prompt string) Type {
	p := strings.TrimSpace(prompt)
	switch {
	case mikrotikPrompt.MatchString(p):
		return TypeMikrotik
	case huaweiPrompt.MatchString(p):
		return TypeHuawei
	case juniperPrompt.MatchString(p):
		return TypeJuniper
	}
	return TypeGeneric
}

// PagingCommand returns the command that disables output paging, or "" when
// the family has none.
func PagingCommand(t Type) string {
	switch t {
	case TypeCiscoIOS, TypeCiscoIOSXE, TypeGeneric:
		return "terminal length 0"
	case TypeHuawei:
		return "screen-length 0 temporary"
	case TypeJuniper:
		return "set cli screen-length 0"
	}
	return ""
}

// Hostname extracts the device name from a prompt such as "R1#",
// "R1(config)#", "<R1>", "[admin@R1] >" or "admin@R1>".
func Hostname(prompt string) string {
	p := strings.TrimSpace(prompt)
	p = strings.TrimRight(p, "#> ")
	p = strings.TrimPrefix(p, "<")
	p = strings.TrimPrefix(p, "[")
	p = strings.TrimSuffix(p, "]")
	if i := strings.Index(p, "@"); i >= 0 {
		p = p[i+1:]
	}
	if i := strings.Index(p, "("); i > 0 {
		p = p[:i]
	}
	return strings.TrimSpace(p)
}

var versionPatterns = []struct {
	field string
	re    *regexp.Regexp
}{
	{"version", regexp.MustCompile(`(?i)(?:Cisco IOS[^\n]*?|IOS XE[^\n]*?),?\s+Version\s+([^\s,]+)`)},
	{"version", regexp.MustCompile(`(?im)^Junos:\s*(\S+)`)},
	{"version", regexp.MustCompile(`(?i)VRP \(R\) software,\s*Version\s+([^\s(]+)`)},
	{"version", regexp.MustCompile(`(?im)^\s*version:\s*(\S+)`)},
	{"uptime", regexp.MustCompile(`(?im)\buptime is\s+(.+?)\s*$`)},
	{"uptime", regexp.MustCompile(`(?im)^\s*uptime:\s*(.+?)\s*$`)},
	{"hostname", regexp.MustCompile(`(?im)^(\S+)\s+uptime is\b`)},
	{"hostname", regexp.MustCompile(`(?im)^Hostname:\s*(\S+)`)},
	{"model", regexp.MustCompile(`(?im)^cisco\s+(\S+)\s+\(.*\)\s+processor`)},
	{"model", regexp.MustCompile(`(?im)^Model:\s*(\S+)`)},
	{"model", regexp.MustCompile(`(?im)^\s*board-name:\s*(.+?)\s*$`)},
	{"serial", regexp.MustCompile(`(?im)^Processor board ID\s+(\S+)`)},
}

// ParseVersion extracts facts from "show version" style output. The first
// pattern to match a field wins.
func ParseVersion(out string) map[string]string {
	facts := make(map[string]string)
	for _, p := range versionPatterns {
		if _, done := facts[p.field]; done {
			continue
		}
		if m := p.re.FindStringSubmatch(out); m != nil {
			facts[p.field] = strings.TrimSpace(m[1])
		}
	}
	return facts
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
