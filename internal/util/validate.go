package util

import (
	"net"
	"regexp"
	"strings"

	"github.com/user/edgegate/internal/apperr"
)

var hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*\.?$`)

// ValidateHost checks that host is an IP literal or a DNS name. It never
// coerces: surrounding whitespace, option-like values and shell
// metacharacters are all rejected.
func ValidateHost(op, host string) error {
	if host == "" {
		return apperr.Validationf(op, "host is required")
	}
	if host != strings.TrimSpace(host) {
		return apperr.Validationf(op, "host %q has surrounding whitespace", host)
	}
	if strings.HasPrefix(host, "-") {
		return apperr.Validationf(op, "host %q must not start with '-'", host)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 || !hostnamePattern.MatchString(host) {
		return apperr.Validationf(op, "invalid host %q", host)
	}
	return nil
}

// ValidatePort checks that port is in 1-65535.
func ValidatePort(op string, port int) error {
	if port < 1 || port > 65535 {
		return apperr.Validationf(op, "port %d out of range 1-65535", port)
	}
	return nil
}
