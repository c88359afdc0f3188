//go:build !windows

package probes

import "golang.org/x/sys/unix"

func refusedErr() error { return unix.ECONNREFUSED }
