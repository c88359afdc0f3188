//go:build windows

package probes

import "golang.org/x/sys/windows"

func refusedErr() error { return windows.WSAECONNREFUSED }
