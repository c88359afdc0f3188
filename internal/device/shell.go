package device

import (
	"context"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/user/edgegate/internal/apperr"
)

var (
	promptPattern = regexp.MustCompile(`^\S.{0,78}[>#]\s*$`)
	ansiPattern   = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	pagerMarkers  = []string{"--More--", "---- More ----", "-- More --"}
)

// errShellClosed is returned when the device ends the shell before a prompt.
var errShellClosed = apperr.New(apperr.KindConnection, "device.read", "device closed the shell")

// shellSession turns a Shell's byte stream into prompt-delimited replies.
// A pump goroutine owns the reads so a blocked Read never outlives ctx:
// closing the shell unblocks it.
type shellSession struct {
	w       io.Writer
	chunks  chan []byte
	done    chan struct{}
	stopped sync.Once
	raw     strings.Builder
}

func newShellSession(sh Shell) *shellSession {
	s := &shellSession{
		w:      sh,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go s.pump(sh)
	return s
}

func (s *shellSession) pump(r io.Reader) {
	defer close(s.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b := append([]byte(nil), buf[:n]...)
			select {
			case s.chunks <- b:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *shellSession) stop() {
	s.stopped.Do(func() { close(s.done) })
}

// Raw returns everything read from the device so far.
func (s *shellSession) Raw() string {
	return s.raw.String()
}

// expect reads until the last line of the reply looks like a prompt. Pager
// prompts are answered with a space. On ctx expiry the partial reply is
// returned with a timeout error.
func (s *shellSession) expect(ctx context.Context) (string, error) {
	const op = "device.read"

	var out strings.Builder
	for {
		select {
		case <-ctx.Done():
			return out.String(), apperr.FromContext(op, ctx.Err())
		case b, ok := <-s.chunks:
			if !ok {
				return out.String(), errShellClosed
			}
			text := strings.ReplaceAll(string(b), "\r", "")
			s.raw.WriteString(text)
			out.WriteString(text)

			last := lastLine(out.String())
			if isPager(last) {
				if _, err := io.WriteString(s.w, " "); err != nil {
					return out.String(), apperr.Wrap(apperr.KindConnection, op, err)
				}
				continue
			}
			if atPrompt(last) {
				return out.String(), nil
			}
		}
	}
}

// send writes one command line and waits for the next prompt.
func (s *shellSession) send(ctx context.Context, cmd string) (string, error) {
	if _, err := io.WriteString(s.w, cmd+"\n"); err != nil {
		return "", apperr.Wrap(apperr.KindConnection, "device.write", err)
	}
	return s.expect(ctx)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func atPrompt(line string) bool {
	line = stripControl(line)
	return strings.TrimSpace(line) != "" && promptPattern.MatchString(line)
}

func isPager(line string) bool {
	for _, m := range pagerMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

func stripControl(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		if r == '\b' || r == 0 {
			return -1
		}
		return r
	}, s)
}

// cleanOutput drops the command echo, pager markers and the trailing prompt
// from one reply.
func cleanOutput(reply, cmd string) string {
	lines := strings.Split(stripControl(reply), "\n")

	if n := len(lines); n > 0 && atPrompt(lines[n-1]) {
		lines = lines[:n-1]
	}
	echo := false
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if !echo && strings.TrimSpace(line) != "" {
			echo = true
			if strings.Contains(line, cmd) {
				continue
			}
		}
		if isPager(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Trim(strings.Join(kept, "\n"), "\n")
}
