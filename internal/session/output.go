package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// streams captures what caller code writes. The interpreter only rebinds
// os.Stdout and os.Stderr to writers that are files, so each stream is a
// pipe drained into a buffer.
type streams struct {
	outW, errW *os.File
	stdout     bytes.Buffer
	stderr     bytes.Buffer
	drain      errgroup.Group
	closed     bool
}

func openStreams() (*streams, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	s := &streams{outW: outW, errW: errW}
	s.drain.Go(func() error {
		defer outR.Close()
		_, err := io.Copy(&s.stdout, outR)
		return err
	})
	s.drain.Go(func() error {
		defer errR.Close()
		_, err := io.Copy(&s.stderr, errR)
		return err
	})
	return s, nil
}

// close ends the capture and waits for both buffers to be complete. Code
// still running after close (an interrupted run) gets write errors.
func (s *streams) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	closeErr := errors.Join(s.outW.Close(), s.errW.Close())
	if err := s.drain.Wait(); err != nil {
		return err
	}
	return closeErr
}

// Truncate keeps the first max characters of s and appends a marker when
// anything was cut. max <= 0 yields "".
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	cut := 0
	for n := 0; n < max; n++ {
		_, size := utf8.DecodeRuneInString(s[cut:])
		cut += size
	}
	return s[:cut] + fmt.Sprintf("\n... [truncated to %d chars] ...\n", max)
}

func appendDroppedWarning(stderr string, dropped []string) string {
	msg := "Dropped unpersistable variables: " + strings.Join(dropped, ", ")
	if stderr != "" {
		stderr += "\n"
	}
	return stderr + msg + "\n"
}

// builtinPrint writes like the print and println builtins: to stderr, with
// spaces between operands only for println.
func builtinPrint(w io.Writer, newline bool, args ...interface{}) {
	var b strings.Builder
	for i, a := range args {
		if newline && i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprint(&b, a)
	}
	if newline {
		b.WriteByte('\n')
	}
	io.WriteString(w, b.String())
}
