package source

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	logx "procnotify/pkg/logx"
)

// JSONL reads newline-delimited JSON events from a file, FIFO or stdin.
type JSONL struct {
	path string
	log  logx.Logger
	// open is replaceable in tests.
	open func() (io.ReadCloser, error)
}

func NewJSONL(path string, log logx.Logger) *JSONL {
	path = strings.TrimSpace(path)
	s := &JSONL{path: path, log: log.With(logx.String("comp", "source.jsonl"))}
	s.open = func() (io.ReadCloser, error) {
		if path == "" || path == "-" {
			return io.NopCloser(os.Stdin), nil
		}
		return os.Open(path)
	}
	return s
}

func (s *JSONL) Name() string { return "jsonl" }

func (s *JSONL) Run(ctx context.Context, h Handler) error {
	rc, err := s.open()
	if err != nil {
		return &TerminatedError{Source: s.Name(), Reason: "open failed", Err: err}
	}

	type line struct {
		b   []byte
		err error
	}
	lines := make(chan line)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer rc.Close()
		sc := bufio.NewScanner(rc)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			b := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line{b: b}:
			case <-done:
				return
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		select {
		case lines <- line{err: err}:
		case <-done:
		}
	}()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case l := <-lines:
			if l.err != nil {
				reason := "read failed"
				if l.err == io.EOF {
					reason, l.err = "end of input", nil
				}
				return &TerminatedError{Source: s.Name(), Reason: reason, Err: l.err}
			}
			n++
			b := bytes.TrimSpace(l.b)
			if len(b) == 0 {
				continue
			}
			ev, shutdown, err := decode(b)
			if err != nil {
				s.log.Warn("skipping malformed event", logx.Int("line", n), logx.Err(err))
				continue
			}
			if shutdown != "" {
				h.HandleShutdown(shutdown)
				continue
			}
			h.HandleEvent(ev)
		}
	}
}
