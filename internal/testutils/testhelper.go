package testutils

import (
	"bytes"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// NewTestLogger returns a debug-level logger that writes through t.Log,
// so output only shows up for failing or verbose tests.
func NewTestLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	w := &testWriter{t: t}
	t.Cleanup(w.finish)
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logger
}

type testWriter struct {
	t testing.TB

	mu sync.Mutex
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// finish makes later writes from stray goroutines harmless.
func (w *testWriter) finish() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.t = nopTB{w.t}
}

type nopTB struct{ testing.TB }

func (nopTB) Log(...any) {}
func (nopTB) Cleanup(func()) {}
func (nopTB) Helper() {}

// FreePort returns a TCP port that was free a moment ago.
func FreePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// SafeBuffer is a bytes.Buffer safe for one writer goroutine and concurrent readers.
type SafeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
