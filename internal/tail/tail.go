// Package tail implements the Stream Tailers: background readers that
// incrementally follow append-only text files (syslog, intercepted
// stdout/stderr) into shared line buffers without blocking the main loop.
package tail

import (
	"bufio"
	"context"
	"os"
	"sync"
	"time"
)

// Buffer is an unbounded, ordered sequence of lines guarded by its own
// reader-writer lock. A single producer (the Tailer) appends; a single
// consumer (under the main loop's shared lock) drains.
type Buffer struct {
	mu    sync.RWMutex
	lines []string
}

// Append adds a line to the buffer.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
}

// Drain removes and returns all currently buffered lines.
func (b *Buffer) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.lines
	b.lines = nil
	return out
}

// Len reports the number of currently buffered lines.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Tailer incrementally reads new lines appended to path, pushing them into
// buf. It resets to offset zero when the file is truncated (new size <
// offset), and never blocks the main loop: each read cycle yields via a
// cooperative sleep.
type Tailer struct {
	path       string
	buf        *Buffer
	offset     int64
	pollPeriod time.Duration
}

// NewTailer constructs a Tailer for path, appending into buf.
func NewTailer(path string, buf *Buffer, pollPeriod time.Duration) *Tailer {
	if pollPeriod <= 0 {
		pollPeriod = 200 * time.Millisecond
	}
	return &Tailer{path: path, buf: buf, pollPeriod: pollPeriod}
}

// Run drains new lines from the tailed file until ctx is canceled. A
// missing file is treated as the "missing optional collaborator" error
// case: it is retried on the next cycle rather than aborting the tailer.
func (t *Tailer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.readOnce()
		}
	}
}

func (t *Tailer) readOnce() {
	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}

	if info.Size() < t.offset {
		t.offset = 0 // truncation: file rotated, restart from the top
	}

	if _, err := f.Seek(t.offset, 0); err != nil {
		return
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	var read int64
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && err == nil {
			read += int64(len(line))
			t.buf.Append(trimNewline(line))
		}
		if err != nil {
			break // incomplete trailing line; pick it up again next cycle
		}
	}

	t.offset += read
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}
