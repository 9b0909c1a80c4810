package process

import (
	"bytes"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LogEntry represents a single line of UI process output.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"` // "stdout" or "stderr"
	Line      string    `json:"line"`
}

// LogBuffer is a thread-safe ring buffer that stores the last N log entries.
type LogBuffer struct {
	mu         sync.RWMutex
	entries    []LogEntry
	maxEntries int
}

// NewLogBuffer creates a log buffer that retains up to maxEntries lines.
func NewLogBuffer(maxEntries int) *LogBuffer {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &LogBuffer{
		entries:    make([]LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

// Write appends a log entry, dropping the oldest when full.
func (lb *LogBuffer) Write(stream, line string) {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Stream:    stream,
		Line:      line,
	}

	lb.mu.Lock()
	if len(lb.entries) >= lb.maxEntries {
		lb.entries = lb.entries[1:]
	}
	lb.entries = append(lb.entries, entry)
	lb.mu.Unlock()
}

// Recent returns the last N entries in the buffer.
func (lb *LogBuffer) Recent(n int) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	total := len(lb.entries)
	if n <= 0 || n > total {
		n = total
	}
	start := total - n
	result := make([]LogEntry, n)
	copy(result, lb.entries[start:])
	return result
}

// Lines returns an io.Writer that splits output into lines recorded under
// stream. A trailing partial line is kept until the next newline.
func (lb *LogBuffer) Lines(stream string) *LineWriter {
	return &LineWriter{buf: lb, stream: stream}
}

// LineWriter adapts a LogBuffer to io.Writer for subprocess output.
type LineWriter struct {
	mu      sync.Mutex
	buf     *LogBuffer
	stream  string
	pending []byte
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.pending[:i], "\r"))
		w.pending = w.pending[i+1:]
		w.buf.Write(w.stream, line)
		log.Debug().Str("stream", w.stream).Str("line", line).Msg("ui")
	}
	return len(p), nil
}

// Flush records any partial line left in the writer.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.buf.Write(w.stream, string(w.pending))
		w.pending = nil
	}
}
