// Package diagnostic implements the append-only, rotated diagnostic log (C8)
// shared by every other component, and the copy-on-crash diagnostic report.
package diagnostic

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is one of the five severities the log line format carries.
type Level string

const (
	Debug Level = "DEBUG"
	Info  Level = "INFO"
	Warn  Level = "WARN"
	Error Level = "ERROR"
	Fatal Level = "FATAL"
)

// maxLogSize rotates the log once it exceeds this size, per spec.md §4.8.
const maxLogSize = 1 << 20 // 1 MiB

// Log is an append-only diagnostic log. One Log is shared by all components;
// writes are serialized by mu, mirroring the teacher's single
// io.MultiWriter(os.Stdout, f) sink in main.go's initLogging().
type Log struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	mirror  io.Writer // additional sink, e.g. os.Stdout; nil disables mirroring
	nowFunc func() time.Time
}

// Open creates (or appends to) the diagnostic log at <data>/nextalk/logs/diagnostic.log.
// mirror may be nil; pass os.Stdout to duplicate output like the teacher does.
func Open(dataDir string, mirror io.Writer) (*Log, error) {
	dir := filepath.Join(dataDir, "nextalk", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diagnostic: create log dir: %w", err)
	}
	path := filepath.Join(dir, "diagnostic.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diagnostic: open log file: %w", err)
	}
	return &Log{path: path, file: f, mirror: mirror, nowFunc: time.Now}, nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Write appends a formatted line: "[ISO8601] [LEVEL] [TAG] message".
func (l *Log) Write(level Level, tag, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}

	if err := l.rotateIfNeededLocked(); err != nil {
		fmt.Fprintf(os.Stderr, "diagnostic: rotate failed: %v\n", err)
	}

	line := fmt.Sprintf("[%s] [%s] [%s] %s\n",
		l.nowFunc().UTC().Format(time.RFC3339), level, tag, fmt.Sprintf(format, args...))

	io.WriteString(l.file, line) //nolint:errcheck
	if l.mirror != nil {
		io.WriteString(l.mirror, line) //nolint:errcheck
	}
}

func (l *Log) Debugf(tag, format string, args ...interface{}) { l.Write(Debug, tag, format, args...) }
func (l *Log) Infof(tag, format string, args ...interface{})  { l.Write(Info, tag, format, args...) }
func (l *Log) Warnf(tag, format string, args ...interface{})  { l.Write(Warn, tag, format, args...) }
func (l *Log) Errorf(tag, format string, args ...interface{}) { l.Write(Error, tag, format, args...) }
func (l *Log) Fatalf(tag, format string, args ...interface{}) { l.Write(Fatal, tag, format, args...) }

// rotateIfNeededLocked renames the current log with an ISO-8601 suffix once
// it exceeds maxLogSize, then reopens a fresh file. Caller holds l.mu.
func (l *Log) rotateIfNeededLocked() error {
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < maxLogSize {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return err
	}
	suffix := l.nowFunc().UTC().Format("20060102T150405Z")
	rotated := l.path + "." + suffix
	if err := os.Rename(l.path, rotated); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// TailLines returns the last n lines currently on disk, reading the live
// file (not rotated backups). Used to build the crash-report's log excerpt.
func (l *Log) TailLines(n int) ([]string, error) {
	l.mu.Lock()
	path := l.path
	l.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Report is the copy-on-crash diagnostic bundle of spec.md §4.8: platform
// info, engine manifest status, and the last 50 lines of the log.
type Report struct {
	OS            string
	Arch          string
	GoVersion     string
	ModelStatuses map[string]string // engine name -> ModelStatus string
	LogTail       []string
}

// BuildReport assembles a Report. modelStatuses is supplied by the caller
// (internal/models.Store.Status per engine) so this package stays free of a
// dependency cycle on internal/models.
func (l *Log) BuildReport(modelStatuses map[string]string) (Report, error) {
	tail, err := l.TailLines(50)
	if err != nil {
		tail = nil
	}
	return Report{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		GoVersion:     runtime.Version(),
		ModelStatuses: modelStatuses,
		LogTail:       tail,
	}, nil
}

// String renders the report as human-readable text suitable for pasting
// into a bug report.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "nextalk diagnostic report\n")
	fmt.Fprintf(&b, "platform: %s/%s (%s)\n", r.OS, r.Arch, r.GoVersion)
	fmt.Fprintf(&b, "models:\n")
	names := make([]string, 0, len(r.ModelStatuses))
	for name := range r.ModelStatuses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %s: %s\n", name, r.ModelStatuses[name])
	}
	fmt.Fprintf(&b, "log tail (%d lines):\n", len(r.LogTail))
	for _, line := range r.LogTail {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return b.String()
}
