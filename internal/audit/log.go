package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"
)

var _ Recorder = (*Log)(nil)

var errClosed = errors.New("audit: log closed")

// MaxFieldBytes bounds the target and reason stored per entry. Longer
// values keep their prefix plus the length and hash of the full value.
const MaxFieldBytes = 16 * 1024

// Log is the durable Recorder: an append-only JSONL file where each entry
// carries the hash of the line before it. Record is safe for concurrent
// use; every write is synced before it returns.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	head string
}

// Open opens path for appending, creating it and its directory when
// missing. An existing log is continued from its last line.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	head, _, err := walk(path, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &Log{path: path, file: file, head: head}, nil
}

// Record chains entry onto the log. Timestamp is filled in when empty;
// PrevHash is always overwritten; Target and Reason are clipped to
// MaxFieldBytes.
func (l *Log) Record(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errClosed
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	entry.PrevHash = l.head
	entry.Action.Target = clip(entry.Action.Target)
	entry.Reason = clip(entry.Reason)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	l.head = HashLine(line)
	return nil
}

// Head returns the hash the next entry will carry as prev_hash.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Path returns the file the log appends to.
func (l *Log) Path() string {
	return l.path
}

// Close closes the file. Later Records fail.
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

func clip(s string) string {
	if len(s) <= MaxFieldBytes {
		return s
	}
	cut := MaxFieldBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s...[%d bytes, %s]", s[:cut], len(s), HashLine([]byte(s)))
}
