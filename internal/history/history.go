package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/minerofthesoal/ai-cli/internal/config"
	"github.com/minerofthesoal/ai-cli/internal/logging"
)

// Entry is one recorded interaction.
type Entry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`
	Model   string    `json:"model"`
	Backend string    `json:"backend"`
	Command string    `json:"command"`
	Prompt  string    `json:"prompt"`
	Reply   string    `json:"reply"`
}

// Filter selects entries. Zero values match everything.
type Filter struct {
	Session string
	Search  string
	Limit   int
}

func (f Filter) match(e Entry) bool {
	if f.Session != "" && e.Session != f.Session {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(e.Prompt), q) && !strings.Contains(strings.ToLower(e.Reply), q) {
			return false
		}
	}
	return true
}

// Log is the JSONL interaction log.
type Log struct {
	path string
	lock *flock.Flock
}

// Open returns the log stored at path. Nothing is created until Record.
func Open(path string) *Log {
	return &Log{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

func (l *Log) locked(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock history: %w", err)
	}
	defer func() { _ = l.lock.Unlock() }()
	return fn()
}

func (l *Log) Record(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}
	return l.locked(func() error {
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write history: %w", err)
		}
		return f.Close()
	})
}

// readAll parses every line, skipping ones that do not decode.
func (l *Log) readAll() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			logging.Warn("skipping malformed history line", logging.Fields{"line": n, "error": err.Error()})
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

func (l *Log) Query(f Filter) ([]Entry, error) {
	var out []Entry
	err := l.locked(func() error {
		entries, err := l.readAll()
		if err != nil {
			return err
		}
		for _, e := range entries {
			if f.match(e) {
				out = append(out, e)
			}
		}
		return nil
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, err
}

func (l *Log) Clear(session string) (int, error) {
	removed := 0
	err := l.locked(func() error {
		entries, err := l.readAll()
		if err != nil {
			return err
		}
		var keep bytes.Buffer
		for _, e := range entries {
			if session == "" || e.Session == session {
				removed++
				continue
			}
			line, err := json.Marshal(e)
			if err != nil {
				return err
			}
			keep.Write(line)
			keep.WriteByte('\n')
		}
		if removed == 0 {
			return nil
		}
		return config.WriteFileAtomic(l.path, keep.Bytes(), 0o600)
	})
	return removed, err
}
