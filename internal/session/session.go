// Package session persists named conversations, one JSON file per session.
// Every read-modify-write holds an exclusive advisory lock on the session so
// concurrent invocations never lose a turn.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/minerofthesoal/ai-cli/internal/api"
	"github.com/minerofthesoal/ai-cli/internal/apperr"
	"github.com/minerofthesoal/ai-cli/internal/config"
	"github.com/minerofthesoal/ai-cli/internal/logging"
)

const (
	fileExt  = ".json"
	lockExt  = ".lock"
	lockWait = 10 * time.Second
	lockPoll = 25 * time.Millisecond
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidateName checks that name is safe to use as a file name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || strings.HasPrefix(name, ".") {
		return apperr.Usagef("invalid session name %q: use 1-64 letters, digits, '.', '_' or '-', not starting with '.'", name)
	}
	return nil
}

// Session is a named, append-only message sequence.
type Session struct {
	Name      string        `json:"name"`
	Messages  []api.Message `json:"messages"`
	UpdatedAt time.Time     `json:"updated_at,omitempty"`
}

// Summary is one row of List.
type Summary struct {
	Name      string
	Messages  int
	UpdatedAt time.Time
}

// Store manages the sessions directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the sessions directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// withLock runs fn while holding the exclusive lock for name.
func (s *Store) withLock(name string, fn func() error) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}
	lock := flock.New(s.path(name) + lockExt)
	ctx, cancel := context.WithTimeout(context.Background(), lockWait)
	defer cancel()

	ok, err := lock.TryLockContext(ctx, lockPoll)
	if err != nil {
		return fmt.Errorf("failed to lock session %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("session %s is locked by another process", name)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logging.Warn("failed to release session lock", logging.Fields{"session": name, "error": err.Error()})
		}
	}()
	return fn()
}

// read loads name without locking. A missing file yields an empty session.
func (s *Store) read(name string) (*Session, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return &Session{Name: name, Messages: []api.Message{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", name, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session %s is corrupt: %w", name, err)
	}
	sess.Name = name
	if sess.Messages == nil {
		sess.Messages = []api.Message{}
	}
	return &sess, nil
}

func (s *Store) write(sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.Name, err)
	}
	return config.WriteFileAtomic(s.path(sess.Name), append(data, '\n'), 0o600)
}

// Load returns the named session; a session that was never written is empty.
func (s *Store) Load(name string) (*Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var sess *Session
	err := s.withLock(name, func() error {
		var err error
		sess, err = s.read(name)
		return err
	})
	return sess, err
}

// Exists reports whether the session has been written.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Create writes an empty session. It fails if name already exists.
func (s *Store) Create(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return s.withLock(name, func() error {
		if s.Exists(name) {
			return apperr.Usagef("session %q already exists", name)
		}
		return s.write(&Session{Name: name, Messages: []api.Message{}})
	})
}

func (s *Store) mutate(name string, fn func(sess *Session)) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return s.withLock(name, func() error {
		sess, err := s.read(name)
		if err != nil {
			return err
		}
		fn(sess)
		return s.write(sess)
	})
}

// Append adds messages to the end of the session.
func (s *Store) Append(name string, msgs ...api.Message) error {
	return s.mutate(name, func(sess *Session) {
		sess.Messages = append(sess.Messages, msgs...)
	})
}

// AppendTurn adds one completed exchange under a single lock, so the user
// message and its reply are always adjacent.
func (s *Store) AppendTurn(name string, user, assistant api.Message) error {
	user.Role = api.RoleUser
	assistant.Role = api.RoleAssistant
	return s.Append(name, user, assistant)
}

// Overwrite replaces the session's messages.
func (s *Store) Overwrite(name string, msgs []api.Message) error {
	return s.mutate(name, func(sess *Session) {
		sess.Messages = append([]api.Message{}, msgs...)
	})
}

// Delete removes the session.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return s.withLock(name, func() error {
		err := os.Remove(s.path(name))
		if errors.Is(err, os.ErrNotExist) {
			return apperr.NotFoundf("session %q not found", name)
		}
		return err
	})
}

// DeleteAll removes every session and returns how many were removed.
func (s *Store) DeleteAll() (int, error) {
	names, err := s.names()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, name := range names {
		if err := s.Delete(name); err != nil {
			if apperr.Is(err, apperr.NotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var names []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileExt)
		if e.IsDir() || !ok || ValidateName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// List returns every stored session with its message count, sorted by name.
func (s *Store) List() ([]Summary, error) {
	names, err := s.names()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(names))
	for _, name := range names {
		sess, err := s.read(name)
		if err != nil {
			logging.Warn("skipping unreadable session", logging.Fields{"session": name, "error": err.Error()})
			continue
		}
		out = append(out, Summary{Name: name, Messages: len(sess.Messages), UpdatedAt: sess.UpdatedAt})
	}
	return out, nil
}
