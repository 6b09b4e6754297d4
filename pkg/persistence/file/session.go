package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/persistence"
)

// SessionLedger stores one JSON file per flow under <root>/sessions.
type SessionLedger struct {
	root string
	mu   sync.Mutex
}

func NewSessionLedger(root string) *SessionLedger {
	return &SessionLedger{root: root}
}

func (l *SessionLedger) dir() string {
	return path.Join(l.root, "sessions")
}

func (l *SessionLedger) filePath(flowID string) string {
	return filepath.Clean(path.Join(l.dir(), flowID+".json"))
}

// Record stores the lock, replacing any previous entry of the flow.
func (l *SessionLedger) Record(_ context.Context, lock models.EditLock) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.write(lock)
}

// Release marks the flow's entry as released.
func (l *SessionLedger) Release(_ context.Context, flowID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := l.read(flowID)
	if err != nil {
		return persistence.NewSessionError("Release", flowID, err)
	}

	at = at.UTC()
	lock.ReleasedAt = &at

	return l.write(*lock)
}

// Get returns the entry of a flow.
func (l *SessionLedger) Get(_ context.Context, flowID string) (*models.EditLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := l.read(flowID)
	if err != nil {
		return nil, persistence.NewSessionError("Get", flowID, err)
	}

	return lock, nil
}

// Open lists unreleased entries, oldest first.
func (l *SessionLedger) Open(_ context.Context) ([]*models.EditLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := fs.Glob(os.DirFS(l.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list session files: %w", err)
	}

	locks := make([]*models.EditLock, 0, len(files))

	for _, file := range files {
		lock, err := l.read(file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		if !lock.Released() {
			locks = append(locks, lock)
		}
	}

	sort.Slice(locks, func(i, j int) bool { return locks[i].OpenedAt.Before(locks[j].OpenedAt) })

	return locks, nil
}

func (l *SessionLedger) read(flowID string) (*models.EditLock, error) {
	body, err := os.ReadFile(l.filePath(flowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to read session %s: %w", flowID, err)
	}

	var lock models.EditLock

	err = json.Unmarshal(body, &lock)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", flowID, err)
	}

	return &lock, nil
}

func (l *SessionLedger) write(lock models.EditLock) error {
	err := os.MkdirAll(l.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", lock.FlowID, err)
	}

	err = os.WriteFile(l.filePath(lock.FlowID), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write session %s: %w", lock.FlowID, err)
	}

	return nil
}
