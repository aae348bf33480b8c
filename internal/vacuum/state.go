package vacuum

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
)

const (
	stateFile      = "state.json"
	stateLockFile  = ".state.lock"
	runnerLockFile = ".vacuum.lock"
)

// ContainerState is the resume point of one container.
type ContainerState struct {
	LastTID int64 `json:"last_tid"`
}

// State persists per-container resume points under a directory.
type State struct {
	dir  string
	mu   sync.Mutex
	data map[string]ContainerState
	lock *FileLock
}

// OpenState loads the state in dir, creating dir if needed. An empty dir
// keeps state in memory only.
func OpenState(dir string) (*State, error) {
	s := &State{dir: dir, data: make(map[string]ContainerState)}
	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, vacerrors.StorageError("failed to create state directory", err)
	}
	s.lock = NewFileLock(dir, stateLockFile)

	if err := s.lock.Lock(); err != nil {
		return nil, vacerrors.New(vacerrors.ErrCodeStateFileLocked, "failed to lock state", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, vacerrors.StorageError("failed to read state", err)
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		return nil, vacerrors.New(vacerrors.ErrCodeObjectCorrupt, "state file is corrupt", err).
			WithDetail("path", s.path()).
			WithSuggestion("delete the state file to restart from the first transaction")
	}
	if s.data == nil {
		s.data = make(map[string]ContainerState)
	}
	return s, nil
}

func (s *State) path() string {
	return filepath.Join(s.dir, stateFile)
}

// Dir returns the state directory.
func (s *State) Dir() string {
	return s.dir
}

// LastTID returns the stored resume tid of container, or 0.
func (s *State) LastTID(container string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[container].LastTID
}

// SetLastTID records the resume tid of container and writes the state file.
func (s *State) SetLastTID(container string, tid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[container] = ContainerState{LastTID: tid}
	if s.dir == "" {
		return nil
	}

	if err := s.lock.Lock(); err != nil {
		return vacerrors.New(vacerrors.ErrCodeStateFileLocked, "failed to lock state", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return vacerrors.InternalError("failed to encode state", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return vacerrors.StorageError("failed to write state", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return vacerrors.StorageError("failed to write state", err)
	}
	return nil
}

// AcquireRunner takes the single-runner lock of the state directory.
// The returned release func must be called when the run ends.
func (s *State) AcquireRunner() (func(), error) {
	if s.dir == "" {
		return func() {}, nil
	}
	lock := NewFileLock(s.dir, runnerLockFile)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, vacerrors.New(vacerrors.ErrCodeStateFileLocked, "failed to lock vacuum", err)
	}
	if !ok {
		return nil, vacerrors.New(vacerrors.ErrCodeStateFileLocked, "another vacuum is running", nil).
			WithDetail("lock", lock.Path()).
			WithSuggestion("wait for the other vacuum to finish or stop it")
	}
	return func() { _ = lock.Unlock() }, nil
}
