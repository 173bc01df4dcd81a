package account

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"supportchat/internal/pkg/randx"
)

// stateFileName is the session file kept in the client's state directory.
const stateFileName = "session.yaml"

// State is what survives a client restart.
type State struct {
	// ClientID is generated once per session file and reused on every connect.
	ClientID string `yaml:"client_id"`

	// Credential is the last access token, empty for guests.
	Credential string `yaml:"credential,omitempty"`
}

// FileStore persists State as YAML.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store writing to dir/session.yaml.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, stateFileName)}
}

// Path returns the session file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the session file. A missing file yields the zero State.
func (s *FileStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() (State, error) {
	var st State

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read session file: %w", err)
	}

	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse session file %s: %w", s.path, err)
	}
	return st, nil
}

func (s *FileStore) save(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// ClientID returns the persisted client id, generating and saving one when the file
// has none or holds an id the broker would reject.
func (s *FileStore) ClientID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return "", err
	}
	if randx.IsValidClientID(st.ClientID) {
		return st.ClientID, nil
	}

	st.ClientID = randx.ClientID()
	if err := s.save(st); err != nil {
		return "", err
	}
	return st.ClientID, nil
}

// SaveCredential replaces the persisted credential, keeping the client id.
func (s *FileStore) SaveCredential(credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	st.Credential = credential
	return s.save(st)
}
