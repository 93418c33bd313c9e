// Package keyring provides secure credential storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/yllada/passage/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "passage"

	// TestStoreEnvVar, when set to a directory, forces the encrypted file
	// backend. Intended for tests and headless machines.
	TestStoreEnvVar = "PASSAGE_TEST_KEYRING_DIR"
)

// Common errors returned by keyring operations.
var (
	ErrNotFound    = common.ErrCredentialsNotFound
	ErrEmptyKey    = errors.New("credential key cannot be empty")
	ErrEmptySecret = errors.New("secret cannot be empty")
)

// Store saves secrets in the system keyring, falling back to an encrypted
// file in the config directory when the keyring is unreachable.
type Store struct {
	mu       sync.Mutex
	useLocal bool
	file     *FileStore
	dir      string
}

var _ common.SecretStore = (*Store)(nil)

// New probes the system keyring and returns a Store.
// dir is where the fallback credential file lives.
func New(dir string) *Store {
	if testDir := os.Getenv(TestStoreEnvVar); testDir != "" {
		return &Store{useLocal: true, dir: testDir}
	}

	s := &Store{dir: dir}

	probeKey := serviceName + "-probe"
	if err := gokeyring.Set(serviceName, probeKey, "probe"); err != nil {
		common.LogWarn("System keyring unavailable, using encrypted file: %v", err)
		s.useLocal = true
		return s
	}
	_ = gokeyring.Delete(serviceName, probeKey)

	return s
}

// Backend returns a short name for the backend in use.
func (s *Store) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.useLocal {
		return "file"
	}
	return "system"
}

// local returns the file store, opening it on first use. Caller must hold s.mu.
func (s *Store) local() (*FileStore, error) {
	if s.file != nil {
		return s.file, nil
	}
	fs, err := OpenFileStore(s.dir)
	if err != nil {
		return nil, err
	}
	s.file = fs
	return fs, nil
}

// Store saves a secret under key.
func (s *Store) Store(key, secret string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if secret == "" {
		return ErrEmptySecret
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useLocal {
		err := gokeyring.Set(serviceName, key, secret)
		if err == nil {
			return nil
		}
		common.LogWarn("Keyring write failed, switching to encrypted file: %v", err)
		s.useLocal = true
	}

	fs, err := s.local()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return fs.Store(key, secret)
}

// Get retrieves the secret stored under key.
func (s *Store) Get(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useLocal {
		secret, err := gokeyring.Get(serviceName, key)
		if err == nil {
			return secret, nil
		}
		if errors.Is(err, gokeyring.ErrNotFound) {
			return "", ErrNotFound
		}
		if isAccessError(err) {
			return "", fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
	}

	fs, err := s.local()
	if err != nil {
		return "", err
	}
	return fs.Get(key)
}

// Delete removes the secret stored under key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useLocal {
		if err := gokeyring.Delete(serviceName, key); err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
			common.LogDebug("Keyring delete failed for %s: %v", key, err)
		}
	}

	// Also remove from the local file if present
	if !s.useLocal && !common.FileExists(credentialsPath(s.dir)) {
		return nil
	}
	fs, err := s.local()
	if err != nil {
		return err
	}
	return fs.Delete(key)
}

func isAccessError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"denied", "permission", "not allowed", "unauthorized"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
