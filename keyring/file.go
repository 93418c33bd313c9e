package keyring

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/passage/common"
)

// FileStore keeps secrets in a single encrypted file. The key is derived
// from machine-specific data, so the file is only readable on this host
// by this user.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	key     []byte
	secrets map[string]string
}

// OpenFileStore opens or creates the credential file in dir.
func OpenFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("directory path is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	key, err := deriveKey()
	if err != nil {
		return nil, err
	}

	fs := &FileStore{
		path:    credentialsPath(dir),
		key:     key,
		secrets: make(map[string]string),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func credentialsPath(dir string) string {
	return filepath.Join(dir, common.CredentialsFileName)
}

func deriveKey() ([]byte, error) {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%s-%d", serviceName, hostname, machineID(), os.Getuid())

	kdf := hkdf.New(sha256.New, []byte(secret), []byte(serviceName), []byte("credential-file"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func (f *FileStore) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	plaintext, err := f.decrypt(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, &f.secrets)
}

// save writes to disk. Caller must hold lock.
func (f *FileStore) save() error {
	data, err := json.Marshal(f.secrets)
	if err != nil {
		return err
	}

	encrypted, err := f.encrypt(data)
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, encrypted, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(sealed)), nil
}

func (f *FileStore) decrypt(data []byte) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plaintext, nil
}

// Store saves a secret under key.
func (f *FileStore) Store(key, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[key] = secret
	return f.save()
}

// Get retrieves the secret stored under key.
func (f *FileStore) Get(key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	secret, ok := f.secrets[key]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

// Delete removes the secret stored under key.
func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[key]; !ok {
		return nil
	}
	delete(f.secrets, key)
	return f.save()
}
