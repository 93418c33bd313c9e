package profile

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/passage/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id        TEXT PRIMARY KEY,
	context   TEXT NOT NULL,
	title     TEXT NOT NULL,
	data      TEXT NOT NULL,
	created   INTEGER NOT NULL,
	last_used INTEGER NOT NULL DEFAULT 0,
	UNIQUE (context, title)
);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

const activeSettingKey = "active_profile"

// EventKind identifies a store notification.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRenamed
	EventRemoved
	EventWillDeactivate
	EventActivated
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventRenamed:
		return "renamed"
	case EventRemoved:
		return "removed"
	case EventWillDeactivate:
		return "will-deactivate"
	case EventActivated:
		return "activated"
	default:
		return "unknown"
	}
}

// Event is published by the Store after a profile change. Profile is a
// snapshot taken when the event fired.
type Event struct {
	Kind    EventKind
	Key     Key
	Profile *Profile
}

// Store persists profiles in SQLite and passwords in a SecretStore.
// It also owns the single active profile.
type Store struct {
	mu      sync.RWMutex
	db      *sql.DB
	dir     string
	secrets common.SecretStore

	infraMu sync.Mutex
	infra   map[string]*Infrastructure

	events common.Observers[Event]
}

// Open opens or creates profiles.db in dir.
func Open(dir string, secrets common.SecretStore) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	dsn := "file:" + filepath.Join(dir, common.ProfilesDBName) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize profile database: %w", err)
	}

	return &Store{
		db:      db,
		dir:     dir,
		secrets: secrets,
		infra:   make(map[string]*Infrastructure),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Subscribe registers fn for store events.
func (s *Store) Subscribe(fn func(Event)) func() {
	return s.events.Subscribe(fn)
}

func (s *Store) publish(kind EventKind, p *Profile) {
	s.events.Publish(Event{Kind: kind, Key: p.Key(), Profile: p.Clone()})
}

func scanProfile(row interface{ Scan(...any) error }) (*Profile, error) {
	var (
		id, ctx, title, data string
		created, lastUsed    int64
	)
	if err := row.Scan(&id, &ctx, &title, &data, &created, &lastUsed); err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("corrupt profile %s: %w", id, err)
	}
	p.ID = id
	p.Context = Context(ctx)
	p.Title = title
	p.Created = time.Unix(created, 0)
	if lastUsed > 0 {
		p.LastUsed = time.Unix(lastUsed, 0)
	}
	return &p, nil
}

// List returns all profiles sorted by context then title.
func (s *Store) List() ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, context, title, data, created, last_used FROM profiles`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].Context != profiles[j].Context {
			return profiles[i].Context < profiles[j].Context
		}
		return strings.ToLower(profiles[i].Title) < strings.ToLower(profiles[j].Title)
	})
	return profiles, nil
}

// Get retrieves a profile by key.
func (s *Store) Get(key Key) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(key)
}

func (s *Store) get(key Key) (*Profile, error) {
	row := s.db.QueryRow(`SELECT id, context, title, data, created, last_used FROM profiles
		WHERE id = ? AND context = ?`, key.ID, string(key.Context))
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrProfileNotFound, key)
	}
	return p, err
}

// Find resolves a profile by id, id prefix or title.
func (s *Store) Find(ref string) (*Profile, error) {
	profiles, err := s.List()
	if err != nil {
		return nil, err
	}

	var matches []*Profile
	for _, p := range profiles {
		if p.ID == ref || p.Key().String() == ref || strings.EqualFold(p.Title, ref) {
			return p, nil
		}
		if len(ref) >= 4 && strings.HasPrefix(p.ID, ref) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	return nil, fmt.Errorf("%w: %s", common.ErrProfileNotFound, ref)
}

// Add validates and saves a new profile. Host configuration files are
// copied into the application's directory. The first profile becomes
// the active one.
func (s *Store) Add(p *Profile, creds Credentials) error {
	if p.ID == "" {
		p.ID = common.GenerateID()
	}
	p.Created = time.Now()
	if creds.Username != "" {
		p.Username = creds.Username
	}

	if err := p.Validate(); err != nil {
		return err
	}
	if !common.IsFilenameSafe(p.Title) {
		return fmt.Errorf("%w: title %q is not filename-safe", common.ErrInvalidProfile, p.Title)
	}

	s.mu.Lock()

	if p.Context == ContextHost {
		hostsDir := filepath.Join(s.dir, common.HostConfigsDirName)
		if err := os.MkdirAll(hostsDir, 0700); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to create configs directory: %w", err)
		}
		destPath := filepath.Join(hostsDir, p.ID+".ovpn")
		if p.Host.ConfigPath != destPath {
			if err := copyFile(p.Host.ConfigPath, destPath); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("failed to copy config file: %w", err)
			}
			p.Host.ConfigPath = destPath
		}
	}

	if err := s.insert(p); err != nil {
		s.mu.Unlock()
		return err
	}

	if creds.Password != "" {
		if err := s.secrets.Store(p.Key().String(), creds.Password); err != nil {
			common.LogWarn("Failed to store password for %s: %v", p.Title, err)
		}
	}

	_, hasActive, err := s.activeKey()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	common.LogInfo("Added profile %s (%s)", p.Title, p.Key())
	s.publish(EventAdded, p)

	if !hasActive {
		return s.Activate(p.Key())
	}
	return nil
}

func (s *Store) insert(p *Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize profile: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO profiles (id, context, title, data, created, last_used)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Context), p.Title, string(data), p.Created.Unix(), unixOrZero(p.LastUsed))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", common.ErrDuplicateName, p.Title)
		}
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Update saves changes to an existing profile.
func (s *Store) Update(p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(p)
}

func (s *Store) update(p *Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize profile: %w", err)
	}
	res, err := s.db.Exec(`UPDATE profiles SET title = ?, data = ?, last_used = ?
		WHERE id = ? AND context = ?`,
		p.Title, string(data), unixOrZero(p.LastUsed), p.ID, string(p.Context))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", common.ErrDuplicateName, p.Title)
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", common.ErrProfileNotFound, p.Key())
	}
	return nil
}

// Rename changes a profile's title. Titles must be filename-safe and
// unique within a context.
func (s *Store) Rename(key Key, title string) error {
	title = strings.TrimSpace(title)
	if title == "" || !common.IsFilenameSafe(title) {
		return fmt.Errorf("%w: title %q is not filename-safe", common.ErrInvalidProfile, title)
	}

	s.mu.Lock()
	p, err := s.get(key)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if p.Title == title {
		s.mu.Unlock()
		return nil
	}
	p.Title = title
	err = s.update(p)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(EventRenamed, p)
	return nil
}

// MarkUsed updates the LastUsed timestamp for a profile.
func (s *Store) MarkUsed(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.get(key)
	if err != nil {
		return err
	}
	p.LastUsed = time.Now()
	return s.update(p)
}

// Remove deletes a profile with its credentials and configuration copy.
// Removing the active profile leaves no profile active.
func (s *Store) Remove(key Key) error {
	s.mu.Lock()
	p, err := s.get(key)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	active, hasActive, err := s.activeKey()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	wasActive := hasActive && active == key
	s.mu.Unlock()

	if wasActive {
		s.publish(EventWillDeactivate, p)
	}

	s.mu.Lock()
	if wasActive {
		if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, activeSettingKey); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to clear active profile: %w", err)
		}
	}
	if _, err := s.db.Exec(`DELETE FROM profiles WHERE id = ? AND context = ?`, key.ID, string(key.Context)); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	s.mu.Unlock()

	if err := s.secrets.Delete(key.String()); err != nil && !errors.Is(err, common.ErrCredentialsNotFound) {
		common.LogWarn("Failed to delete credentials for %s: %v", p.Title, err)
	}
	if p.Context == ContextHost {
		if err := os.Remove(p.Host.ConfigPath); err != nil && !os.IsNotExist(err) {
			common.LogWarn("Failed to remove config file %s: %v", p.Host.ConfigPath, err)
		}
	}

	common.LogInfo("Removed profile %s", p.Title)
	s.publish(EventRemoved, p)
	return nil
}

// activeKey reads the active key. Caller must hold the lock.
func (s *Store) activeKey() (Key, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, activeSettingKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, false, nil
	}
	if err != nil {
		return Key{}, false, fmt.Errorf("failed to read active profile: %w", err)
	}
	key, err := ParseKey(value)
	if err != nil {
		return Key{}, false, err
	}
	return key, true, nil
}

// Activate makes key the active profile. Switching away from another
// profile publishes EventWillDeactivate for it first; EventActivated is
// always published.
func (s *Store) Activate(key Key) error {
	s.mu.Lock()
	p, err := s.get(key)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	current, hasActive, err := s.activeKey()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	var previous *Profile
	if hasActive && current != key {
		previous, _ = s.get(current)
	}
	s.mu.Unlock()

	if previous != nil {
		s.publish(EventWillDeactivate, previous)
	}

	s.mu.Lock()
	_, err = s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, activeSettingKey, key.String())
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to save active profile: %w", err)
	}

	common.LogDebug("Activated profile %s", p.Title)
	s.publish(EventActivated, p)
	return nil
}

// Active returns the active profile, if any.
func (s *Store) Active() (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok, err := s.activeKey()
	if err != nil || !ok {
		return nil, false
	}
	p, err := s.get(key)
	if err != nil {
		return nil, false
	}
	return p, true
}

// IsActive reports whether key is the active profile.
func (s *Store) IsActive(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active, ok, err := s.activeKey()
	return err == nil && ok && active == key
}

// Credentials returns the stored credentials of a profile. A missing
// password is not an error.
func (s *Store) Credentials(key Key) (Credentials, error) {
	p, err := s.Get(key)
	if err != nil {
		return Credentials{}, err
	}

	creds := Credentials{Username: p.Username}
	password, err := s.secrets.Get(key.String())
	if err != nil && !errors.Is(err, common.ErrCredentialsNotFound) {
		return creds, err
	}
	creds.Password = password
	return creds, nil
}

// SetCredentials stores credentials for a profile. An empty password
// removes the stored one.
func (s *Store) SetCredentials(key Key, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.get(key)
	if err != nil {
		return err
	}
	if p.Username != creds.Username {
		p.Username = creds.Username
		if err := s.update(p); err != nil {
			return err
		}
	}

	if creds.Password == "" {
		if err := s.secrets.Delete(key.String()); err != nil && !errors.Is(err, common.ErrCredentialsNotFound) {
			return err
		}
		return nil
	}
	if err := s.secrets.Store(key.String(), creds.Password); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

// RequiresCredentials reports whether p authenticates with a username
// and password.
func (s *Store) RequiresCredentials(p *Profile) bool {
	switch p.Context {
	case ContextProvider:
		infra, err := s.Infrastructure(p.Provider.Name)
		if err != nil {
			common.LogWarn("Cannot load provider %s: %v", p.Provider.Name, err)
			return true
		}
		return infra.Defaults.RequiresCredentials
	case ContextHost:
		return p.Host.RequiresCredentials
	default:
		return false
	}
}

// NeedsCredentials reports whether p requires credentials and has no
// valid ones stored.
func (s *Store) NeedsCredentials(p *Profile) bool {
	if !s.RequiresCredentials(p) {
		return false
	}
	creds, err := s.Credentials(p.Key())
	if err != nil {
		return true
	}
	return !creds.IsValid()
}

// ProvidersDir is where provider infrastructure files live.
func (s *Store) ProvidersDir() string {
	return filepath.Join(s.dir, common.ProvidersDirName)
}

// Infrastructure returns the named provider infrastructure, loading it
// on first use.
func (s *Store) Infrastructure(name string) (*Infrastructure, error) {
	s.infraMu.Lock()
	defer s.infraMu.Unlock()

	if infra, ok := s.infra[name]; ok {
		return infra, nil
	}
	infra, err := LoadInfrastructure(s.ProvidersDir(), name)
	if err != nil {
		return nil, err
	}
	s.infra[name] = infra
	return infra, nil
}

// NewProviderProfile builds a provider profile using the provider's
// default pool and preset.
func (s *Store) NewProviderProfile(title, provider string) (*Profile, error) {
	infra, err := s.Infrastructure(provider)
	if err != nil {
		return nil, err
	}
	pool := infra.DefaultPool()
	preset := infra.Defaults.Preset
	if !pool.Supports(infra, preset) {
		if supported := pool.SupportedPresets(infra); len(supported) > 0 {
			preset = supported[0].ID
		}
	}

	return &Profile{
		Title:   title,
		Context: ContextProvider,
		Provider: &ProviderSettings{
			Name:     infra.Name,
			PoolID:   pool.ID,
			PresetID: preset,
		},
	}, nil
}

// NewHostProfile builds a host profile from an .ovpn file.
func NewHostProfile(title, configPath string) (*Profile, error) {
	host, err := InspectHostConfig(configPath)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(configPath), filepath.Ext(configPath))
	}
	return &Profile{
		Title:   title,
		Context: ContextHost,
		Host:    host,
	}, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
