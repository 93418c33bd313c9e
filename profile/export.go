package profile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yllada/passage/common"
)

const exportVersion = 1

type exportDocument struct {
	Version  int               `yaml:"version"`
	Profiles []exportedProfile `yaml:"profiles"`
}

type exportedProfile struct {
	Profile `yaml:",inline"`
	// HostConfig embeds the .ovpn contents of host profiles.
	HostConfig string `yaml:"host_config,omitempty"`
}

// Export writes all profiles as YAML. Passwords are never exported.
func (s *Store) Export(w io.Writer) error {
	profiles, err := s.List()
	if err != nil {
		return err
	}

	doc := exportDocument{Version: exportVersion}
	for _, p := range profiles {
		entry := exportedProfile{Profile: *p.Clone()}
		if p.Context == ContextHost {
			data, err := os.ReadFile(p.Host.ConfigPath)
			if err != nil {
				return fmt.Errorf("failed to read config of %s: %w", p.Title, err)
			}
			entry.HostConfig = string(data)
			entry.Host.ConfigPath = ""
		}
		doc.Profiles = append(doc.Profiles, entry)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}
	return encoder.Close()
}

// Import adds the profiles of an exported document under fresh IDs.
// Profiles whose title already exists are skipped. It returns the
// number of profiles added.
func (s *Store) Import(r io.Reader) (int, error) {
	var doc exportDocument
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	if doc.Version != exportVersion {
		return 0, fmt.Errorf("%w: unsupported export version %d", common.ErrInvalidConfig, doc.Version)
	}

	imported := 0
	for _, entry := range doc.Profiles {
		p := entry.Profile.Clone()
		p.ID = common.GenerateID()

		if p.Context == ContextHost {
			if p.Host == nil || entry.HostConfig == "" {
				common.LogWarn("Skipping host profile %s without configuration", p.Title)
				continue
			}
			path, err := s.writeHostConfig(p.ID, entry.HostConfig)
			if err != nil {
				return imported, err
			}
			p.Host.ConfigPath = path
		}

		if err := s.Add(p, Credentials{Username: p.Username}); err != nil {
			if p.Context == ContextHost {
				_ = os.Remove(p.Host.ConfigPath)
			}
			if errors.Is(err, common.ErrDuplicateName) {
				common.LogWarn("Skipping existing profile %s", p.Title)
				continue
			}
			return imported, fmt.Errorf("failed to import %s: %w", p.Title, err)
		}
		imported++
	}
	return imported, nil
}

func (s *Store) writeHostConfig(id, content string) (string, error) {
	if _, err := ParseHostConfig([]byte(content)); err != nil {
		return "", err
	}
	dir := filepath.Join(s.dir, common.HostConfigsDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create configs directory: %w", err)
	}
	path := filepath.Join(dir, id+".ovpn")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}
