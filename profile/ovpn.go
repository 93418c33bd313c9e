package profile

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yllada/passage/common"
)

const defaultOpenVPNPort = 1194

// InspectHostConfig validates an OpenVPN client configuration and extracts
// the settings a host profile needs.
func InspectHostConfig(path string) (*HostSettings, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return nil, common.ErrInvalidConfig
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ovpn" && ext != ".conf" {
		return nil, fmt.Errorf("%w: expected .ovpn or .conf extension", common.ErrInvalidConfig)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	settings, err := ParseHostConfig(data)
	if err != nil {
		return nil, err
	}
	settings.ConfigPath = path
	return settings, nil
}

type remoteLine struct {
	host  string
	port  string
	proto string
}

// ParseHostConfig scans OpenVPN directives. Inline blocks such as <ca>
// are skipped.
func ParseHostConfig(data []byte) (*HostSettings, error) {
	var (
		remotes      []remoteLine
		defaultPort  = strconv.Itoa(defaultOpenVPNPort)
		defaultProto = "udp"
		isClient     bool
		inlineTag    string
		settings     HostSettings
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if inlineTag != "" {
			if line == "</"+inlineTag+">" {
				inlineTag = ""
			}
			continue
		}
		if strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">") && !strings.HasPrefix(line, "</") {
			inlineTag = strings.Trim(line, "<>")
			continue
		}
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "client", "tls-client":
			isClient = true
		case "remote":
			if len(fields) < 2 {
				continue
			}
			r := remoteLine{host: fields[1]}
			if len(fields) > 2 {
				r.port = fields[2]
			}
			if len(fields) > 3 {
				r.proto = fields[3]
			}
			remotes = append(remotes, r)
		case "port":
			if len(fields) > 1 {
				defaultPort = fields[1]
			}
		case "proto":
			if len(fields) > 1 {
				defaultProto = fields[1]
			}
		case "auth-user-pass":
			// A file argument means credentials are already supplied.
			if len(fields) == 1 {
				settings.RequiresCredentials = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if len(remotes) == 0 {
		if !isClient {
			return nil, fmt.Errorf("%w: missing required OpenVPN directives", common.ErrInvalidConfig)
		}
		return &settings, nil
	}

	settings.Hostname = remotes[0].host
	seen := make(map[EndpointProtocol]bool)
	for _, r := range remotes {
		port, proto := r.port, r.proto
		if port == "" {
			port = defaultPort
		}
		if proto == "" {
			proto = defaultProto
		}
		ep, err := endpointFromDirective(proto, port)
		if err != nil {
			return nil, fmt.Errorf("%w: remote %s: %v", common.ErrInvalidConfig, r.host, err)
		}
		if !seen[ep] {
			seen[ep] = true
			settings.Protocols = append(settings.Protocols, ep)
		}
	}
	return &settings, nil
}

func endpointFromDirective(proto, port string) (EndpointProtocol, error) {
	socket := "UDP"
	if strings.HasPrefix(strings.ToLower(proto), "tcp") {
		socket = "TCP"
	}
	return ParseEndpointProtocol(socket + ":" + port)
}

// copyFile copies a file from src to dst with secure permissions.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}
	return nil
}
