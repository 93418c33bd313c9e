package vpn

import (
	"net/netip"
	"regexp"
	"slices"
	"strings"
)

const maskedText = "****"

// addrCandidate matches anything that could be an IPv4 or IPv6 address,
// with or without a port. Candidates are confirmed with netip.
var addrCandidate = regexp.MustCompile(`[0-9A-Fa-f]*[.:][0-9A-Fa-f.:]*[0-9A-Fa-f]`)

// masker redacts private data from tunnel output: IP addresses, the
// remote hostnames and the username.
type masker struct {
	words *strings.Replacer
}

// newMasker returns nil when cfg does not ask for masking.
func newMasker(cfg *Configuration) *masker {
	if cfg == nil || !cfg.Preferences.MasksPrivateData {
		return nil
	}

	var words []string
	add := func(w string) {
		w = strings.TrimSpace(w)
		if len(w) < 3 || slices.Contains(words, w) {
			return
		}
		words = append(words, w)
	}
	if cfg.Profile != nil && cfg.Profile.Host != nil {
		add(cfg.Profile.Host.Hostname)
	}
	if cfg.Endpoint != nil {
		for _, addr := range cfg.Endpoint.Addresses {
			add(addr)
		}
	}
	add(cfg.Credentials.Username)

	// Longest first so that a hostname containing the username is
	// replaced as a whole.
	slices.SortFunc(words, func(a, b string) int { return len(b) - len(a) })
	pairs := make([]string, 0, 2*len(words))
	for _, w := range words {
		pairs = append(pairs, w, maskedText)
	}
	return &masker{words: strings.NewReplacer(pairs...)}
}

// mask returns line with private data replaced. A nil masker returns
// line unchanged.
func (m *masker) mask(line string) string {
	if m == nil {
		return line
	}
	line = m.words.Replace(line)
	return addrCandidate.ReplaceAllStringFunc(line, maskAddress)
}

func maskAddress(s string) string {
	trimmed := strings.TrimLeft(s, ".:")
	prefix := s[:len(s)-len(trimmed)]

	if _, err := netip.ParseAddr(trimmed); err == nil {
		return prefix + maskedText
	}
	if _, err := netip.ParseAddrPort(trimmed); err == nil {
		return prefix + maskedText + trimmed[strings.LastIndex(trimmed, ":"):]
	}
	return s
}
