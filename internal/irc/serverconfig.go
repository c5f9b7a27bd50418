package irc

import (
	"strings"
	"sync"
)

// ServerConfig holds the server's RPL_ISUPPORT values, seeded from
// configured defaults.  Only the 005 handler writes it.
type ServerConfig struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewServerConfig returns a capability map holding a copy of defaults.
func NewServerConfig(defaults map[string]string) *ServerConfig {
	values := make(map[string]string, len(defaults))
	for k, v := range defaults {
		values[strings.ToUpper(k)] = v
	}
	return &ServerConfig{values: values}
}

// Get returns the value for key, "" when unset.
func (s *ServerConfig) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[strings.ToUpper(key)]
}

// Lookup is Get with a presence flag.
func (s *ServerConfig) Lookup(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[strings.ToUpper(key)]
	return v, ok
}

// Snapshot returns a copy of every value.
func (s *ServerConfig) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// apply merges ISUPPORT tokens: KEY=VALUE sets, KEY sets "", -KEY
// removes.
func (s *ServerConfig) apply(tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if strings.HasPrefix(tok, "-") {
			delete(s.values, strings.ToUpper(tok[1:]))
			continue
		}
		key, value, _ := strings.Cut(tok, "=")
		s.values[strings.ToUpper(key)] = value
	}
}
