package auth

import (
	"fmt"
	"net/http"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

const RoleAdmin = "admin"

type TokenEntry struct {
	Token      string   `yaml:"token"`
	Simulators []string `yaml:"simulators"`
	Role       string   `yaml:"role"`
}

type Manager struct {
	entries map[string]TokenEntry // token -> entry
}

// NewManagerFromFile loads a YAML file into a token manager.
func NewManagerFromFile(path string) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auth file: %w", err)
	}
	var cfg struct {
		Tokens []TokenEntry `yaml:"tokens"`
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return NewManager(cfg.Tokens...), nil
}

func NewManager(tokens ...TokenEntry) *Manager {
	m := &Manager{entries: make(map[string]TokenEntry, len(tokens))}
	for _, t := range tokens {
		m.entries[t.Token] = t
	}
	return m
}

// Validate checks that the token exists and one of its patterns matches the
// simulator. Patterns are exact names, "*", or shell-style globs such as
// "rack-*".
func (m *Manager) Validate(token, simulator string) bool {
	if token == "" {
		return false
	}
	e, ok := m.entries[token]
	if !ok {
		return false
	}
	for _, pattern := range e.Simulators {
		if pattern == "*" || pattern == simulator {
			return true
		}
		if ok, _ := path.Match(pattern, simulator); ok {
			return true
		}
	}
	return false
}

// Role returns role for token or empty string if not found.
func (m *Manager) Role(token string) string {
	if e, ok := m.entries[token]; ok {
		return e.Role
	}
	return ""
}

// Token reads the request token from the "X-Auth-Token" header or the "token"
// query parameter.
func Token(r *http.Request) string {
	if token := r.Header.Get("X-Auth-Token"); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}
