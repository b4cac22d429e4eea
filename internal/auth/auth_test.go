package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	m := NewManager(
		TokenEntry{Token: "abc", Simulators: []string{"random"}, Role: "user"},
		TokenEntry{Token: "admin", Simulators: []string{"*"}, Role: RoleAdmin},
	)

	assert.True(t, m.Validate("abc", "random"))
	assert.False(t, m.Validate("abc", "heterogeneous"))
	assert.True(t, m.Validate("admin", "whatever"))
	assert.False(t, m.Validate("", "random"))
	assert.False(t, m.Validate("nope", "random"))
}

func TestPatternValidation(t *testing.T) {
	m := NewManager(TokenEntry{Token: "t1", Simulators: []string{"rack-*"}})

	assert.True(t, m.Validate("t1", "rack-failure"))
	assert.False(t, m.Validate("t1", "machine-failure"))
}

func TestNewManagerFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "auth.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`tokens:
  - token: admin456
    simulators: ["*"]
    role: admin
  - token: viewer
    simulators: [random]
    role: user
`), 0o644))

	m, err := NewManagerFromFile(p)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, m.Role("admin456"))
	assert.Equal(t, "user", m.Role("viewer"))
	assert.Equal(t, "", m.Role("missing"))
	assert.True(t, m.Validate("viewer", "random"))

	_, err = NewManagerFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	m := NewManager(
		TokenEntry{Token: "admin", Simulators: []string{"*"}, Role: RoleAdmin},
		TokenEntry{Token: "user", Simulators: []string{"*"}, Role: "user"},
	)
	h := RequireRole(RoleAdmin, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := map[string]int{
		"/?token=admin": http.StatusNoContent,
		"/?token=user":  http.StatusForbidden,
		"/":             http.StatusForbidden,
	}
	for target, want := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, want, rec.Code, target)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Auth-Token", "admin")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	RequireRole(RoleAdmin, nil)(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?token=admin", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
