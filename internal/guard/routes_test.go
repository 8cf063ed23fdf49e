package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	routes := DefaultRoutes()

	cases := map[string]Class{
		"/":                   ClassPublic,
		"":                    ClassPublic,
		"/dashboard":          ClassProtected,
		"/dashboard/":         ClassProtected,
		"/buildings/12/edit":  ClassProtected,
		"/api/audit/me":       ClassProtected,
		"/settings":           ClassProtected,
		"/dashboards":         ClassPublic,
		"/login":              ClassAuthOnly,
		"/register":           ClassAuthOnly,
		"/login-help":         ClassPublic,
		"/api/auth/login":     ClassPublic,
		"/health":             ClassPublic,
		"/api/auditing/other": ClassPublic,
	}
	for path, want := range cases {
		assert.Equal(t, want, routes.Classify(path), path)
	}
}

func TestIsAPI(t *testing.T) {
	routes := DefaultRoutes()
	assert.True(t, routes.IsAPI("/api/audit/me"))
	assert.False(t, routes.IsAPI("/apartments"))
	assert.False(t, Routes{}.IsAPI("/api/audit"))
}

func TestIsSafeRedirect(t *testing.T) {
	safe := []string{
		"/",
		"/dashboard",
		"/buildings/3?tab=units",
		"/search?q=a%2Fb#top",
	}
	for _, target := range safe {
		assert.True(t, IsSafeRedirect(target), target)
	}

	unsafe := []string{
		"",
		"dashboard",
		"//evil.example",
		"/\\evil.example",
		"https://evil.example/dashboard",
		"javascript:alert(1)",
		"/dash\nboard",
		"/dash\tboard",
		"/\x00",
		" /dashboard",
	}
	for _, target := range unsafe {
		assert.False(t, IsSafeRedirect(target), target)
	}
}

func TestSafeRedirectTarget(t *testing.T) {
	assert.Equal(t, "/payments", SafeRedirectTarget("/payments", "/dashboard"))
	assert.Equal(t, "/dashboard", SafeRedirectTarget("//evil.example", "/dashboard"))
	assert.Equal(t, "/dashboard", SafeRedirectTarget("", "/dashboard"))
}
