// Package guard classifies every inbound request and enforces the session
// policy before any domain handler runs.
package guard

import (
	"net/url"
	"strings"
	"unicode"
)

type Class int

const (
	ClassPublic Class = iota
	ClassProtected
	ClassAuthOnly
)

func (c Class) String() string {
	switch c {
	case ClassProtected:
		return "protected"
	case ClassAuthOnly:
		return "auth_only"
	default:
		return "public"
	}
}

// Routes holds the prefix lists used for classification. A prefix matches the
// path itself and anything below it, never a sibling that merely shares
// leading characters.
type Routes struct {
	Protected []string
	AuthOnly  []string
	LoginPath string
	HomePath  string
	APIPrefix string
}

func DefaultRoutes() Routes {
	return Routes{
		Protected: []string{
			"/dashboard",
			"/buildings",
			"/apartments",
			"/tenants",
			"/contracts",
			"/payments",
			"/documents",
			"/profile",
			"/settings",
			"/api/audit",
		},
		AuthOnly:  []string{"/login", "/register"},
		LoginPath: "/login",
		HomePath:  "/dashboard",
		APIPrefix: "/api/",
	}
}

func (r Routes) Classify(path string) Class {
	if path == "" {
		path = "/"
	}
	for _, prefix := range r.Protected {
		if matchPrefix(path, prefix) {
			return ClassProtected
		}
	}
	for _, prefix := range r.AuthOnly {
		if matchPrefix(path, prefix) {
			return ClassAuthOnly
		}
	}
	return ClassPublic
}

func (r Routes) IsAPI(path string) bool {
	return r.APIPrefix != "" && strings.HasPrefix(path, r.APIPrefix)
}

func matchPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// IsSafeRedirect reports whether target is a same-site relative path that can
// be used as a post-login destination.
func IsSafeRedirect(target string) bool {
	if target == "" || !strings.HasPrefix(target, "/") {
		return false
	}
	if strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return false
	}
	for _, r := range target {
		if unicode.IsControl(r) {
			return false
		}
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return false
	}
	return parsed.Scheme == "" && parsed.Host == "" && parsed.User == nil
}

func SafeRedirectTarget(target, fallback string) string {
	if IsSafeRedirect(target) {
		return target
	}
	return fallback
}
