package guard

import "net/http"

const contentSecurityPolicy = "default-src 'self'; frame-ancestors 'none'; object-src 'none'; base-uri 'self'; form-action 'self'"

var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"X-XSS-Protection":        "1; mode=block",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Permissions-Policy":      "camera=(), microphone=(), geolocation=()",
	"Content-Security-Policy": contentSecurityPolicy,
}

func SetSecurityHeaders(w http.ResponseWriter) {
	header := w.Header()
	for name, value := range securityHeaders {
		header.Set(name, value)
	}
}
