package middleware

import (
	"net/http"
	"strings"
)

// SecurityHeaders adds conservative security headers to every response.
// Uploaded resumes are served as attachments under a sandboxing CSP so a
// crafted file cannot run script in the API's origin.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if strings.HasPrefix(r.URL.Path, "/uploads/") {
			h.Set("Content-Security-Policy", "default-src 'none'; sandbox")
			h.Set("Content-Disposition", "attachment")
		} else {
			h.Set("Content-Security-Policy", "default-src 'none'")
		}

		next.ServeHTTP(w, r)
	})
}
