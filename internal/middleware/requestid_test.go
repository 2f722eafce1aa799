package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name, header string
		keep         bool
	}{
		{"caller id kept", "edge-7f3a:01", true},
		{"missing minted", "", false},
		{"oversized minted", strings.Repeat("a", maxRequestIDLen+1), false},
		{"unsafe characters minted", "abc\r\ndef", false},
		{"spaces minted", "two words", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("X-Request-ID", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if seen == "" || rec.Header().Get("X-Request-ID") != seen {
				t.Fatalf("context id %q, header %q", seen, rec.Header().Get("X-Request-ID"))
			}
			if (seen == tc.header) != tc.keep {
				t.Fatalf("id = %q, keep = %v", seen, tc.keep)
			}
		})
	}
}
