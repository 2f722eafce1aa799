package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func claimsFor(sub string, exp time.Time) Claims {
	return Claims{
		Tier:   "free",
		Locale: "id",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "tester",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func TestSignAndVerifyJWT(t *testing.T) {
	token, err := SignJWT("test-secret", claimsFor("user-123", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("SignJWT() unexpected error: %v", err)
	}
	parsed, err := VerifyJWT("test-secret", token)
	if err != nil {
		t.Fatalf("VerifyJWT() unexpected error: %v", err)
	}
	if parsed.Subject != "user-123" || parsed.Tier != "free" || parsed.Locale != "id" {
		t.Fatalf("VerifyJWT() returned %+v", parsed)
	}
}

func TestVerifyJWTRejects(t *testing.T) {
	valid := time.Now().Add(time.Hour)
	tests := []struct {
		name   string
		secret string
		claims Claims
	}{
		{"wrong secret", "secret-b", claimsFor("user-123", valid)},
		{"expired", "secret-a", claimsFor("user-123", time.Now().Add(-time.Minute))},
		{"no subject", "secret-a", claimsFor("", valid)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			token, err := SignJWT("secret-a", tc.claims)
			if err != nil {
				t.Fatalf("SignJWT() error: %v", err)
			}
			if _, err := VerifyJWT(tc.secret, token); err == nil {
				t.Fatalf("VerifyJWT() accepted the token")
			}
		})
	}
}

func TestVerifyJWTRejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claimsFor("user-123", time.Now().Add(time.Hour))).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := VerifyJWT("secret", token); err == nil {
		t.Fatalf("unsigned token accepted")
	}
}

func TestAuthJWTMiddleware(t *testing.T) {
	token, _ := SignJWT("s3cret", claimsFor("user-9", time.Now().Add(time.Hour)))
	h := AuthJWT("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserIDFromContext(r.Context()) + "/" + LocaleFromContext(r.Context())))
	}))

	tests := []struct {
		name   string
		header string
		query  string
		code   int
		body   string
	}{
		{"bearer header", "Bearer " + token, "", http.StatusOK, "user-9/id"},
		{"query token", "", "?access_token=" + token, http.StatusOK, "user-9/id"},
		{"missing", "", "", http.StatusUnauthorized, `"UNAUTHORIZED"`},
		{"wrong scheme", "Basic " + token, "", http.StatusUnauthorized, `"UNAUTHORIZED"`},
		{"garbage", "Bearer abc.def.ghi", "", http.StatusUnauthorized, `"invalid token"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/credits"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.code || !strings.Contains(rec.Body.String(), tc.body) {
				t.Fatalf("got %d %q, want %d containing %q", rec.Code, rec.Body.String(), tc.code, tc.body)
			}
		})
	}
}

func TestInternalToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	tests := []struct {
		name, secret, sent string
		code               int
	}{
		{"match", "tok", "tok", http.StatusNoContent},
		{"mismatch", "tok", "nope", http.StatusUnauthorized},
		{"unconfigured", "", "", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/v1/refill", nil)
			req.Header.Set("X-Internal-Token", tc.sent)
			rec := httptest.NewRecorder()
			InternalToken(tc.secret)(ok).ServeHTTP(rec, req)
			if rec.Code != tc.code {
				t.Fatalf("code = %d, want %d", rec.Code, tc.code)
			}
		})
	}
}
