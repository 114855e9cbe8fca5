package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// echo writes the resolved subject so tests can assert on it.
var echo = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(FromContext(r.Context()).Subject))
})

func serve(t *testing.T, opts Options, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	Middleware(opts)(echo).ServeHTTP(rec, req)
	return rec
}

func TestModeNone_UsesActorHeader(t *testing.T) {
	rec := serve(t, Options{Mode: ModeNone}, func(r *http.Request) { r.Header.Set("X-Actor", "tech-7") })
	if rec.Code != http.StatusOK || rec.Body.String() != "tech-7" {
		t.Errorf("got %d %q, want 200 tech-7", rec.Code, rec.Body.String())
	}
	rec = serve(t, Options{Mode: ModeNone}, nil)
	if rec.Body.String() != "anonymous" {
		t.Errorf("subject: got %q, want anonymous", rec.Body.String())
	}
}

func TestModeAPIKey_EmptyKeyPassesThrough(t *testing.T) {
	rec := serve(t, Options{Mode: ModeAPIKey}, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestModeAPIKey(t *testing.T) {
	opts := Options{Mode: ModeAPIKey, Header: "X-API-Key", Key: "supersecret", KeySubject: "field-agent"}
	cases := []struct {
		name string
		key  string
		code int
	}{
		{"correct", "supersecret", http.StatusOK},
		{"wrong", "nope", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, opts, func(r *http.Request) {
				if tc.key != "" {
					r.Header.Set("X-API-Key", tc.key)
				}
			})
			if rec.Code != tc.code {
				t.Fatalf("status: got %d, want %d", rec.Code, tc.code)
			}
			if tc.code == http.StatusOK && rec.Body.String() != "field-agent" {
				t.Errorf("subject: got %q, want field-agent", rec.Body.String())
			}
		})
	}
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestModeJWT(t *testing.T) {
	secret := []byte("s3cret")
	opts := Options{Mode: ModeJWT, JWTSecret: secret, JWTIssuer: "fieldgrid"}
	valid := jwt.RegisteredClaims{Subject: "alice", Issuer: "fieldgrid", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"valid", "Bearer " + sign(t, jwt.SigningMethodHS256, secret, valid), http.StatusOK},
		{"wrong secret", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), valid), http.StatusUnauthorized},
		{"wrong alg", "Bearer " + sign(t, jwt.SigningMethodHS512, secret, valid), http.StatusUnauthorized},
		{"expired", "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{
			Subject: "alice", Issuer: "fieldgrid", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "alice", Issuer: "elsewhere"}), http.StatusUnauthorized},
		{"no subject", "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Issuer: "fieldgrid"}), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, opts, func(r *http.Request) {
				if tc.header != "" {
					r.Header.Set("Authorization", tc.header)
				}
			})
			if rec.Code != tc.code {
				t.Fatalf("status: got %d, want %d (%s)", rec.Code, tc.code, rec.Body.String())
			}
			if tc.code == http.StatusOK && rec.Body.String() != "alice" {
				t.Errorf("subject: got %q, want alice", rec.Body.String())
			}
		})
	}
}
