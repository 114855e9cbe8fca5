package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Auth modes.
const (
	ModeNone   = "none"
	ModeAPIKey = "apikey"
	ModeJWT    = "jwt"
)

// DefaultActorHeader names the caller in ModeNone.
const DefaultActorHeader = "X-Actor"

// Identity is the authenticated caller, passed explicitly into ingestion.
type Identity struct {
	Subject string
	Method  string
}

// Anonymous is used when no identity can be derived.
var Anonymous = Identity{Subject: "anonymous", Method: ModeNone}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware, or Anonymous.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return id
	}
	return Anonymous
}

// Options configures Middleware.
type Options struct {
	Mode   string
	Header string // API key header
	Key    string // expected API key
	// KeySubject is the identity recorded for API key callers.
	KeySubject string
	JWTSecret  []byte
	JWTIssuer  string // optional required issuer
}

// Middleware authenticates requests according to opts.Mode.
func Middleware(opts Options) func(http.Handler) http.Handler {
	if opts.Header == "" {
		opts.Header = "X-API-Key"
	}
	if opts.KeySubject == "" {
		opts.KeySubject = "apikey"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authenticate(opts, r)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func authenticate(opts Options, r *http.Request) (Identity, error) {
	switch opts.Mode {
	case ModeAPIKey:
		// Unconfigured key: allow everything.
		if opts.Key == "" {
			return Anonymous, nil
		}
		got := r.Header.Get(opts.Header)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(opts.Key)) != 1 {
			return Identity{}, errors.New("invalid api key")
		}
		return Identity{Subject: opts.KeySubject, Method: ModeAPIKey}, nil

	case ModeJWT:
		return parseBearer(opts, r.Header.Get("Authorization"))

	default:
		if actor := strings.TrimSpace(r.Header.Get(DefaultActorHeader)); actor != "" {
			return Identity{Subject: actor, Method: ModeNone}, nil
		}
		return Anonymous, nil
	}
}

func parseBearer(opts Options, header string) (Identity, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return Identity{}, errors.New("missing bearer token")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return opts.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, errors.New("invalid token")
	}
	if opts.JWTIssuer != "" && !claims.VerifyIssuer(opts.JWTIssuer, true) {
		return Identity{}, errors.New("invalid token issuer")
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("token has no subject")
	}
	return Identity{Subject: claims.Subject, Method: ModeJWT}, nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
