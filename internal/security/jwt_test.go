package security

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var secret = []byte("test-secret")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTokenRoundTrip(t *testing.T) {
	tok, err := GenerateToken("cli-1", "user", secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(tok, secret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.ClientID != "cli-1" || claims.Role != "user" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt <= claims.IssuedAt {
		t.Errorf("expiry not after issue: %+v", claims)
	}
}

func TestExpiredToken(t *testing.T) {
	tok, err := GenerateToken("cli-1", "user", secret, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(tok, secret); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestWrongSecret(t *testing.T) {
	tok, err := GenerateToken("cli-1", "user", secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(tok, []byte("other")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	if _, err := BearerToken(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("empty header: %v", err)
	}
	if _, err := BearerToken("Basic abc"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong scheme: %v", err)
	}
	tok, err := BearerToken("Bearer abc123")
	if err != nil || tok != "abc123" {
		t.Errorf("got %q, %v", tok, err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	handler := AuthMiddleware(secret, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetClaims(r)
		if err != nil {
			t.Errorf("GetClaims: %v", err)
			return
		}
		w.Write([]byte(claims.ClientID)) //nolint:errcheck
	}))

	// No token
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status %d", rec.Code)
	}

	// Valid token
	tok, _ := GenerateToken("cli-9", "user", secret, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "cli-9" {
		t.Errorf("valid token: status %d body %q", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddlewareDevMode(t *testing.T) {
	handler := AuthMiddleware(nil, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("dev mode should pass through: status %d", rec.Code)
	}
}
