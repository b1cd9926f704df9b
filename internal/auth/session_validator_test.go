package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionIssuer        = "roomserve-auth"
	testSessionCookieName    = "room_session"
	testSessionUserID        = "user-123"
	testSessionUsername      = "ada"
)

func newTestValidator(t *testing.T, clock func() time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signTestToken(t *testing.T, issuer string, issuedAt, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:   testSessionUserID,
		Username: testSessionUsername,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	signed := signTestToken(t, testSessionIssuer, clockNow.Add(-time.Minute), clockNow.Add(time.Hour))

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
	if claims.Username != testSessionUsername {
		t.Fatalf("unexpected username: %s", claims.Username)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	signed := signTestToken(t, testSessionIssuer, clockNow.Add(-2*time.Hour), clockNow.Add(-time.Hour))

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsWrongIssuer(t *testing.T) {
	clockNow := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	signed := signTestToken(t, "someone-else", clockNow.Add(-time.Minute), clockNow.Add(time.Hour))

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestSessionValidatorValidateRequestUsesCookie(t *testing.T) {
	validator := newTestValidator(t, nil)

	signed := signTestToken(t, testSessionIssuer, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))

	request := httptest.NewRequest(http.MethodGet, "/rooms", http.NoBody)
	request.AddCookie(&http.Cookie{
		Name:  testSessionCookieName,
		Value: signed,
	})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
}

func TestSessionValidatorValidateRequestPrefersBearerHeader(t *testing.T) {
	validator := newTestValidator(t, nil)

	signed := signTestToken(t, testSessionIssuer, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))

	request := httptest.NewRequest(http.MethodGet, "/rooms", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+signed)

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.Username != testSessionUsername {
		t.Fatalf("unexpected username: %s", claims.Username)
	}
}
