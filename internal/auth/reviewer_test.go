package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func reviewerClaims(username string) *Claims {
	return &Claims{
		Username: username,
		Role:     "reviewer",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestValidateToken(t *testing.T) {
	v := NewVerifier(testSecret)
	signed := signToken(t, testSecret, reviewerClaims("alex"))

	claims, err := v.ValidateToken(signed)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Username != "alex" || claims.Subject != "user-42" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	v := NewVerifier(testSecret)
	signed := signToken(t, "other-secret", reviewerClaims("alex"))

	if _, err := v.ValidateToken(signed); err == nil {
		t.Error("expected validation to fail with wrong secret")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	v := NewVerifier(testSecret)
	claims := reviewerClaims("alex")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	if _, err := v.ValidateToken(signToken(t, testSecret, claims)); err == nil {
		t.Error("expected validation to fail for expired token")
	}
}

func TestReviewerFromRequest(t *testing.T) {
	v := NewVerifier(testSecret)

	r := httptest.NewRequest("POST", "/api/v1/improver", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, reviewerClaims("alex")))

	reviewer, err := v.ReviewerFromRequest(r)
	if err != nil {
		t.Fatalf("ReviewerFromRequest failed: %v", err)
	}
	if reviewer != "alex" {
		t.Errorf("expected alex, got %q", reviewer)
	}
}

func TestReviewerFromRequestFallsBackToSubject(t *testing.T) {
	v := NewVerifier(testSecret)
	claims := reviewerClaims("")

	r := httptest.NewRequest("POST", "/api/v1/improver", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))

	reviewer, err := v.ReviewerFromRequest(r)
	if err != nil {
		t.Fatalf("ReviewerFromRequest failed: %v", err)
	}
	if reviewer != "user-42" {
		t.Errorf("expected subject fallback, got %q", reviewer)
	}
}

func TestReviewerFromRequestNoToken(t *testing.T) {
	v := NewVerifier(testSecret)
	r := httptest.NewRequest("POST", "/api/v1/improver", nil)

	reviewer, err := v.ReviewerFromRequest(r)
	if err != nil || reviewer != "" {
		t.Errorf("expected empty reviewer without error, got (%q, %v)", reviewer, err)
	}
}

func TestReviewerFromRequestInvalidToken(t *testing.T) {
	v := NewVerifier(testSecret)
	r := httptest.NewRequest("POST", "/api/v1/improver", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")

	if _, err := v.ReviewerFromRequest(r); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestVerifierDisabled(t *testing.T) {
	v := NewVerifier("")
	if v.Enabled() {
		t.Error("verifier without secret should be disabled")
	}

	r := httptest.NewRequest("POST", "/api/v1/improver", nil)
	r.Header.Set("Authorization", "Bearer anything")
	reviewer, err := v.ReviewerFromRequest(r)
	if err != nil || reviewer != "" {
		t.Errorf("disabled verifier must ignore tokens, got (%q, %v)", reviewer, err)
	}
}
