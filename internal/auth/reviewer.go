package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the reviewer identity embedded in a bearer token. Token
// issuance lives in the identity service; this side only validates.
type Claims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates reviewer bearer tokens.
type Verifier struct {
	jwtSecret string
}

func NewVerifier(jwtSecret string) *Verifier {
	return &Verifier{jwtSecret: jwtSecret}
}

// Enabled reports whether token verification is configured.
func (v *Verifier) Enabled() bool { return v.jwtSecret != "" }

// ValidateToken validates a JWT and returns its claims.
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	return claims, nil
}

// ReviewerFromRequest extracts the reviewer identity from a request's bearer
// token. Returns "" when no token is present or verification is disabled; an
// error only for a token that is present but invalid.
func (v *Verifier) ReviewerFromRequest(r *http.Request) (string, error) {
	if !v.Enabled() {
		return "", nil
	}

	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", nil
	}

	claims, err := v.ValidateToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return "", err
	}

	if claims.Username != "" {
		return claims.Username, nil
	}
	return claims.Subject, nil
}
