// Package adminapi implements the optional operator administration surface:
// a single-passphrase login that issues a short-lived JWT, and the
// failures/pool endpoints that JWT gates. Until an operator passphrase is
// configured, login 404s and no token can be issued to reach the rest.
package adminapi

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const tokenTTL = 15 * time.Minute

// issueToken mints a short-lived operator JWT signed with secret.
func issueToken(secret []byte) (string, int64, error) {
	exp := time.Now().Add(tokenTTL).Unix()
	claims := jwt.MapClaims{
		"sub": "operator",
		"exp": exp,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", 0, fmt.Errorf("adminapi: sign token: %w", err)
	}
	return signed, exp, nil
}

// validateToken parses and verifies tokenString against secret, returning
// an error if it is malformed, unsigned correctly, or expired.
func validateToken(tokenString string, secret []byte) error {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return fmt.Errorf("adminapi: parse token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("adminapi: token invalid")
	}
	return nil
}
