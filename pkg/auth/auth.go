// Package auth verifies the signed tokens participants present when they connect.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
)

// UserIDClaim is the claim carrying the participant's user id.
const UserIDClaim = "userId"

// ErrAuthFailure covers every rejected token: bad signature, unexpected algorithm,
// expiry, or a missing user id.
var ErrAuthFailure = errors.New("authentication failed")

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify returns the user id carried by an HS256 token.
func (v *Verifier) Verify(tokenString string) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", fmt.Errorf("%w: verifier has no secret", ErrAuthFailure)
	}
	if tokenString == "" {
		return "", fmt.Errorf("%w: missing token", ErrAuthFailure)
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	if !token.Valid {
		return "", fmt.Errorf("%w: token is invalid", ErrAuthFailure)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: claims are not map claims", ErrAuthFailure)
	}
	userID, _ := claims[UserIDClaim].(string)
	if userID == "" {
		return "", fmt.Errorf("%w: missing %s claim", ErrAuthFailure, UserIDClaim)
	}
	return userID, nil
}

type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for userID that expires after ttl. A zero ttl issues a token with
// no expiry.
func (i *Issuer) Issue(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user is required")
	}
	if len(i.secret) == 0 {
		return "", fmt.Errorf("secret is required")
	}
	now := i.now()
	claims := jwt.MapClaims{
		UserIDClaim: userID,
		"iat":       now.Unix(),
	}
	if ttl != 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// TokenFromRequest returns the token from the "token" query parameter or, failing that, a
// bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
