package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"
)

const tokenAudience = "themesync"

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

func unauthorized(message string) *authError {
	return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: message}
}

func forbidden(message string) *authError {
	return &authError{status: http.StatusForbidden, code: "forbidden", message: message}
}

// tokenClaims is the HS256 payload the status API accepts.
type tokenClaims struct {
	Subject  string   `json:"sub"`
	Audience string   `json:"aud"`
	Expiry   int64    `json:"exp"`
	Scopes   []string `json:"scopes"`
}

// authorizeBearer verifies "Bearer <jwt>" against secret and requires
// scope. An empty secret rejects every token.
func authorizeBearer(authHeader, secret, scope string, now time.Time) (tokenClaims, *authError) {
	if secret == "" {
		return tokenClaims{}, unauthorized("authentication is not configured")
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return tokenClaims{}, unauthorized("missing or invalid bearer token")
	}
	payload, authErr := verifyHS256(strings.TrimSpace(token), secret)
	if authErr != nil {
		return tokenClaims{}, authErr
	}

	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return tokenClaims{}, unauthorized("invalid jwt payload")
	}
	switch {
	case strings.TrimSpace(claims.Subject) == "":
		return tokenClaims{}, unauthorized("missing sub claim")
	case claims.Audience != tokenAudience:
		return tokenClaims{}, unauthorized("invalid aud claim")
	case now.Unix() >= claims.Expiry:
		return tokenClaims{}, unauthorized("token expired")
	}
	if !slices.Contains(claims.Scopes, scope) {
		return tokenClaims{}, forbidden("missing required scope: " + scope)
	}
	return claims, nil
}

// verifyHS256 checks the token signature and returns the decoded payload.
func verifyHS256(token, secret string) ([]byte, *authError) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, unauthorized("invalid jwt format")
	}
	var header struct {
		Alg string `json:"alg"`
	}
	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || json.Unmarshal(headerBytes, &header) != nil {
		return nil, unauthorized("invalid jwt header")
	}
	if header.Alg != "HS256" {
		return nil, unauthorized("unsupported jwt algorithm")
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, unauthorized("invalid jwt signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return nil, unauthorized("jwt signature mismatch")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, unauthorized("invalid jwt payload")
	}
	return payload, nil
}
