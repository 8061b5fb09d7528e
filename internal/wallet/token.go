package wallet

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	tokenIssuer   = "agentgate"
	tokenAudience = "agent-ui"
	// Tokens live for a fixed day. There is no revocation list: validity is
	// purely cryptographic plus the expiry check, and rotating the gateway
	// secret invalidates every outstanding token at once.
	tokenTTL = 24 * time.Hour

	tokenHeaderJSON = `{"alg":"HS256","typ":"JWT"}`
)

var encodedTokenHeader = base64.RawURLEncoding.EncodeToString([]byte(tokenHeaderJSON))

// Token validation failures.
var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
)

// Claims is the payload embedded in a session token.
type Claims struct {
	Actor      string `json:"actor"`
	Permission string `json:"permission"`
	Issuer     string `json:"iss"`
	Audience   string `json:"aud"`
	IssuedAt   int64  `json:"iat"`
	ExpiresAt  int64  `json:"exp"`
}

// TokenManager signs and verifies stateless session tokens. The signing key
// is derived from the tenant's shared gateway secret, so each tenant's tokens
// verify only against that tenant's gateway.
type TokenManager struct {
	key []byte
	now func() time.Time
}

// TokenOption customises a TokenManager.
type TokenOption func(*TokenManager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

// NewTokenManager derives the signing key from the shared gateway secret.
func NewTokenManager(gatewaySecret string, opts ...TokenOption) *TokenManager {
	mac := hmac.New(sha256.New, []byte(gatewaySecret))
	mac.Write([]byte("agentgate/session-token/v1"))
	m := &TokenManager{key: mac.Sum(nil), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Issue signs a token for the given actor and permission.
func (m *TokenManager) Issue(actor, permission string) (string, Claims, error) {
	now := m.now().Unix()
	claims := Claims{
		Actor:      actor,
		Permission: permission,
		Issuer:     tokenIssuer,
		Audience:   tokenAudience,
		IssuedAt:   now,
		ExpiresAt:  now + int64(tokenTTL.Seconds()),
	}

	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, err
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := m.signature(encodedTokenHeader, payload)
	token := strings.Join([]string{
		encodedTokenHeader,
		payload,
		base64.RawURLEncoding.EncodeToString(signature),
	}, ".")
	return token, claims, nil
}

// Verify checks the signature and expiry of a token and returns its claims.
// No server-side state is consulted.
func (m *TokenManager) Verify(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	expected := m.signature(parts[0], parts[1])
	actual, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	if claims.Issuer != tokenIssuer || claims.Audience != tokenAudience {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt != 0 && m.now().Unix() > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

func (m *TokenManager) signature(header, payload string) []byte {
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(header))
	mac.Write([]byte("."))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
