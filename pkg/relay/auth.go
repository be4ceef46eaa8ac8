package relay

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odvcencio/ripple/pkg/errors"
)

// Claims are the JWT claims carried by a ripple bearer token.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 bearer tokens. A nil manager
// means auth is disabled and every request is accepted.
type TokenManager struct {
	secretKey []byte
}

// NewTokenManager creates a token manager with the given signing secret.
func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secretKey: []byte(secret)}
}

// GenerateToken issues a signed token for userID valid for the given
// duration.
func (tm *TokenManager) GenerateToken(userID string, duration time.Duration) (string, error) {
	tokenID, err := generateTokenID()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "generate token id")
	}

	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secretKey)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "sign token")
	}
	return signed, nil
}

// ValidateToken checks a raw token string and returns its claims.
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New(errors.ErrCodeUnauthorized, "unexpected signing method")
		}
		return tm.secretKey, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New(errors.ErrCodeUnauthorized, "invalid token")
	}
	return claims, nil
}

// authorize extracts and validates the bearer credential from an HTTP
// request. Accepts the Authorization header or, for browser clients that
// cannot set headers on EventSource, a token query parameter.
func (tm *TokenManager) authorize(r *http.Request) (*Claims, error) {
	if tm == nil {
		return nil, nil
	}
	raw := bearerFromHeader(r.Header.Get("Authorization"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if raw == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "missing credentials")
	}
	return tm.ValidateToken(raw)
}

// authorizeHeaders validates the credential carried in a websocket auth
// frame's header map.
func (tm *TokenManager) authorizeHeaders(headers map[string]string) (*Claims, error) {
	if tm == nil {
		return nil, nil
	}
	raw := bearerFromHeader(headers["Authorization"])
	if raw == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "missing credentials")
	}
	return tm.ValidateToken(raw)
}

func bearerFromHeader(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func generateTokenID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
