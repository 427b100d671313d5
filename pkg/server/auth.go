package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidCredentials is returned by Login for a bad access key.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims holds the JWT claims for an operator session.
type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// AuthService issues and checks session tokens. When accessKey is empty
// any operator name is accepted.
type AuthService struct {
	jwtKey    []byte
	accessKey string
	expiry    time.Duration
}

// NewAuthService creates an auth service. If jwtSecret is empty, a random
// 32-byte key is generated.
func NewAuthService(jwtSecret, accessKey string, expiry time.Duration) *AuthService {
	var key []byte
	if jwtSecret != "" {
		key = []byte(jwtSecret)
	} else {
		key = make([]byte, 32)
		rand.Read(key)
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &AuthService{jwtKey: key, accessKey: accessKey, expiry: expiry}
}

// Login checks the access key and returns a signed token for operator.
func (a *AuthService) Login(operator, key string) (string, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", ErrInvalidCredentials
	}
	if a.accessKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(a.accessKey)) != 1 {
		return "", ErrInvalidCredentials
	}
	now := time.Now()
	claims := Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			Issuer:    "clawback",
		},
	}
	return a.sign(&claims)
}

func (a *AuthService) sign(c *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.jwtKey)
}

// ValidateToken parses and validates a JWT token string.
func (a *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtKey, nil
	}, jwt.WithIssuer("clawback"))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// RefreshToken re-signs a valid token with a fresh expiry.
func (a *AuthService) RefreshToken(tokenStr string) (string, error) {
	claims, err := a.ValidateToken(tokenStr)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.expiry))
	return a.sign(claims)
}

// GenerateJWTSecret generates a random hex-encoded secret suitable for jwt_secret config.
func GenerateJWTSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
