package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/linkwell/linkwell/internal/apperr"
)

var (
	ErrInvalidToken = apperr.New(apperr.KindAuthentication, "", "invalid token")
	ErrExpiredToken = apperr.New(apperr.KindAuthentication, "", "token has expired")
	ErrMissingToken = apperr.New(apperr.KindAuthentication, "", "missing bearer token")
)

// Claims defines the custom claims structure for our JWT.
type Claims struct {
	UserID string `json:"sub"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the verified caller handed to the messaging core.
type Identity struct {
	UserID string
	Role   string
}

// Verifier resolves a bearer token to an Identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Authenticator handles JWT generation and validation.
type Authenticator struct {
	secretKey []byte
	issuer    string
	validity  time.Duration
}

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(secretKey string, issuer string, validity time.Duration) *Authenticator {
	return &Authenticator{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		validity:  validity,
	}
}

// Validity returns how long issued tokens stay valid.
func (a *Authenticator) Validity() time.Duration { return a.validity }

// GenerateToken creates a signed JWT for a user.
func (a *Authenticator) GenerateToken(userID, name, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Name:   name,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.validity)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}

// ValidateToken parses and validates a JWT string.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secretKey, nil
	}, jwt.WithIssuer(a.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, apperr.Wrap(apperr.KindAuthentication, "auth.validate", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Verify implements Verifier.
func (a *Authenticator) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}
	claims, err := a.ValidateToken(tokenString)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// TokenFromRequest extracts the bearer token from the Authorization header,
// falling back to the token query parameter used by browser websockets.
func TokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
