package bridge

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"chatcore/internal/config"
	chaterrors "chatcore/pkg/errors"
)

// TokenService pairs bridge consumers: the shared pairing secret buys a
// short-lived JWT, and every later request presents that token.
type TokenService struct {
	jwtSecret   []byte
	pairingHash []byte
	expiry      time.Duration
}

type BridgeClaims struct {
	jwt.RegisteredClaims
}

func NewTokenService(cfg *config.Config) (*TokenService, error) {
	if cfg.JWTSecret == "" || cfg.BridgeSecret == "" {
		return nil, chaterrors.ErrInvalidInput
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.BridgeSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	expiry := time.Duration(cfg.JWTExpiryMin) * time.Minute
	if expiry <= 0 {
		expiry = 60 * time.Minute
	}
	return &TokenService{
		jwtSecret:   []byte(cfg.JWTSecret),
		pairingHash: hash,
		expiry:      expiry,
	}, nil
}

// Issue exchanges the pairing secret for a signed token.
func (s *TokenService) Issue(pairingSecret string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(s.pairingHash, []byte(pairingSecret)); err != nil {
		return "", chaterrors.ErrUnauthorized
	}
	now := time.Now()
	claims := BridgeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "bridge",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// Parse validates a token and returns its claims.
func (s *TokenService) Parse(tokenString string) (BridgeClaims, error) {
	if tokenString == "" {
		return BridgeClaims{}, chaterrors.ErrUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &BridgeClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, chaterrors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return BridgeClaims{}, chaterrors.ErrUnauthorized
	}
	claims, ok := parsed.Claims.(*BridgeClaims)
	if !ok {
		return BridgeClaims{}, chaterrors.ErrUnauthorized
	}
	return *claims, nil
}

// Verify implements middleware.TokenVerifier.
func (s *TokenService) Verify(token string) error {
	_, err := s.Parse(token)
	return err
}
