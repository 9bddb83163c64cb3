package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionTTL is the lifetime of a session token when none is given
	DefaultSessionTTL = 8 * time.Hour

	sessionIssuer   = "membership-backend"
	minSecretLength = 32
)

// ErrInvalidSession wraps every reason a presented session token is refused.
var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims are carried by the HS256 session JWT issued after sign-in.
type SessionClaims struct {
	ProfileID string `json:"pid"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// sessionKey resolves the signing secret once per process.
type sessionKey struct {
	once   sync.Once
	secret []byte
	err    error
}

var signingKey = &sessionKey{}

func (k *sessionKey) load() ([]byte, error) {
	k.once.Do(func() {
		secret := os.Getenv("MBR_JWT_SECRET")
		switch {
		case secret != "":
			if len(secret) < minSecretLength {
				slog.Warn("MBR_JWT_SECRET is shorter than recommended", "min_length", minSecretLength)
			}
			k.secret = []byte(secret)
		case IsDevMode():
			buf := make([]byte, minSecretLength)
			if _, err := rand.Read(buf); err != nil {
				k.err = fmt.Errorf("failed to generate dev session secret: %w", err)
				return
			}
			k.secret = buf
			slog.Warn("MBR_JWT_SECRET not set, using a generated secret; sessions will not survive a restart")
		default:
			k.err = errors.New("MBR_JWT_SECRET is required outside dev mode (generate one with: openssl rand -hex 32)")
		}
	})
	return k.secret, k.err
}

// IsDevMode reports whether the process runs in development mode, where missing
// secrets are generated instead of being fatal and the dev login is served.
func IsDevMode() bool {
	v := os.Getenv("DEV_MODE")
	return v == "true" || v == "1" || os.Getenv("GIN_MODE") == "debug"
}

// InitSessionSecret resolves the signing secret. Call it at startup so a missing
// secret fails the boot rather than the first sign-in.
func InitSessionSecret() error {
	_, err := signingKey.load()
	return err
}

// IssueSessionToken signs a session for a profile. A zero ttl means DefaultSessionTTL.
func IssueSessionToken(profileID, email string, ttl time.Duration) (string, error) {
	secret, err := signingKey.load()
	if err != nil {
		return "", err
	}
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}

	now := time.Now()
	claims := &SessionClaims{
		ProfileID: profileID,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   profileID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken verifies signature, issuer and expiry and returns the claims.
func ParseSessionToken(raw string) (*SessionClaims, error) {
	secret, err := signingKey.load()
	if err != nil {
		return nil, err
	}

	claims := &SessionClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.ProfileID == "" {
		return nil, fmt.Errorf("%w: missing profile id", ErrInvalidSession)
	}
	return claims, nil
}
