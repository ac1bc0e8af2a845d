// Package auth - jwt.go issues and verifies the HS256 session tokens that carry
// a caller's user, organization and role into the access policy gate.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTSecretEnv names the environment variable holding the signing secret
const JWTSecretEnv = "RISKMATE_JWT_SECRET"

// DefaultIssuer is used when no issuer is configured
const DefaultIssuer = "riskmate"

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error

	issuerMu sync.RWMutex
	issuer   = DefaultIssuer
)

// Claims carries the caller's identity and organization membership. Role is
// advisory: the gate re-reads membership from the database for API keys and
// normalizes the claimed role with ParseRole.
type Claims struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
	Email          string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// isDevMode is duplicated from middleware to avoid an import cycle
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1" ||
		os.Getenv("GIN_MODE") == "debug"
}

func generateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// SetIssuer overrides the iss claim written and expected on tokens
func SetIssuer(iss string) {
	if iss == "" {
		iss = DefaultIssuer
	}
	issuerMu.Lock()
	issuer = iss
	issuerMu.Unlock()
}

func currentIssuer() string {
	issuerMu.RLock()
	defer issuerMu.RUnlock()
	return issuer
}

// ValidateJWTSecret checks that the signing secret is configured. Outside dev
// mode a missing secret is fatal; in dev mode a random secret is generated and
// sessions do not survive restarts. Call this at application startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv(JWTSecretEnv)
		if secret == "" {
			if isDevMode() {
				jwtSecret = generateRandomSecret()
				slog.Warn("jwt secret not set, using an ephemeral development secret", "env", JWTSecretEnv)
				return
			}
			jwtSecretErr = fmt.Errorf("%s environment variable is required outside dev mode "+
				"(generate one with: openssl rand -hex 32)", JWTSecretEnv)
			return
		}
		if len(secret) < 32 {
			slog.Warn("jwt secret is shorter than 32 characters", "env", JWTSecretEnv)
		}
		jwtSecret = secret
	})
	return jwtSecretErr
}

// GetJWTSecret returns the validated secret, validating lazily on first use.
// It panics if no secret can be obtained.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT creates a session token for a member of an organization
func GenerateJWT(userID, organizationID string, role Role, email string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	now := time.Now()

	claims := &Claims{
		UserID:         userID,
		OrganizationID: organizationID,
		Role:           string(role),
		Email:          email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    currentIssuer(),
			Subject:   userID,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses and verifies a session token
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(currentIssuer()))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if claims.UserID == "" || claims.OrganizationID == "" {
		return nil, errors.New("token is missing user or organization")
	}
	return claims, nil
}
