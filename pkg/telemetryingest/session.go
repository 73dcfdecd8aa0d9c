package telemetryingest

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const sessionIssuer = "tansu.telemetry"

// sessionManager issues and validates the admin UI's session JWT using
// HMAC-SHA256. The signing key is the static admin API key: anyone who
// already holds the key can mint a session directly anyway, so reusing it
// avoids a second secret to provision.
type sessionManager struct {
	signingKey []byte
	maxAge     time.Duration
}

func newSessionManager(apiKey string, maxAge time.Duration) *sessionManager {
	return &sessionManager{signingKey: []byte(apiKey), maxAge: maxAge}
}

func (sm *sessionManager) issue() (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: sm.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	claims := jwt.Claims{
		Subject:   "telemetry-admin",
		IssuedAt:  jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(sm.maxAge)),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    sessionIssuer,
	}

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return token, nil
}

func (sm *sessionManager) validate(raw string) error {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return fmt.Errorf("parsing session token: %w", err)
	}

	var claims jwt.Claims
	if err := tok.Claims(sm.signingKey, &claims); err != nil {
		return fmt.Errorf("verifying session token: %w", err)
	}

	return claims.ValidateWithLeeway(jwt.Expected{
		Issuer: sessionIssuer,
		Time:   time.Now(),
	}, 5*time.Second)
}
