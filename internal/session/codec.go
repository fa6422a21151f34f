package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum length of a signing secret in bytes (256 bits for HMAC-SHA256).
const MinSecretLength = 32

var (
	// ErrRejected is wrapped by every decode failure. Callers that only care
	// whether an artifact can be trusted should check for this.
	ErrRejected = errors.New("session artifact rejected")

	ErrInvalidArtifact = fmt.Errorf("%w: invalid", ErrRejected)
	ErrExpiredArtifact = fmt.Errorf("%w: expired", ErrRejected)
)

// artifactClaims is the signed payload carried in the session cookie.
type artifactClaims struct {
	UserToken string `json:"userToken,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs session records into opaque artifacts and verifies them on the way back in.
//
// Artifacts are HS256 JWTs. The first secret signs; every secret verifies, so a
// new secret can be prepended while artifacts signed with the old one stay valid
// until they expire.
type Codec struct {
	secrets [][]byte
	ttl     time.Duration
	now     func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source used for issuing and expiring artifacts.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec creates a codec. At least one secret of MinSecretLength bytes is required.
func NewCodec(secrets [][]byte, ttl time.Duration, opts ...CodecOption) (*Codec, error) {
	if len(secrets) == 0 {
		return nil, errors.New("at least one session secret is required")
	}

	for i, secret := range secrets {
		if len(secret) < MinSecretLength {
			return nil, fmt.Errorf("session secret %d must be at least %d bytes", i, MinSecretLength)
		}
	}

	// exp has second precision and the cookie Max-Age is whole seconds
	if ttl < time.Second {
		return nil, fmt.Errorf("session TTL must be at least 1s, got %s", ttl)
	}

	c := &Codec{
		secrets: make([][]byte, len(secrets)),
		ttl:     ttl,
		now:     time.Now,
	}

	// copy so later mutation of the caller's slices can't change the keys
	for i, secret := range secrets {
		c.secrets[i] = append([]byte(nil), secret...)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// TTL returns how long an encoded artifact stays valid.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Encode signs the record into an artifact that expires after the codec TTL.
func (c *Codec) Encode(rec Record) (string, error) {
	now := c.now()

	claims := artifactClaims{
		UserToken: rec.UserToken,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	artifact, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secrets[0])
	if err != nil {
		return "", fmt.Errorf("failed to sign session artifact: %w", err)
	}

	return artifact, nil
}

// Decode verifies the artifact and returns the record it carries.
//
// Any failure returns ErrInvalidArtifact or ErrExpiredArtifact and a zero Record,
// never a partially decoded one.
func (c *Codec) Decode(artifact string) (Record, error) {
	if artifact == "" {
		return Record{}, ErrInvalidArtifact
	}

	var claims artifactClaims
	_, err := jwt.ParseWithClaims(artifact, &claims, c.keys,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Record{}, fmt.Errorf("%w: %w", ErrExpiredArtifact, err)
		}
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}

	return Record{UserToken: claims.UserToken}, nil
}

func (c *Codec) keys(*jwt.Token) (any, error) {
	set := jwt.VerificationKeySet{Keys: make([]jwt.VerificationKey, 0, len(c.secrets))}
	for _, secret := range c.secrets {
		set.Keys = append(set.Keys, secret)
	}
	return set, nil
}
