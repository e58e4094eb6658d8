package jwt

import (
	"context"
	"fmt"
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/smallbiznis/devhub/internal/domain"
)

// DefaultAudience is the audience Supabase stamps on end-user access tokens.
const DefaultAudience = "authenticated"

// AccessTokenClaims are the Supabase-specific claims carried by access tokens.
type AccessTokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Verifier validates Supabase access tokens locally with the project's JWT secret.
type Verifier struct {
	secret   []byte
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewVerifier constructs a Verifier for HS256 tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:   []byte(secret),
		audience: DefaultAudience,
		leeway:   gojwt.DefaultLeeway,
		now:      time.Now,
	}
}

// Verify checks signature, expiry and audience and returns the token's identity.
func (v *Verifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	std, custom, err := v.parse(token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if strings.TrimSpace(std.Subject) == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing subject", domain.ErrUnauthenticated)
	}
	return domain.Identity{ID: std.Subject, Email: custom.Email}, nil
}

func (v *Verifier) parse(token string) (*gojwt.Claims, *AccessTokenClaims, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, nil, fmt.Errorf("parse token: %w", err)
	}

	var std gojwt.Claims
	var custom AccessTokenClaims
	if err := parsed.Claims(v.secret, &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify token: %w", err)
	}

	expected := gojwt.Expected{Time: v.now()}
	if v.audience != "" {
		expected.AnyAudience = gojwt.Audience{v.audience}
	}
	if err := std.ValidateWithLeeway(expected, v.leeway); err != nil {
		return nil, nil, fmt.Errorf("validate claims: %w", err)
	}
	if std.Expiry == nil {
		return nil, nil, fmt.Errorf("validate claims: missing exp")
	}

	return &std, &custom, nil
}

// Sign issues an HS256 token for identity. It mirrors what Supabase issues and is
// used by local tooling and tests.
func Sign(secret string, identity domain.Identity, ttl time.Duration) (string, error) {
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.HS256, Key: []byte(secret)}, (&gojose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		Subject:  identity.ID,
		Audience: gojwt.Audience{DefaultAudience},
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(ttl)),
	}
	custom := AccessTokenClaims{Email: identity.Email, Role: DefaultAudience}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}
