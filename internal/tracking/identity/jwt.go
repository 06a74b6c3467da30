// Package identity authenticates connection tokens and authorizes what an
// identity may observe or report.
package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"trackhub/internal/tracking/models"
	dErrors "trackhub/pkg/domain-errors"
)

// Claims are the JWT claims carried by hub access tokens. The subject is the
// registered "sub" claim.
type Claims struct {
	Role       string  `json:"role"`
	CompanyIDs []int64 `json:"company_ids,omitempty"`
	VehicleIDs []int64 `json:"vehicle_ids,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 access tokens issued by the platform's
// identity service.
type Authenticator struct {
	signingKey []byte
	issuer     string
	audience   string
	leeway     time.Duration
}

// NewAuthenticator creates an authenticator. Empty issuer or audience skip
// that check.
func NewAuthenticator(signingKey, issuer, audience string) *Authenticator {
	return &Authenticator{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		leeway:     30 * time.Second,
	}
}

// IssueToken signs a token for identity. The hub does not issue tokens in
// production; this serves tests and local tooling.
func (a *Authenticator) IssueToken(identity models.Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:       string(identity.Role),
		CompanyIDs: toInt64s(identity.CompanyIDs),
		VehicleIDs: toInt64s(identity.VehicleIDs),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    a.issuer,
			ID:        uuid.NewString(),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
}

// Authenticate validates a token and returns the identity it carries.
func (a *Authenticator) Authenticate(token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "missing access token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return a.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return models.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return models.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	identity := models.Identity{
		Subject:    claims.Subject,
		Role:       models.Role(claims.Role),
		CompanyIDs: toIDs[models.CompanyID](claims.CompanyIDs),
		VehicleIDs: toIDs[models.VehicleID](claims.VehicleIDs),
	}
	if err := identity.Validate(); err != nil {
		return models.Identity{}, err
	}
	return identity, nil
}

func toInt64s[T ~int64](ids []T) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func toIDs[T ~int64](raw []int64) []T {
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		if v > 0 {
			out = append(out, T(v))
		}
	}
	return out
}
