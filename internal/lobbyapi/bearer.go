package lobbyapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/truco/pkg/mesas"
	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "bearer "

var errInvalidBearerToken = errors.New("invalid bearer token")

type bearerClaims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// BearerVerifier resolves an Identity from an HS256 token carried in the
// Authorization header. It shares the signing key and issuer of the session cookie.
type BearerVerifier struct {
	signingKey []byte
	issuer     string
}

// NewBearerVerifier returns a verifier for tokens signed with signingKey.
func NewBearerVerifier(signingKey []byte, issuer string) (*BearerVerifier, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("bearer verifier: signing key is required")
	}
	return &BearerVerifier{signingKey: signingKey, issuer: issuer}, nil
}

// Verify parses and validates raw, returning the identity it names.
func (verifier *BearerVerifier) Verify(raw string) (mesas.Identity, error) {
	claims := &bearerClaims{}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if verifier.issuer != "" {
		options = append(options, jwt.WithIssuer(verifier.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return verifier.signingKey, nil
	}, options...)
	if err != nil || !token.Valid {
		return mesas.Identity{}, fmt.Errorf("%w: %v", errInvalidBearerToken, err)
	}
	identity, err := mesas.NewIdentity(claims.Subject, claims.Name, claims.Picture)
	if err != nil {
		return mesas.Identity{}, fmt.Errorf("%w: %w", errInvalidBearerToken, err)
	}
	return identity, nil
}

// IssueBearerToken mints a token Verify accepts.
func IssueBearerToken(signingKey []byte, issuer string, identity mesas.Identity, ttl time.Duration, now time.Time) (string, error) {
	if !identity.Authenticated() {
		return "", mesas.ErrNotAuthenticated
	}
	if ttl <= 0 {
		ttl = defaultBearerTokenTTL
	}
	claims := bearerClaims{
		Name:    identity.DisplayName,
		Picture: identity.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.PlayerID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now.UTC()),
			ExpiresAt: jwt.NewNumericDate(now.UTC().Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("sign bearer token: %w", err)
	}
	return signed, nil
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(header string) (string, bool) {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
