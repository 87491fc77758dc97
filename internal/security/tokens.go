package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or signed by another key.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSubject is returned when a valid token carries no user id.
	ErrMissingSubject = errors.New("token has no subject")
)

// Identity is the verified caller behind a bearer token.
type Identity struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
}

// AccessClaims are the JWT claims issued by the auth service. Only sub is required; the names are
// shown next to cursors and edits.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// TokenVerifier validates access JWTs signed with RS256 or ES256 against a public key.
type TokenVerifier struct {
	publicKey crypto.PublicKey
	issuer    string
	audience  string
	leeway    time.Duration
}

// NewTokenVerifier returns a verifier for tokens signed by the holder of publicKey. Empty issuer or
// audience disables that check.
func NewTokenVerifier(publicKey crypto.PublicKey, issuer, audience string) *TokenVerifier {
	return &TokenVerifier{publicKey: publicKey, issuer: issuer, audience: audience, leeway: 30 * time.Second}
}

// Verify parses tokenString (signature, exp, iss, aud) and returns the identity it carries.
// Any failure is reported as ErrInvalidToken or ErrMissingSubject.
func (v *TokenVerifier) Verify(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), &AccessClaims{}, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, ErrMissingSubject
	}
	return Identity{
		UserID:    claims.Subject,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	}, nil
}

// TokenIssuer signs access JWTs. The sync service never issues tokens in production; the issuer
// backs cmd/seed and tests that need a valid credential.
type TokenIssuer struct {
	privateKey crypto.Signer
	issuer     string
	audience   string
	ttl        time.Duration
}

// NewTokenIssuer returns an issuer that signs with privateKey (RSA or ECDSA P-256).
func NewTokenIssuer(privateKey crypto.Signer, issuer, audience string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{privateKey: privateKey, issuer: issuer, audience: audience, ttl: ttl}
}

// Issue returns a signed access token for id and its expiration time.
func (p *TokenIssuer) Issue(id Identity) (token string, expiresAt time.Time, err error) {
	if id.UserID == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(p.ttl)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   id.UserID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:     id.Email,
		FirstName: id.FirstName,
		LastName:  id.LastName,
	}
	if p.audience != "" {
		claims.Audience = jwt.ClaimStrings{p.audience}
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

func (p *TokenIssuer) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidKey
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
