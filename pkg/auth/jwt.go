package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// DefaultAudience is the audience claim expected on tokens.
const DefaultAudience = "activekg"

// DefaultLeeway tolerated on time-based claims.
const DefaultLeeway = 30 * time.Second

// Claims is the JWT payload: registered claims plus the tenant binding and
// granted scopes.
type Claims struct {
	TenantID  string   `json:"tenant_id"`
	ActorType string   `json:"actor_type"`
	Scopes    []string `json:"scopes"`
	jwt.RegisteredClaims
}

// ValidatorConfig selects the signing algorithm and key material.
type ValidatorConfig struct {
	// Algorithm is "HS256" (dev) or "RS256" (production).
	Algorithm string
	// SecretKey is required for HS256.
	SecretKey string
	// PublicKeyPEM is required for RS256.
	PublicKeyPEM string
	Audience     string
	Issuer       string
	Leeway       time.Duration
}

// Validator verifies bearer tokens and yields the trusted RequestContext.
type Validator struct {
	algorithm string
	secret    []byte
	publicKey *rsa.PublicKey
	audience  string
	issuer    string
	leeway    time.Duration
}

// NewValidator builds a Validator, parsing RS256 key material eagerly so a
// bad key fails startup rather than the first request.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	v := &Validator{
		algorithm: cfg.Algorithm,
		audience:  cfg.Audience,
		issuer:    cfg.Issuer,
		leeway:    cfg.Leeway,
	}
	if v.algorithm == "" {
		v.algorithm = "HS256"
	}
	if v.audience == "" {
		v.audience = DefaultAudience
	}
	if v.leeway == 0 {
		v.leeway = DefaultLeeway
	}

	switch v.algorithm {
	case "HS256":
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("jwt: HS256 requires a secret key")
		}
		v.secret = []byte(cfg.SecretKey)
	case "RS256":
		if cfg.PublicKeyPEM == "" {
			return nil, fmt.Errorf("jwt: RS256 requires a public key")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("jwt: parse RS256 public key: %w", err)
		}
		v.publicKey = key
	default:
		return nil, fmt.Errorf("jwt: unsupported algorithm %q", v.algorithm)
	}
	return v, nil
}

// Validate parses and verifies a compact JWT and returns the request
// identity. All failures map to AuthError (401); the message distinguishes
// expiry so clients can refresh.
func (v *Validator) Validate(tokenString string) (*RequestContext, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.algorithm}),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, apperrors.NewAuthError("Token has expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, apperrors.NewAuthError("Invalid token signature")
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, apperrors.NewAuthError("Token not valid yet")
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, apperrors.NewAuthError("Invalid token audience")
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, apperrors.NewAuthError("Invalid token issuer")
		default:
			return nil, apperrors.NewAuthError("Invalid token").WithCause(err)
		}
	}
	if !token.Valid {
		return nil, apperrors.NewAuthError("Invalid token")
	}
	if claims.TenantID == "" {
		return nil, apperrors.NewAuthError("Token missing tenant_id claim")
	}

	actorType := claims.ActorType
	if actorType == "" {
		actorType = ActorTypeUser
	}
	return &RequestContext{
		TenantID:  claims.TenantID,
		ActorID:   claims.Subject,
		ActorType: actorType,
		Scopes:    claims.Scopes,
	}, nil
}

func (v *Validator) keyFunc(token *jwt.Token) (any, error) {
	switch v.algorithm {
	case "HS256":
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	case "RS256":
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.publicKey, nil
	}
	return nil, fmt.Errorf("unsupported algorithm %q", v.algorithm)
}

// DevContext mints the identity used when JWT validation is disabled.
func DevContext(tenant string) *RequestContext {
	if tenant == "" {
		tenant = "default"
	}
	return &RequestContext{
		TenantID:  tenant,
		ActorID:   "dev_user",
		ActorType: ActorTypeUser,
		DevMode:   true,
	}
}
