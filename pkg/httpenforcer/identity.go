// Package httpenforcer is the HTTP enforcement adapter: it extracts caller
// identity from mTLS and/or JWT, assembles an ABAC input from the request,
// queries a tenant's compiled policy, and forwards allowed requests to a
// configured upstream with response redaction and bandwidth accounting.
package httpenforcer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTenantMismatch is returned when mTLS and JWT both resolve a tenant id
// and they disagree.
var ErrTenantMismatch = errors.New("httpenforcer: mtls and jwt tenant ids disagree")

// ErrNoIdentity is returned when no identity source yields a tenant id and
// the testing-only X-Tenant-ID fallback is also absent.
var ErrNoIdentity = errors.New("httpenforcer: no identity source present")

// ErrJWTInvalid wraps any JWT parse/verify failure.
var ErrJWTInvalid = errors.New("httpenforcer: invalid bearer token")

// IdentityConfig configures how identity is extracted from inbound
// requests.
type IdentityConfig struct {
	MTLSEnabled bool

	JWTEnabled    bool
	JWTAlgorithm  string // e.g. "HS256", "RS256", "ES384"
	JWTSigningKey string // HMAC secret, or PEM-encoded public key for RS/ES
	JWTIssuer     string
	JWTAudience   string

	// AllowTenantIDFallback permits the X-Tenant-ID header when neither
	// mTLS nor JWT is enabled. Intended for local testing only.
	AllowTenantIDFallback bool
}

// TenantClaims is the JWT claim shape accepted from the configured
// algorithm family, with the tenant id resolved by claim precedence.
type TenantClaims struct {
	jwt.RegisteredClaims
	TenantID       string   `json:"tenant_id"`
	TID            string   `json:"tid"`
	OrganizationID string   `json:"organization_id"`
	Roles          []string `json:"roles"`
	Scope          string   `json:"scope"`
}

func (c TenantClaims) tenantID() string {
	if c.TenantID != "" {
		return c.TenantID
	}
	if c.TID != "" {
		return c.TID
	}
	return c.OrganizationID
}

func (c TenantClaims) roles() []string {
	if len(c.Roles) > 0 {
		return c.Roles
	}
	if c.Scope != "" {
		return strings.Fields(c.Scope)
	}
	return nil
}

// TenantContext is the resolved caller identity attached to one request.
type TenantContext struct {
	TenantID   string
	UserID     string
	Roles      []string
	PeerIP     string
	AuthSource string // "mtls", "jwt", "mtls+jwt", or "header"
}

// keyfunc builds a jwt.Keyfunc that rejects any token whose signing method
// is not exactly the configured algorithm.
func (c IdentityConfig) keyfunc() (jwt.Keyfunc, error) {
	alg := c.JWTAlgorithm
	return func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != alg {
			return nil, fmt.Errorf("httpenforcer: unexpected signing method %s", token.Method.Alg())
		}
		switch {
		case strings.HasPrefix(alg, "HS"):
			return []byte(c.JWTSigningKey), nil
		case strings.HasPrefix(alg, "RS"):
			return jwt.ParseRSAPublicKeyFromPEM([]byte(c.JWTSigningKey))
		case strings.HasPrefix(alg, "ES"):
			return jwt.ParseECPublicKeyFromPEM([]byte(c.JWTSigningKey))
		default:
			return nil, fmt.Errorf("httpenforcer: unsupported algorithm %s", alg)
		}
	}, nil
}

// extractMTLS looks for a SAN URI of the form tenant:<id> among the peer
// certificate's URIs, falling back to the certificate's Common Name.
func extractMTLS(state *tls.ConnectionState) string {
	if state == nil || len(state.PeerCertificates) == 0 {
		return ""
	}
	cert := state.PeerCertificates[0]
	for _, u := range cert.URIs {
		if u.Scheme == "tenant" && u.Opaque != "" {
			return u.Opaque
		}
	}
	return cert.Subject.CommonName
}

// extractJWT parses and verifies a bearer token against cfg, returning the
// resolved tenant id, user id (claims.Subject), and roles.
func extractJWT(cfg IdentityConfig, bearer string) (tenantID, userID string, roles []string, err error) {
	keyfunc, err := cfg.keyfunc()
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrJWTInvalid, err)
	}

	claims := &TenantClaims{}
	parserOpts := []jwt.ParserOption{}
	if cfg.JWTIssuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	if cfg.JWTAudience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.JWTAudience))
	}

	token, err := jwt.ParseWithClaims(bearer, claims, keyfunc, parserOpts...)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrJWTInvalid, err)
	}
	if !token.Valid {
		return "", "", nil, ErrJWTInvalid
	}
	if claims.tenantID() == "" {
		return "", "", nil, fmt.Errorf("%w: token carries no tenant claim", ErrJWTInvalid)
	}
	return claims.tenantID(), claims.Subject, claims.roles(), nil
}

// ExtractIdentity runs the full identity-extraction pipeline: mTLS, then
// JWT, cross-checking tenant ids when both are present, falling back to
// X-Tenant-ID only when neither source is configured.
func ExtractIdentity(_ context.Context, cfg IdentityConfig, tlsState *tls.ConnectionState, authHeader, tenantHeader, peerIP string) (*TenantContext, error) {
	var mtlsTenant string
	if cfg.MTLSEnabled {
		mtlsTenant = extractMTLS(tlsState)
	}

	var jwtTenant, userID string
	var roles []string
	var haveJWT bool
	if cfg.JWTEnabled {
		if bearer, ok := bearerToken(authHeader); ok {
			var err error
			jwtTenant, userID, roles, err = extractJWT(cfg, bearer)
			if err != nil {
				return nil, err
			}
			haveJWT = true
		}
	}

	switch {
	case mtlsTenant != "" && haveJWT:
		if mtlsTenant != jwtTenant {
			return nil, ErrTenantMismatch
		}
		return &TenantContext{TenantID: mtlsTenant, UserID: userID, Roles: roles, PeerIP: peerIP, AuthSource: "mtls+jwt"}, nil
	case mtlsTenant != "":
		return &TenantContext{TenantID: mtlsTenant, PeerIP: peerIP, AuthSource: "mtls"}, nil
	case haveJWT:
		return &TenantContext{TenantID: jwtTenant, UserID: userID, Roles: roles, PeerIP: peerIP, AuthSource: "jwt"}, nil
	case cfg.AllowTenantIDFallback && !cfg.MTLSEnabled && !cfg.JWTEnabled && tenantHeader != "":
		return &TenantContext{TenantID: tenantHeader, PeerIP: peerIP, AuthSource: "header"}, nil
	default:
		return nil, ErrNoIdentity
	}
}

func bearerToken(authHeader string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", false
	}
	return strings.TrimPrefix(authHeader, prefix), true
}

// ValidateKeyMaterial checks a configured JWT key without verifying any
// token: RS and ES keys must parse as PEM public keys, and an HMAC secret
// must be non-empty. The enforcer binary does not call it; keyfunc parses
// the key again for every token it verifies.
func ValidateKeyMaterial(alg, key string) error {
	switch {
	case strings.HasPrefix(alg, "HS"):
		if key == "" {
			return fmt.Errorf("httpenforcer: %s requires a non-empty secret", alg)
		}
		return nil
	case strings.HasPrefix(alg, "RS"):
		_, err := jwt.ParseRSAPublicKeyFromPEM([]byte(key))
		return err
	case strings.HasPrefix(alg, "ES"):
		_, err := jwt.ParseECPublicKeyFromPEM([]byte(key))
		return err
	default:
		return fmt.Errorf("httpenforcer: unsupported algorithm %s", alg)
	}
}
