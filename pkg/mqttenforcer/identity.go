// Package mqttenforcer is the MQTT enforcement adapter: a standalone
// hook-handler library with no broker wiring of its own. A broker plugin
// or test harness calls HandleConnect/HandlePublish/HandleSubscribe/
// HandleDisconnect with the raw parameters it observes and receives back
// an allow/deny decision plus the (possibly transformed) payload.
package mqttenforcer

import (
	"crypto/tls"
	"errors"
	"strings"
)

// ErrTenantMismatch is returned when two identity sources (mTLS, username,
// client id) resolve different tenant ids for the same connection.
var ErrTenantMismatch = errors.New("mqttenforcer: identity sources disagree on tenant")

// ErrNoIdentity is returned when no identity source yields a tenant id.
var ErrNoIdentity = errors.New("mqttenforcer: no identity source present")

// ConnectParams carries everything HandleConnect needs to resolve and bind
// a session's tenant identity.
type ConnectParams struct {
	ClientID string
	Username string
	TLSState *tls.ConnectionState
}

// extractMTLS mirrors the HTTP adapter's SAN URI / CN resolution.
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

// extractUsername parses "tenant_id[:user_id]".
func extractUsername(username string) (tenantID, userID string) {
	if username == "" {
		return "", ""
	}
	parts := strings.SplitN(username, ":", 2)
	tenantID = parts[0]
	if len(parts) == 2 {
		userID = parts[1]
	}
	return tenantID, userID
}

// extractClientID parses "tenant_id[/device_id]".
func extractClientID(clientID string) (tenantID, deviceID string) {
	if clientID == "" {
		return "", ""
	}
	parts := strings.SplitN(clientID, "/", 2)
	tenantID = parts[0]
	if len(parts) == 2 {
		deviceID = parts[1]
	}
	return tenantID, deviceID
}

// resolveIdentity reconciles every present source, requiring agreement
// among all of them, and records which source was strongest (mTLS first,
// then username, then client id).
func resolveIdentity(p ConnectParams) (*TenantContext, error) {
	mtlsTenant := extractMTLS(p.TLSState)
	userTenant, userID := extractUsername(p.Username)
	clientTenant, deviceID := extractClientID(p.ClientID)

	candidates := make(map[string]bool)
	for _, t := range []string{mtlsTenant, userTenant, clientTenant} {
		if t != "" {
			candidates[t] = true
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoIdentity
	}
	if len(candidates) > 1 {
		return nil, ErrTenantMismatch
	}

	var tenantID, source string
	switch {
	case mtlsTenant != "":
		tenantID, source = mtlsTenant, "mtls"
	case userTenant != "":
		tenantID, source = userTenant, "username"
	default:
		tenantID, source = clientTenant, "client_id"
	}

	return &TenantContext{
		TenantID:   tenantID,
		UserID:     userID,
		DeviceID:   deviceID,
		ClientID:   p.ClientID,
		AuthSource: source,
	}, nil
}

// TenantContext is the resolved identity bound to one MQTT session for its
// lifetime.
type TenantContext struct {
	TenantID   string
	UserID     string
	DeviceID   string
	ClientID   string
	AuthSource string
}
