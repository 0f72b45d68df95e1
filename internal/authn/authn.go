// Package authn implements the gateway's authentication (C12): allow-list
// and bearer-token checks for the device socket handshake, and JWT
// minting/validation for the HTTP side-channel's Bearer auth. Grounded on
// xpanvictor-xarvis's Claims/ValidateToken/jwt.NewWithClaims pattern,
// adapted from a user-id subject to a device-id subject.
package authn

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/antoniostano/gatewayd/internal/xerrors"
)

// Claims is the JWT payload minted for the HTTP side-channel
// (/xiaozhi/ota/, /mcp/vision/explain). Its "device-id" claim must equal
// the request's Device-Id header per SPEC_FULL.md §6.
type Claims struct {
	DeviceID string `json:"device-id"`
	jwt.RegisteredClaims
}

// Authenticator resolves device socket handshakes and mints/validates
// side-channel bearer tokens.
type Authenticator struct {
	// Enabled gates the allow-list/bearer-token check entirely; when
	// false every device-id is accepted (local/dev mode).
	Enabled bool
	// AllowedDevices is the allow-list of device ids admitted without a
	// bearer token.
	AllowedDevices map[string]bool
	// Tokens maps a registered bearer token to the device id it grants
	// access for.
	Tokens map[string]string

	jwtSecret []byte
	jwtTTL    time.Duration
}

func New(enabled bool, allowedDevices []string, tokens map[string]string, jwtSecret string, jwtTTL time.Duration) *Authenticator {
	allow := make(map[string]bool, len(allowedDevices))
	for _, d := range allowedDevices {
		allow[d] = true
	}
	if jwtTTL <= 0 {
		jwtTTL = 24 * time.Hour
	}
	return &Authenticator{
		Enabled:        enabled,
		AllowedDevices: allow,
		Tokens:         tokens,
		jwtSecret:      []byte(jwtSecret),
		jwtTTL:         jwtTTL,
	}
}

// AuthorizeSocket implements the handshake's step 2 per SPEC_FULL.md §4.1:
// either deviceID is allow-listed, or bearerToken (the socket's
// Authorization header, Bearer-prefix already stripped) is a token
// registered for deviceID.
func (a *Authenticator) AuthorizeSocket(deviceID, bearerToken string) error {
	if !a.Enabled {
		return nil
	}
	if a.AllowedDevices[deviceID] {
		return nil
	}
	if bearerToken != "" {
		if boundDevice, ok := a.Tokens[bearerToken]; ok && boundDevice == deviceID {
			return nil
		}
	}
	return xerrors.New(xerrors.KindAuthentication, "authn.AuthorizeSocket", fmt.Errorf("device %q is not authorized", deviceID))
}

// MintSideChannelToken issues a bearer JWT for the HTTP side-channel,
// carrying deviceID in the "device-id" claim.
func (a *Authenticator) MintSideChannelToken(deviceID string) (string, error) {
	now := time.Now()
	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.jwtTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", xerrors.New(xerrors.KindConfiguration, "authn.MintSideChannelToken", err)
	}
	return signed, nil
}

// AuthorizeSideChannel validates the request's Bearer token and checks its
// device-id claim against the Device-Id header, per SPEC_FULL.md §6.
func (a *Authenticator) AuthorizeSideChannel(ctx context.Context, r *http.Request) (string, error) {
	deviceID := strings.TrimSpace(r.Header.Get("Device-Id"))
	if deviceID == "" {
		return "", xerrors.New(xerrors.KindAuthentication, "authn.AuthorizeSideChannel", fmt.Errorf("missing Device-Id header"))
	}
	if !a.Enabled {
		return deviceID, nil
	}

	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return "", xerrors.New(xerrors.KindAuthentication, "authn.AuthorizeSideChannel", fmt.Errorf("missing bearer token"))
	}
	tokenString := strings.TrimPrefix(raw, prefix)

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithContext(ctx))
	if err != nil {
		return "", xerrors.New(xerrors.KindAuthentication, "authn.AuthorizeSideChannel", err)
	}
	if claims.DeviceID != deviceID {
		return "", xerrors.New(xerrors.KindAuthentication, "authn.AuthorizeSideChannel", fmt.Errorf("token device-id %q does not match Device-Id header %q", claims.DeviceID, deviceID))
	}
	return deviceID, nil
}

// DeviceIDFromRequest resolves the device-id header, falling back to the
// device-id query parameter, per SPEC_FULL.md §6's header-or-query-param
// fallback for the device socket.
func DeviceIDFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("Device-Id")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("device-id"))
}

// ClientIDFromRequest mirrors DeviceIDFromRequest for the client-id field.
func ClientIDFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("Client-Id")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("client-id"))
}

// BearerToken extracts a bearer token from the socket upgrade request's
// Authorization header, stripped of its "Bearer " prefix.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return ""
	}
	return strings.TrimPrefix(raw, prefix)
}
