package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// RoleType represents an administrative role carried in the credential's claims
type RoleType string

const (
	RoleSuperAdmin   RoleType = "super_admin"   // Can manage every company, dealer and device
	RoleDealerAdmin  RoleType = "dealer_admin"  // Can manage devices and users within a dealer
	RoleCompanyAdmin RoleType = "company_admin" // Can manage devices and users within a company
	RoleViewer       RoleType = "viewer"        // Read-only access
)

// Identity is the user identity derived from the credential's token claims.
type Identity struct {
	ID    string     `json:"id,omitempty"`
	Roles []RoleType `json:"roles,omitempty"`
}

// HasRole reports whether the identity carries the given role.
func (i Identity) HasRole(role RoleType) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Credential is the bearer token plus derived identity used to authorize
// requests. At most one Credential is live at a time; it is replaced wholesale
// on login and refresh and destroyed on logout or terminal auth failure.
type Credential struct {
	Token     string    // Raw bearer token
	ExpiresAt time.Time // Derived from the token's exp claim
	Identity  Identity
}

// FromToken builds a Credential from a raw token issued by the login or
// refresh endpoint, reading the exp, sub and roles claims without verifying
// the signature. Verification is the server's job; the client only needs the
// embedded expiry and identity.
func FromToken(rawToken string) (*Credential, error) {
	token, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return nil, errors.Wrap(err, "[FromToken] parse token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("[FromToken] error extracting claims")
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, errors.New("[FromToken] token missing exp claim")
	}

	cred := &Credential{
		Token:     rawToken,
		ExpiresAt: time.Unix(int64(exp), 0),
	}

	if sub, ok := claims["sub"].(string); ok {
		cred.Identity.ID = sub
	}

	if claimRoles, ok := claims["roles"].([]interface{}); ok {
		for _, v := range claimRoles {
			if s, ok := v.(string); ok {
				cred.Identity.Roles = append(cred.Identity.Roles, RoleType(s))
			}
		}
	}

	return cred, nil
}
