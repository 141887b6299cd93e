package credentials

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// State classifies a credential against the current time.
type State int

const (
	StateMissing  State = iota // No credential, or one whose token cannot be decoded
	StateExpiring              // Expires within the margin (or already expired)
	StateValid
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpiring:
		return "expiring"
	}
	return "missing"
}

// ExpiryMargin is how close to expiry a token may get before it is treated as
// expiring and refreshed proactively.
const ExpiryMargin = time.Second

// Classify decides whether a credential can still be attached to a request.
// It decodes the token's embedded exp claim locally; no network call, no side
// effects. A malformed or claimless token classifies as missing rather than
// erroring, so callers fall through to the refresh path.
func Classify(cred *Credential, now time.Time) State {
	if cred == nil || strings.TrimSpace(cred.Token) == "" {
		return StateMissing
	}

	token, _, err := jwt.NewParser().ParseUnverified(cred.Token, jwt.MapClaims{})
	if err != nil {
		return StateMissing
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return StateMissing
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return StateMissing
	}

	if time.Unix(int64(exp), 0).Sub(now) < ExpiryMargin {
		return StateExpiring
	}
	return StateValid
}
