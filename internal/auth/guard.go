package auth

import (
	"errors"
	"net/http"
)

// GuardConfig assembles the request checks protecting the HTTP surface.
// Assertions may be nil when only the service token pair is verified.
type GuardConfig struct {
	Disabled      bool
	ServiceTokens *ServiceTokenValidator
	Assertions    *AccessVerifier
}

// Guard authorizes inbound requests forwarded by the Access proxy. The
// service token pair is always checked; when an assertion verifier is
// configured the proxy's signed JWT is verified as well, so stolen token
// headers alone cannot reach the origin.
type Guard struct {
	disabled      bool
	serviceTokens *ServiceTokenValidator
	assertions    *AccessVerifier
}

// NewGuard constructs the composite request guard.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{
		disabled:      cfg.Disabled,
		serviceTokens: cfg.ServiceTokens,
		assertions:    cfg.Assertions,
	}
}

// Enabled reports whether the guard performs any checks.
func (g *Guard) Enabled() bool {
	if g == nil || g.disabled {
		return false
	}
	return g.serviceTokens != nil || g.assertions != nil
}

// Authorize validates the request against every configured check.
func (g *Guard) Authorize(r *http.Request) error {
	if !g.Enabled() {
		return nil
	}

	if g.serviceTokens != nil {
		if err := g.serviceTokens.ValidateRequest(r); err != nil {
			return err
		}
	}

	if g.assertions != nil {
		if _, err := g.assertions.ValidateRequest(r); err != nil {
			return err
		}
	}

	return nil
}

// IsMissingCredential reports whether the error describes absent credentials
// rather than rejected ones.
func IsMissingCredential(err error) bool {
	return errors.Is(err, ErrMissingServiceToken) || errors.Is(err, ErrMissingAccessAssertion)
}
