package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const (
	// HeaderAccessClientID carries the service token identifier injected by
	// the Cloudflare Access proxy.
	HeaderAccessClientID = "Cf-Access-Client-Id"
	// HeaderAccessClientSecret carries the matching service token secret.
	HeaderAccessClientSecret = "Cf-Access-Client-Secret"
)

var (
	ErrMissingServiceTokenID     = errors.New("service token validator: client id required")
	ErrMissingServiceTokenSecret = errors.New("service token validator: client secret required")
	ErrMissingServiceToken       = errors.New("service token validator: token headers required")
	ErrInvalidServiceToken       = errors.New("service token validator: invalid token")
)

// ServiceTokenValidatorConfig describes the expected service token pair.
type ServiceTokenValidatorConfig struct {
	ClientID     string
	ClientSecret string
}

// ServiceTokenValidator checks the Access service token headers on inbound
// requests against the configured pair.
type ServiceTokenValidator struct {
	clientID     []byte
	clientSecret []byte
}

// NewServiceTokenValidator constructs a validator with the provided pair.
func NewServiceTokenValidator(cfg ServiceTokenValidatorConfig) (*ServiceTokenValidator, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, ErrMissingServiceTokenID
	}
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	if clientSecret == "" {
		return nil, ErrMissingServiceTokenSecret
	}
	return &ServiceTokenValidator{
		clientID:     []byte(clientID),
		clientSecret: []byte(clientSecret),
	}, nil
}

// ValidateRequest checks the service token headers on the request. Both
// comparisons run in constant time and both always run, so response timing
// reveals nothing about which half matched.
func (v *ServiceTokenValidator) ValidateRequest(r *http.Request) error {
	if r == nil {
		return ErrMissingServiceToken
	}

	presentedID := r.Header.Get(HeaderAccessClientID)
	presentedSecret := r.Header.Get(HeaderAccessClientSecret)
	if presentedID == "" || presentedSecret == "" {
		return ErrMissingServiceToken
	}

	idMatch := subtle.ConstantTimeCompare([]byte(presentedID), v.clientID)
	secretMatch := subtle.ConstantTimeCompare([]byte(presentedSecret), v.clientSecret)
	if idMatch&secretMatch != 1 {
		return ErrInvalidServiceToken
	}

	return nil
}
