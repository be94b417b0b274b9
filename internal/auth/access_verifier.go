package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	// HeaderAccessAssertion carries the JWT the Access proxy signs for every
	// request it forwards to the origin.
	HeaderAccessAssertion = "Cf-Access-Jwt-Assertion"

	accessCertsPath       = "/cdn-cgi/access/certs"
	defaultAccessCacheTTL = 10 * time.Minute
)

var (
	ErrInvalidAccessConfig     = errors.New("access verifier: invalid config")
	ErrMissingAccessAssertion  = errors.New("access verifier: assertion header required")
	ErrInvalidAccessAssertion  = errors.New("access verifier: invalid assertion")
	errMissingAccessAudience   = errors.New("audience configuration required")
	errMissingAccessTeamDomain = errors.New("team domain configuration required")
	errMissingAccessKeyID      = errors.New("assertion missing key identifier")
	errAccessKeyNotFound       = errors.New("signing key not found in certs document")
	errUntrustedAccessIssuer   = errors.New("assertion issuer does not match team domain")
	errMissingAccessIdentity   = errors.New("assertion carries neither subject nor common name")
)

// AccessVerifierConfig bundles configuration for verifying proxy assertions.
// TeamDomain is the Access team origin, e.g. https://example.cloudflareaccess.com;
// the signing keys are fetched from its published certs document.
type AccessVerifierConfig struct {
	Audience   string
	TeamDomain string
	HTTPClient *http.Client
	CacheTTL   time.Duration
	Logger     *zap.Logger
	Clock      func() time.Time
}

// AccessClaims exposes the validated assertion data the mirror cares about.
// Identity logins carry Email and Subject; service tokens carry CommonName.
type AccessClaims struct {
	Audience   string
	Issuer     string
	Subject    string
	Email      string
	CommonName string
	Expiry     time.Time
	IssuedAt   time.Time
}

type accessTokenClaims struct {
	Email      string `json:"email"`
	CommonName string `json:"common_name"`
	jwt.RegisteredClaims
}

// AccessVerifier verifies the RS256 assertions the Access proxy attaches to
// forwarded requests, using the team's published signing keys.
type AccessVerifier struct {
	audience   string
	teamDomain string
	certsURL   string
	httpClient *http.Client
	logger     *zap.Logger
	clock      func() time.Time
	cacheTTL   time.Duration

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// NewAccessVerifier constructs a verifier with validated configuration.
func NewAccessVerifier(cfg AccessVerifierConfig) (*AccessVerifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessConfig, errMissingAccessAudience)
	}

	teamDomain := strings.TrimRight(strings.TrimSpace(cfg.TeamDomain), "/")
	if teamDomain == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessConfig, errMissingAccessTeamDomain)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultAccessCacheTTL
	}

	return &AccessVerifier{
		audience:   audience,
		teamDomain: teamDomain,
		certsURL:   teamDomain + accessCertsPath,
		httpClient: httpClient,
		logger:     logger,
		clock:      clock,
		cacheTTL:   cacheTTL,
	}, nil
}

// ValidateRequest verifies the assertion header on the request.
func (v *AccessVerifier) ValidateRequest(r *http.Request) (AccessClaims, error) {
	if r == nil {
		return AccessClaims{}, ErrMissingAccessAssertion
	}
	assertion := strings.TrimSpace(r.Header.Get(HeaderAccessAssertion))
	if assertion == "" {
		return AccessClaims{}, ErrMissingAccessAssertion
	}
	return v.Verify(r.Context(), assertion)
}

// Verify validates the provided assertion and returns its claims.
func (v *AccessVerifier) Verify(ctx context.Context, rawAssertion string) (AccessClaims, error) {
	if rawAssertion == "" {
		return AccessClaims{}, ErrMissingAccessAssertion
	}

	claims := &accessTokenClaims{}
	token, err := jwt.ParseWithClaims(
		rawAssertion,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingAccessKeyID
			}
			return v.signingKey(ctx, keyID)
		},
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidAccessAssertion, err)
	}
	if !token.Valid {
		return AccessClaims{}, ErrInvalidAccessAssertion
	}

	if claims.Issuer != v.teamDomain {
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidAccessAssertion, errUntrustedAccessIssuer)
	}
	if strings.TrimSpace(claims.Subject) == "" && strings.TrimSpace(claims.CommonName) == "" {
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidAccessAssertion, errMissingAccessIdentity)
	}

	verified := AccessClaims{
		Issuer:     claims.Issuer,
		Subject:    claims.Subject,
		Email:      claims.Email,
		CommonName: claims.CommonName,
	}
	if len(claims.Audience) > 0 {
		verified.Audience = claims.Audience[0]
	}
	if claims.ExpiresAt != nil {
		verified.Expiry = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		verified.IssuedAt = claims.IssuedAt.Time
	}

	return verified, nil
}

func (v *AccessVerifier) signingKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	now := v.clock()

	v.mu.RLock()
	key, fresh := v.cachedKeyLocked(keyID, now)
	v.mu.RUnlock()
	if key != nil {
		return key, nil
	}
	if fresh {
		return nil, errAccessKeyNotFound
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if key, fresh := v.cachedKeyLocked(keyID, now); key != nil || fresh {
		if key != nil {
			return key, nil
		}
		return nil, errAccessKeyNotFound
	}

	keys, err := v.fetchSigningKeys(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.expiresAt = now.Add(v.cacheTTL)

	if key := v.keys[keyID]; key != nil {
		return key, nil
	}
	return nil, errAccessKeyNotFound
}

func (v *AccessVerifier) cachedKeyLocked(keyID string, now time.Time) (*rsa.PublicKey, bool) {
	if v.keys == nil || now.After(v.expiresAt) {
		return nil, false
	}
	return v.keys[keyID], true
}

func (v *AccessVerifier) fetchSigningKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, err
	}

	response, err := v.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("certs request returned status %d", response.StatusCode)
	}

	var document struct {
		Keys []accessSigningKey `json:"keys"`
	}
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, key := range document.Keys {
		if key.KeyType != "RSA" {
			continue
		}
		publicKey, err := key.toRSAPublicKey()
		if err != nil {
			v.logger.Debug("skipping signing key", zap.String("kid", key.KeyID), zap.Error(err))
			continue
		}
		keys[key.KeyID] = publicKey
	}

	if len(keys) == 0 {
		return nil, errors.New("certs document contained no usable keys")
	}

	return keys, nil
}

type accessSigningKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func (k accessSigningKey) toRSAPublicKey() (*rsa.PublicKey, error) {
	modulusBytes, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus encoding: %w", err)
	}
	exponentBytes, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent encoding: %w", err)
	}
	if len(exponentBytes) == 0 {
		return nil, errors.New("missing exponent bytes")
	}

	exponent := 0
	for _, b := range exponentBytes {
		exponent = exponent<<8 + int(b)
	}
	if exponent == 0 {
		return nil, errors.New("invalid exponent value")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulusBytes),
		E: exponent,
	}, nil
}
