package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAccessVerifierValidatesIdentityAssertion(t *testing.T) {
	privateKey, certsServer := newCertsServer(t)
	defer certsServer.Close()

	assertion := signAssertion(t, privateKey, jwt.MapClaims{
		"aud":   []string{"mirror-app-tag"},
		"iss":   certsServer.URL,
		"sub":   "user-identity-id",
		"email": "owner@example.com",
		"exp":   time.Now().UTC().Add(5 * time.Minute).Unix(),
		"iat":   time.Now().UTC().Unix(),
	})

	verifier := mustAccessVerifier(t, certsServer)

	request := httptest.NewRequest(http.MethodGet, "/time_entries", nil)
	request.Header.Set(HeaderAccessAssertion, assertion)

	claims, err := verifier.ValidateRequest(request)
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}
	if claims.Email != "owner@example.com" {
		t.Fatalf("unexpected email %s", claims.Email)
	}
	if claims.Audience != "mirror-app-tag" {
		t.Fatalf("unexpected audience %s", claims.Audience)
	}
	if claims.Subject != "user-identity-id" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
}

func TestAccessVerifierAcceptsServiceTokenAssertion(t *testing.T) {
	privateKey, certsServer := newCertsServer(t)
	defer certsServer.Close()

	assertion := signAssertion(t, privateKey, jwt.MapClaims{
		"aud":         []string{"mirror-app-tag"},
		"iss":         certsServer.URL,
		"common_name": "token-id.access",
		"exp":         time.Now().UTC().Add(5 * time.Minute).Unix(),
		"iat":         time.Now().UTC().Unix(),
	})

	verifier := mustAccessVerifier(t, certsServer)

	claims, err := verifier.Verify(context.Background(), assertion)
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}
	if claims.CommonName != "token-id.access" {
		t.Fatalf("unexpected common name %s", claims.CommonName)
	}
	if claims.Subject != "" {
		t.Fatalf("expected empty subject for service token, got %s", claims.Subject)
	}
}

func TestAccessVerifierRejectsWrongAudience(t *testing.T) {
	privateKey, certsServer := newCertsServer(t)
	defer certsServer.Close()

	assertion := signAssertion(t, privateKey, jwt.MapClaims{
		"aud": []string{"some-other-app"},
		"iss": certsServer.URL,
		"sub": "user-identity-id",
		"exp": time.Now().UTC().Add(5 * time.Minute).Unix(),
		"iat": time.Now().UTC().Unix(),
	})

	verifier := mustAccessVerifier(t, certsServer)

	if _, err := verifier.Verify(context.Background(), assertion); !errors.Is(err, ErrInvalidAccessAssertion) {
		t.Fatalf("expected invalid assertion error, got %v", err)
	}
}

func TestAccessVerifierRejectsForeignIssuer(t *testing.T) {
	privateKey, certsServer := newCertsServer(t)
	defer certsServer.Close()

	assertion := signAssertion(t, privateKey, jwt.MapClaims{
		"aud": []string{"mirror-app-tag"},
		"iss": "https://someone-else.cloudflareaccess.com",
		"sub": "user-identity-id",
		"exp": time.Now().UTC().Add(5 * time.Minute).Unix(),
		"iat": time.Now().UTC().Unix(),
	})

	verifier := mustAccessVerifier(t, certsServer)

	if _, err := verifier.Verify(context.Background(), assertion); !errors.Is(err, ErrInvalidAccessAssertion) {
		t.Fatalf("expected invalid assertion error, got %v", err)
	}
}

func TestAccessVerifierRejectsAssertionWithoutIdentity(t *testing.T) {
	privateKey, certsServer := newCertsServer(t)
	defer certsServer.Close()

	assertion := signAssertion(t, privateKey, jwt.MapClaims{
		"aud": []string{"mirror-app-tag"},
		"iss": certsServer.URL,
		"exp": time.Now().UTC().Add(5 * time.Minute).Unix(),
		"iat": time.Now().UTC().Unix(),
	})

	verifier := mustAccessVerifier(t, certsServer)

	_, err := verifier.Verify(context.Background(), assertion)
	if !errors.Is(err, ErrInvalidAccessAssertion) {
		t.Fatalf("expected invalid assertion error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingAccessIdentity.Error()) {
		t.Fatalf("expected identity validation to be reported, got %v", err)
	}
}

func TestAccessVerifierRejectsExpiredAssertion(t *testing.T) {
	privateKey, certsServer := newCertsServer(t)
	defer certsServer.Close()

	assertion := signAssertion(t, privateKey, jwt.MapClaims{
		"aud": []string{"mirror-app-tag"},
		"iss": certsServer.URL,
		"sub": "user-identity-id",
		"exp": time.Now().UTC().Add(-5 * time.Minute).Unix(),
		"iat": time.Now().UTC().Add(-10 * time.Minute).Unix(),
	})

	verifier := mustAccessVerifier(t, certsServer)

	if _, err := verifier.Verify(context.Background(), assertion); !errors.Is(err, ErrInvalidAccessAssertion) {
		t.Fatalf("expected invalid assertion error, got %v", err)
	}
}

func TestAccessVerifierReportsMissingHeader(t *testing.T) {
	_, certsServer := newCertsServer(t)
	defer certsServer.Close()

	verifier := mustAccessVerifier(t, certsServer)

	request := httptest.NewRequest(http.MethodGet, "/time_entries", nil)
	if _, err := verifier.ValidateRequest(request); !errors.Is(err, ErrMissingAccessAssertion) {
		t.Fatalf("expected missing assertion error, got %v", err)
	}
}

func TestAccessVerifierFetchesCertsOncePerTTL(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	fetches := 0
	certsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		writeCertsDocument(t, w, &privateKey.PublicKey)
	}))
	defer certsServer.Close()

	verifier := mustAccessVerifier(t, certsServer)

	for i := 0; i < 3; i++ {
		assertion := signAssertion(t, privateKey, jwt.MapClaims{
			"aud": []string{"mirror-app-tag"},
			"iss": certsServer.URL,
			"sub": "user-identity-id",
			"exp": time.Now().UTC().Add(5 * time.Minute).Unix(),
			"iat": time.Now().UTC().Unix(),
		})
		if _, err := verifier.Verify(context.Background(), assertion); err != nil {
			t.Fatalf("unexpected verification error: %v", err)
		}
	}

	if fetches != 1 {
		t.Fatalf("expected single certs fetch inside ttl, got %d", fetches)
	}
}

func TestNewAccessVerifierRequiresAudienceAndTeamDomain(t *testing.T) {
	_, err := NewAccessVerifier(AccessVerifierConfig{TeamDomain: "https://team.cloudflareaccess.com"})
	if !errors.Is(err, ErrInvalidAccessConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingAccessAudience.Error()) {
		t.Fatalf("expected audience validation to be reported, got %v", err)
	}

	_, err = NewAccessVerifier(AccessVerifierConfig{Audience: "mirror-app-tag", TeamDomain: "  "})
	if !errors.Is(err, ErrInvalidAccessConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingAccessTeamDomain.Error()) {
		t.Fatalf("expected team domain validation to be reported, got %v", err)
	}
}

func newCertsServer(t *testing.T) (*rsa.PrivateKey, *httptest.Server) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cdn-cgi/access/certs" {
			http.NotFound(w, r)
			return
		}
		writeCertsDocument(t, w, &privateKey.PublicKey)
	}))

	return privateKey, server
}

func writeCertsDocument(t *testing.T, w http.ResponseWriter, publicKey *rsa.PublicKey) {
	t.Helper()

	document := map[string]any{
		"keys": []any{map[string]string{
			"kty": "RSA",
			"alg": "RS256",
			"kid": "access-key",
			"n":   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
		}},
	}
	if err := json.NewEncoder(w).Encode(document); err != nil {
		t.Errorf("failed to encode certs document: %v", err)
	}
}

func signAssertion(t *testing.T, privateKey *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "access-key"
	signed, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign assertion: %v", err)
	}
	return signed
}

func mustAccessVerifier(t *testing.T, certsServer *httptest.Server) *AccessVerifier {
	t.Helper()

	verifier, err := NewAccessVerifier(AccessVerifierConfig{
		Audience:   "mirror-app-tag",
		TeamDomain: certsServer.URL,
		HTTPClient: certsServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return verifier
}
