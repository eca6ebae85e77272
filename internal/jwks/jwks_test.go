package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu      sync.Mutex
	keys    map[string]*rsa.PrivateKey
	fetches atomic.Int64

	srv *httptest.Server
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{keys: map[string]*rsa.PrivateKey{}}

	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.fetches.Add(1)

		p.mu.Lock()
		defer p.mu.Unlock()

		type jwk struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		}

		doc := struct {
			Keys []jwk `json:"keys"`
		}{}

		for kid, key := range p.keys {
			pub := key.Public().(*rsa.PublicKey)
			doc.Keys = append(doc.Keys, jwk{
				Kty: "RSA",
				Kid: kid,
				Use: "sig",
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(doc))
	}))
	t.Cleanup(p.srv.Close)

	return p
}

func (p *fakeProvider) addKey(t *testing.T, kid string) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p.mu.Lock()
	p.keys[kid] = key
	p.mu.Unlock()

	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.RegisteredClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	require.NoError(t, err)

	return signed
}

func futureClaims(subject string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		provider := newFakeProvider(t)
		key := provider.addKey(t, "kid-1")
		verifier := NewVerifier(Config{Endpoint: provider.srv.URL})

		subject, err := verifier.Verify(ctx, signToken(t, key, "kid-1", futureClaims("user-1")))
		require.NoError(t, err)
		assert.Equal(t, "user-1", subject)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		provider := newFakeProvider(t)
		provider.addKey(t, "kid-1")
		verifier := NewVerifier(Config{Endpoint: provider.srv.URL})

		rogue, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, signToken(t, rogue, "kid-1", futureClaims("user-1")))
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		provider := newFakeProvider(t)
		key := provider.addKey(t, "kid-1")
		verifier := NewVerifier(Config{Endpoint: provider.srv.URL})

		_, err := verifier.Verify(ctx, signToken(t, key, "kid-1", jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}))
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		provider := newFakeProvider(t)
		key := provider.addKey(t, "kid-1")
		verifier := NewVerifier(Config{Endpoint: provider.srv.URL})

		_, err := verifier.Verify(ctx, signToken(t, key, "kid-1", jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}))
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		provider := newFakeProvider(t)
		key := provider.addKey(t, "kid-1")
		verifier := NewVerifier(Config{Endpoint: provider.srv.URL, Issuer: "https://issuer.example"})

		_, err := verifier.Verify(ctx, signToken(t, key, "kid-1", futureClaims("user-1")))
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown key id", func(t *testing.T) {
		provider := newFakeProvider(t)
		key := provider.addKey(t, "kid-1")
		verifier := NewVerifier(Config{Endpoint: provider.srv.URL})

		_, err := verifier.Verify(ctx, signToken(t, key, "kid-missing", futureClaims("user-1")))
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestVerifyKeyRotation(t *testing.T) {
	ctx := context.Background()

	provider := newFakeProvider(t)
	oldKey := provider.addKey(t, "kid-old")
	verifier := NewVerifier(Config{Endpoint: provider.srv.URL})

	_, err := verifier.Verify(ctx, signToken(t, oldKey, "kid-old", futureClaims("user-1")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), provider.fetches.Load())

	// A token signed by an unseen key forces an early refresh.
	newKey := provider.addKey(t, "kid-new")

	subject, err := verifier.Verify(ctx, signToken(t, newKey, "kid-new", futureClaims("user-2")))
	require.NoError(t, err)
	assert.Equal(t, "user-2", subject)
	assert.Equal(t, int64(2), provider.fetches.Load())

	// Cached keys serve later verifications without another fetch.
	_, err = verifier.Verify(ctx, signToken(t, oldKey, "kid-old", futureClaims("user-1")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), provider.fetches.Load())
}

func TestVerifyRefetchCooldown(t *testing.T) {
	ctx := context.Background()

	provider := newFakeProvider(t)
	key := provider.addKey(t, "kid-1")
	verifier := NewVerifier(Config{Endpoint: provider.srv.URL})

	_, err := verifier.Verify(ctx, signToken(t, key, "kid-1", futureClaims("user-1")))
	require.NoError(t, err)
	require.Equal(t, int64(1), provider.fetches.Load())

	// The first unseen key id triggers one early refresh.
	_, err = verifier.Verify(ctx, signToken(t, key, "kid-forged", futureClaims("user-1")))
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, int64(2), provider.fetches.Load())

	// Forged key ids inside the cooldown window are rejected from the
	// cached set without touching the provider again.
	for i := 0; i < 5; i++ {
		_, err = verifier.Verify(ctx, signToken(t, key, "kid-forged", futureClaims("user-1")))
		require.ErrorIs(t, err, ErrInvalidToken)
	}

	assert.Equal(t, int64(2), provider.fetches.Load())

	subject, err := verifier.Verify(ctx, signToken(t, key, "kid-1", futureClaims("user-2")))
	require.NoError(t, err)
	assert.Equal(t, "user-2", subject)
}

func TestVerifyProviderDown(t *testing.T) {
	provider := newFakeProvider(t)
	key := provider.addKey(t, "kid-1")
	verifier := NewVerifier(Config{Endpoint: provider.srv.URL, HTTPTimeout: time.Second})

	provider.srv.Close()

	// Infrastructure failure must be distinguishable from a bad token.
	_, err := verifier.Verify(context.Background(), signToken(t, key, "kid-1", futureClaims("user-1")))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyBearer(t *testing.T) {
	ctx := context.Background()

	provider := newFakeProvider(t)
	key := provider.addKey(t, "kid-1")
	verifier := NewVerifier(Config{Endpoint: provider.srv.URL})

	t.Run("bearer scheme", func(t *testing.T) {
		subject, err := verifier.VerifyBearer(ctx, "Bearer "+signToken(t, key, "kid-1", futureClaims("user-1")))
		require.NoError(t, err)
		assert.Equal(t, "user-1", subject)
	})

	t.Run("other scheme rejected", func(t *testing.T) {
		_, err := verifier.VerifyBearer(ctx, "Basic dXNlcjpwYXNz")
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}
