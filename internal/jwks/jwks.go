// Package jwks verifies bearer tokens against a remote JSON Web Key
// Set. Parsed keys are held in process memory only; they must never be
// shared through redis.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openconf/authhub/internal/log"
	"github.com/openconf/authhub/internal/pkg/httpclient"
	"github.com/openconf/authhub/internal/pkg/xcache"
)

// ErrInvalidToken marks verification failures caused by the token
// itself. Anything else is an infrastructure failure and must not be
// reported as an authentication failure.
var ErrInvalidToken = errors.New("invalid token")

const keysCacheKey = "keys"

type keySet map[string]*rsa.PublicKey

type document struct {
	Keys []key `json:"keys"`
}

type key struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k key) publicKey() (*rsa.PublicKey, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}

	exponentBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	exponent := 0
	for _, b := range exponentBytes {
		exponent = exponent<<8 | int(b)
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: exponent}, nil
}

// Verifier validates RS256 bearer tokens and extracts the subject.
type Verifier struct {
	cfg    Config
	client *httpclient.Client
	parser *jwt.Parser
	keys   xcache.Memory[keySet]

	mu          sync.Mutex
	lastRefetch time.Time
}

func NewVerifier(cfg Config) *Verifier {
	cfg = cfg.withDefaults()

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	}

	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Verifier{
		cfg:    cfg,
		client: httpclient.New(cfg.HTTPTimeout),
		parser: jwt.NewParser(opts...),
		keys:   xcache.NewMemoryWithOptions[keySet](cfg.RefreshInterval, 10*time.Minute),
	}
}

// VerifyBearer strips the Bearer scheme and verifies the token.
func (v *Verifier) VerifyBearer(ctx context.Context, authorization string) (string, error) {
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok {
		return "", fmt.Errorf("%w: authorization header is not a bearer token", ErrInvalidToken)
	}

	return v.Verify(ctx, strings.TrimSpace(token))
}

// Verify checks the token signature and registered claims and returns
// the subject. Token defects wrap ErrInvalidToken; key-set fetch
// failures do not.
func (v *Verifier) Verify(ctx context.Context, token string) (string, error) {
	var fetchErr error

	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no key id")
		}

		keys, err := v.keySet(ctx, false)
		if err != nil {
			fetchErr = err
			return nil, err
		}

		if pub, ok := keys[kid]; ok {
			return pub, nil
		}

		// Unknown kid usually means the provider rotated its keys since
		// the last fetch.
		keys, refreshed, err := v.refreshKeySet(ctx)
		if err != nil {
			fetchErr = err
			return nil, err
		}

		if refreshed {
			if pub, ok := keys[kid]; ok {
				return pub, nil
			}
		}

		return nil, fmt.Errorf("unknown key id %q", kid)
	}

	claims := &jwt.RegisteredClaims{}

	if _, err := v.parser.ParseWithClaims(token, claims, keyfunc); err != nil {
		if fetchErr != nil {
			return "", fetchErr
		}

		return "", fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return claims.Subject, nil
}

// refreshKeySet fetches the document early at most once per cooldown
// window, so a stream of forged key ids cannot hammer the provider.
func (v *Verifier) refreshKeySet(ctx context.Context) (keySet, bool, error) {
	v.mu.Lock()

	if time.Since(v.lastRefetch) < v.cfg.RefetchCooldown {
		v.mu.Unlock()
		return nil, false, nil
	}

	v.lastRefetch = time.Now()
	v.mu.Unlock()

	keys, err := v.keySet(ctx, true)

	return keys, true, err
}

func (v *Verifier) keySet(ctx context.Context, refetch bool) (keySet, error) {
	if !refetch {
		if keys, err := v.keys.Get(ctx, keysCacheKey); err == nil && keys != nil {
			return keys, nil
		}
	}

	var doc document

	if err := v.client.GetJSON(ctx, v.cfg.Endpoint, &doc); err != nil {
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}

	keys := make(keySet, len(doc.Keys))

	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}

		pub, err := k.publicKey()
		if err != nil {
			log.Warn(ctx, "jwks: skipping unparsable key", log.String("kid", k.Kid), log.Cause(err))
			continue
		}

		keys[k.Kid] = pub
	}

	if err := v.keys.Set(ctx, keysCacheKey, keys); err != nil {
		log.Warn(ctx, "jwks: failed to cache key set", log.Cause(err))
	}

	return keys, nil
}
