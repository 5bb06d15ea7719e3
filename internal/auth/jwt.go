package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// GoogleJWKSURL serves the keys signing Pub/Sub push OIDC tokens
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// PushIdentity is the service account a push request was signed for
type PushIdentity struct {
	Subject string
	Email   string
}

// PushVerifier checks the OIDC bearer token Pub/Sub attaches to push
// requests. Keys are cached and refreshed in the background.
type PushVerifier struct {
	jwksURL     string
	audience    string
	email       string
	cache       *jwk.Cache
	keySet      jwk.Set
	keySetMutex sync.RWMutex
	lastFetch   time.Time
	refreshTTL  time.Duration
}

// NewPushVerifier creates a verifier backed by the JWKS at jwksURL.
// email, when set, must match the token's email claim.
func NewPushVerifier(ctx context.Context, jwksURL, audience, email string) (*PushVerifier, error) {
	v := &PushVerifier{
		jwksURL:    jwksURL,
		audience:   audience,
		email:      email,
		refreshTTL: 15 * time.Minute,
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(v.refreshTTL)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	v.cache = cache

	// Do initial fetch to warm up the cache
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	keySet, err := v.fetchKeySet(fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("failed initial JWKS fetch: %w", err)
	}
	v.keySet = keySet
	v.lastFetch = time.Now()

	go v.backgroundRefresh(ctx)

	return v, nil
}

// NewStaticPushVerifier verifies against a fixed key set
func NewStaticPushVerifier(keySet jwk.Set, audience, email string) *PushVerifier {
	return &PushVerifier{keySet: keySet, audience: audience, email: email, lastFetch: time.Now()}
}

func (v *PushVerifier) fetchKeySet(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

func (v *PushVerifier) backgroundRefresh(ctx context.Context) {
	ticker := time.NewTicker(v.refreshTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		keySet, err := v.fetchKeySet(fetchCtx)
		cancel()

		// keep the previous keys until the next tick on failure
		if err == nil {
			v.keySetMutex.Lock()
			v.keySet = keySet
			v.lastFetch = time.Now()
			v.keySetMutex.Unlock()
		}
	}
}

func (v *PushVerifier) getKeySet() jwk.Set {
	v.keySetMutex.RLock()
	defer v.keySetMutex.RUnlock()
	return v.keySet
}

// VerifyRequest validates the bearer token of a push request
func (v *PushVerifier) VerifyRequest(r *http.Request) (*PushIdentity, error) {
	opts := []jwt.ParseOption{
		jwt.WithKeySet(v.getKeySet()),
		jwt.WithValidate(true),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseRequest(r, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	if !validIssuer(token.Issuer()) {
		return nil, fmt.Errorf("unexpected token issuer %q", token.Issuer())
	}

	var email string
	if emailClaim, ok := token.Get("email"); ok {
		email, _ = emailClaim.(string)
	}
	if v.email != "" && email != v.email {
		return nil, fmt.Errorf("token email %q is not allowed", email)
	}

	return &PushIdentity{Subject: token.Subject(), Email: email}, nil
}

func validIssuer(iss string) bool {
	for _, i := range googleIssuers {
		if iss == i {
			return true
		}
	}
	return false
}
