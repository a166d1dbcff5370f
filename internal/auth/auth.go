package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	PermissionWidgetsRead  = "widgets:read"
	PermissionWidgetsWrite = "widgets:write"
)

var ErrKeyNotFound = errors.New("auth: signing key not found")

// Principal is the caller behind a verified bearer token.
type Principal struct {
	Subject     string
	Permissions []string
	Email       string
}

func (p *Principal) HasAll(required []string) bool {
	for _, r := range required {
		if !slices.Contains(p.Permissions, r) {
			return false
		}
	}
	return true
}

type Config struct {
	JWKSUrl      string
	Issuer       string
	Audience     string
	JWKSCacheTTL int
}

type cachedJWKS struct {
	set       jwk.Set
	expiresAt time.Time
}

type JWKSClient struct {
	url        string
	cacheTTL   time.Duration
	httpClient *http.Client

	mu    sync.RWMutex
	cache *cachedJWKS
}

func NewJWKSClient(url string, cacheTTLSeconds int) *JWKSClient {
	ttl := time.Duration(cacheTTLSeconds) * time.Second
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	return &JWKSClient{
		url:        url,
		cacheTTL:   ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetKeySet returns the cached key set, refreshing it once expired. A failed
// refresh keeps serving the previous set.
func (c *JWKSClient) GetKeySet(ctx context.Context) (jwk.Set, error) {
	c.mu.RLock()
	if c.cache != nil && time.Now().Before(c.cache.expiresAt) {
		set := c.cache.set
		c.mu.RUnlock()
		return set, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache != nil && time.Now().Before(c.cache.expiresAt) {
		return c.cache.set, nil
	}

	set, err := c.fetch(ctx)
	if err != nil {
		if c.cache != nil {
			return c.cache.set, nil
		}
		return nil, err
	}

	c.cache = &cachedJWKS{
		set:       set,
		expiresAt: time.Now().Add(c.cacheTTL),
	}
	return set, nil
}

func (c *JWKSClient) fetch(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	set, err := jwk.ParseReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	return set, nil
}

type claims struct {
	jwt.RegisteredClaims
	Permissions []string `json:"permissions"`
	Email       string   `json:"email,omitempty"`
}

// Verifier checks RS-signed bearer tokens against a JWKS endpoint.
type Verifier struct {
	keys   *JWKSClient
	parser *jwt.Parser
}

func NewVerifier(keys *JWKSClient, cfg Config) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{keys: keys, parser: jwt.NewParser(opts...)}
}

func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	var cl claims
	_, err := v.parser.ParseWithClaims(tokenString, &cl, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token missing kid in header")
		}
		return v.publicKey(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	if cl.Subject == "" {
		return nil, fmt.Errorf("token missing sub claim")
	}

	return &Principal{
		Subject:     cl.Subject,
		Permissions: cl.Permissions,
		Email:       cl.Email,
	}, nil
}

func (v *Verifier) publicKey(ctx context.Context, kid string) (interface{}, error) {
	set, err := v.keys.GetKeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	key, found := set.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}

	var publicKey interface{}
	if err := key.Raw(&publicKey); err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	return publicKey, nil
}
