package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
	"github.com/ava-platform/ava-core/pkg/keys"
)

// maxJWKSBodySize bounds the key set response (1 MB).
const maxJWKSBodySize = 1 << 20

// newJWKSHTTPClient returns the default key set client. Connection errors
// and 5xx answers are retried; the whole attempt sequence stays within
// cfg.JWKSTimeout because the fetch context carries that deadline.
func newJWKSHTTPClient(cfg ValidatorConfig) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.JWKSRetries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = slog.Default()
	rc.HTTPClient.Timeout = cfg.JWKSTimeout
	return rc.StandardClient()
}

// jwksCache holds the key set of a single issuer. Entries live for ttl. A
// kid that is not in a fresh set triggers a refetch, at most once per
// minRefresh. Concurrent fetches are collapsed into one request. Failed
// fetches are never cached.
type jwksCache struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	timeout    time.Duration
	client     HTTPClient
	tracer     trace.Tracer
	now        func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	first     *rsa.PublicKey
	fetchedAt time.Time
}

func newJWKSCache(cfg ValidatorConfig, client HTTPClient) *jwksCache {
	return &jwksCache{
		url:        cfg.JWKSURL,
		ttl:        cfg.JWKSCacheTTL,
		minRefresh: cfg.JWKSMinRefreshInterval,
		timeout:    cfg.JWKSTimeout,
		client:     client,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
}

// lookup returns the key for kid. An empty kid selects the first key of the
// published set.
func (c *jwksCache) lookup(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	age := c.now().Sub(c.fetchedAt)
	fresh := !c.fetchedAt.IsZero() && age < c.ttl
	key, found := c.pickLocked(kid)
	c.mu.RUnlock()

	if fresh && found {
		return key, nil
	}
	if fresh && age < c.minRefresh {
		return nil, errKeyNotFound(kid)
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	key, found = c.pickLocked(kid)
	c.mu.RUnlock()
	if !found {
		return nil, errKeyNotFound(kid)
	}
	return key, nil
}

func (c *jwksCache) pickLocked(kid string) (*rsa.PublicKey, bool) {
	if kid == "" {
		return c.first, c.first != nil
	}
	key, ok := c.keys[kid]
	return key, ok
}

func (c *jwksCache) invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// refresh fetches the key set once for all concurrent callers. The fetch
// runs detached from the caller's cancellation and bounded by timeout, so
// one abandoned request does not fail the others waiting on it.
func (c *jwksCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do(c.url, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		set, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		byKID, err := set.RSAPublicKeys()
		if err != nil {
			return nil, err
		}
		var first *rsa.PublicKey
		for _, k := range set.Keys {
			if pub, ok := byKID[k.Kid]; ok {
				first = pub
				break
			}
		}

		c.mu.Lock()
		c.keys = byKID
		c.first = first
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return sserr.Wrap(err, sserr.CodeAuthenticationUnavailable, "auth: token validation unavailable")
	}
	return nil
}

func (c *jwksCache) fetch(ctx context.Context) (_ *keys.JWKSet, err error) {
	ctx, span := c.tracer.Start(ctx, "auth.FetchJWKS",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", c.url)))
	defer func() {
		finishSpan(span, err)
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read JWKS response: %w", err)
	}
	if len(body) > maxJWKSBodySize {
		return nil, fmt.Errorf("auth: JWKS response exceeds %d bytes", maxJWKSBodySize)
	}

	var set keys.JWKSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("auth: failed to parse JWKS JSON: %w", err)
	}
	span.SetAttributes(attribute.Int("auth.jwks.keys", len(set.Keys)))
	return &set, nil
}
