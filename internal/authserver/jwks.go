package authserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ava-platform/ava-core/pkg/auth"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// jwksCacheControl lets clients and proxies keep the key set for an hour.
const jwksCacheControl = "public, max-age=3600"

// jwksBuildTimeout bounds one rebuild of the document, which may load the
// key pair from Redis.
const jwksBuildTimeout = 10 * time.Second

// jwksDocument caches the encoded key set.
type jwksDocument struct {
	keys KeySet
	ttl  time.Duration
	now  func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	body    []byte
	expires time.Time
}

func newJWKSDocument(keys KeySet, ttl time.Duration) *jwksDocument {
	return &jwksDocument{keys: keys, ttl: ttl, now: time.Now}
}

func (d *jwksDocument) get(ctx context.Context) ([]byte, error) {
	d.mu.RLock()
	body, expires := d.body, d.expires
	d.mu.RUnlock()
	if body != nil && d.now().Before(expires) {
		return body, nil
	}

	// The rebuild is shared by every waiting request, so it must not end
	// when the request that started it goes away.
	v, err, _ := d.group.Do("jwks", func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jwksBuildTimeout)
		defer cancel()

		set, err := d.keys.JWKS(buildCtx)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(set)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternal, "authserver: failed to encode key set")
		}
		d.mu.Lock()
		d.body = body
		d.expires = d.now().Add(d.ttl)
		d.mu.Unlock()
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (d *jwksDocument) invalidate() {
	d.mu.Lock()
	d.body = nil
	d.expires = time.Time{}
	d.mu.Unlock()
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	body, err := s.jwks.get(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "authserver: failed to generate JWKS",
			"correlation_id", auth.CorrelationIDFromContext(r.Context()),
			"error", err,
		)
		auth.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to generate JWKS"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", jwksCacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
