package outreach

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"
)

// DefaultFooterTTL bounds how long a tenant footer is served from cache.
const DefaultFooterTTL = 10 * time.Minute

// FooterLoader fetches the compliance footer for a tenant.
type FooterLoader interface {
	LoadFooter(ctx context.Context, tenant string) (string, error)
}

// StaticFooters serves footers from configuration. A tenant without an
// entry falls back to the "default" key.
type StaticFooters map[string]string

// LoadFooter implements FooterLoader.
func (s StaticFooters) LoadFooter(_ context.Context, tenant string) (string, error) {
	if f, ok := s[tenant]; ok {
		return f, nil
	}
	return s["default"], nil
}

type footerEntry struct {
	text    string
	expires time.Time
}

// FooterCache caches footers per tenant for a fixed TTL. Concurrent misses
// for one tenant share a single load.
type FooterCache struct {
	loader FooterLoader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]footerEntry
	group   singleflight.Group
}

// NewFooterCache creates a cache over loader. ttl <= 0 uses DefaultFooterTTL.
func NewFooterCache(loader FooterLoader, ttl time.Duration) *FooterCache {
	if ttl <= 0 {
		ttl = DefaultFooterTTL
	}
	return &FooterCache{
		loader:  loader,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]footerEntry),
	}
}

// Get returns the tenant's footer, loading it when absent or expired.
func (c *FooterCache) Get(ctx context.Context, tenant string) (string, error) {
	c.mu.Lock()
	e, ok := c.entries[tenant]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.text, nil
	}

	v, err, _ := c.group.Do(tenant, func() (any, error) {
		text, err := c.loader.LoadFooter(ctx, tenant)
		if err != nil {
			return "", eris.Wrapf(err, "outreach: load footer for tenant %s", tenant)
		}
		c.mu.Lock()
		c.entries[tenant] = footerEntry{text: text, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached footer for tenant.
func (c *FooterCache) Invalidate(tenant string) {
	c.mu.Lock()
	delete(c.entries, tenant)
	c.mu.Unlock()
}

// AppendFooter adds footer to body unless body already contains it,
// compared case-insensitively.
func AppendFooter(body, footer string) string {
	footer = strings.TrimSpace(footer)
	if footer == "" {
		return body
	}
	if strings.Contains(strings.ToLower(body), strings.ToLower(footer)) {
		return body
	}
	return strings.TrimRight(body, "\n ") + "\n\n" + footer
}
