package cache

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/effective-security/sdragent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "cache")

const (
	// DefaultTTL is used when Set is called with a non-positive TTL
	DefaultTTL = time.Hour
	// DefaultSweepInterval is the period of the background sweep
	DefaultSweepInterval = 10 * time.Minute
)

// Stats describes the live content of the cache.
type Stats struct {
	Size int      `json:"size" yaml:"size"`
	Keys []string `json:"keys" yaml:"keys"`
}

// Cache is a TTL key/value store used to memoize expensive tool results.
// An expired entry is never returned, whether or not it has been swept.
type Cache interface {
	// Set stores the value for the TTL duration.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Get returns the value, or false if the key is absent or expired.
	Get(ctx context.Context, key string) (any, bool)
	// Invalidate removes the key.
	Invalidate(ctx context.Context, key string) error
	// InvalidatePattern removes all keys matching the pattern,
	// and returns the number of removed keys.
	InvalidatePattern(ctx context.Context, pattern *regexp.Regexp) (int, error)
	// Clear removes all keys.
	Clear(ctx context.Context) error
	// Stats returns the number and the names of live keys.
	Stats(ctx context.Context) (*Stats, error)
}

// Entry is a cached value.
type Entry struct {
	Key       string
	Value     any
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired returns true if the entry is older than its TTL at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// Minutes converts the TTL in minutes to duration.
func Minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// Key returns a stable key in the namespace for the given parts,
// for example Key("analyze_profile", "instagram", "nandamac").
func Key(namespace string, parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	return namespace + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// Memoize returns the cached string value for the key,
// or calls fn and caches its result for the TTL.
// Errors returned by fn are not cached.
func Memoize(ctx context.Context, c Cache, key string, ttl time.Duration, fn func(context.Context) (string, error)) (string, error) {
	ns, _, _ := strings.Cut(key, ":")
	if c != nil {
		if v, ok := c.Get(ctx, key); ok {
			if s, ok := v.(string); ok {
				metricskey.StatsCacheHits.IncrCounter(1, ns)
				return s, nil
			}
		}
	}
	metricskey.StatsCacheMisses.IncrCounter(1, ns)

	res, err := fn(ctx)
	if err != nil {
		return "", err
	}

	if c != nil {
		if err := c.Set(ctx, key, res, ttl); err != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "memoize", "key", key, "err", err.Error())
		}
	}
	return res, nil
}
