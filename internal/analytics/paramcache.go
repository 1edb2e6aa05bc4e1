package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"futures-agent/pkg/types"
)

// ParamCache memoizes analytic results per tool, keyed by a stable hash
// of the normalized arguments. Entries expire on their own TTL.
type ParamCache struct {
	mu      sync.Mutex
	entries map[string]paramEntry
}

type paramEntry struct {
	result  types.Result
	expires time.Time
}

func NewParamCache() *ParamCache {
	return &ParamCache{entries: make(map[string]paramEntry)}
}

// CacheKey hashes the arguments with sorted keys so field order in the
// caller's struct never changes the key.
func CacheKey(tool string, args any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return tool + ":unhashable"
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		sum := sha256.Sum256(raw)
		return tool + ":" + hex.EncodeToString(sum[:])[:16]
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write(m[k])
		h.Write([]byte{';'})
	}
	return tool + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Get returns the cached result with the cache-hit flag set, or ok=false
// when missing or expired.
func (c *ParamCache) Get(key string) (types.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		delete(c.entries, key)
		return types.Result{}, false
	}
	res := e.result
	hit := true
	res.CacheHit = &hit
	return res, true
}

// Put stores a successful result for ttl. Failures are never cached.
func (c *ParamCache) Put(key string, res types.Result, ttl time.Duration) {
	if !res.Success || ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = paramEntry{result: res, expires: time.Now().Add(ttl)}
}
