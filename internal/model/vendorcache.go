package model

import (
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/netsentinel/netsentinel/internal/oui"
)

// vendorCache memoizes OUI-prefix-to-vendor-name lookups in front of the
// embedded oui table, since device creation sits on the per-frame hot
// path and a full table lookup is needless work for a prefix seen
// repeatedly. Grounded on the teacher's controller/server.go ipCache
// (patrickmn/go-cache used for a different hot-path lookup, same
// library and the same "memoize a cheap-but-repeated computation" shape).
type vendorCache struct {
	c *cache.Cache
}

// newVendorCache builds a cache with no expiration: OUI assignments are
// effectively static for the process lifetime.
func newVendorCache() *vendorCache {
	return &vendorCache{c: cache.New(cache.NoExpiration, time.Hour)}
}

func (v *vendorCache) lookup(prefix [3]byte) string {
	key := hex.EncodeToString(prefix[:])
	if cached, ok := v.c.Get(key); ok {
		return cached.(string)
	}
	vendor := oui.Vendor(prefix)
	v.c.SetDefault(key, vendor)
	return vendor
}
