package caches

import (
	"fmt"
	"net/http"
)

// RegionPrefix namespaces the cache regions owned by this module so that
// PurgeStale never touches regions belonging to anything else sharing the
// same store.
const RegionPrefix = "offline-cache"

// RegionName returns the region holding entries for a cache version.
func RegionName(version string) string {
	return RegionPrefix + "-" + version
}

// Key derives the cache key for a request: method plus target URI, the
// minimum composition RFC 9111 prescribes for a cache key.
func Key(r http.Request) string {
	return fmt.Sprintf("%s#%s", r.Method, r.URL.String())
}
