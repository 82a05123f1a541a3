package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces all cache keys in Redis.
const KeyPrefix = "ndb"

// excludedParams never become part of a cache key.
var excludedParams = map[string]bool{
	"api_key": true,
	"format":  true,
}

// Key identifies a cached NDB response.
type Key struct {
	// Path is the endpoint path relative to the API base (e.g. "list", "V2/reports")
	Path string

	// Params are the query parameters of the request
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: ndb:path:param1=val1:param2=val2a,val2b
//
// Names and values are query-escaped, so a ':', '=' or ',' inside a
// free-text value cannot be mistaken for a separator.
//
// Example:
//
//	ndb:list:lt=f:max=50:offset=0:sort=n
func (k Key) String() string {
	parts := []string{KeyPrefix}

	path := strings.Trim(k.Path, "/")
	if path != "" {
		parts = append(parts, path)
	}

	// Query params sorted for determinism; repeated params keep their order
	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			if excludedParams[name] {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := make([]string, len(k.Params[name]))
			for i, v := range k.Params[name] {
				values[i] = url.QueryEscape(v)
			}
			parts = append(parts, url.QueryEscape(name)+"="+strings.Join(values, ","))
		}
	}

	return strings.Join(parts, ":")
}
