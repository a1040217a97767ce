// Package urlutil implements the path algebra and proxy<->origin URL
// rewriting: cookie-path containment, logout glob matching, and the two
// rewrite directions applied to Referer (inbound) and Location (outbound).
package urlutil

import "strings"

// IsProxyPathOrChild reports whether candidate equals base or is a path
// child of base ("base/..."), the containment test used for cookie Path
// rewriting and excluded-branch matching.
func IsProxyPathOrChild(base, candidate string) bool {
	if base == "" {
		return true
	}
	if candidate == base {
		return true
	}
	return strings.HasPrefix(candidate, base+"/")
}

// StripBasePath removes a base-path prefix a candidate satisfies
// IsProxyPathOrChild against, returning "/" for an exact match (an empty
// remainder is never a valid URL path).
func StripBasePath(base, candidate string) string {
	if base == "" {
		return candidate
	}
	rest := strings.TrimPrefix(candidate, base)
	if rest == "" {
		return "/"
	}
	return rest
}
