package urlutil

import (
	"net/url"
	"strconv"

	"github.com/bardcollege/txcasproxy/internal/casconfig"
)

// ProxyToOrigin rewrites a proxy-space absolute URL (as seen in an
// inbound Referer header) into origin-space, prefixing the origin's base
// path. It returns ok=false -- the "no rewrite" sentinel -- when rawURL's
// scheme/host/port do not match the proxy's external identity.
func ProxyToOrigin(identity casconfig.ProxyIdentity, origin casconfig.OriginDescriptor, rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}

	expectedScheme := "http"
	defaultPort := 80
	if identity.IsHTTPS {
		expectedScheme = "https"
		defaultPort = 443
	}
	if u.Scheme != expectedScheme {
		return "", false
	}
	if u.Hostname() != identity.FQDN {
		return "", false
	}

	expectedPort := identity.Port
	if expectedPort == 0 {
		expectedPort = defaultPort
	}
	actualPort := defaultPort
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return "", false
		}
		actualPort = parsed
	}
	if actualPort != expectedPort {
		return "", false
	}

	rewritten := *u
	rewritten.Scheme = origin.Scheme
	rewritten.Host = origin.Netloc
	rewritten.Path = origin.BasePath + u.Path
	return rewritten.String(), true
}

// OriginToProxy is the inverse of ProxyToOrigin, applied to an origin
// response's Location header. requestIsHTTPS selects the scheme the
// rewritten URL uses -- the scheme implied by whether the inbound
// connection was TLS. Returns ok=false when rawURL does not belong to
// the origin or falls outside its mount.
func OriginToProxy(identity casconfig.ProxyIdentity, origin casconfig.OriginDescriptor, requestIsHTTPS bool, rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != origin.Scheme || u.Host != origin.Netloc {
		return "", false
	}
	if !IsProxyPathOrChild(origin.BasePath, u.Path) {
		return "", false
	}

	scheme := "http"
	defaultPort := 80
	if requestIsHTTPS {
		scheme = "https"
		defaultPort = 443
	}
	netloc := identity.FQDN
	if identity.Port != 0 && identity.Port != defaultPort {
		netloc += ":" + strconv.Itoa(identity.Port)
	}

	rewritten := *u
	rewritten.Scheme = scheme
	rewritten.Host = netloc
	rewritten.Path = StripBasePath(origin.BasePath, u.Path)
	return rewritten.String(), true
}
