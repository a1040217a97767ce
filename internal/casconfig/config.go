// Package casconfig holds the immutable, startup-only configuration types:
// CAS server configuration, proxy identity, and the origin descriptor.
// None of these change after the process starts listening.
package casconfig

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CASInfo is the immutable CAS server configuration.
type CASInfo struct {
	LoginURL           string
	ServiceValidateURL string
	LogoutURL          string // optional
}

// ProxyIdentity is the external identity the proxy presents to CAS and to
// the user-agent.
type ProxyIdentity struct {
	FQDN    string
	Port    int
	IsHTTPS bool
}

// ExternalBase returns the scheme://fqdn[:port] prefix used to build the
// CAS service URL, omitting the port when it is the scheme's default.
func (p ProxyIdentity) ExternalBase() string {
	scheme := "http"
	defaultPort := 80
	if p.IsHTTPS {
		scheme = "https"
		defaultPort = 443
	}
	if p.Port == 0 || p.Port == defaultPort {
		return scheme + "://" + p.FQDN
	}
	return scheme + "://" + p.FQDN + ":" + strconv.Itoa(p.Port)
}

// OriginDescriptor is the parsed form of the --proxied-url flag: the
// origin's scheme, network location, bare host, and base path ("mount
// prefix") that cookies and links get rewritten under.
type OriginDescriptor struct {
	Scheme   string
	Netloc   string // host[:port]
	Host     string // host only
	Port     int    // 0 if not explicit
	BasePath string // "" or "/app", never trailing-slash
}

// ParseOriginDescriptor splits an origin base URL (e.g.
// "https://o.internal/app") into its descriptor form.
func ParseOriginDescriptor(rawURL string) (OriginDescriptor, error) {
	rawURL = strings.TrimSuffix(rawURL, "/")
	u, err := url.Parse(rawURL)
	if err != nil {
		return OriginDescriptor{}, errors.Wrapf(err, "failed to parse proxied URL %q", rawURL)
	}
	host := u.Hostname()
	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return OriginDescriptor{}, errors.Wrapf(err, "invalid port in proxied URL %q", rawURL)
		}
	}
	return OriginDescriptor{
		Scheme:   u.Scheme,
		Netloc:   u.Host,
		Host:     host,
		Port:     port,
		BasePath: u.Path,
	}, nil
}

// BaseURL reconstitutes the scheme://netloc origin URL, without the base path.
func (o OriginDescriptor) BaseURL() string {
	return o.Scheme + "://" + o.Netloc
}
