// Package transport builds the two outbound HTTP clients the proxy uses:
// one bound to the origin application, one bound to the CAS server. Each
// gets its own connection pool so that outbound CAS and origin traffic
// never share a pool with each other or with user-facing inbound
// connections, and so that origin failures can never starve CAS
// validation traffic or vice versa. Each client can optionally be
// re-pointed at a caller-supplied dial endpoint regardless of the
// request's URL host.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/bardcollege/txcasproxy/internal/casconfig"
)

// Options configures a pooled client.
type Options struct {
	TLSConfig *tls.Config
	// MaxConnsPerHost bounds the connection pool; 0 means the
	// net/http default.
	MaxConnsPerHost int
	// BoundEndpoint, when non-nil, forces every dial made by this
	// client to the given endpoint regardless of the request's URL host.
	BoundEndpoint *casconfig.EndpointDescriptor
	// FollowRedirects controls whether the client follows 3xx
	// responses itself. The origin client always disables this (the
	// proxy surfaces redirects itself); the CAS client leaves the
	// default (following) since serviceValidate never redirects.
	FollowRedirects bool
}

// New builds a client per Options, with its own connection pool that
// never leaks into any other client built by this package.
func New(opts Options) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	dialContext := dialer.DialContext
	if opts.BoundEndpoint != nil {
		addr := opts.BoundEndpoint.Address()
		dialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		}
	}

	transport := &http.Transport{
		DialContext:           dialContext,
		TLSClientConfig:       opts.TLSConfig,
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		MaxIdleConnsPerHost:   maxIdlePerHost(opts.MaxConnsPerHost),
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{Transport: transport}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

func maxIdlePerHost(max int) int {
	if max <= 0 {
		return 16
	}
	return max
}

// NewOriginClient builds the client used for all traffic forwarded to the
// protected origin application. Redirects are never followed -- the
// proxy rewrites and surfaces them itself.
func NewOriginClient(tlsConfig *tls.Config, bound *casconfig.EndpointDescriptor) *http.Client {
	return New(Options{
		TLSConfig:       tlsConfig,
		MaxConnsPerHost: 64,
		BoundEndpoint:   bound,
		FollowRedirects: false,
	})
}

// NewCASClient builds the client used for backchannel calls to the CAS
// server (/serviceValidate).
func NewCASClient(tlsConfig *tls.Config, bound *casconfig.EndpointDescriptor) *http.Client {
	return New(Options{
		TLSConfig:       tlsConfig,
		MaxConnsPerHost: 16,
		BoundEndpoint:   bound,
		FollowRedirects: true,
	})
}
