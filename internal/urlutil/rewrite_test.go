package urlutil

import (
	"testing"

	"github.com/bardcollege/txcasproxy/internal/casconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity() casconfig.ProxyIdentity {
	return casconfig.ProxyIdentity{FQDN: "p.example", Port: 443, IsHTTPS: true}
}

func testOrigin() casconfig.OriginDescriptor {
	return casconfig.OriginDescriptor{Scheme: "https", Netloc: "o.internal", BasePath: "/app"}
}

func TestProxyToOriginRewritesMatchingURL(t *testing.T) {
	got, ok := ProxyToOrigin(testIdentity(), testOrigin(), "https://p.example/page?x=1")
	require.True(t, ok)
	assert.Equal(t, "https://o.internal/app/page?x=1", got)
}

func TestProxyToOriginDeclinesNonMatchingHost(t *testing.T) {
	_, ok := ProxyToOrigin(testIdentity(), testOrigin(), "https://evil.example/page")
	assert.False(t, ok)
}

func TestOriginToProxyRoundTripsWithinMount(t *testing.T) {
	identity := testIdentity()
	origin := testOrigin()

	proxyURL := "https://p.example/next"
	originURL, ok := ProxyToOrigin(identity, origin, proxyURL)
	require.True(t, ok)

	back, ok := OriginToProxy(identity, origin, true, originURL)
	require.True(t, ok)
	assert.Equal(t, proxyURL, back)
}

func TestOriginToProxyDeclinesOutsideMount(t *testing.T) {
	_, ok := OriginToProxy(testIdentity(), testOrigin(), true, "https://o.internal/other/next")
	assert.False(t, ok)
}

func TestOriginToProxyOmitsDefaultPort(t *testing.T) {
	identity := casconfig.ProxyIdentity{FQDN: "p.example", Port: 443, IsHTTPS: true}
	origin := casconfig.OriginDescriptor{Scheme: "https", Netloc: "o.internal", BasePath: "/app"}
	got, ok := OriginToProxy(identity, origin, true, "https://o.internal/app/next")
	require.True(t, ok)
	assert.Equal(t, "https://p.example/next", got)
}
