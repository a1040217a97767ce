package casproxy

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/bardcollege/txcasproxy/internal/casconfig"
	"github.com/bardcollege/txcasproxy/internal/urlutil"
	"github.com/bardcollege/txcasproxy/internal/wsbridge"
)

// hopByHopHeaders are stripped before a request or response crosses the
// proxy boundary in either direction, per the RFC 2616 §13.5.1 list.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// reverseProxy is the default forward path: it first gives
// every ResourceInterceptor a chance to fully own the response, then
// either bridges a WebSocket upgrade or forwards the request to the
// origin through httputil.ReverseProxy, rewriting Location/Set-Cookie and
// running the content-modifier chain over the body. sessionID is ""
// for unauthenticated (excluded or logout-passthrough) traffic.
func (a *App) reverseProxy(w http.ResponseWriter, r *http.Request, sessionID string) {
	headers := r.Header.Clone()
	a.addRemoteUserHeader(headers, sessionID)

	for _, in := range a.Plugins.Interceptors {
		if in.Claims(r.URL.String(), r.Method, headers, r) {
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						a.Log.WithField("panic", rec).Error("resource interceptor panicked")
						http.Error(w, "internal error", http.StatusInternalServerError)
					}
				}()
				in.Handle(w, r.URL.String(), r.Method, headers, r)
			}()
			return
		}
	}

	if isWebSocketUpgrade(r) {
		a.bridgeWebSocket(w, r)
		return
	}

	proxy := &httputil.ReverseProxy{
		Director:       a.director(headers),
		ModifyResponse: a.modifyResponse(r),
		Transport:      a.OriginClient.Transport,
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
			status := http.StatusBadGateway
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				status = http.StatusGatewayTimeout
			}
			a.Log.WithField("err", err).Warn("origin request failed")
			rw.WriteHeader(status)
		},
	}
	proxy.ServeHTTP(w, r)
}

// addRemoteUserHeader sets the configured remote-user header to the
// session's CAS username on forwarded requests; the header name itself
// is configurable via --remote-user-header.
func (a *App) addRemoteUserHeader(headers http.Header, sessionID string) {
	headerName := a.cfg.RemoteUserHeader
	if headerName == "" || sessionID == "" {
		return
	}
	rec, ok := a.Sessions.Get(sessionID)
	if !ok {
		return
	}
	headers.Set(headerName, rec.Username)
}

// director builds the httputil.ReverseProxy Director: it points the
// request at the origin, rewrites its path under the origin's base path,
// and rewrites the header set -- Host/Origin replaced with the origin's
// network location (including for plain non-CORS requests), Content-Length
// dropped (the outbound client recomputes it), and Referer either
// rewritten or dropped entirely on any ambiguity.
func (a *App) director(headers http.Header) func(*http.Request) {
	return func(req *http.Request) {
		for k, v := range headers {
			req.Header[k] = v
		}
		stripHopByHop(req.Header)

		origin := a.cfg.Origin
		req.URL.Scheme = origin.Scheme
		req.URL.Host = origin.Netloc
		req.URL.Path = origin.BasePath + req.URL.Path
		req.Host = origin.Netloc

		req.Header.Set("Host", origin.Netloc)
		req.Header.Set("Origin", origin.Netloc)
		req.Header.Del("Content-Length")
		req.ContentLength = -1

		referers := req.Header.Values("Referer")
		req.Header.Del("Referer")
		if len(referers) == 1 {
			if rewritten, ok := urlutil.ProxyToOrigin(a.cfg.Identity, origin, referers[0]); ok {
				req.Header.Set("Referer", rewritten)
			} else {
				req.Header.Set("Referer", referers[0])
			}
		}
	}
}

// redirectStatusCodes are the statuses whose Location header gets
// rewritten; any other status's Location (if any) is left untouched.
var redirectStatusCodes = map[int]bool{
	301: true, 302: true, 303: true, 307: true, 308: true,
}

// modifyResponse rewrites an origin response's Location and Set-Cookie
// headers back into proxy space and runs the content-modifier chain over
// the body.
func (a *App) modifyResponse(r *http.Request) func(*http.Response) error {
	return func(resp *http.Response) error {
		stripHopByHop(resp.Header)

		if locs := resp.Header.Values("Location"); redirectStatusCodes[resp.StatusCode] && len(locs) == 1 {
			if rewritten, ok := urlutil.OriginToProxy(a.cfg.Identity, a.cfg.Origin, a.cfg.Identity.IsHTTPS, locs[0]); ok {
				resp.Header.Set("Location", rewritten)
			}
		}

		rewriteSetCookiePaths(resp.Header, a.cfg.Origin.BasePath)

		if len(a.Plugins.ContentModifiers) == 0 {
			return nil
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		resp.Body.Close()

		for _, cm := range a.Plugins.ContentModifiers {
			body, err = cm.Transform(body, r)
			if err != nil {
				return err
			}
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
		resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
		return nil
	}
}

// rewriteSetCookiePaths strips the origin base-path prefix from every
// Set-Cookie header's Path attribute that is the origin base path or a
// child of it, translating it into proxy space.
func rewriteSetCookiePaths(header http.Header, basePath string) {
	if basePath == "" {
		return
	}
	cookies := header.Values("Set-Cookie")
	if len(cookies) == 0 {
		return
	}
	header.Del("Set-Cookie")
	for _, raw := range cookies {
		header.Add("Set-Cookie", rewriteOneSetCookiePath(raw, basePath))
	}
}

func rewriteOneSetCookiePath(raw, basePath string) string {
	parts := strings.Split(raw, ";")
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToLower(trimmed), "path=") {
			continue
		}
		path := trimmed[len("path="):]
		if !urlutil.IsProxyPathOrChild(basePath, path) {
			continue
		}
		parts[i] = " Path=" + urlutil.StripBasePath(basePath, path)
	}
	return strings.Join(parts, ";")
}

func stripHopByHop(header http.Header) {
	for _, h := range hopByHopHeaders {
		header.Del(h)
	}
}

// isWebSocketUpgrade reports whether r is an HTTP/1.1 WebSocket upgrade
// handshake.
func isWebSocketUpgrade(r *http.Request) bool {
	return containsToken(r.Header.Get("Connection"), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func containsToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// bridgeWebSocket builds the origin's dial-out endpoint descriptor from
// the configured origin descriptor and calls wsbridge.Bridge.
func (a *App) bridgeWebSocket(w http.ResponseWriter, r *http.Request) {
	origin := a.cfg.Origin
	descriptor, err := casconfig.ParseEndpointDescriptor(
		casconfig.BuildDialDescriptor(origin.Scheme == "https", origin.Host, originPort(origin)))
	if err != nil {
		a.Log.WithField("err", err).Error("failed to build WebSocket origin descriptor")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	proxyOrigin := a.proxyWebSocketURL(r)
	originPath := origin.BasePath + r.URL.Path
	if r.URL.RawQuery != "" {
		originPath += "?" + r.URL.RawQuery
	}

	if err := wsbridge.Bridge(w, r, descriptor, a.OriginTLS, originPath, proxyOrigin); err != nil {
		a.Log.WithField("err", err).Warn("WebSocket bridge ended with error")
	}
}

// proxyWebSocketURL renders the inbound request's proxy-space URL with a
// ws/wss scheme; this is the value synthesized as the outbound Origin
// header for the bridged origin connection.
func (a *App) proxyWebSocketURL(r *http.Request) string {
	scheme := "ws"
	if a.cfg.Identity.IsHTTPS {
		scheme = "wss"
	}
	base := a.cfg.Identity.ExternalBase()
	netloc := base
	if i := strings.Index(base, "://"); i >= 0 {
		netloc = base[i+len("://"):]
	}
	url := scheme + "://" + netloc + r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}
	return url
}

func originPort(o casconfig.OriginDescriptor) int {
	if o.Port != 0 {
		return o.Port
	}
	if o.Scheme == "https" {
		return 443
	}
	return 80
}
