// Package casproxy is the core authenticating-proxy engine: the request
// classifier/dispatcher, the reverse-proxy rewrite pipeline, and the
// glue that ties the CAS protocol handler, the session store, the
// plugin bus and the WebSocket bridge together per request.
package casproxy

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/Sirupsen/logrus"
	"github.com/gorilla/sessions"

	"github.com/bardcollege/txcasproxy/internal/casclient"
	"github.com/bardcollege/txcasproxy/internal/casconfig"
	"github.com/bardcollege/txcasproxy/internal/plugin"
	"github.com/bardcollege/txcasproxy/internal/session"
	"github.com/bardcollege/txcasproxy/internal/urlutil"
)

const sessionCookieName = "txcasproxy-session"
const sessionIDValueKey = "sid"

// Config is the immutable, startup-only configuration for an App.
type Config struct {
	CASInfo           casconfig.CASInfo
	Identity          casconfig.ProxyIdentity
	Origin            casconfig.OriginDescriptor
	ExcludedResources []string
	ExcludedBranches  []string
	LogoutPatterns    []*urlutil.LogoutPattern
	LogoutPassthrough bool
	AuthInfoResource  string
	RemoteUserHeader  string
	LogoutInstantSkew time.Duration
	CookieAuthKey     []byte
	CookieMaxAge      int
}

// App is the authenticating reverse proxy engine. One App serves every
// inbound request for the lifetime of the process; its mutable state is
// confined to the session store (internal/session.Store), which is
// already safe for concurrent use.
type App struct {
	cfg Config

	Sessions *session.Store
	Plugins  *plugin.Registry

	OriginClient *http.Client
	CASClient    *http.Client
	OriginTLS    *tls.Config

	cookies *sessions.CookieStore

	Log *logrus.Entry
}

// NewApp wires an App from its configuration and collaborators. None of
// the arguments change after this call returns.
func NewApp(cfg Config, sessions_ *session.Store, plugins *plugin.Registry, originClient, casClient *http.Client, originTLS *tls.Config, log *logrus.Entry) *App {
	cookies := sessions.NewCookieStore(cfg.CookieAuthKey)
	opts := gorillaSessionOptions(cfg)
	cookies.Options = &opts
	return &App{
		cfg:          cfg,
		Sessions:     sessions_,
		Plugins:      plugins,
		OriginClient: originClient,
		CASClient:    casClient,
		OriginTLS:    originTLS,
		cookies:      cookies,
		Log:          log,
	}
}

func gorillaSessionOptions(cfg Config) sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   cfg.CookieMaxAge,
		HttpOnly: true,
		Secure:   cfg.Identity.IsHTTPS,
	}
}

// existingSessionID returns the opaque session id carried by the request's
// cookie, without creating one if absent -- used by the logout-pattern
// handler, which must not manufacture a session merely to destroy it.
func (a *App) existingSessionID(r *http.Request) (string, bool) {
	sess, err := a.cookies.Get(r, sessionCookieName)
	if err != nil {
		return "", false
	}
	id, ok := sess.Values[sessionIDValueKey].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// sessionID returns the opaque session id for the request, creating and
// persisting a fresh one via Set-Cookie if none exists yet.
func (a *App) sessionID(w http.ResponseWriter, r *http.Request) (string, error) {
	sess, err := a.cookies.Get(r, sessionCookieName)
	if err != nil {
		// A corrupt or expired cookie decodes to a fresh session per
		// gorilla/sessions convention; proceed with it.
		sess, _ = a.cookies.New(r, sessionCookieName)
	}
	if id, ok := sess.Values[sessionIDValueKey].(string); ok && id != "" {
		return id, nil
	}
	id, err := newSessionID()
	if err != nil {
		return "", err
	}
	sess.Values[sessionIDValueKey] = id
	if err := sess.Save(r, w); err != nil {
		return "", err
	}
	return id, nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// notifyAuthInfo fans out to every registered plugin.InfoSink.
func (a *App) notifyAuthInfo(username string, attributes map[string][]string) {
	for _, sink := range a.Plugins.InfoSinks {
		sink.NotifyAuthInfo(username, attributes)
	}
}

// casSkew returns the configured SLO instant skew, falling back to
// the protocol default.
func (a *App) casSkew() time.Duration {
	if a.cfg.LogoutInstantSkew > 0 {
		return a.cfg.LogoutInstantSkew
	}
	return casclient.DefaultLogoutInstantSkew
}
