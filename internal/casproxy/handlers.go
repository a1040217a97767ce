package casproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/bardcollege/txcasproxy/internal/casclient"
	"github.com/bardcollege/txcasproxy/internal/session"
	"github.com/bardcollege/txcasproxy/internal/urlutil"
)

// logoutPassthroughTimeout bounds the fire-and-forget origin forward
// issued on front-channel logout when --logout-passthrough is set.
const logoutPassthroughTimeout = 30 * time.Second

// ServeHTTP classifies and dispatches every inbound request, tried in
// this priority order:
//
//  1. a SAML back-channel logout POST, or a configured logout-pattern
//     match -- handleLogout
//  2. an excluded resource or branch -- forwarded unauthenticated,
//     bypassing CAS entirely
//  3. no authenticated session yet -- either completing a ticket
//     validation (a "ticket" query parameter is present) or issuing the
//     CAS login redirect
//  4. the configured auth-info resource -- deliverAuthInfo
//  5. everything else -- reverseProxy, now carrying a valid session
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.isLogoutRequest(r) {
		a.handleLogout(w, r)
		return
	}
	a.serveAuthenticated(w, r)
}

// serveAuthenticated runs the non-logout dispatch: excluded resources
// bypass CAS entirely, unauthenticated requests either complete ticket
// validation or get redirected to CAS login, and everything else is
// forwarded through reverseProxy.
func (a *App) serveAuthenticated(w http.ResponseWriter, r *http.Request) {
	if a.isExcluded(r.URL.Path) {
		a.reverseProxy(w, r, "")
		return
	}

	sessionID, authenticated := a.authenticatedSession(r)
	if !authenticated {
		if ticket := r.URL.Query().Get("ticket"); ticket != "" {
			a.validateTicket(w, r, ticket)
			return
		}
		a.redirectToLogin(w, r)
		return
	}

	if a.cfg.AuthInfoResource != "" && r.URL.Path == a.cfg.AuthInfoResource {
		a.deliverAuthInfo(w, r, sessionID)
		return
	}

	a.reverseProxy(w, r, sessionID)
}

// isLogoutRequest reports whether r is a SAML single-logout POST, or its
// path matches one of the configured logout glob patterns. It only
// inspects the Content-Type header, never the body, so ordinary POSTs
// fall through with their body untouched for forwarding.
func (a *App) isLogoutRequest(r *http.Request) bool {
	if r.Method == http.MethodPost && isSAMLContentType(r.Header.Get("Content-Type")) {
		return true
	}
	for _, pattern := range a.cfg.LogoutPatterns {
		if urlutil.DoesURLMatchPattern(r.URL.RequestURI(), pattern) {
			return true
		}
	}
	return false
}

// isSAMLContentType reports whether contentType is text/xml or
// application/xml, the wire format a SAML back-channel LogoutRequest is
// posted with (raw XML body, not a urlencoded form field).
func isSAMLContentType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/xml" || mt == "application/xml"
}

// isExcluded reports whether path is one of the configured excluded
// resources or falls under an excluded branch. Excluded paths bypass
// CAS entirely and are forwarded unauthenticated.
func (a *App) isExcluded(path string) bool {
	for _, res := range a.cfg.ExcludedResources {
		if path == res {
			return true
		}
	}
	for _, branch := range a.cfg.ExcludedBranches {
		if urlutil.IsProxyPathOrChild(branch, path) {
			return true
		}
	}
	return false
}

// authenticatedSession reports whether the request already carries a
// session id bound to a live session record.
func (a *App) authenticatedSession(r *http.Request) (string, bool) {
	id, ok := a.existingSessionID(r)
	if !ok {
		return "", false
	}
	if _, ok := a.Sessions.Get(id); !ok {
		return "", false
	}
	return id, true
}

// handleLogout dispatches a classified logout request: a SAML
// LogoutRequest destroys the matching session via the logout index; a
// logout-pattern match destroys the caller's own session and redirects
// to CAS's logout endpoint, forwarding to the origin first,
// fire-and-forget, when --logout-passthrough is set.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if isSAMLContentType(r.Header.Get("Content-Type")) {
		a.handleBackChannelLogout(w, r)
		return
	}
	a.handleFrontChannelLogout(w, r)
}

// handleBackChannelLogout reads the raw XML request body and parses it
// as a SAML LogoutRequest. A parse failure is logged and falls through
// to normal CAS handling rather than surfaced as an error response --
// it means this wasn't really an SLO request after all.
func (a *App) handleBackChannelLogout(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.Log.WithField("err", err).Warn("failed to read logout request body")
		a.serveAuthenticated(w, r)
		return
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	ticket, err := casclient.ParseLogoutRequest(body, time.Now(), a.casSkew())
	if err != nil {
		a.Log.WithField("err", err).Warn("POST body did not parse as a SAML LogoutRequest, falling through")
		a.serveAuthenticated(w, r)
		return
	}
	if id, ok := a.Sessions.DestroyByTicket(ticket); ok {
		a.notifyAuthInfo("", nil)
		a.Log.WithField("session", id).Info("destroyed session via back-channel logout")
	}
	w.WriteHeader(http.StatusOK)
}

func (a *App) handleFrontChannelLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok := a.existingSessionID(r); ok {
		a.Sessions.Destroy(id)
		a.notifyAuthInfo("", nil)
	}

	if a.cfg.LogoutPassthrough {
		ctx, cancel := context.WithTimeout(context.Background(), logoutPassthroughTimeout)
		passthrough := r.Clone(ctx)
		go func() {
			defer cancel()
			rec := recordingResponseWriter{header: http.Header{}}
			a.reverseProxy(&rec, passthrough, "")
		}()
	}

	if a.cfg.CASInfo.LogoutURL == "" {
		// No CAS logout endpoint configured: forward unauthenticated
		// rather than redirect nowhere.
		a.reverseProxy(w, r, "")
		return
	}
	http.Redirect(w, r, a.cfg.CASInfo.LogoutURL, http.StatusFound)
}

// validateTicket completes the CAS login round trip: it validates the
// ticket against the configured serviceValidate URL, runs the
// access-control chain, and either redirects back to the clean service
// URL with a fresh session cookie or reports the typed failure.
func (a *App) validateTicket(w http.ResponseWriter, r *http.Request, ticket string) {
	serviceURL := casclient.BuildServiceURL(a.cfg.Identity, r.URL.RequestURI())
	cleanServiceURL, err := casclient.StripTicketParam(serviceURL)
	if err != nil {
		a.Log.WithField("err", err).Error("failed to strip ticket parameter")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	result, err := casclient.ValidateTicket(r.Context(), a.CASClient, a.cfg.CASInfo, cleanServiceURL, ticket)
	if err != nil {
		a.dispositionError(w, err)
		return
	}

	for _, ac := range a.Plugins.AccessControls {
		if allowed, reason := ac.IsAllowed(result.Username, result.Attributes); !allowed {
			a.Log.WithField("plugin", ac.Tag()).WithField("user", result.Username).
				Info("access denied by plugin")
			a.dispositionError(w, &casclient.DeniedError{Reason: reason, Plugin: ac.Tag()})
			return
		}
	}

	sessionID, err := a.sessionID(w, r)
	if err != nil {
		a.Log.WithField("err", err).Error("failed to allocate session id")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	a.Sessions.Put(sessionID, session.Record{
		Username:   result.Username,
		Ticket:     ticket,
		Attributes: result.Attributes,
	})
	a.notifyAuthInfo(result.Username, result.Attributes)

	http.Redirect(w, r, cleanServiceURL, http.StatusFound)
}

// dispositionError maps a casclient error to the HTTP status its
// category is rendered as.
func (a *App) dispositionError(w http.ResponseWriter, err error) {
	var malformed *casclient.MalformedXMLError
	var denied *casclient.DeniedError
	switch {
	case errors.As(err, &malformed):
		a.Log.WithField("err", err).Error("malformed CAS response")
		http.Error(w, "internal error", http.StatusInternalServerError)
	case errors.As(err, &denied):
		a.Log.WithField("err", err).Info("authentication denied")
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		a.Log.WithField("err", err).Error("ticket validation failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// redirectToLogin issues the CAS login redirect, giving every registered
// CASRedirectHandler a chance to rewrite the service URL first.
func (a *App) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	serviceURL := casclient.BuildServiceURL(a.cfg.Identity, r.URL.RequestURI())
	for _, h := range a.Plugins.CASRedirects {
		rewritten, err := h.InterceptServiceURL(serviceURL, r)
		if err != nil {
			a.Log.WithField("err", err).Error("CAS redirect plugin failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		serviceURL = rewritten
	}
	loginURL, err := casclient.LoginRedirectURL(a.cfg.CASInfo.LoginURL, serviceURL)
	if err != nil {
		a.Log.WithField("err", err).Error("failed to build CAS login redirect")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// deliverAuthInfo serves the configured auth-info resource: the caller's
// username and CAS attributes as JSON.
func (a *App) deliverAuthInfo(w http.ResponseWriter, r *http.Request, sessionID string) {
	rec, ok := a.Sessions.Get(sessionID)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Username   string              `json:"username"`
		Attributes map[string][]string `json:"attributes"`
	}{Username: rec.Username, Attributes: rec.Attributes})
}
