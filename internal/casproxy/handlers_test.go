package casproxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardcollege/txcasproxy/internal/caslog"
	"github.com/bardcollege/txcasproxy/internal/casconfig"
	"github.com/bardcollege/txcasproxy/internal/plugin"
	"github.com/bardcollege/txcasproxy/internal/session"
)

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	reg, err := plugin.NewRegistry(nil)
	require.NoError(t, err)
	if cfg.CookieAuthKey == nil {
		cfg.CookieAuthKey = []byte("01234567890123456789012345678901")
	}
	return NewApp(cfg, session.NewStore(), reg, http.DefaultClient, http.DefaultClient, nil, caslog.New(false))
}

// TestUnauthenticatedGETRedirectsToLogin is scenario S1: an unauthenticated
// GET must redirect to the CAS login URL with a service parameter equal
// to the proxy-space request URL, byte for byte.
func TestUnauthenticatedGETRedirectsToLogin(t *testing.T) {
	app := newTestApp(t, Config{
		Identity: casconfig.ProxyIdentity{FQDN: "p.example", Port: 443, IsHTTPS: true},
		CASInfo:  casconfig.CASInfo{LoginURL: "https://cas.example/login"},
	})

	r := httptest.NewRequest(http.MethodGet, "/app/page", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t,
		"https://cas.example/login?service=https%3A%2F%2Fp.example%2Fapp%2Fpage",
		w.Header().Get("Location"))
}

// TestValidateTicketEstablishesSession is scenario S2: a successful
// ticket validation must populate the session store and logout index and
// redirect back to the ticket-stripped service URL.
func TestValidateTicketEstablishesSession(t *testing.T) {
	cas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<serviceResponse xmlns="http://www.yale.edu/tp/cas">`+
			`<authenticationSuccess><user>alice</user>`+
			`<attributes><role>admin</role></attributes>`+
			`</authenticationSuccess></serviceResponse>`)
	}))
	defer cas.Close()

	app := newTestApp(t, Config{
		Identity: casconfig.ProxyIdentity{FQDN: "p.example", Port: 443, IsHTTPS: true},
		CASInfo:  casconfig.CASInfo{LoginURL: "https://cas.example/login", ServiceValidateURL: cas.URL + "/serviceValidate"},
	})

	r := httptest.NewRequest(http.MethodGet, "/app/page?ticket=ST-1", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://p.example/app/page", w.Header().Get("Location"))

	sessionID, ok := app.Sessions.ResolveTicket("ST-1")
	require.True(t, ok)
	rec, ok := app.Sessions.Get(sessionID)
	require.True(t, ok)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, "ST-1", rec.Ticket)
	assert.Equal(t, []string{"admin"}, rec.Attributes["role"])
}

// TestValidateTicketDeniedByAccessControl covers the 403 disposition
// when a registered AccessController rejects the user.
func TestValidateTicketDeniedByAccessControl(t *testing.T) {
	cas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<serviceResponse xmlns="http://www.yale.edu/tp/cas">`+
			`<authenticationSuccess><user>bob</user></authenticationSuccess></serviceResponse>`)
	}))
	defer cas.Close()

	app := newTestApp(t, Config{
		Identity: casconfig.ProxyIdentity{FQDN: "p.example", Port: 443, IsHTTPS: true},
		CASInfo:  casconfig.CASInfo{LoginURL: "https://cas.example/login", ServiceValidateURL: cas.URL + "/serviceValidate"},
	})
	app.Plugins.AccessControls = append(app.Plugins.AccessControls, denyAllController{})

	r := httptest.NewRequest(http.MethodGet, "/app/page?ticket=ST-1", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	_, ok := app.Sessions.ResolveTicket("ST-1")
	assert.False(t, ok)
}

type denyAllController struct{}

func (denyAllController) Priority() int { return 0 }
func (denyAllController) Tag() string   { return "deny-all" }
func (denyAllController) IsAllowed(string, map[string][]string) (bool, string) {
	return false, "not on the list"
}

// TestBackChannelLogoutDestroysSession is scenario S3.
func TestBackChannelLogoutDestroysSession(t *testing.T) {
	app := newTestApp(t, Config{
		Identity: casconfig.ProxyIdentity{FQDN: "p.example", Port: 443, IsHTTPS: true},
		CASInfo:  casconfig.CASInfo{LoginURL: "https://cas.example/login"},
	})
	app.Sessions.Put("abc", session.Record{Username: "alice", Ticket: "ST-1"})

	xml := fmt.Sprintf(
		`<samlp:LogoutRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" IssueInstant="%s">`+
			`<samlp:SessionIndex>ST-1</samlp:SessionIndex></samlp:LogoutRequest>`,
		time.Now().UTC().Format(time.RFC3339))
	r := httptest.NewRequest(http.MethodPost, "/anything", strings.NewReader(xml))
	r.Header.Set("Content-Type", "text/xml")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	_, ok := app.Sessions.Get("abc")
	assert.False(t, ok)
}

// TestMalformedLogoutBodyFallsThroughToLogin covers a POST carrying an
// XML content type whose body does not parse as a LogoutRequest: it
// must fall through to ordinary dispatch rather than being rejected.
func TestMalformedLogoutBodyFallsThroughToLogin(t *testing.T) {
	app := newTestApp(t, Config{
		Identity: casconfig.ProxyIdentity{FQDN: "p.example", Port: 443, IsHTTPS: true},
		CASInfo:  casconfig.CASInfo{LoginURL: "https://cas.example/login"},
	})

	r := httptest.NewRequest(http.MethodPost, "/anything", strings.NewReader("<not-a-logout-request/>"))
	r.Header.Set("Content-Type", "text/xml")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "https://cas.example/login")
}

// TestOrdinaryPostBodyReachesOrigin covers the body-preservation
// requirement: classifying a request as non-logout must not drain the
// body a later forward depends on.
func TestOrdinaryPostBodyReachesOrigin(t *testing.T) {
	var received string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()
	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	app := newTestApp(t, Config{
		Identity:          testIdentity(),
		Origin:            casconfig.OriginDescriptor{Scheme: "http", Netloc: originURL.Host, Host: originURL.Hostname()},
		ExcludedResources: []string{"/form"},
	})

	body := "field=value"
	r := httptest.NewRequest(http.MethodPost, "/form", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)

	assert.Equal(t, body, received)
}
