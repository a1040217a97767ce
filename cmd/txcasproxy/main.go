// Command txcasproxy runs the CAS authenticating reverse proxy: it
// listens on a Twisted-style endpoint descriptor, validates CAS tickets
// against a configured CAS server, and forwards authenticated traffic to
// an origin application, rewriting URLs/cookies/headers along the way.
//
// Flags are parsed with pflag to provide both short and long GNU-style
// aliases for every option.
package main

import (
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/Sirupsen/logrus"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/spf13/pflag"

	"github.com/bardcollege/txcasproxy/internal/caslog"
	"github.com/bardcollege/txcasproxy/internal/casconfig"
	"github.com/bardcollege/txcasproxy/internal/casproxy"
	"github.com/bardcollege/txcasproxy/internal/casttls"
	"github.com/bardcollege/txcasproxy/internal/plugin"
	"github.com/bardcollege/txcasproxy/internal/session"
	"github.com/bardcollege/txcasproxy/internal/transport"
	"github.com/bardcollege/txcasproxy/internal/urlutil"
)

// pluginFactory builds a plugin instance from the argument string that
// followed its tag in a "--plugin tag[:args]" flag.
type pluginFactory func(args string) (interface{}, error)

// pluginRegistry is the tag -> factory table consulted by --plugin.
// It ships empty: wiring a real plugin means registering its factory
// here, the Go equivalent of casproxyservice.py's plugin entry points.
var pluginRegistry = map[string]pluginFactory{}

func main() {
	flags := struct {
		endpoint           string
		proxiedURL         string
		casLogin           string
		casServiceValidate string
		casLogout          string
		fqdn               string
		addCA              []string
		plugins            []string
		excludeResource    []string
		excludeBranch      []string
		logoutPattern      []string
		logoutPassthrough  bool
		authInfoResource   string
		remoteUserHeader   string
		verbose            bool
		helpPlugins        bool
	}{}

	pflag.StringVarP(&flags.endpoint, "endpoint", "e", "", "listening endpoint descriptor (e.g. tcp:8080)")
	pflag.StringVarP(&flags.proxiedURL, "proxied-url", "p", "", "origin base URL")
	pflag.StringVarP(&flags.casLogin, "cas-login", "c", "", "CAS /login URL")
	pflag.StringVarP(&flags.casServiceValidate, "cas-service-validate", "s", "", "CAS /serviceValidate URL (defaults to --cas-login with its last path segment replaced)")
	pflag.StringVar(&flags.casLogout, "cas-logout", "", "CAS /logout URL")
	pflag.StringVar(&flags.fqdn, "fqdn", "", "external FQDN presented to CAS (defaults to the system hostname)")
	pflag.StringArrayVar(&flags.addCA, "addCA", nil, "extra PEM CA file trusted for outbound CAS/origin TLS (repeatable)")
	pflag.StringArrayVar(&flags.plugins, "plugin", nil, "instantiate a plugin: tag[:args] (repeatable)")
	pflag.StringArrayVar(&flags.excludeResource, "exclude-resource", nil, "exact request path excluded from CAS (repeatable)")
	pflag.StringArrayVar(&flags.excludeBranch, "exclude-branch", nil, "request path branch excluded from CAS (repeatable)")
	pflag.StringArrayVar(&flags.logoutPattern, "logout-pattern", nil, "relative URL glob that triggers logout handling (repeatable)")
	pflag.BoolVar(&flags.logoutPassthrough, "logout-passthrough", false, "forward to origin before redirecting to CAS logout")
	pflag.StringVar(&flags.authInfoResource, "auth-info-resource", "", "path serving the authenticated identity as JSON")
	pflag.StringVar(&flags.remoteUserHeader, "remote-user-header", "Remote-User", "header carrying the authenticated username to the origin")
	pflag.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	pflag.BoolVar(&flags.helpPlugins, "help-plugins", false, "print the registered plugin tags (no usage text) and exit")
	pflag.Parse()

	if flags.helpPlugins {
		printPluginHelp()
		os.Exit(0)
	}

	log := caslog.New(flags.verbose)

	usage := func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
		pflag.Usage()
		os.Exit(2)
	}

	if flags.endpoint == "" {
		usage("--endpoint/-e is required")
	}
	if flags.proxiedURL == "" {
		usage("--proxied-url/-p is required")
	}
	if flags.casLogin == "" {
		usage("--cas-login/-c is required")
	}
	if flags.casServiceValidate == "" {
		flags.casServiceValidate = deriveServiceValidateURL(flags.casLogin)
	}
	if flags.fqdn == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.WithField("err", err).Fatal("failed to determine system FQDN; pass --fqdn explicitly")
		}
		flags.fqdn = hostname
	}

	listenDescriptor, err := casconfig.ParseEndpointDescriptor(flags.endpoint)
	if err != nil {
		usage("invalid --endpoint: %v", err)
	}

	origin, err := casconfig.ParseOriginDescriptor(flags.proxiedURL)
	if err != nil {
		usage("invalid --proxied-url: %v", err)
	}

	trustConfig, err := casttls.NewTrustPolicy(flags.addCA)
	if err != nil {
		log.WithField("err", err).Fatal("failed to build TLS trust policy")
	}

	patterns := make([]*urlutil.LogoutPattern, 0, len(flags.logoutPattern))
	for _, raw := range flags.logoutPattern {
		pattern, err := urlutil.ParseLogoutPattern(raw)
		if err != nil {
			usage("invalid --logout-pattern: %v", err)
		}
		patterns = append(patterns, pattern)
	}

	instantiated := make([]interface{}, 0, len(flags.plugins))
	for _, spec := range flags.plugins {
		tag, args, _ := strings.Cut(spec, ":")
		factory, ok := pluginRegistry[tag]
		if !ok {
			usage("unknown plugin tag %q", tag)
		}
		p, err := factory(args)
		if err != nil {
			log.WithField("plugin", tag).WithField("err", err).Fatal("plugin failed to initialize")
		}
		instantiated = append(instantiated, p)
	}
	registry, err := plugin.NewRegistry(instantiated)
	if err != nil {
		log.WithField("err", err).Fatal("plugin registration failed")
	}

	identity := casconfig.ProxyIdentity{
		FQDN:    flags.fqdn,
		Port:    listenDescriptor.Port,
		IsHTTPS: listenDescriptor.IsTLS(),
	}
	casInfo := casconfig.CASInfo{
		LoginURL:           flags.casLogin,
		ServiceValidateURL: flags.casServiceValidate,
		LogoutURL:          flags.casLogout,
	}

	authKey := make([]byte, 64)
	if _, err := rand.Read(authKey); err != nil {
		log.WithField("err", err).Fatal("failed to generate session cookie auth key")
	}

	app := casproxy.NewApp(
		casproxy.Config{
			CASInfo:           casInfo,
			Identity:          identity,
			Origin:            origin,
			ExcludedResources: flags.excludeResource,
			ExcludedBranches:  flags.excludeBranch,
			LogoutPatterns:    patterns,
			LogoutPassthrough: flags.logoutPassthrough,
			AuthInfoResource:  flags.authInfoResource,
			RemoteUserHeader:  flags.remoteUserHeader,
			CookieAuthKey:     authKey,
			CookieMaxAge:      0,
		},
		session.NewStore(),
		registry,
		transport.NewOriginClient(trustConfig, nil),
		transport.NewCASClient(trustConfig, nil),
		trustConfig,
		log,
	)

	for _, acceptor := range registry.InfoAcceptors {
		acceptor.OnInfoSet(identity.FQDN, identity.Port, origin.Scheme, origin.Netloc, origin.BasePath, app.Sessions.Destroy)
	}

	router := mux.NewRouter()
	for mount, dir := range registry.StaticMounts {
		router.PathPrefix(mount).Handler(http.StripPrefix(mount, http.FileServer(http.Dir(dir))))
	}
	router.PathPrefix("/").Handler(app)

	handler := cors.New(cors.Options{AllowCredentials: true}).Handler(router)

	log.WithField("endpoint", flags.endpoint).
		WithField("origin", origin.BaseURL()+origin.BasePath).
		WithField("fqdn", identity.FQDN).
		Info("starting txcasproxy")

	if err := serve(listenDescriptor, handler, log); err != nil {
		log.WithField("err", err).Fatal("server exited")
	}
}

// serve starts the HTTP server on the listening endpoint descriptor,
// using TLS with the descriptor's privateKey/certKey parameters when its
// kind is "ssl".
func serve(descriptor casconfig.EndpointDescriptor, handler http.Handler, log *logrus.Entry) error {
	addr := fmt.Sprintf(":%d", descriptor.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	if !descriptor.IsTLS() {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrapf(err, "failed to listen on %s", addr)
		}
		return server.Serve(ln)
	}

	cert, err := tls.LoadX509KeyPair(descriptor.Params["certKey"], descriptor.Params["privateKey"])
	if err != nil {
		return errors.Wrap(err, "failed to load server TLS certificate")
	}
	server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	ln, err := tls.Listen("tcp", addr, server.TLSConfig)
	if err != nil {
		return errors.Wrapf(err, "failed to listen with TLS on %s", addr)
	}
	return server.Serve(ln)
}

// deriveServiceValidateURL replaces the CAS login URL's last path segment
// with "serviceValidate", used when --cas-service-validate is not given
// explicitly.
func deriveServiceValidateURL(loginURL string) string {
	idx := strings.LastIndex(loginURL, "/")
	if idx < 0 {
		return loginURL
	}
	return loginURL[:idx+1] + "serviceValidate"
}

func printPluginHelp() {
	fmt.Fprintln(os.Stderr, "available plugins:")
	if len(pluginRegistry) == 0 {
		fmt.Fprintln(os.Stderr, "  (none registered)")
		return
	}
	for tag := range pluginRegistry {
		fmt.Fprintf(os.Stderr, "  %s\n", tag)
	}
}
