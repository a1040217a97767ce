// Package plugin implements the five-hook plugin bus: info-acceptor,
// CAS-redirect, interceptor, access-control, and content-modifier, each a
// priority-ordered list, plus the static resource provider used for
// startup wiring. A single plugin value may implement any subset of
// these interfaces -- capability sets, not an inheritance hierarchy.
package plugin

import (
	"net/http"
	"sort"

	"github.com/pkg/errors"
)

// InfoAcceptor is notified once the external port is known.
type InfoAcceptor interface {
	Priority() int
	OnInfoSet(fqdn string, port int, originScheme, originNetloc, originPath string, expireSession func(sessionID string))
}

// CASRedirectHandler may rewrite the service URL before the CAS login
// redirect is composed.
type CASRedirectHandler interface {
	Priority() int
	InterceptServiceURL(serviceURL string, r *http.Request) (string, error)
}

// ResourceInterceptor may fully own the response for a request before it
// reaches the reverse-proxy forward step.
type ResourceInterceptor interface {
	Priority() int
	Claims(urlStr, method string, headers http.Header, r *http.Request) bool
	Handle(w http.ResponseWriter, urlStr, method string, headers http.Header, r *http.Request)
}

// AccessController decides post-validation authorization.
type AccessController interface {
	Priority() int
	Tag() string
	IsAllowed(username string, attributes map[string][]string) (allowed bool, reason string)
}

// ContentModifier transforms the response body before it reaches the
// user agent.
type ContentModifier interface {
	Priority() int
	Transform(body []byte, r *http.Request) ([]byte, error)
}

// StaticResourceProvider advertises a (mount, dir) pair wired at startup.
// Two providers advertising the same mount with different directories is
// a fatal startup error.
type StaticResourceProvider interface {
	StaticMount() (mount, dir string)
}

// InfoSink is notified on every session create/destroy. A nil attributes
// map means the session was destroyed.
type InfoSink interface {
	NotifyAuthInfo(username string, attributes map[string][]string)
}

// Registry holds every plugin's capabilities. The five hook lists are
// sorted ascending by their declared priority, stably; InfoSinks keep
// registration order and StaticMounts is keyed by mount.
type Registry struct {
	InfoAcceptors    []InfoAcceptor
	CASRedirects     []CASRedirectHandler
	Interceptors     []ResourceInterceptor
	AccessControls   []AccessController
	ContentModifiers []ContentModifier
	InfoSinks        []InfoSink
	StaticMounts     map[string]string
}

// NewRegistry classifies plugins by capability and sorts each list by
// priority. It returns an error if two static resource providers
// advertise the same mount with different directories.
func NewRegistry(plugins []interface{}) (*Registry, error) {
	reg := &Registry{StaticMounts: map[string]string{}}
	for _, p := range plugins {
		if v, ok := p.(InfoAcceptor); ok {
			reg.InfoAcceptors = append(reg.InfoAcceptors, v)
		}
		if v, ok := p.(CASRedirectHandler); ok {
			reg.CASRedirects = append(reg.CASRedirects, v)
		}
		if v, ok := p.(ResourceInterceptor); ok {
			reg.Interceptors = append(reg.Interceptors, v)
		}
		if v, ok := p.(AccessController); ok {
			reg.AccessControls = append(reg.AccessControls, v)
		}
		if v, ok := p.(ContentModifier); ok {
			reg.ContentModifiers = append(reg.ContentModifiers, v)
		}
		if v, ok := p.(InfoSink); ok {
			reg.InfoSinks = append(reg.InfoSinks, v)
		}
		if v, ok := p.(StaticResourceProvider); ok {
			mount, dir := v.StaticMount()
			if existing, ok := reg.StaticMounts[mount]; ok && existing != dir {
				return nil, errors.Errorf(
					"static resource conflict for %q: %q != %q", mount, existing, dir)
			}
			reg.StaticMounts[mount] = dir
		}
	}

	sort.SliceStable(reg.InfoAcceptors, func(i, j int) bool {
		return reg.InfoAcceptors[i].Priority() < reg.InfoAcceptors[j].Priority()
	})
	sort.SliceStable(reg.CASRedirects, func(i, j int) bool {
		return reg.CASRedirects[i].Priority() < reg.CASRedirects[j].Priority()
	})
	sort.SliceStable(reg.Interceptors, func(i, j int) bool {
		return reg.Interceptors[i].Priority() < reg.Interceptors[j].Priority()
	})
	sort.SliceStable(reg.AccessControls, func(i, j int) bool {
		return reg.AccessControls[i].Priority() < reg.AccessControls[j].Priority()
	})
	sort.SliceStable(reg.ContentModifiers, func(i, j int) bool {
		return reg.ContentModifiers[i].Priority() < reg.ContentModifiers[j].Priority()
	})

	return reg, nil
}
