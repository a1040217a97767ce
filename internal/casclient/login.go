package casclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/bardcollege/txcasproxy/internal/casconfig"
)

const (
	serviceParam = "service"
	ticketParam  = "ticket"
)

// BuildServiceURL composes the CAS service URL for a request: the
// proxy's external base plus the request URI. requestURI must include
// the path and raw query (e.g. r.URL.RequestURI()).
func BuildServiceURL(identity casconfig.ProxyIdentity, requestURI string) string {
	return identity.ExternalBase() + requestURI
}

// StripTicketParam removes the "ticket" query parameter from a service
// URL, producing the byte-identical-modulo-ticket URL required between
// the login redirect and the validation call.
func StripTicketParam(serviceURL string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse service URL %q", serviceURL)
	}
	// Drop only the ticket pairs from the raw query so the remaining
	// parameters keep their original order and encoding.
	kept := make([]string, 0)
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil && k == ticketParam {
			continue
		}
		kept = append(kept, pair)
	}
	u.RawQuery = strings.Join(kept, "&")
	return u.String(), nil
}

// LoginRedirectURL composes the CAS login URL: the configured login URL
// with its query string merged with {service: serviceURL}, overwriting
// any existing service parameter.
func LoginRedirectURL(loginURL, serviceURL string) (string, error) {
	u, err := url.Parse(loginURL)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse CAS login URL %q", loginURL)
	}
	q := u.Query()
	q.Set(serviceParam, serviceURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ServiceValidateURL composes the GET URL for the CAS /serviceValidate
// call: {service_validate_url}?service={serviceURL}&ticket={ticket}.
func ServiceValidateURL(serviceValidateURL, serviceURL, ticket string) (string, error) {
	u, err := url.Parse(serviceValidateURL)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse CAS serviceValidate URL %q", serviceValidateURL)
	}
	q := u.Query()
	q.Set(serviceParam, serviceURL)
	q.Set(ticketParam, ticket)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ValidateTicket issues the GET to the configured serviceValidate URL
// and parses the result.
func ValidateTicket(ctx context.Context, client *http.Client, casInfo casconfig.CASInfo, serviceURL, ticket string) (*ValidationResult, error) {
	validateURL, err := ServiceValidateURL(casInfo.ServiceValidateURL, serviceURL, ticket)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validateURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build serviceValidate request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "serviceValidate request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read serviceValidate response body")
	}
	return ParseServiceValidateResponse(body)
}
