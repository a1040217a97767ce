package casconfig

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EndpointDescriptor is the parsed form of a Twisted-style endpoint
// connection string, e.g. "tcp:8080" or
// "ssl:8443:privateKey=/etc/key.pem:certKey=/etc/cert.pem" for listening,
// and "tcp:host=origin.example:port=80" or "ssl:host=origin.example:port=443"
// for the dial-out descriptors built for the origin and WebSocket bridge.
type EndpointDescriptor struct {
	Kind   string // "tcp" or "ssl"
	Port   int    // listen port, or dial port when present as a positional
	Params map[string]string
}

// ParseEndpointDescriptor parses "<kind>:<positional>:<key=value>:...".
// The positional segment is optional; when present and parseable as an
// integer it is stored in Port (used for listen descriptors). Key=value
// segments populate Params (used for privateKey/certKey and for the
// dial-out host=/port= pairs).
func ParseEndpointDescriptor(s string) (EndpointDescriptor, error) {
	parts := strings.Split(s, ":")
	if len(parts) == 0 || parts[0] == "" {
		return EndpointDescriptor{}, errors.Errorf("empty endpoint descriptor")
	}
	d := EndpointDescriptor{
		Kind:   parts[0],
		Params: map[string]string{},
	}
	if d.Kind != "tcp" && d.Kind != "ssl" {
		return EndpointDescriptor{}, errors.Errorf("unsupported endpoint kind %q", d.Kind)
	}
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		if eq := strings.IndexByte(part, '='); eq >= 0 {
			d.Params[part[:eq]] = part[eq+1:]
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil {
			return EndpointDescriptor{}, errors.Wrapf(err, "invalid endpoint descriptor segment %q", part)
		}
		d.Port = port
	}
	if d.Port == 0 {
		if p, ok := d.Params["port"]; ok {
			port, err := strconv.Atoi(p)
			if err != nil {
				return EndpointDescriptor{}, errors.Wrapf(err, "invalid port=%q", p)
			}
			d.Port = port
		}
	}
	return d, nil
}

// Host returns the host= parameter, if any.
func (d EndpointDescriptor) Host() string {
	return d.Params["host"]
}

// IsTLS is true for an "ssl:" descriptor.
func (d EndpointDescriptor) IsTLS() bool {
	return d.Kind == "ssl"
}

// Address returns "host:port" suitable for net.Dial.
func (d EndpointDescriptor) Address() string {
	return d.Host() + ":" + strconv.Itoa(d.Port)
}

// BuildDialDescriptor renders the "ssl:host=H:port=P" / "tcp:host=H:port=P"
// origin endpoint string used to dial out for the WebSocket bridge.
func BuildDialDescriptor(tlsKind bool, host string, port int) string {
	kind := "tcp"
	if tlsKind {
		kind = "ssl"
	}
	return kind + ":host=" + host + ":port=" + strconv.Itoa(port)
}
