// Package casttls builds the TLS trust policy used by both outbound HTTP
// clients (origin and CAS): the system root CA pool plus any extra
// pinned PEM CAs supplied via --addCA. This stays on crypto/x509 directly;
// see DESIGN.md for why no third-party CA-bundle library is used.
package casttls

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
)

// NewTrustPolicy builds a *tls.Config trusting the system roots plus the
// PEM-encoded CA certificates found at each of caFiles. An empty caFiles
// returns a config using the system pool verbatim.
func NewTrustPolicy(caFiles []string) (*tls.Config, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	for _, path := range caFiles {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read CA file %q", path)
		}
		if ok := pool.AppendCertsFromPEM(pem); !ok {
			return nil, errors.Errorf("failed to parse PEM CA certificate in %q", path)
		}
	}
	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
