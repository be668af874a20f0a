// Package tlsinspect reads Subject Alternative Name entries from the TLS
// certificate a host presents. The lookup is opportunistic evidence for the
// decision pipeline, never required for correctness.
package tlsinspect

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"go.uber.org/zap"

	"phishdetect/internal/monitoring"
)

// Resolver dials hosts on :443 and extracts certificate DNS names.
type Resolver struct {
	timeout time.Duration
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

func NewResolver(timeout time.Duration, metrics *monitoring.Metrics, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Resolver{timeout: timeout, metrics: metrics, logger: logger}
}

// SANNames connects to hostname:443, performs a TLS handshake with default
// trust settings and returns the DNS entries of the peer certificate's SAN
// extension. Any network, handshake or timeout failure yields an empty list;
// a single failed attempt means "no additional evidence", so there are no
// retries. One outbound connection per call.
func (r *Resolver) SANNames(ctx context.Context, hostname string) []string {
	dialCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: r.timeout},
		Config:    &tls.Config{ServerName: hostname},
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(hostname, "443"))
	if err != nil {
		r.logger.Debug("SAN lookup failed", zap.String("host", hostname), zap.Error(err))
		r.metrics.IncErrorsTotal("san_lookup")
		return nil
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	return state.PeerCertificates[0].DNSNames
}
