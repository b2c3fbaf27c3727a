// Package transport dials the relay connection: a plain TCP socket,
// optionally wrapped in TLS, with an explicit policy decision about which
// self-signed-certificate failures are tolerated.
//
// This client takes the stricter of the two policies the protocol notes
// allow: an otherwise-untrusted certificate is accepted only when the
// caller has configured an explicit pinned fingerprint for that host, not
// merely because the one specific verification error it failed with was
// UnableToGetLocalIssuerCertificate. Every other TLS failure aborts the
// dial; there is no "proceed anyway" path.
package transport

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"
)

// Config carries everything needed to dial the relay.
type Config struct {
	Host string
	Port int

	// Encrypted selects TLS; false dials a plain TCP socket (useful
	// behind an already-encrypted tunnel, or for local testing relays).
	Encrypted bool

	// PinnedFingerprint, if non-empty, is the lowercase hex SHA-256
	// fingerprint of the one self-signed leaf certificate this dial will
	// accept despite failing normal chain verification. Leave empty to
	// require a verifiable chain.
	PinnedFingerprint string

	// DialTimeout bounds the TCP handshake. Zero means no explicit
	// timeout beyond the OS default.
	DialTimeout time.Duration
}

// ErrUntrustedCertificate is wrapped into the error returned by Dial when
// the peer's certificate fails verification and either no fingerprint was
// pinned, or the pinned fingerprint does not match the leaf actually
// presented.
type ErrUntrustedCertificate struct {
	Err error
}

func (e *ErrUntrustedCertificate) Error() string {
	return fmt.Sprintf("transport: certificate not trusted and not pinned: %v", e.Err)
}

func (e *ErrUntrustedCertificate) Unwrap() error { return e.Err }

// Dial opens the connection described by cfg. On success the returned
// net.Conn has had platform socket options tuned (see
// transport_linux.go/transport_other.go) and, if cfg.Encrypted, has
// completed its TLS handshake.
func Dial(cfg Config) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}

	raw, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	if tcpConn, ok := raw.(*net.TCPConn); ok {
		tuneSocket(tcpConn)
	}
	if !cfg.Encrypted {
		return raw, nil
	}

	tlsConn, err := dialTLS(raw, cfg)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return tlsConn, nil
}

func dialTLS(raw net.Conn, cfg Config) (*tls.Conn, error) {
	tlsConn := tls.Client(raw, &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: true, // we run our own verification below
	})
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("transport: TLS handshake with %s: %w", cfg.Host, err)
	}
	if err := verifyPeer(tlsConn, cfg); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// verifyPeer re-runs standard chain verification (since InsecureSkipVerify
// disabled it above) and, only on failure, falls back to the single
// pinned-fingerprint exception.
func verifyPeer(tlsConn *tls.Conn, cfg Config) error {
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return &ErrUntrustedCertificate{Err: fmt.Errorf("no peer certificate presented")}
	}
	leaf := state.PeerCertificates[0]

	opts := x509.VerifyOptions{
		DNSName:       cfg.Host,
		Intermediates: x509.NewCertPool(),
	}
	for _, c := range state.PeerCertificates[1:] {
		opts.Intermediates.AddCert(c)
	}
	if _, err := leaf.Verify(opts); err != nil {
		if cfg.PinnedFingerprint == "" {
			return &ErrUntrustedCertificate{Err: err}
		}
		if fingerprint(leaf) != cfg.PinnedFingerprint {
			return &ErrUntrustedCertificate{Err: fmt.Errorf("leaf fingerprint mismatch (verify error: %v)", err)}
		}
	}
	return nil
}

// fingerprint returns the lowercase hex SHA-256 digest of cert's raw DER
// bytes, the form a caller pins in Config.PinnedFingerprint.
func fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return fmt.Sprintf("%x", sum)
}
