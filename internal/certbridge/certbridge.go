// Package certbridge tells a host's TLS verifier which certificates the
// capture proxy minted, so the embedded session accepts them while every
// other certificate still goes through normal verification.
package certbridge

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Verdict is the outcome of Verify.
type Verdict int

const (
	// Accept trusts the offered certificate.
	Accept Verdict = iota
	// UseDefault delegates to the platform's verification.
	UseDefault
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case UseDefault:
		return "use-default"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Bridge stores minted certificates as <dir>/<host>.pem.
type Bridge struct {
	dir string
}

// New returns a bridge backed by certDir.
func New(certDir string) *Bridge {
	return &Bridge{dir: certDir}
}

// Dir returns the certificate directory.
func (b *Bridge) Dir() string {
	return b.dir
}

// Store records the certificate the proxy presents for host.
func (b *Bridge) Store(host string, certPEM []byte) error {
	name, err := fileName(host)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(b.dir, 0700); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(b.dir, name), certPEM, 0600); err != nil {
		return fmt.Errorf("failed to store certificate for %s: %w", host, err)
	}
	return nil
}

// Verify compares offeredPEM with the stored certificate for host, ignoring
// whitespace. A host with no readable stored certificate is accepted: the
// proxy is not intercepting it.
func (b *Bridge) Verify(host string, offeredPEM []byte) Verdict {
	name, err := fileName(host)
	if err != nil {
		return UseDefault
	}
	stored, err := os.ReadFile(filepath.Join(b.dir, name))
	if err != nil {
		return Accept
	}
	if normalize(stored) == normalize(offeredPEM) {
		return Accept
	}
	return UseDefault
}

// VerifyConnection adapts Verify to tls.Config.VerifyConnection. The config
// must set InsecureSkipVerify so this function is the only check; a
// UseDefault verdict runs standard chain verification against roots.
func (b *Bridge) VerifyConnection(host string, roots *x509.CertPool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return fmt.Errorf("no peer certificate for %s", host)
		}
		name := host
		if name == "" {
			name = cs.ServerName
		}

		leaf := cs.PeerCertificates[0]
		offered := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw})
		if b.Verify(name, offered) == Accept {
			return nil
		}
		return VerifyChain(cs, name, roots)
	}
}

// ClearCache deletes every stored certificate.
func (b *Bridge) ClearCache() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cert directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pem") {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// VerifyChain is the standard x509 verification of a TLS peer.
func VerifyChain(cs tls.ConnectionState, host string, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return fmt.Errorf("no peer certificate for %s", host)
	}
	opts := x509.VerifyOptions{
		DNSName:       stripPort(host),
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, c := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(c)
	}
	_, err := cs.PeerCertificates[0].Verify(opts)
	return err
}

func normalize(pemBytes []byte) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, string(pemBytes))
}

// fileName maps a host (optionally with port) to its certificate file.
func fileName(host string) (string, error) {
	h := strings.ToLower(stripPort(host))
	if h == "" || strings.ContainsAny(h, `/\`) || h == "." || h == ".." {
		return "", fmt.Errorf("invalid host %q", host)
	}
	// IPv6 literals contain colons, which some filesystems reject.
	return strings.ReplaceAll(h, ":", "_") + ".pem", nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
