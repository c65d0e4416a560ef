// Package authority manages the local root CA the capture proxy uses to mint
// per-host leaf certificates.
package authority

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	CertFile = "ca.pem"
	KeyFile  = "ca-key.pem"

	caValidity   = 10 * 365 * 24 * time.Hour
	leafValidity = 30 * 24 * time.Hour

	// leaves are re-minted when they get this close to expiry
	leafRenewBefore = time.Hour
)

// Authority is a root CA plus a cache of leaf certificates keyed by host.
type Authority struct {
	dir     string
	cert    *x509.Certificate
	key     crypto.Signer
	certPEM []byte

	mu     sync.Mutex
	leaves map[string]*Leaf
	now    func() time.Time
}

// Leaf is a minted host certificate.
type Leaf struct {
	TLS tls.Certificate
	PEM []byte
}

// LoadOrCreate loads the CA stored in dir, creating and persisting a new one
// when none exists.
func LoadOrCreate(dir string) (*Authority, error) {
	certPath := filepath.Join(dir, CertFile)
	keyPath := filepath.Join(dir, KeyFile)

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		return parse(dir, certPEM, keyPEM)
	}
	if !os.IsNotExist(certErr) && certErr != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", certErr)
	}
	if !os.IsNotExist(keyErr) && keyErr != nil {
		return nil, fmt.Errorf("failed to read CA key: %w", keyErr)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create CA directory: %w", err)
	}

	certPEM, keyPEM, err := generate(time.Now())
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write CA key: %w", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CA certificate: %w", err)
	}
	return parse(dir, certPEM, keyPEM)
}

func generate(now time.Time) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate CA key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "chirpkeep local capture CA", Organization: []string{"chirpkeep"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode CA key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

func parse(dir string, certPEM, keyPEM []byte) (*Authority, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid CA key pair in %s: %w", dir, err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("invalid CA certificate in %s: %w", dir, err)
	}
	if !cert.IsCA {
		return nil, fmt.Errorf("certificate in %s is not a CA", dir)
	}
	signer, ok := pair.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("CA key in %s cannot sign", dir)
	}

	return &Authority{
		dir:     dir,
		cert:    cert,
		key:     signer,
		certPEM: certPEM,
		leaves:  make(map[string]*Leaf),
		now:     time.Now,
	}, nil
}

// CertPath is where the CA certificate is stored, for import into a browser.
func (a *Authority) CertPath() string {
	return filepath.Join(a.dir, CertFile)
}

// CertPEM returns the PEM-encoded CA certificate.
func (a *Authority) CertPEM() []byte {
	return a.certPEM
}

// Pool returns a cert pool trusting only this CA.
func (a *Authority) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.cert)
	return pool
}

// Leaf returns a certificate for host, minting one when the cache has none
// or the cached one is about to expire. The bool reports a fresh mint.
func (a *Authority) Leaf(host string) (*Leaf, bool, error) {
	host = stripPort(host)

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if l, ok := a.leaves[host]; ok && now.Add(leafRenewBefore).Before(l.TLS.Leaf.NotAfter) {
		return l, false, nil
	}

	l, err := a.mint(host, now)
	if err != nil {
		return nil, false, err
	}
	a.leaves[host] = l
	return l, true, nil
}

// Forget drops every cached leaf.
func (a *Authority) Forget() {
	a.mu.Lock()
	a.leaves = make(map[string]*Leaf)
	a.mu.Unlock()
}

func (a *Authority) mint(host string, now time.Time) (*Leaf, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate leaf key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.cert, &key.PublicKey, a.key)
	if err != nil {
		return nil, fmt.Errorf("failed to mint certificate for %s: %w", host, err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	return &Leaf{
		TLS: tls.Certificate{
			Certificate: [][]byte{der, a.cert.Raw},
			PrivateKey:  key,
			Leaf:        leaf,
		},
		PEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}, nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}
	return serial, nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
