package authority

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate_PersistsCA(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ca")

	first, err := LoadOrCreate(dir)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, KeyFile))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := LoadOrCreate(dir)
	require.NoError(t, err)
	require.Equal(t, first.CertPEM(), second.CertPEM(), "reloading must not rotate the CA")
	require.Equal(t, filepath.Join(dir, CertFile), second.CertPath())
}

func TestLoadOrCreate_RejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CertFile), []byte("junk"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyFile), []byte("junk"), 0600))

	_, err := LoadOrCreate(dir)
	require.Error(t, err)
}

func TestLeaf_VerifiesAgainstCA(t *testing.T) {
	ca, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	leaf, fresh, err := ca.Leaf("x.com:443")
	require.NoError(t, err)
	require.True(t, fresh)
	require.NotEmpty(t, leaf.PEM)

	_, err = leaf.TLS.Leaf.Verify(x509.VerifyOptions{
		DNSName: "x.com",
		Roots:   ca.Pool(),
	})
	require.NoError(t, err)
}

func TestLeaf_IPHost(t *testing.T) {
	ca, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	leaf, _, err := ca.Leaf("127.0.0.1:8443")
	require.NoError(t, err)
	require.Len(t, leaf.TLS.Leaf.IPAddresses, 1)
	require.Empty(t, leaf.TLS.Leaf.DNSNames)
}

func TestLeaf_Cached(t *testing.T) {
	ca, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	a, _, err := ca.Leaf("x.com")
	require.NoError(t, err)
	b, fresh, err := ca.Leaf("x.com:443")
	require.NoError(t, err)
	require.False(t, fresh)
	require.Same(t, a, b)

	ca.Forget()
	c, fresh, err := ca.Leaf("x.com")
	require.NoError(t, err)
	require.True(t, fresh)
	require.NotSame(t, a, c)
}

func TestLeaf_RenewedNearExpiry(t *testing.T) {
	ca, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	ca.now = func() time.Time { return now }
	a, _, err := ca.Leaf("x.com")
	require.NoError(t, err)

	now = now.Add(leafValidity - 30*time.Minute)
	b, fresh, err := ca.Leaf("x.com")
	require.NoError(t, err)
	require.True(t, fresh)
	require.NotSame(t, a, b)
}
