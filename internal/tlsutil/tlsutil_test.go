package tlsutil

import (
	"crypto/tls"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfig_Defaults(t *testing.T) {
	cfg, err := ClientConfig(Options{ServerName: "api.example.com"})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, "api.example.com", cfg.ServerName)
	assert.Nil(t, cfg.RootCAs)
	assert.Len(t, cfg.CipherSuites, 6)
}

func TestClientConfig_BadCAFile(t *testing.T) {
	_, err := ClientConfig(Options{CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	require.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("not a certificate"), 0o600))
	_, err = ClientConfig(Options{CAFile: empty})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains no certificates")
}

func TestHTTPClient(t *testing.T) {
	c, err := HTTPClient(15*time.Second, Options{})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, c.Timeout)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
}
