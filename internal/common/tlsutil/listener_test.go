package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestCertificate creates a self-signed certificate and key for testing.
// Returns paths to the cert and key files.
func generateTestCertificate(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "test.crt")
	certFile, err := os.Create(certPath)
	require.NoError(t, err)
	err = pem.Encode(certFile, &pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	require.NoError(t, err)
	certFile.Close()

	keyPath = filepath.Join(dir, "test.key")
	keyFile, err := os.Create(keyPath)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)
	err = pem.Encode(keyFile, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	require.NoError(t, err)
	keyFile.Close()

	return certPath, keyPath
}

func TestNewListener_ValidCertAndKey(t *testing.T) {
	tmpDir := t.TempDir()
	certPath, keyPath := generateTestCertificate(t, tmpDir)

	listener, err := NewListener("127.0.0.1:0", certPath, keyPath)
	require.NoError(t, err)
	require.NotNil(t, listener)
	defer listener.Close()

	addr := listener.Addr()
	require.NotNil(t, addr)
	assert.Contains(t, addr.String(), "127.0.0.1:")
}

func TestNewListener_TLS13Succeeds(t *testing.T) {
	tmpDir := t.TempDir()
	certPath, keyPath := generateTestCertificate(t, tmpDir)

	listener, err := NewListener("127.0.0.1:0", certPath, keyPath)
	require.NoError(t, err)
	defer listener.Close()

	done := make(chan struct{})
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			tlsConn := conn.(*tls.Conn)
			tlsConn.Handshake()
			conn.Close()
		}
		close(done)
	}()

	addr := listener.Addr().String()
	tlsConfig := &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	require.NoError(t, err)

	state := conn.ConnectionState()
	assert.Equal(t, uint16(tls.VersionTLS13), state.Version)

	conn.Close()
	<-done
}

func TestNewListener_RejectsTLS12(t *testing.T) {
	tmpDir := t.TempDir()
	certPath, keyPath := generateTestCertificate(t, tmpDir)

	listener, err := NewListener("127.0.0.1:0", certPath, keyPath)
	require.NoError(t, err)
	defer listener.Close()

	acceptErr := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		tlsConn := conn.(*tls.Conn)
		acceptErr <- tlsConn.Handshake()
		conn.Close()
	}()

	addr := listener.Addr().String()
	tlsConfig := &tls.Config{
		InsecureSkipVerify: true,
		MaxVersion:         tls.VersionTLS12,
	}

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)

	tlsConn := tls.Client(conn, tlsConfig)
	err = tlsConn.Handshake()
	assert.Error(t, err, "Handshake should fail with TLS 1.2")
	if err != nil {
		assert.Contains(t, err.Error(), "protocol version")
	}

	conn.Close()

	select {
	case <-acceptErr:
	case <-time.After(time.Second):
	}
}

func TestNewListener_MissingCertFile(t *testing.T) {
	tmpDir := t.TempDir()
	_, keyPath := generateTestCertificate(t, tmpDir)

	listener, err := NewListener("127.0.0.1:0", "/nonexistent/cert.crt", keyPath)
	require.Error(t, err)
	assert.Nil(t, listener)
	assert.Contains(t, err.Error(), "failed to load TLS certificate")
}

func TestNewListener_MismatchedCertAndKey(t *testing.T) {
	tmpDir := t.TempDir()
	certPath1, _ := generateTestCertificate(t, tmpDir)

	subDir := filepath.Join(tmpDir, "other")
	require.NoError(t, os.Mkdir(subDir, 0755))
	_, keyPath2 := generateTestCertificate(t, subDir)

	listener, err := NewListener("127.0.0.1:0", certPath1, keyPath2)
	require.Error(t, err)
	assert.Nil(t, listener)
	assert.Contains(t, err.Error(), "failed to load TLS certificate")
}

func TestNewListener_InvalidAddressFormat(t *testing.T) {
	tmpDir := t.TempDir()
	certPath, keyPath := generateTestCertificate(t, tmpDir)

	listener, err := NewListener("invalid:address:format", certPath, keyPath)
	require.Error(t, err)
	assert.Nil(t, listener)
	assert.Contains(t, err.Error(), "failed to create TCP listener")
}
