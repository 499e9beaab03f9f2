package tunnel

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrivateKey(t *testing.T) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return string(pem.EncodeToMemory(block))
}

func TestOpenRejectsMalformedKey(t *testing.T) {
	_, err := Open(context.Background(), Config{
		Host:       "jump.example.com",
		Port:       22,
		User:       "deploy",
		PrivateKey: "not a key",
	}, "db.internal", 5432, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse private key")
}

func TestOpenRejectsWrongPassphrase(t *testing.T) {
	// An unencrypted key with a passphrase supplied fails to parse.
	_, err := Open(context.Background(), Config{
		Host:       "jump.example.com",
		Port:       22,
		User:       "deploy",
		PrivateKey: testPrivateKey(t),
		Passphrase: "wrong",
	}, "db.internal", 5432, nil)

	require.Error(t, err)
}

func TestOpenFailsWhenHostUnreachable(t *testing.T) {
	_, err := Open(context.Background(), Config{
		Host:       "127.0.0.1",
		Port:       1, // nothing listens here
		User:       "deploy",
		PrivateKey: testPrivateKey(t),
		Timeout:    time.Second,
	}, "db.internal", 5432, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh dial")
}
