package secure

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"net"
	"testing"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialog-im/dialogd/internal/wire"
)

func TestCodecRoundTrip(t *testing.T) {
	codec, err := GenerateCodec()
	require.NoError(t, err)
	assert.Len(t, codec.KeyString(), 44)

	rec := &wire.Record{Type: wire.TypeHeartbeat, SessionToken: "tok"}
	payload, err := codec.Seal(rec)
	require.NoError(t, err)

	got, err := codec.Open(payload)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestCodecRejectsForeignAndGarbagePayloads(t *testing.T) {
	codec, err := GenerateCodec()
	require.NoError(t, err)
	other, err := GenerateCodec()
	require.NoError(t, err)

	payload, err := other.Seal(&wire.Record{Type: wire.TypeHeartbeat})
	require.NoError(t, err)

	_, err = codec.Open(payload)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = codec.Open([]byte("not a fernet token"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

// TestHandshake runs the client side on a pipe: send an RSA public key,
// decrypt the returned session key, and verify both sides seal frames the
// other can open.
func TestHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	type result struct {
		codec *Codec
		err   error
	}
	done := make(chan result, 1)
	go func() {
		codec, _, err := Handshake(server, 5*time.Second, 0)
		done <- result{codec, err}
	}()

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	require.NoError(t, wire.WriteFrame(client, pemBytes))

	framer := wire.NewFramer(client, 0)
	sealed, err := framer.ReadFrame()
	require.NoError(t, err)

	keyBytes, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, sealed, nil)
	require.NoError(t, err)
	assert.Len(t, keyBytes, 44)

	key, err := fernet.DecodeKey(string(keyBytes))
	require.NoError(t, err)
	clientCodec := NewCodec(key)

	res := <-done
	require.NoError(t, res.err)

	// Server-sealed frame opens on the client and vice versa.
	payload, err := res.codec.Seal(&wire.Record{Type: wire.TypeHeartbeatAck})
	require.NoError(t, err)
	rec, err := clientCodec.Open(payload)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeHeartbeatAck, rec.Type)

	payload, err = clientCodec.Seal(&wire.Record{Type: wire.TypeHeartbeat})
	require.NoError(t, err)
	rec, err = res.codec.Open(payload)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeHeartbeat, rec.Type)
}

func TestHandshakeRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "not pem", frame: []byte("garbage")},
		{name: "pem but not a key", frame: pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte("junk")})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := net.Pipe()
			defer server.Close()
			defer client.Close()

			errCh := make(chan error, 1)
			go func() {
				_, _, err := Handshake(server, 5*time.Second, 0)
				errCh <- err
			}()
			require.NoError(t, wire.WriteFrame(client, tt.frame))
			assert.Error(t, <-errCh)
		})
	}
}

func TestHandshakeRejectsSmallKey(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := Handshake(server, 5*time.Second, 0)
		errCh <- err
	}()
	require.NoError(t, wire.WriteFrame(client, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))
	assert.ErrorContains(t, <-errCh, "too small")
}
