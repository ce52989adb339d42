package secure

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"time"

	"github.com/dialog-im/dialogd/internal/wire"
)

// Handshake performs the server side of the per-connection key exchange:
//
//  1. Read the client's RSA-2048 public key (PEM, SubjectPublicKeyInfo)
//     as one sentinel-terminated frame, under deadline.
//  2. Generate a fresh Fernet key.
//  3. Send the key's encoded form encrypted with RSA-OAEP(SHA-256), as one
//     sentinel-terminated frame.
//
// The handshake is single-use per connection; a rehandshake requires a new
// TCP connection. The returned Framer carries any bytes the client sent
// after its key frame, so the dispatcher must keep using it.
func Handshake(conn net.Conn, timeout time.Duration, maxFrame int) (*Codec, *wire.Framer, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("handshake: set deadline: %w", err)
	}
	framer := wire.NewFramer(conn, maxFrame)
	keyFrame, err := framer.ReadFrame()
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: read public key: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, nil, fmt.Errorf("handshake: clear deadline: %w", err)
	}

	pub, err := parsePublicKey(keyFrame)
	if err != nil {
		return nil, nil, err
	}

	codec, err := GenerateCodec()
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: generate key: %w", err)
	}

	sealed, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(codec.KeyString()), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: seal session key: %w", err)
	}
	if err := wire.WriteFrame(conn, sealed); err != nil {
		return nil, nil, fmt.Errorf("handshake: send session key: %w", err)
	}
	return codec, framer, nil
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("handshake: no PEM block in key frame")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("handshake: public key is %T, want RSA", parsed)
	}
	if pub.Size() < 256 {
		return nil, fmt.Errorf("handshake: RSA key too small (%d bits)", pub.Size()*8)
	}
	return pub, nil
}
