// Package secure implements the per-connection key exchange and the frame
// cipher. Each connection gets its own Fernet key, established by shipping
// it to the client under RSA-OAEP during the handshake; every frame after
// that is a Fernet token over the JSON record.
package secure

import (
	"errors"

	"github.com/fernet/fernet-go"

	"github.com/dialog-im/dialogd/internal/wire"
)

// ErrDecrypt is returned when a frame fails Fernet verification. It is
// non-fatal for the session: the dispatcher replies with a generic error
// record and keeps reading.
var ErrDecrypt = errors.New("secure: frame failed decryption")

// Codec seals and opens records with the connection's symmetric key.
// Methods are safe for concurrent use; fernet operations do not mutate
// the key.
type Codec struct {
	key *fernet.Key
}

// NewCodec wraps an established key.
func NewCodec(key *fernet.Key) *Codec {
	return &Codec{key: key}
}

// GenerateCodec creates a codec with a fresh random key.
func GenerateCodec() (*Codec, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return nil, err
	}
	return &Codec{key: &key}, nil
}

// KeyString returns the URL-safe base64 form of the key, the 44 bytes of
// key material the handshake ships to the client.
func (c *Codec) KeyString() string {
	return c.key.Encode()
}

// Seal encrypts a record into a frame payload.
func (c *Codec) Seal(rec *wire.Record) ([]byte, error) {
	plain, err := rec.Encode()
	if err != nil {
		return nil, err
	}
	return fernet.EncryptAndSign(plain, c.key)
}

// Open decrypts and parses a frame payload. A nil plaintext from fernet
// means the token failed HMAC or structure checks.
func (c *Codec) Open(payload []byte) (*wire.Record, error) {
	plain := fernet.VerifyAndDecrypt(payload, 0, []*fernet.Key{c.key})
	if plain == nil {
		return nil, ErrDecrypt
	}
	return wire.DecodeRecord(plain)
}
