package server

import (
	"net"
	"sync"
	"time"

	"github.com/dialog-im/dialogd/internal/monitoring"
	"github.com/dialog-im/dialogd/internal/secure"
	"github.com/dialog-im/dialogd/internal/wire"
)

// conn is one live client connection after a successful handshake.
//
// Concurrency: the owning dispatcher is the only reader. Writers are many:
// the dispatcher itself, relays and call signaling acting for other users,
// and the sweepers. All of them go through SendRecord, which serializes on
// writeMu. The write mutex is always the last lock acquired; no caller
// holds a registry or table lock across SendRecord.
type conn struct {
	id     int64
	sock   net.Conn
	codec  *secure.Codec
	framer *wire.Framer

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once

	// Bound identity, set on login, cleared on logout.
	identityMu sync.Mutex
	username   string
	userID     int64
}

// SendRecord seals rec with the connection's cipher and writes it as one
// frame under the write deadline. Implements presence.Link.
func (c *conn) SendRecord(rec *wire.Record) error {
	payload, err := c.codec.Seal(rec)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if err := wire.WriteFrame(c.sock, payload); err != nil {
		return err
	}
	monitoring.FramesWritten.Inc()
	monitoring.BytesWritten.Add(float64(len(payload) + len(wire.Sentinel)))
	return nil
}

// Close shuts the socket. Safe to call from any goroutine, any number of
// times; the blocked dispatcher read fails and the teardown path runs.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.sock.Close()
	})
	return nil
}

func (c *conn) bind(username string, userID int64) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	c.username = username
	c.userID = userID
}

func (c *conn) unbind() {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	c.username = ""
	c.userID = 0
}

// bound returns the authenticated identity, or "" before login.
func (c *conn) bound() (string, int64) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	return c.username, c.userID
}

// remoteIP is the observed peer address, used as the advertised host
// fallback when the client does not supply one.
func (c *conn) remoteIP() string {
	host, _, err := net.SplitHostPort(c.sock.RemoteAddr().String())
	if err != nil {
		return c.sock.RemoteAddr().String()
	}
	return host
}
