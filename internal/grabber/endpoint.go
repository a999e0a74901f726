package grabber

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultSocketPath is where the grabber binds its command channel.
const DefaultSocketPath = "/run/kestrel/grabber.sock"

// receiveBufferSize admits the largest defined datagram with a wide margin.
const receiveBufferSize = 1 << 20

// ErrWouldBlock reports that a receive timed out with no datagram pending.
// It is a poll tick, not a failure; the dispatch loop uses it to check for
// shutdown.
var ErrWouldBlock = errors.New("receive would block")

// Endpoint is the server half of the command channel: a datagram socket
// bound at a well-known path, owned by the console user, mode 0600.
type Endpoint struct {
	path      string
	conn      *net.UnixConn
	closeOnce sync.Once
}

// ListenEndpoint binds a fresh datagram socket at path, removing any stale
// file left behind by a previous instance, and restricts it to the console
// user. Ownership assignment needs root; unprivileged runs (tests, dev)
// skip it with a warning unless the owner already matches.
func ListenEndpoint(path string, owner int) (*Endpoint, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}

	if _, err := os.Lstat(path); err == nil {
		slog.Info("removing stale socket", "path", path)
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("binding %q: %w", path, err)
	}

	if err := conn.SetReadBuffer(receiveBufferSize); err != nil {
		slog.Debug("setting receive buffer size", "error", err)
	}

	if os.Geteuid() == 0 {
		if err := unix.Chown(path, owner, 0); err != nil {
			conn.Close()
			_ = os.Remove(path)
			return nil, fmt.Errorf("assigning socket to uid %d: %w", owner, err)
		}
	} else if owner != os.Getuid() {
		slog.Warn("not running as root, socket owner left unchanged", "path", path, "want_uid", owner)
	}

	if err := os.Chmod(path, 0o600); err != nil {
		conn.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("restricting socket mode: %w", err)
	}

	return &Endpoint{path: path, conn: conn}, nil
}

// Receive waits up to timeout for one datagram into buf and returns its
// length. ErrWouldBlock means the timeout elapsed; any other error means
// the endpoint itself failed.
func (e *Endpoint) Receive(buf []byte, timeout time.Duration) (int, error) {
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, _, err := e.conn.ReadFromUnix(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Close shuts the socket down. Idempotent; the path stays on disk until
// Remove so teardown can settle grab and rule state first.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.conn.Close()
	})
	return err
}

// Remove unlinks the socket path. Missing files are fine; a crashed
// predecessor may already have taken it along.
func (e *Endpoint) Remove() error {
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
