package grabber

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/kclejeune/kestrel/internal/keycode"
)

// Client-side endpoint validation failures.
var (
	ErrSocketMissing  = errors.New("grabber socket not found")
	ErrSocketNotOwned = errors.New("grabber socket not owned by console user")
)

// Client encodes commands and sends them to the receiver. Construction
// validates the endpoint identity exactly once: the socket must exist and
// belong to the console user, or no datagram is ever sent. Sends are
// fire-and-forget datagrams with no acknowledgment and no retry.
type Client struct {
	conn *net.UnixConn
	path string
}

// NewClient checks the socket at path against consoleUID and connects to
// it. An empty path means DefaultSocketPath.
func NewClient(path string, consoleUID int) (*Client, error) {
	if path == "" {
		path = DefaultSocketPath
	}

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("%w: %s", ErrSocketMissing, path)
		}
		return nil, fmt.Errorf("statting %q: %w", path, err)
	}
	if int(st.Uid) != consoleUID {
		return nil, fmt.Errorf("%w: %s has uid %d, console user is %d",
			ErrSocketNotOwned, path, st.Uid, consoleUID)
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", path, err)
	}
	return &Client{conn: conn, path: path}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(cmd Command) error {
	buf, err := Encode(cmd)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("sending %s: %w", cmd.Operation(), err)
	}
	return nil
}

// Connect announces this process to the receiver under the given origin.
// The console-user-server origin makes the receiver grab devices and tie
// the grab to this process's lifetime.
func (c *Client) Connect(origin Origin) error {
	return c.send(Connect{Origin: origin, PID: int32(os.Getpid())})
}

func (c *Client) SystemPreferencesUpdated(v Preferences) error {
	return c.send(SystemPreferencesUpdated{Values: v})
}

func (c *Client) SetCapsLockLedState(state LedState) error {
	return c.send(SetCapsLockLedState{State: state})
}

func (c *Client) ClearSimpleModifications() error {
	return c.send(ClearSimpleModifications{})
}

func (c *Client) AddSimpleModification(from, to keycode.Code) error {
	return c.send(AddSimpleModification{From: from, To: to})
}

func (c *Client) ClearFnFunctionKeys() error {
	return c.send(ClearFnFunctionKeys{})
}

func (c *Client) AddFnFunctionKey(from, to keycode.Code) error {
	return c.send(AddFnFunctionKey{From: from, To: to})
}

func (c *Client) ClearStandaloneModifiers() error {
	return c.send(ClearStandaloneModifiers{})
}

func (c *Client) AddStandaloneModifier(from, to keycode.Code) error {
	return c.send(AddStandaloneModifier{From: from, To: to})
}
