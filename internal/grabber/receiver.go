package grabber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kclejeune/kestrel/internal/keycode"
	"github.com/kclejeune/kestrel/internal/procmon"
)

// defaultPollInterval bounds both shutdown latency and liveness of the
// dispatch loop.
const defaultPollInterval = time.Second

// DeviceGrabber is the hardware-access collaborator. All methods are
// idempotent.
type DeviceGrabber interface {
	Grab() error
	Ungrab() error
	SetCapsLockLEDState(on bool) error
}

// Manipulator owns the remapping rule state commands are forwarded to.
type Manipulator interface {
	CreateEventDispatcherClient()
	SetSystemPreferencesValues(v Preferences)
	ClearSimpleModifications()
	AddSimpleModification(from, to keycode.Code)
	ClearFnFunctionKeys()
	AddFnFunctionKey(from, to keycode.Code)
	ClearStandaloneModifiers()
	AddStandaloneModifier(from, to keycode.Code)
}

// watchFunc starts a liveness monitor and returns its cancel function.
// Swapped out in tests.
type watchFunc func(pid int, onExit func()) (cancel func())

func watchProcess(pid int, onExit func()) func() {
	return procmon.Watch(pid, onExit).Cancel
}

// grabSession ties the device grab to the console user server that
// justifies it. gen stamps the installed monitor so an exit notification
// from a superseded monitor is recognizable.
type grabSession struct {
	grabbed bool
	pid     int32
	gen     uint64
	cancel  func()
}

// Receiver owns the command channel and the grab lifecycle. Configure the
// exported fields, then call Run; the zero values of the optional ones get
// sensible defaults.
//
// All commands are routed on one worker goroutine, so routing needs no
// locking of its own. The liveness monitor callback is the only cross-
// goroutine path into the session state; it synchronizes through mu, and
// monitor cancellation always happens outside mu so the callback can never
// deadlock against it.
type Receiver struct {
	SocketPath   string
	ConsoleUID   int
	Devices      DeviceGrabber
	Manipulator  Manipulator
	PollInterval time.Duration

	watch watchFunc
	ep    *Endpoint

	mu   sync.Mutex
	sess grabSession
	gen  uint64
}

// Listen binds and permissions the endpoint. Run calls it automatically if
// needed; calling it first separates bind errors from loop errors.
func (r *Receiver) Listen() error {
	if r.SocketPath == "" {
		r.SocketPath = DefaultSocketPath
	}
	ep, err := ListenEndpoint(r.SocketPath, r.ConsoleUID)
	if err != nil {
		return err
	}
	r.ep = ep
	return nil
}

// Run serves the command channel until ctx is cancelled, then tears down:
// close the endpoint, force the grab session empty, clear the rule sets,
// and finally unlink the socket path. It returns nil on a clean shutdown;
// any other return means the endpoint failed underneath the loop.
func (r *Receiver) Run(ctx context.Context) error {
	if r.ep == nil {
		if err := r.Listen(); err != nil {
			return err
		}
	}
	if r.PollInterval <= 0 {
		r.PollInterval = defaultPollInterval
	}
	if r.watch == nil {
		r.watch = watchProcess
	}
	defer r.teardown()

	slog.Info("command channel listening", "path", r.SocketPath, "owner_uid", r.ConsoleUID)

	buf := make([]byte, receiveBufferSize)
	for {
		// Checked every iteration, not just on timeout, so shutdown
		// latency stays bounded even when datagrams keep arriving.
		if ctx.Err() != nil {
			return nil
		}

		n, err := r.ep.Receive(buf, r.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrWouldBlock) {
				continue
			}
			slog.Error("command channel failed", "error", err)
			return fmt.Errorf("receiving command: %w", err)
		}

		cmd, err := Decode(buf[:n])
		if err != nil {
			slog.Warn("dropping malformed datagram", "size", n, "error", err)
			continue
		}
		r.route(cmd)
	}
}

func (r *Receiver) route(cmd Command) {
	switch c := cmd.(type) {
	case Connect:
		r.handleConnect(c)
	case SystemPreferencesUpdated:
		slog.Debug("system preferences updated", "keyboard_fn_state", c.Values.KeyboardFnState)
		r.Manipulator.SetSystemPreferencesValues(c.Values)
	case SetCapsLockLedState:
		slog.Debug("setting caps lock led", "state", c.State)
		if err := r.Devices.SetCapsLockLEDState(c.State == LedStateOn); err != nil {
			slog.Error("setting caps lock led", "error", err)
		}
	case ClearSimpleModifications:
		r.Manipulator.ClearSimpleModifications()
	case AddSimpleModification:
		r.Manipulator.AddSimpleModification(c.From, c.To)
	case ClearFnFunctionKeys:
		r.Manipulator.ClearFnFunctionKeys()
	case AddFnFunctionKey:
		r.Manipulator.AddFnFunctionKey(c.From, c.To)
	case ClearStandaloneModifiers:
		r.Manipulator.ClearStandaloneModifiers()
	case AddStandaloneModifier:
		r.Manipulator.AddStandaloneModifier(c.From, c.To)
	}
}

func (r *Receiver) handleConnect(c Connect) {
	switch c.Origin {
	case OriginEventDispatcher:
		slog.Info("event dispatcher connected", "pid", c.PID)
		r.Manipulator.CreateEventDispatcherClient()

	case OriginConsoleUserServer:
		// The old monitor must be fully cancelled before a new one starts,
		// or its exit callback could ungrab the session we are about to own.
		r.mu.Lock()
		cancel := r.sess.cancel
		r.sess.cancel = nil
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		r.mu.Lock()
		grabbed := true
		if err := r.Devices.Grab(); err != nil {
			slog.Error("grabbing devices", "error", err)
			grabbed = false
		}
		r.gen++
		gen := r.gen
		pid := c.PID
		r.sess = grabSession{
			grabbed: grabbed,
			pid:     pid,
			gen:     gen,
			cancel:  r.watch(int(pid), func() { r.sessionExited(gen, pid) }),
		}
		r.mu.Unlock()

		slog.Info("console user server connected", "pid", pid, "grabbed", grabbed)
	}
}

// sessionExited is the liveness monitor callback. It runs on the monitor
// goroutine, concurrently with the dispatch loop.
func (r *Receiver) sessionExited(gen uint64, pid int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sess.gen != gen {
		slog.Debug("ignoring exit of superseded session", "pid", pid)
		return
	}

	slog.Info("console user server exited", "pid", pid)
	if r.sess.grabbed {
		if err := r.Devices.Ungrab(); err != nil {
			slog.Error("releasing device grab", "error", err)
		}
	}
	r.sess = grabSession{}
}

func (r *Receiver) teardown() {
	if err := r.ep.Close(); err != nil {
		slog.Debug("closing endpoint", "error", err)
	}

	r.mu.Lock()
	cancel := r.sess.cancel
	r.sess.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	r.mu.Lock()
	if r.sess.grabbed {
		if err := r.Devices.Ungrab(); err != nil {
			slog.Error("releasing device grab", "error", err)
		}
	}
	r.sess = grabSession{}
	r.mu.Unlock()

	r.Manipulator.ClearSimpleModifications()
	r.Manipulator.ClearFnFunctionKeys()
	r.Manipulator.ClearStandaloneModifiers()

	if err := r.ep.Remove(); err != nil {
		slog.Error("removing socket path", "error", err)
	}
	slog.Info("command channel closed", "path", r.SocketPath)
}
