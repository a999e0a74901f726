//go:build linux

package devices

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	evdev "github.com/holoplot/go-evdev"

	"github.com/kclejeune/kestrel/internal/keycode"
	"github.com/kclejeune/kestrel/internal/remap"
)

type grabbedDevice struct {
	dev  *evdev.InputDevice
	path string
	name string
}

type platformState struct {
	devs []grabbedDevice
	sink *evdev.InputDevice
	stop chan struct{}
	wg   sync.WaitGroup
}

// Grab enumerates keyboards, takes them exclusively, creates the virtual
// sink, and starts one pump per device. A second call while grabbed is a
// no-op.
func (g *Grabber) Grab() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.grabbed {
		return nil
	}

	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return fmt.Errorf("listing input devices: %w", err)
	}

	var devs []grabbedDevice
	keys := make(map[evdev.EvCode]struct{})
	for _, p := range paths {
		if !g.wantDevice(p.Name) {
			continue
		}
		dev, err := evdev.Open(p.Path)
		if err != nil {
			slog.Debug("skipping input device", "path", p.Path, "error", err)
			continue
		}
		if !isKeyboard(dev) {
			dev.Close()
			continue
		}
		devs = append(devs, grabbedDevice{dev: dev, path: p.Path, name: p.Name})
		for _, c := range dev.CapableEvents(evdev.EV_KEY) {
			keys[c] = struct{}{}
		}
	}
	if len(devs) == 0 {
		return fmt.Errorf("no keyboards to grab")
	}

	codes := make([]evdev.EvCode, 0, len(keys))
	for c := range keys {
		codes = append(codes, c)
	}
	slices.Sort(codes)

	sink, err := evdev.CreateDevice(
		g.virtualName(),
		evdev.InputID{BusType: 0x03, Vendor: 0x16c0, Product: 0x27db, Version: 1},
		map[evdev.EvType][]evdev.EvCode{evdev.EV_KEY: codes},
	)
	if err != nil {
		closeDevices(devs)
		return fmt.Errorf("creating virtual keyboard: %w", err)
	}

	for i, d := range devs {
		if err := d.dev.Grab(); err != nil {
			for _, held := range devs[:i] {
				held.dev.Ungrab()
			}
			closeDevices(devs)
			destroySink(sink)
			return fmt.Errorf("grabbing %s: %w", d.path, err)
		}
		slog.Info("grabbed keyboard", "path", d.path, "name", d.name)
	}

	st := &platformState{devs: devs, sink: sink, stop: make(chan struct{})}
	for _, d := range devs {
		st.wg.Add(1)
		go g.pump(st, d)
	}

	g.p = st
	g.grabbed = true
	return nil
}

// Ungrab stops the pumps, releases and closes the devices, and destroys
// the sink. A call while not grabbed is a no-op.
func (g *Grabber) Ungrab() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.grabbed {
		return nil
	}
	st := g.p

	close(st.stop)
	for _, d := range st.devs {
		if err := d.dev.Ungrab(); err != nil {
			slog.Debug("releasing keyboard", "path", d.path, "error", err)
		}
		d.dev.Close()
	}
	st.wg.Wait()
	destroySink(st.sink)

	slog.Info("released keyboards", "count", len(st.devs))
	g.p = nil
	g.grabbed = false
	return nil
}

// SetCapsLockLEDState writes the caps lock LED to every grabbed keyboard,
// best effort per device.
func (g *Grabber) SetCapsLockLEDState(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.grabbed {
		return fmt.Errorf("no keyboards grabbed")
	}

	var value int32
	if on {
		value = 1
	}
	for _, d := range g.p.devs {
		ev := &evdev.InputEvent{Type: evdev.EV_LED, Code: evdev.LED_CAPSL, Value: value}
		if err := d.dev.WriteOne(ev); err != nil {
			slog.Warn("setting caps lock led", "path", d.path, "error", err)
		}
	}
	return nil
}

// pump reads one keyboard and writes the transformed events to the sink.
// It exits when its device is closed out from under the blocked read.
func (g *Grabber) pump(st *platformState, d grabbedDevice) {
	defer st.wg.Done()
	tr := remap.NewTransformer(g.Rules)
	for {
		ev, err := d.dev.ReadOne()
		if err != nil {
			select {
			case <-st.stop:
			default:
				slog.Warn("keyboard read failed", "path", d.path, "error", err)
			}
			return
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		in := remap.Event{Code: keycode.Code(ev.Code), Value: ev.Value}
		for _, out := range tr.Transform(in) {
			writeKey(st.sink, out)
		}
	}
}

func writeKey(sink *evdev.InputDevice, ev remap.Event) {
	key := &evdev.InputEvent{Type: evdev.EV_KEY, Code: evdev.EvCode(ev.Code), Value: ev.Value}
	if err := sink.WriteOne(key); err != nil {
		slog.Warn("virtual keyboard write failed", "error", err)
		return
	}
	syn := &evdev.InputEvent{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT}
	if err := sink.WriteOne(syn); err != nil {
		slog.Warn("virtual keyboard write failed", "error", err)
	}
}

func isKeyboard(dev *evdev.InputDevice) bool {
	hasA, hasEnter := false, false
	for _, c := range dev.CapableEvents(evdev.EV_KEY) {
		switch c {
		case evdev.KEY_A:
			hasA = true
		case evdev.KEY_ENTER:
			hasEnter = true
		}
	}
	return hasA && hasEnter
}

func closeDevices(devs []grabbedDevice) {
	for _, d := range devs {
		d.dev.Close()
	}
}

func destroySink(sink *evdev.InputDevice) {
	if err := evdev.DestroyDevice(sink); err != nil {
		slog.Debug("destroying virtual keyboard", "error", err)
	}
	sink.Close()
}
