// Package devices grabs physical keyboards and pumps their events through
// the remapping rules into one virtual output keyboard.
package devices

import (
	"errors"
	"path"
	"sync"

	"github.com/kclejeune/kestrel/internal/grabber"
	"github.com/kclejeune/kestrel/internal/remap"
)

// DefaultVirtualName is the device name the virtual sink registers under.
const DefaultVirtualName = "kestrel-virtual-keyboard"

// ErrUnsupported is returned on platforms without evdev.
var ErrUnsupported = errors.New("keyboard grabbing is only supported on linux")

// Grabber owns the physical keyboards while a console user server is
// connected. Configure the exported fields before first use; they are read
// each time a grab starts.
type Grabber struct {
	Rules       *remap.Rules
	Include     []string
	Exclude     []string
	VirtualName string

	mu      sync.Mutex
	grabbed bool
	p       *platformState
}

var _ grabber.DeviceGrabber = (*Grabber)(nil)

func (g *Grabber) virtualName() string {
	if g.VirtualName == "" {
		return DefaultVirtualName
	}
	return g.VirtualName
}

// wantDevice applies the name filters. The virtual sink itself is always
// excluded, or the grabber would capture its own output.
func (g *Grabber) wantDevice(name string) bool {
	if name == g.virtualName() {
		return false
	}
	for _, pat := range g.Exclude {
		if ok, _ := path.Match(pat, name); ok {
			return false
		}
	}
	if len(g.Include) == 0 {
		return true
	}
	for _, pat := range g.Include {
		if ok, _ := path.Match(pat, name); ok {
			return true
		}
	}
	return false
}
