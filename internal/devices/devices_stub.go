//go:build !linux

package devices

type platformState struct{}

func (g *Grabber) Grab() error { return ErrUnsupported }

func (g *Grabber) Ungrab() error { return nil }

func (g *Grabber) SetCapsLockLEDState(on bool) error { return ErrUnsupported }
