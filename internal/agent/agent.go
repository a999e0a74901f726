// Package agent drives the command channel for the console user session:
// it announces itself to the grabber, pushes the selected profile's rules,
// and keeps them in sync as the profiles file changes.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kclejeune/kestrel/internal/grabber"
	"github.com/kclejeune/kestrel/internal/keycode"
	"github.com/kclejeune/kestrel/internal/profile"
)

// Sender is the slice of the grabber client the agent drives.
type Sender interface {
	Connect(origin grabber.Origin) error
	SystemPreferencesUpdated(v grabber.Preferences) error
	ClearSimpleModifications() error
	AddSimpleModification(from, to keycode.Code) error
	ClearFnFunctionKeys() error
	AddFnFunctionKey(from, to keycode.Code) error
	ClearStandaloneModifiers() error
	AddStandaloneModifier(from, to keycode.Code) error
	SetCapsLockLedState(state grabber.LedState) error
}

var _ Sender = (*grabber.Client)(nil)

// Agent connects a profiles document to the grabber daemon.
type Agent struct {
	Sender   Sender
	Profiles string
}

// Run announces the session, applies the selected profile, then follows
// the profiles file until ctx is cancelled. SIGHUP forces a full resync,
// which also covers a restarted daemon that lost its rule state.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Sender.Connect(grabber.OriginConsoleUserServer); err != nil {
		return fmt.Errorf("connecting to grabber: %w", err)
	}

	doc := a.load()
	if err := a.apply(doc.Selected()); err != nil {
		return err
	}

	w, err := profile.NewWatcher(a.Profiles, doc, func(old, new *profile.Document) {
		if err := a.apply(new.Selected()); err != nil {
			slog.Error("profile sync failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("watching profiles: %w", err)
	}
	defer w.Close()
	go w.Run()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			slog.Info("received SIGHUP, resyncing profile")
			if err := a.apply(a.load().Selected()); err != nil {
				slog.Error("profile sync failed", "error", err)
			}
		}
	}
}

// load reads the profiles document, falling back to an empty one (whose
// selected profile is the built-in default) when the file is unreadable.
func (a *Agent) load() *profile.Document {
	doc, err := profile.Load(a.Profiles)
	if err != nil {
		slog.Warn("profiles unavailable, using built-in default", "path", a.Profiles, "error", err)
		return &profile.Document{}
	}
	return doc
}

// apply pushes one profile: preferences first, then a full clear-and-add
// replacement of each rule table, then the LED when the profile pins it.
func (a *Agent) apply(p profile.Profile) error {
	rs := p.Rules()

	prefs := grabber.Preferences{KeyboardFnState: p.KeyboardFnState}
	if err := a.Sender.SystemPreferencesUpdated(prefs); err != nil {
		return fmt.Errorf("sending preferences: %w", err)
	}

	if err := a.syncTable("simple modifications",
		a.Sender.ClearSimpleModifications, a.Sender.AddSimpleModification, rs.Simple); err != nil {
		return err
	}
	if err := a.syncTable("fn function keys",
		a.Sender.ClearFnFunctionKeys, a.Sender.AddFnFunctionKey, rs.Fn); err != nil {
		return err
	}
	if err := a.syncTable("standalone modifiers",
		a.Sender.ClearStandaloneModifiers, a.Sender.AddStandaloneModifier, rs.Standalone); err != nil {
		return err
	}

	if p.CapsLockLed != nil {
		state := grabber.LedStateOff
		if *p.CapsLockLed {
			state = grabber.LedStateOn
		}
		if err := a.Sender.SetCapsLockLedState(state); err != nil {
			return fmt.Errorf("setting caps lock led: %w", err)
		}
	}

	slog.Info("profile applied", "profile", p.Name,
		"simple", len(rs.Simple), "fn", len(rs.Fn), "standalone", len(rs.Standalone))
	return nil
}

func (a *Agent) syncTable(what string, clear func() error, add func(from, to keycode.Code) error, rules []profile.Rule) error {
	if err := clear(); err != nil {
		return fmt.Errorf("clearing %s: %w", what, err)
	}
	for _, r := range rules {
		if err := add(r.From, r.To); err != nil {
			return fmt.Errorf("adding %s rule: %w", what, err)
		}
	}
	return nil
}
