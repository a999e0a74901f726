// Package session resolves which user currently owns the console.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultSeatDir = "/run/systemd/seats"

// ConsoleUserID returns the uid whose clients the grabber should trust.
// A non-root process is its own console user; root asks systemd-logind
// which session is active on the primary seat.
func ConsoleUserID() (int, error) {
	if os.Geteuid() != 0 {
		return os.Getuid(), nil
	}
	return activeSeatUID(defaultSeatDir)
}

func activeSeatUID(seatDir string) (int, error) {
	path := filepath.Join(seatDir, "seat0")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading seat state: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		value, ok := strings.CutPrefix(line, "ACTIVE_UID=")
		if !ok {
			continue
		}
		uid, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("parsing ACTIVE_UID in %s: %w", path, err)
		}
		return uid, nil
	}
	return 0, fmt.Errorf("no active session on seat0")
}
