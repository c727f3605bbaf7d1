// Package power reports whether the host is running on battery, so runs can
// be skipped when the policy asks for it.
package power

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSysfsDir is where Linux exposes power supplies.
const DefaultSysfsDir = "/sys/class/power_supply"

// Source reports the host power state.
type Source interface {
	OnBattery() (bool, error)
}

// Static is a Source with a fixed answer.
type Static bool

// OnBattery returns the fixed answer.
func (s Static) OnBattery() (bool, error) {
	return bool(s), nil
}

// Sysfs reads power supply state from a sysfs directory. Hosts without the
// directory, or without any battery, are treated as mains powered.
type Sysfs struct {
	Dir string
}

// Default returns the Source for this host.
func Default() Source {
	return Sysfs{Dir: DefaultSysfsDir}
}

// OnBattery reports true when no mains supply is online and at least one
// battery is discharging.
func (s Sysfs) OnBattery() (bool, error) {
	dir := s.Dir
	if dir == "" {
		dir = DefaultSysfsDir
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	discharging := false
	for _, e := range entries {
		supply := filepath.Join(dir, e.Name())
		switch readAttr(supply, "type") {
		case "Mains", "USB", "USB_C", "USB_PD":
			if readAttr(supply, "online") == "1" {
				return false, nil
			}
		case "Battery":
			if readAttr(supply, "status") == "Discharging" {
				discharging = true
			}
		}
	}
	return discharging, nil
}

func readAttr(supply, name string) string {
	data, err := os.ReadFile(filepath.Join(supply, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
