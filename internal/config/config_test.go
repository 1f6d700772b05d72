package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecConstants(t *testing.T) {
	c := Default()
	if c.Port != 8765 {
		t.Errorf("Port = %v, want 8765", c.Port)
	}
	if c.Watchdog.TimeoutMs != 500 {
		t.Errorf("TimeoutMs = %v, want 500", c.Watchdog.TimeoutMs)
	}
	if c.Shaper.DeadZone != 0.08 {
		t.Errorf("DeadZone = %v, want 0.08", c.Shaper.DeadZone)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c != Default() {
		t.Errorf("Load(\"\") = %+v, want Default()", c)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c != Default() {
		t.Errorf("Load(missing) = %+v, want Default()", c)
	}
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\nwatchdog:\n  timeout_ms: 750\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != 9000 {
		t.Errorf("Port = %v, want 9000", c.Port)
	}
	if c.Watchdog.TimeoutMs != 750 {
		t.Errorf("TimeoutMs = %v, want 750", c.Watchdog.TimeoutMs)
	}
	// Untouched fields keep their defaults.
	if c.Shaper.DeadZone != 0.08 {
		t.Errorf("DeadZone = %v, want default 0.08", c.Shaper.DeadZone)
	}
}
