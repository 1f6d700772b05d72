// Package calibration implements the robot's file-backed calibration
// store: atomic read/write of a schema-versioned JSON record.
package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/arobi/picobot/internal/protocol"
)

// SchemaVersion is bumped whenever the on-disk record's shape changes.
const SchemaVersion = 1

// record is the on-disk shape: the calibration payload plus a version
// tag, per original_source/firmware/calibration.py.
type record struct {
	SchemaVersion int                    `json:"schema_version"`
	Calibration   protocol.Calibration   `json:"calibration"`
}

// Store is a small file-backed key/value record. Reads are served from
// an in-memory cache; writes go to disk atomically via temp-file-then-
// rename so a crash mid-write never corrupts the file (§6).
type Store struct {
	mu   sync.RWMutex
	path string
	cal  protocol.Calibration
}

// Open loads path if it exists, filling missing/unknown fields with
// defaults per §4.6; a missing file is not an error — it starts from
// DefaultCalibration and is created on first write.
func Open(path string) (*Store, error) {
	s := &Store{path: path, cal: protocol.DefaultCalibration()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("calibration: open %s: %w", path, err)
	}

	// Pre-fill with defaults so fields absent from the file keep them.
	r := record{Calibration: protocol.DefaultCalibration()}
	if err := json.Unmarshal(data, &r); err != nil {
		// Corrupt file: fall back to defaults rather than fail boot.
		return s, nil
	}
	s.cal = *r.Calibration.Clamp()
	return s, nil
}

// Get returns the current calibration, read synchronously and never
// blocking the packet path for more than a memory copy (§4.6).
func (s *Store) Get() protocol.Calibration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cal
}

// Set clamps c (P8) and persists it atomically, then updates the
// in-memory cache.
func (s *Store) Set(c protocol.Calibration) error {
	c.Clamp()

	data, err := json.Marshal(record{SchemaVersion: SchemaVersion, Calibration: c})
	if err != nil {
		return fmt.Errorf("calibration: marshal: %w", err)
	}

	if err := atomicWrite(s.path, data); err != nil {
		return fmt.Errorf("calibration: write %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.cal = c
	s.mu.Unlock()
	return nil
}

// atomicWrite writes data to a temp file in path's directory then
// renames it over path, so readers never observe a partial write.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".calibration-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
