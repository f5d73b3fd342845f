// Package manifest handles sable.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/sable-lang/sable/interp"
)

// Manifest represents a sable.toml project configuration.
type Manifest struct {
	Project   Project         `toml:"project"`
	Gc        interp.GcConfig `toml:"gc"`
	Snapshots SnapshotConfig  `toml:"snapshots"`

	// Dir is the directory containing the sable.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// SnapshotConfig configures heap snapshot storage.
type SnapshotConfig struct {
	Database string `toml:"database"`
}

// Default returns a manifest with collector defaults and no project
// metadata, used when no sable.toml is present.
func Default() *Manifest {
	return &Manifest{
		Gc: interp.DefaultGcConfig(),
	}
}

// Load parses a sable.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "sable.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Gc.InitialThresholdBytes <= 0 {
		m.Gc.InitialThresholdBytes = interp.DefaultThresholdBytes
	}

	return m, nil
}

// FindAndLoad walks up from startDir to find a sable.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "sable.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SnapshotDBPath returns the absolute path to the snapshot database, or
// a default under the manifest directory when unset.
func (m *Manifest) SnapshotDBPath() string {
	db := m.Snapshots.Database
	if db == "" {
		db = filepath.Join(".sable", "snapshots.db")
	}
	if filepath.IsAbs(db) || m.Dir == "" {
		return db
	}
	return filepath.Join(m.Dir, db)
}
