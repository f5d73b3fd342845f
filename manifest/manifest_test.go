package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sable-lang/sable/interp"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "sable.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write sable.toml: %v", err)
	}
}

func TestLoadFullManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo"
version = "0.1.0"

[gc]
threshold-bytes = 4096
auto-collect = false
generation-threshold = 2
incremental-step-size = 50
hard-limit-bytes = 1048576
strict-invariants = true

[snapshots]
database = "state/heap.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Project.Name != "demo" || m.Project.Version != "0.1.0" {
		t.Errorf("project = %+v", m.Project)
	}
	if m.Gc.InitialThresholdBytes != 4096 {
		t.Errorf("threshold = %d, want 4096", m.Gc.InitialThresholdBytes)
	}
	if m.Gc.AutoCollect {
		t.Error("auto-collect = true, want false")
	}
	if m.Gc.GenerationThreshold != 2 || m.Gc.IncrementalStepSize != 50 {
		t.Errorf("gc tuning = %+v", m.Gc)
	}
	if m.Gc.HardLimitBytes != 1<<20 {
		t.Errorf("hard limit = %d, want 1048576", m.Gc.HardLimitBytes)
	}
	if !m.Gc.StrictInvariants {
		t.Error("strict-invariants = false, want true")
	}
	if got := m.SnapshotDBPath(); got != filepath.Join(dir, "state/heap.db") {
		t.Errorf("snapshot db = %q", got)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "bare"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Gc.InitialThresholdBytes != interp.DefaultThresholdBytes {
		t.Errorf("threshold = %d, want default %d",
			m.Gc.InitialThresholdBytes, interp.DefaultThresholdBytes)
	}
	if !m.Gc.AutoCollect {
		t.Error("auto-collect defaulted to false")
	}
	if got := m.SnapshotDBPath(); got != filepath.Join(dir, ".sable", "snapshots.db") {
		t.Errorf("snapshot db = %q", got)
	}
}

func TestLoadRejectsBadToml(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `[gc\nthreshold`)
	if _, err := Load(dir); err == nil {
		t.Fatal("load of invalid toml succeeded")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `
[project]
name = "walker"
`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m == nil {
		t.Fatal("manifest not found from nested directory")
	}
	if m.Project.Name != "walker" {
		t.Errorf("name = %q, want walker", m.Project.Name)
	}
}

func TestFindAndLoadReturnsNilWhenAbsent(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m != nil {
		t.Errorf("found unexpected manifest %+v", m)
	}
}

func TestDefaultManifestDrivesCollector(t *testing.T) {
	m := Default()
	gc := interp.NewGarbageCollector(m.Gc)
	if gc.LiveObjects() != 0 {
		t.Errorf("fresh collector live = %d", gc.LiveObjects())
	}
}
