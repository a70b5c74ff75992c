package skills_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbpilot/dbpilot/domain/skill"
	"github.com/dbpilot/dbpilot/infrastructure/skills"
)

func TestWatchInitialLoadAndReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "vacuum-helper.md"), []byte(vacuumHelper), 0o644); err != nil {
		t.Fatal(err)
	}

	registry := skill.NewRegistry()
	w, err := skills.Watch(registry, dir)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer func() { _ = w.Close() }()

	// Initial load is synchronous.
	if registry.Count() != 1 {
		t.Fatalf("Count() = %d after initial load", registry.Count())
	}

	if err := os.WriteFile(filepath.Join(dir, "index-advisor.md"), []byte(indexAdvisor), 0o644); err != nil {
		t.Fatal(err)
	}

	// The reload is debounced; poll until it lands.
	deadline := time.Now().Add(5 * time.Second)
	for registry.Count() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Count() = %d, new skill never loaded", registry.Count())
		}
		time.Sleep(50 * time.Millisecond)
	}
	if _, ok := registry.Get("index-advisor"); !ok {
		t.Error("index-advisor missing after reload")
	}
}
