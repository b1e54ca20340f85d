package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Defaults()
	if cfg != want {
		t.Fatalf("defaults mismatch:\n got %+v\nwant %+v", cfg, want)
	}
}

func TestLoadOverridesAndKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
addr: ":9100"
store: memory
view_distance: 2.5
vertical_band: 1
workers: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9100" || cfg.Store != "memory" || cfg.Workers != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.ViewDistance != 2.5 || cfg.VerticalBand != 1 {
		t.Fatalf("view settings not applied: %+v", cfg)
	}
	// Fields absent from the file keep their defaults.
	if cfg.TickRateHz != Defaults().TickRateHz || cfg.MaxCachedChunks != Defaults().MaxCachedChunks {
		t.Fatalf("defaults lost for unset fields: %+v", cfg)
	}
}

func TestNormalizeRepairsZeroValues(t *testing.T) {
	path := writeConfig(t, `
store: "  SQLite "
workers: 0
tick_rate_hz: -5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != "sqlite" {
		t.Fatalf("store not normalized: %q", cfg.Store)
	}
	if cfg.Workers != Defaults().Workers || cfg.TickRateHz != Defaults().TickRateHz {
		t.Fatalf("zero values not repaired: %+v", cfg)
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	path := writeConfig(t, "store: redis\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown store")
	}
}

func TestLoadRejectsBadViewDistance(t *testing.T) {
	path := writeConfig(t, "view_distance: -1\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for negative view_distance")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadMalformedYAMLErrors(t *testing.T) {
	path := writeConfig(t, "addr: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}
