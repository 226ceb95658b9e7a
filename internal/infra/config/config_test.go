package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/data")
	t.Setenv("BASE_DIR", "/out")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MBFC.Column != "actual_URL" {
		t.Fatalf("unexpected column %q", cfg.MBFC.Column)
	}
	if cfg.MBFC.File != filepath.Join("/out", "MBFC.csv") {
		t.Fatalf("unexpected mbfc file %q", cfg.MBFC.File)
	}
	if cfg.Followers.PageSize != 80 {
		t.Fatalf("unexpected page size %d", cfg.Followers.PageSize)
	}
	if cfg.HTTP.Timeout != 30*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.HTTP.Timeout)
	}
	if got := cfg.ScanRoots(); len(got) != 1 || got[0] != "/data" {
		t.Fatalf("unexpected roots %v", got)
	}
}

func TestLoadYAMLOverridesEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/env-data")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `DATA_DIR: /yaml-data
BASE_DIR: /yaml-out
MONTHS:
  - "2023-01"
  - "2023-02"
followers:
  page_size: 500
  min_followers: 5000
dedup:
  min_captures: 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/yaml-data" {
		t.Fatalf("yaml must override env, got %q", cfg.DataDir)
	}
	if cfg.Followers.PageSize != MaxPageSize {
		t.Fatalf("page size must be clamped, got %d", cfg.Followers.PageSize)
	}
	if cfg.Followers.MinFollowers != 5000 {
		t.Fatalf("unexpected min followers %d", cfg.Followers.MinFollowers)
	}
	if cfg.Dedup.MinCaptures != 2 || cfg.Dedup.MinPosts != 1 {
		t.Fatalf("unexpected dedup policy %+v", cfg.Dedup)
	}
	roots := cfg.ScanRoots()
	if len(roots) != 2 || roots[1] != filepath.Join("/yaml-data", "2023-02") {
		t.Fatalf("unexpected roots %v", roots)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	mbfc := filepath.Join(dir, "MBFC.csv")
	if err := os.WriteFile(mbfc, []byte("actual_URL\nexample.com\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var cfg AppConfig
	cfg.MBFC.File = mbfc
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing DATA_DIR")
	}
	cfg.DataDir = dir
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg.MBFC.File = filepath.Join(dir, "missing.csv")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing domain list")
	}
}
