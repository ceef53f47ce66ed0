package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithNoFiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	wd := t.TempDir()
	restoreWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(wd); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(restoreWD)

	cfg, err := Load(Override{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ExpireDays != -1 || !cfg.AutoUpdate || cfg.SelectorCommand != "none" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.CacheRoot != filepath.Join(home, ".minato", "cache") {
		t.Errorf("CacheRoot = %q", cfg.CacheRoot)
	}
}

func TestLoadLayersLocalFileOverHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".minato"), 0755); err != nil {
		t.Fatal(err)
	}
	homeConfig := "[cache]\nexpire_days = 30\nauto_update = false\n"
	if err := os.WriteFile(filepath.Join(home, ".minato", "config.ini"), []byte(homeConfig), 0644); err != nil {
		t.Fatal(err)
	}

	wd := t.TempDir()
	restoreWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(wd); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(restoreWD)

	localConfig := "[cache]\nexpire_days = 7\n"
	if err := os.WriteFile(filepath.Join(wd, "minato.ini"), []byte(localConfig), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(Override{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ExpireDays != 7 {
		t.Errorf("ExpireDays = %d, want local file's 7 to win over home's 30", cfg.ExpireDays)
	}
	if cfg.AutoUpdate {
		t.Error("AutoUpdate should still inherit home file's false (local file doesn't set it)")
	}
}

func TestLoadOverrideWinsOverFiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	wd := t.TempDir()
	restoreWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(wd); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(restoreWD)

	days := 3
	cfg, err := Load(Override{ExpireDays: &days})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ExpireDays != 3 {
		t.Errorf("ExpireDays = %d, want override's 3", cfg.ExpireDays)
	}
}
