package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CDPURL() != "http://127.0.0.1:9222" {
		t.Errorf("CDPURL = %q", cfg.CDPURL())
	}
	if cfg.BindAddr != "127.0.0.1:8096" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.PickerTimeoutMS != 30000 {
		t.Errorf("PickerTimeoutMS = %d", cfg.PickerTimeoutMS)
	}
	if cfg.LaunchBrowser {
		t.Error("LaunchBrowser should default to false")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHROMIUM_CDP_ADDRESS", "10.0.0.5")
	t.Setenv("CHROMIUM_CDP_PORT", "9333")
	t.Setenv("SINKTAB_LOG_LEVEL", "DEBUG")
	t.Setenv("SINKTAB_LAUNCH_BROWSER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CDPURL() != "http://10.0.0.5:9333" {
		t.Errorf("CDPURL = %q", cfg.CDPURL())
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want lowercased", cfg.LogLevel)
	}
	if !cfg.LaunchBrowser {
		t.Error("LaunchBrowser override lost")
	}
}

func TestTimeoutFloors(t *testing.T) {
	t.Setenv("SINKTAB_EVAL_TIMEOUT_MS", "1")
	t.Setenv("SINKTAB_PICKER_TIMEOUT_MS", "10")
	t.Setenv("SINKTAB_ROUTE_TIMEOUT_MS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EvalTimeoutMS < 1000 || cfg.PickerTimeoutMS < 5000 || cfg.RouteTimeoutMS < 2000 {
		t.Errorf("floors not applied: %d %d %d", cfg.EvalTimeoutMS, cfg.PickerTimeoutMS, cfg.RouteTimeoutMS)
	}
}

func TestBadIntFallsBackToDefault(t *testing.T) {
	t.Setenv("CHROMIUM_CDP_PORT", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CDPPort != 9222 {
		t.Errorf("CDPPort = %d", cfg.CDPPort)
	}
}

func TestLoadStartupPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.yaml")
	content := "pages:\n  - url: https://meet.google.com/abc-defg-hij\n  - url: https://meet.google.com/xyz\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	pages, err := LoadStartupPages(path)
	if err != nil {
		t.Fatalf("LoadStartupPages: %v", err)
	}
	if len(pages.Pages) != 2 || pages.Pages[0].URL != "https://meet.google.com/abc-defg-hij" {
		t.Errorf("pages = %+v", pages.Pages)
	}
}

func TestLoadStartupPagesMissingFile(t *testing.T) {
	_, err := LoadStartupPages(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist wrap", err)
	}
}

func TestLoadStartupPagesRejectsEmptyURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.yaml")
	if err := os.WriteFile(path, []byte("pages:\n  - url: \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStartupPages(path); err == nil {
		t.Error("expected error for empty url entry")
	}
}
