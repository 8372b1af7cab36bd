package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Cache.Dir != "cache" {
		t.Errorf("cache dir = %q", cfg.Cache.Dir)
	}
	if cfg.Cache.PathPrefix != "/file/" {
		t.Errorf("path prefix = %q", cfg.Cache.PathPrefix)
	}
	if cfg.Assembly.GridRows != 4 || cfg.Assembly.GridCols != 2 {
		t.Errorf("grid = %dx%d, want 4x2", cfg.Assembly.GridRows, cfg.Assembly.GridCols)
	}
	if cfg.Extractor.Timeout != 60*time.Second {
		t.Errorf("extractor timeout = %v", cfg.Extractor.Timeout)
	}
	if !cfg.Extractor.BGRPayloads {
		t.Error("BGR payload correction disabled by default")
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if len(cfg.Assembly.FontPaths) == 0 {
		t.Error("no default font paths")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CACHE_DIR", "/data/cards")
	t.Setenv("GRID_ROWS", "3")
	t.Setenv("EXTRACTOR_TIMEOUT", "5s")
	t.Setenv("EXTRACTOR_BGR_PAYLOADS", "false")
	t.Setenv("CAPTION_FONT_PATHS", "/fonts/a.ttf, /fonts/b.ttf")

	cfg := FromEnv()
	if cfg.Cache.Dir != "/data/cards" {
		t.Errorf("cache dir = %q", cfg.Cache.Dir)
	}
	if cfg.Assembly.GridRows != 3 {
		t.Errorf("grid rows = %d", cfg.Assembly.GridRows)
	}
	if cfg.Extractor.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.Extractor.Timeout)
	}
	if cfg.Extractor.BGRPayloads {
		t.Error("BGR override ignored")
	}
	want := []string{"/fonts/a.ttf", "/fonts/b.ttf"}
	if len(cfg.Assembly.FontPaths) != 2 || cfg.Assembly.FontPaths[0] != want[0] || cfg.Assembly.FontPaths[1] != want[1] {
		t.Errorf("font paths = %v", cfg.Assembly.FontPaths)
	}
}

func TestParseHelpers(t *testing.T) {
	if parseInt("abc", 7) != 7 {
		t.Error("parseInt fallback failed")
	}
	if !parseBool("YES") || parseBool("off") {
		t.Error("parseBool mismatch")
	}
	if parseDuration("bogus", time.Minute) != time.Minute {
		t.Error("parseDuration fallback failed")
	}
}
