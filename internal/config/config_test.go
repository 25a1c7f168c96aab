package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BINDERSPLIT_OUTPUT_DIR", "")
	t.Setenv("BINDERSPLIT_CACHE_DIR", "")
	t.Setenv("BINDERSPLIT_RULES_PATH", "")
	t.Setenv("BINDERSPLIT_TESSERACT_LANG", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputDir != "Bindocs_output" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.CacheDir != "Cache" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.RulesPath != "rules.json" {
		t.Errorf("RulesPath = %q", cfg.RulesPath)
	}
	if cfg.TesseractLang != "eng" {
		t.Errorf("TesseractLang = %q", cfg.TesseractLang)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BINDERSPLIT_OUTPUT_DIR", "/srv/out")
	t.Setenv("BINDERSPLIT_TESSERACT_LANG", "deu")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputDir != "/srv/out" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.TesseractLang != "deu" {
		t.Errorf("TesseractLang = %q", cfg.TesseractLang)
	}
	if lc := cfg.GetLoggerConfig(); lc.Format != "json" {
		t.Errorf("logger format = %q", lc.Format)
	}
}
