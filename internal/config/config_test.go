package config

import "testing"

func baseConfig() *Config {
	return &Config{
		GinMode:      "debug",
		UploadDir:    "uploads",
		ProcessedDir: "processed",
		MaxFileSize:  52428800,
		MinFileSize:  1024,
	}
}

func TestValidateDebugMode(t *testing.T) {
	if err := baseConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateReleaseModeRequiresSecrets(t *testing.T) {
	cfg := baseConfig()
	cfg.GinMode = "release"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without SESSION_SECRET in release mode")
	}

	cfg.SessionSecret = "secret"
	cfg.DatabaseURL = "pdf_engine.db"
	cfg.QueueRedisURL = "redis://127.0.0.1:6379/0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateFileSizeBounds(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxFileSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive MAX_FILE_SIZE")
	}

	cfg = baseConfig()
	cfg.MinFileSize = cfg.MaxFileSize
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when MIN_FILE_SIZE >= MAX_FILE_SIZE")
	}
}

func TestGetEnvFallbacks(t *testing.T) {
	t.Setenv("PDF_ENGINE_TEST_STR", "value")
	if got := getEnv("PDF_ENGINE_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("getEnv = %q", got)
	}
	if got := getEnv("PDF_ENGINE_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("getEnv fallback = %q", got)
	}

	t.Setenv("PDF_ENGINE_TEST_INT", "not-a-number")
	if got := getEnvAsInt("PDF_ENGINE_TEST_INT", 7); got != 7 {
		t.Fatalf("getEnvAsInt fallback = %d", got)
	}
	t.Setenv("PDF_ENGINE_TEST_INT64", "1048576")
	if got := getEnvAsInt64("PDF_ENGINE_TEST_INT64", 0); got != 1048576 {
		t.Fatalf("getEnvAsInt64 = %d", got)
	}
}
