package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("WorkerConcurrency = %d, want 4", cfg.WorkerConcurrency)
	}
	if cfg.CompressPreset != "standard" {
		t.Fatalf("CompressPreset = %s, want standard", cfg.CompressPreset)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("QUEUE_REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.QueueRedisURL != "redis://localhost:6379/1" {
		t.Fatalf("QueueRedisURL = %s", cfg.QueueRedisURL)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("MinioUseSSL should be true")
	}
}

func TestValidateRejectsNonPositiveRetries(t *testing.T) {
	t.Setenv("MAX_RETRIES", "0")

	if _, err := Load(); err == nil {
		t.Fatal("MAX_RETRIES=0 must be rejected")
	}
}

func TestValidateReleaseModeRequirements(t *testing.T) {
	t.Setenv("GIN_MODE", "release")

	if _, err := Load(); err == nil {
		t.Fatal("release mode without credentials must be rejected")
	}

	t.Setenv("APP_USERNAME", "admin")
	t.Setenv("APP_PASSWORD_HASH", "$2a$10$hash")
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("QUEUE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/docforge")

	if _, err := Load(); err != nil {
		t.Fatalf("fully configured release mode rejected: %v", err)
	}
}
