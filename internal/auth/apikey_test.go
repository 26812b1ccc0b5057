package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	key, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if key == "" || hash == "" {
		t.Fatal("key and hash must be non-empty")
	}
	if !strings.HasPrefix(key, APIKeyPrefix) {
		t.Fatalf("key %q missing prefix %q", key, APIKeyPrefix)
	}
	if !strings.HasPrefix(prefix, APIKeyPrefix) {
		t.Fatalf("display prefix %q missing prefix %q", prefix, APIKeyPrefix)
	}
	if strings.Contains(hash, key) {
		t.Fatal("hash must not contain the raw key")
	}
	if HashAPIKey(key) != hash {
		t.Fatal("HashAPIKey(key) must reproduce the stored hash")
	}
	if len(hash) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(hash))
	}
}

func TestGenerateAPIKeyUnique(t *testing.T) {
	first, _, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	second, _, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if first == second {
		t.Fatal("generated keys collide")
	}
}

func TestValidUsername(t *testing.T) {
	for _, name := range []string{"abc", "user_01", "ABC_def"} {
		if !validUsername(name) {
			t.Fatalf("validUsername(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"ab", "has space", "日本語", strings.Repeat("a", 51), "bad-dash"} {
		if validUsername(name) {
			t.Fatalf("validUsername(%q) = true, want false", name)
		}
	}
}

func TestValidEmail(t *testing.T) {
	for _, email := range []string{"a@example.com", "user.name+tag@sub.domain.org"} {
		if !validEmail(email) {
			t.Fatalf("validEmail(%q) = false, want true", email)
		}
	}
	for _, email := range []string{"", "no-at-sign", "a@b", "a @example.com"} {
		if validEmail(email) {
			t.Fatalf("validEmail(%q) = true, want false", email)
		}
	}
}
