// password_test.go

// unit tests for Argon2id hashing and input validation.

package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("hash should be PHC argon2id format, got %q", hash)
	}

	t.Run("correct password verifies", func(t *testing.T) {
		ok, err := VerifyPassword("correct horse battery staple", hash)
		if err != nil {
			t.Fatalf("VerifyPassword: %v", err)
		}
		if !ok {
			t.Error("expected match")
		}
	})

	t.Run("wrong password does not verify", func(t *testing.T) {
		ok, err := VerifyPassword("wrong password", hash)
		if err != nil {
			t.Fatalf("VerifyPassword: %v", err)
		}
		if ok {
			t.Error("expected mismatch")
		}
	})

	t.Run("same password hashes differently", func(t *testing.T) {
		// Random salt per hash
		hash2, err := HashPassword("correct horse battery staple")
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		if hash == hash2 {
			t.Error("two hashes of the same password should differ")
		}
	})

	t.Run("malformed hash returns error", func(t *testing.T) {
		if _, err := VerifyPassword("anything", "not-a-phc-hash"); err == nil {
			t.Error("expected error for malformed hash")
		}
	})
}

func TestDummyHashVerifies(t *testing.T) {
	// The unknown-email login path runs VerifyPassword against this constant
	// to equalise timing. It must always parse cleanly.
	ok, err := VerifyPassword("any password", dummyPasswordHash)
	if err != nil {
		t.Fatalf("dummy hash failed to parse: %v", err)
	}
	if ok {
		t.Error("dummy hash must never match a real password")
	}
}

func TestValidateEmail(t *testing.T) {
	cases := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"valid", "user@example.com", false},
		{"valid with plus", "user+tag@example.com", false},
		{"valid subdomain", "a@mail.example.co.uk", false},
		{"empty", "", true},
		{"no at sign", "userexample.com", true},
		{"no domain", "user@", true},
		{"no tld", "user@example", true},
		{"single-letter tld", "user@example.c", true},
		{"spaces", "user name@example.com", true},
		{"too long", strings.Repeat("a", 250) + "@b.com", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := ValidateEmail(tc.email)
			if tc.wantErr && msg == "" {
				t.Errorf("expected rejection for %q", tc.email)
			}
			if !tc.wantErr && msg != "" {
				t.Errorf("expected %q to pass, got %q", tc.email, msg)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "Maria Silva", false},
		{"minimum length", "Jo", false},
		{"maximum length", strings.Repeat("a", 100), false},
		{"empty", "", true},
		{"one rune", "J", true},
		{"too long", strings.Repeat("a", 101), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := ValidateName(tc.input)
			if tc.wantErr && msg == "" {
				t.Errorf("expected rejection for %q", tc.input)
			}
			if !tc.wantErr && msg != "" {
				t.Errorf("expected %q to pass, got %q", tc.input, msg)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "secret1", false},
		{"minimum length", "123456", false},
		{"empty", "", true},
		{"five chars", "12345", true},
		{"absurdly long", strings.Repeat("a", 200), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := ValidatePassword(tc.input)
			if tc.wantErr && msg == "" {
				t.Errorf("expected rejection for %q", tc.input)
			}
			if !tc.wantErr && msg != "" {
				t.Errorf("expected %q to pass, got %q", tc.input, msg)
			}
		})
	}
}
