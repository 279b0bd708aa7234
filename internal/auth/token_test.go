// token_test.go

// unit tests for TokenService issue/verify and fingerprinting.

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	ts := NewTokenService(testSecret, time.Hour)

	token, issued, err := ts.Issue(42, "user@example.com", true)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("Issue returned empty token")
	}
	if issued.ID == "" {
		t.Error("issued claims missing jti")
	}

	claims, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("UserID: expected 42, got %d", claims.UserID)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("Email: expected user@example.com, got %q", claims.Email)
	}
	if !claims.IsAdmin {
		t.Error("IsAdmin: expected true")
	}
	if claims.ID != issued.ID {
		t.Errorf("jti: expected %q, got %q", issued.ID, claims.ID)
	}
}

func TestTokenExpiry(t *testing.T) {
	t.Run("expiry matches configured ttl", func(t *testing.T) {
		ts := NewTokenService(testSecret, 168*time.Hour)

		_, claims, err := ts.Issue(1, "a@b.com", false)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}

		got := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time)
		if got != 168*time.Hour {
			t.Errorf("token lifetime: expected 168h, got %v", got)
		}
	})

	t.Run("expired token returns ErrTokenExpired", func(t *testing.T) {
		// Negative ttl issues an already-expired token.
		ts := NewTokenService(testSecret, -time.Minute)

		token, _, err := ts.Issue(1, "a@b.com", false)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}

		_, err = ts.Verify(token)
		if !errors.Is(err, ErrTokenExpired) {
			t.Errorf("expected ErrTokenExpired, got %v", err)
		}
		// Expiry must stay distinguishable from a bad signature.
		if errors.Is(err, ErrTokenInvalid) {
			t.Error("expired token must not also match ErrTokenInvalid")
		}
	})
}

func TestTokenTampering(t *testing.T) {
	ts := NewTokenService(testSecret, time.Hour)

	token, _, err := ts.Issue(1, "a@b.com", false)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	t.Run("garbage token returns ErrTokenInvalid", func(t *testing.T) {
		if _, err := ts.Verify("not.a.token"); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("flipped payload byte returns ErrTokenInvalid", func(t *testing.T) {
		parts := strings.Split(token, ".")
		if len(parts) != 3 {
			t.Fatalf("expected 3 token segments, got %d", len(parts))
		}
		// Flip a character in the payload; signature no longer matches.
		payload := []byte(parts[1])
		if payload[0] == 'A' {
			payload[0] = 'B'
		} else {
			payload[0] = 'A'
		}
		tampered := parts[0] + "." + string(payload) + "." + parts[2]

		if _, err := ts.Verify(tampered); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("token signed with different secret returns ErrTokenInvalid", func(t *testing.T) {
		other := NewTokenService("ffffffffffffffffffffffffffffffff", time.Hour)
		foreign, _, err := other.Issue(1, "a@b.com", false)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if _, err := ts.Verify(foreign); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("expected ErrTokenInvalid, got %v", err)
		}
	})
}

func TestFingerprint(t *testing.T) {
	// Deterministic for the same input, distinct for different inputs,
	// and never the raw token itself.
	fp1 := Fingerprint("token-a")
	fp2 := Fingerprint("token-a")
	fp3 := Fingerprint("token-b")

	if fp1 != fp2 {
		t.Error("fingerprint should be deterministic")
	}
	if fp1 == fp3 {
		t.Error("different tokens should have different fingerprints")
	}
	if fp1 == "token-a" {
		t.Error("fingerprint must not expose the raw token")
	}
	if strings.ContainsAny(fp1, "+/=") {
		t.Errorf("fingerprint should be unpadded base64url, got %q", fp1)
	}
}
