package secrets

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testSealer(t *testing.T, seed byte) *Sealer {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = seed + byte(i)
	}
	s, err := NewSealer(&key)
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	return s
}

func TestSealOpen_Roundtrip(t *testing.T) {
	s := testSealer(t, 1)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"simple password", "hunter2"},
		{"empty string", ""},
		{"unicode", "pässwörd-密码"},
		{"long value", strings.Repeat("a", 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := s.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			if sealed == tt.plaintext && tt.plaintext != "" {
				t.Error("Seal returned the plaintext")
			}

			opened, err := s.Open(sealed)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if opened != tt.plaintext {
				t.Errorf("Open = %q, want %q", opened, tt.plaintext)
			}
		})
	}
}

func TestSeal_FreshNonce(t *testing.T) {
	s := testSealer(t, 1)

	first, err := s.Seal("hunter2")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	second, err := s.Seal("hunter2")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if first == second {
		t.Error("sealing the same value twice should produce different outputs")
	}

	for _, sealed := range []string{first, second} {
		opened, err := s.Open(sealed)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if opened != "hunter2" {
			t.Errorf("Open = %q", opened)
		}
	}
}

func TestOpen_RejectsTamper(t *testing.T) {
	s := testSealer(t, 1)

	sealed, err := s.Seal("hunter2")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	if _, err := s.Open(tampered); err == nil {
		t.Error("Open should reject a tampered ciphertext")
	}
}

func TestOpen_RejectsWrongKey(t *testing.T) {
	sealed, err := testSealer(t, 1).Seal("hunter2")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	other := testSealer(t, 99)
	if _, err := other.Open(sealed); err == nil {
		t.Error("Open should fail under a different key")
	}
}

func TestOpen_RejectsMalformed(t *testing.T) {
	s := testSealer(t, 1)

	tests := []struct {
		name   string
		sealed string
	}{
		{"not base64", "!!!!"},
		{"too short", base64.RawURLEncoding.EncodeToString([]byte("tiny"))},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Open(tt.sealed); err == nil {
				t.Error("Open should error")
			}
		})
	}
}

func TestOpen_ErrorHidesPlaintext(t *testing.T) {
	s := testSealer(t, 1)

	sealed, err := s.Seal("super-secret-password")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	_, err = testSealer(t, 2).Open(sealed)
	if err == nil {
		t.Fatal("Open should fail under a different key")
	}
	if strings.Contains(err.Error(), "super-secret-password") {
		t.Errorf("error leaks plaintext: %v", err)
	}
	if strings.Contains(err.Error(), sealed) {
		t.Errorf("error echoes ciphertext: %v", err)
	}
}

func TestNewSealer_NilKey(t *testing.T) {
	if _, err := NewSealer(nil); err == nil {
		t.Error("NewSealer(nil) should error")
	}
}

func TestGenerateKey(t *testing.T) {
	first, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	raw, err := base64.URLEncoding.DecodeString(first)
	if err != nil {
		t.Fatalf("generated key is not url-safe base64: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("generated key decodes to %d bytes, want 32", len(raw))
	}

	second, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if first == second {
		t.Error("GenerateKey should not repeat")
	}
}
