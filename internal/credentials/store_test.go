package credentials

import "testing"

func TestEncodeDecodeFallback(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
	}{
		{name: "simple", user: "alice@example.com", password: "hunter2"},
		{name: "empty password", user: "bob@example.com", password: ""},
		{name: "unicode password", user: "carol@example.com", password: "pässwörd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeFallback(tt.user, tt.password)
			if tt.password != "" && encoded == "" {
				t.Fatal("EncodeFallback returned empty string for non-empty password")
			}

			decoded, err := DecodeFallback(tt.user, encoded)
			if err != nil {
				t.Fatalf("DecodeFallback failed: %v", err)
			}
			if decoded != tt.password {
				t.Errorf("got %q, want %q", decoded, tt.password)
			}
		})
	}
}

func TestDecodeFallbackEmpty(t *testing.T) {
	decoded, err := DecodeFallback("alice@example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != "" {
		t.Errorf("expected empty password, got %q", decoded)
	}
}

func TestDecodeFallbackWrongUser(t *testing.T) {
	encoded := EncodeFallback("alice@example.com", "hunter2")

	decoded, err := DecodeFallback("mallory@example.com", encoded)
	if err == nil && decoded == "hunter2" {
		t.Error("decoding with the wrong passphrase should not recover the original password")
	}
}

func TestDecodeFallbackMalformedHex(t *testing.T) {
	if _, err := DecodeFallback("alice@example.com", "not-hex!!"); err == nil {
		t.Error("expected an error for malformed hex input")
	}
}
